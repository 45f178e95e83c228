package watermark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMemory(t *testing.T) {
	w := NewMemory()
	assert.Zero(t, w.Get("act1"))

	w.Set("act1", 1700000000000)
	assert.Equal(t, int64(1700000000000), w.Get("act1"))
	assert.Zero(t, w.Get("act2"))
}

func TestFactory_MemoryPerUser(t *testing.T) {
	factory := NewFactory(nil, zap.NewNop())

	factory("alice").Set("act1", 42)
	assert.Equal(t, int64(42), factory("alice").Get("act1"))
	assert.Zero(t, factory("bob").Get("act1"))
}
