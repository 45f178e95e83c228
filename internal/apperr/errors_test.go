package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeFailedPrecondition, CodeOf(ErrActivityFull))
	assert.Equal(t, CodeFailedPrecondition, CodeOf(fmt.Errorf("join: %w", ErrActivityFull)))
	assert.Equal(t, CodeUnavailable, CodeOf(Backend("read activity", errors.New("connection reset"))))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestBackendKeepsAppErrors(t *testing.T) {
	err := Backend("join", ErrActivityFull)
	assert.ErrorIs(t, err, ErrActivityFull)
	assert.Equal(t, "activity full", MessageOf(err))
	assert.Nil(t, Backend("noop", nil))
}
