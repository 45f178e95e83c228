package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CHAT_RETENTION", "48h")

	cfg := New()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 48*time.Hour, cfg.ChatRetention)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, "meetup", cfg.MongoDatabase)
	assert.Equal(t, "15m", cfg.JwtExpires)
}
