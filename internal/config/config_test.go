package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)

	assert.Equal(t, int64(32768), cfg.Signal.ReadLimit)
	assert.Equal(t, time.Minute, cfg.Signal.IdleTimeout)
	assert.Equal(t, 32, cfg.Signal.SendBuffer)
	assert.Equal(t, 40, cfg.Signal.FramesPerSecond)

	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.RTC.STUNURLs)

	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, 64, cfg.AI.QueueCapacity)
	assert.Equal(t, 4, cfg.AI.MaxInFlight)
	assert.Equal(t, 60, cfg.AI.RequestsPerInterval)
	assert.Equal(t, time.Minute, cfg.AI.Interval)
	assert.Equal(t, 3, cfg.AI.RetryMax)
	assert.Equal(t, 200*time.Millisecond, cfg.AI.BackoffBase)
	assert.Equal(t, 2.0, cfg.AI.BackoffMultiplier)
	assert.Equal(t, 30*time.Second, cfg.AI.RequestTimeout)

	assert.Equal(t, 30*time.Second, cfg.Session.EvictionGrace)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestSecretsComeFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent")
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:9999/v1")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/pulpit_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", cfg.AI.APIKey)
	assert.Equal(t, "http://localhost:9999/v1", cfg.AI.BaseURL)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
	assert.Equal(t, "postgres://localhost/pulpit_test", cfg.DB.URL)
}
