package config_test

import (
	"testing"
	"time"

	"github.com/pierregrothe/graphrag-api-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SECRET_KEY", "test-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "HS256", cfg.Algorithm)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 5, cfg.LoginRateLimitPerMinute)
	// Key budgets are per hour, not per minute.
	assert.Equal(t, 1000, cfg.APIKeyDefaultRateLimit)
	assert.Equal(t, time.Hour, cfg.APIKeyRateLimitWindow)
	assert.Equal(t, 90*24*time.Hour, cfg.APIKeyDefaultTTL)
	assert.Equal(t, 5*time.Minute, cfg.APIKeyRotationGrace)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("API_KEY_RATE_LIMIT_WINDOW_MINUTES", "15")
	t.Setenv("API_KEY_DEFAULT_RATE_LIMIT", "250")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.APIKeyDefaultRateLimit)
	assert.Equal(t, 15*time.Minute, cfg.APIKeyRateLimitWindow)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("SECRET_KEY", "test-secret")
	t.Setenv("DATABASE_URL", "")
	_, err = config.Load()
	assert.Error(t, err)
}

func TestLoad_BadAlgorithm(t *testing.T) {
	setRequired(t)
	t.Setenv("ALGORITHM", "none")

	_, err := config.Load()
	assert.Error(t, err)
}
