package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port        string
	Environment string

	// Database (required — there is no in-memory fallback)
	DatabaseURL string

	// Tokens
	SecretKey       string
	Algorithm       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Rate limiting
	LoginRateLimitPerMinute int
	APIKeyDefaultRateLimit  int
	APIKeyRateLimitWindow   time.Duration

	// API keys
	APIKeyDefaultTTL    time.Duration
	APIKeyRotationGrace time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Environment:             getEnv("ENVIRONMENT", "development"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		SecretKey:               getEnv("SECRET_KEY", ""),
		Algorithm:               getEnv("ALGORITHM", "HS256"),
		AccessTokenTTL:          time.Duration(getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 30)) * time.Minute,
		RefreshTokenTTL:         time.Duration(getEnvInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		LoginRateLimitPerMinute: getEnvInt("LOGIN_RATE_LIMIT_PER_MINUTE", 5),
		APIKeyDefaultRateLimit:  getEnvInt("API_KEY_DEFAULT_RATE_LIMIT", 1000),
		APIKeyRateLimitWindow:   time.Duration(getEnvInt("API_KEY_RATE_LIMIT_WINDOW_MINUTES", 60)) * time.Minute,
		APIKeyDefaultTTL:        time.Duration(getEnvInt("API_KEY_DEFAULT_TTL_DAYS", 90)) * 24 * time.Hour,
		APIKeyRotationGrace:     time.Duration(getEnvInt("API_KEY_ROTATION_GRACE_SECONDS", 300)) * time.Second,
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY environment variable is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	switch cfg.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported ALGORITHM %q (want HS256, HS384, or HS512)", cfg.Algorithm)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
