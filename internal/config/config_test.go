package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("TokenTTL converts hours to duration", func(t *testing.T) {
		cfg := &Config{TokenTTLHours: 720}
		assert.Equal(t, 720*time.Hour, cfg.TokenTTL())
	})

	t.Run("AnalysisTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{AnalysisTimeoutSeconds: 45}
		assert.Equal(t, 45*time.Second, cfg.AnalysisTimeout())
	})

	t.Run("WebhookEventRetention converts days to duration", func(t *testing.T) {
		cfg := &Config{WebhookEventRetentionDays: 2}
		assert.Equal(t, 48*time.Hour, cfg.WebhookEventRetention())
	})

	t.Run("IsProduction only for production env", func(t *testing.T) {
		assert.True(t, (&Config{AppEnv: "production"}).IsProduction())
		assert.False(t, (&Config{AppEnv: "development"}).IsProduction())
	})
}

func TestValidate(t *testing.T) {
	strong := strings.Repeat("k", 40)

	t.Run("requires JWT secret", func(t *testing.T) {
		cfg := &Config{TokenTTLHours: 1}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("accepts short secret outside production", func(t *testing.T) {
		cfg := &Config{JWTSecret: "dev", TokenTTLHours: 1}
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects short secret in production", func(t *testing.T) {
		cfg := &Config{JWTSecret: "dev", TokenTTLHours: 1, RedisURL: "rediss://x"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("accepts strong secret in production", func(t *testing.T) {
		cfg := &Config{JWTSecret: strong, TokenTTLHours: 1, RedisURL: "rediss://x"}
		assert.NoError(t, cfg.Validate(true))
	})

	t.Run("rejects weak admin token in production", func(t *testing.T) {
		cfg := &Config{JWTSecret: strong, TokenTTLHours: 1, RedisURL: "rediss://x", AdminAPIToken: "password"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects publishable stripe key", func(t *testing.T) {
		cfg := &Config{JWTSecret: "dev", TokenTTLHours: 1, StripeSecretKey: "pk_test_123"}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects non-positive token ttl", func(t *testing.T) {
		cfg := &Config{JWTSecret: "dev", TokenTTLHours: 0}
		assert.Error(t, cfg.Validate(false))
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "JWT_SECRET",
		"CRYPTO_API_URL", "PRO_PRICE_USD", "ANALYSIS_RATE_LIMIT_PER_MIN",
	}
	originalEnv := make(map[string]string, len(keys))
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	for _, k := range keys {
		os.Unsetenv(k)
	}

	t.Run("loads defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "https://api.nowpayments.io/v1", cfg.CryptoAPIURL)
		assert.Equal(t, 79.0, cfg.ProPriceUSD)
		assert.Equal(t, 10, cfg.AnalysisRateLimitPerMin)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("PRO_PRICE_USD", "99.5")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 99.5, cfg.ProPriceUSD)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
