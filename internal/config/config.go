package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	AppBaseURL  string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	RunMigrations bool `env:"RUN_MIGRATIONS" envDefault:"false"`

	JWTSecret     string `env:"JWT_SECRET"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"tradesignal"`
	TokenTTLHours int    `env:"TOKEN_TTL_HOURS" envDefault:"720"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeProPriceID    string `env:"STRIPE_PRO_PRICE_ID"`

	CryptoAPIURL    string  `env:"CRYPTO_API_URL" envDefault:"https://api.nowpayments.io/v1"`
	CryptoAPIKey    string  `env:"CRYPTO_API_KEY"`
	CryptoIPNSecret string  `env:"CRYPTO_IPN_SECRET"`
	ProPriceUSD     float64 `env:"PRO_PRICE_USD" envDefault:"79"`

	AnalysisEngineURL         string `env:"ANALYSIS_ENGINE_URL" envDefault:"http://localhost:3001"`
	AnalysisTimeoutSeconds    int    `env:"ANALYSIS_TIMEOUT_SECONDS" envDefault:"60"`
	AnalysisRateLimitPerMin   int    `env:"ANALYSIS_RATE_LIMIT_PER_MIN" envDefault:"10"`
	WebhookEventRetentionDays int    `env:"WEBHOOK_EVENT_RETENTION_DAYS" envDefault:"90"`

	// AdminAPIToken enables /admin when set.
	AdminAPIToken string `env:"ADMIN_API_TOKEN"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutSeconds) * time.Second
}

func (c *Config) WebhookEventRetention() time.Duration {
	return time.Duration(c.WebhookEventRetentionDays) * 24 * time.Hour
}

func (c *Config) Validate(isProduction bool) error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	if c.StripeSecretKey != "" && !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		return fmt.Errorf("STRIPE_SECRET_KEY must be a Stripe secret or restricted key (sk_... / rk_...)")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}

		if c.AdminAPIToken != "" {
			if err := validateSecret("ADMIN_API_TOKEN", c.AdminAPIToken); err != nil {
				return err
			}
		}
		if c.StripeWebhookSecret == "" {
			log.Warn().Msg("STRIPE_WEBHOOK_SECRET is empty in production: card webhooks will be rejected")
		}
		if c.CryptoIPNSecret == "" {
			log.Warn().Msg("CRYPTO_IPN_SECRET is empty in production: crypto callbacks are unsigned and will not change tiers")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
