package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 90 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const MaintenanceJobInterval = 15 * time.Minute

// Credit allotment
const (
	FreeMonthlyCredits = 5
	// UnlimitedCredits is stored for PRO accounts; the ledger never reads it.
	UnlimitedCredits = -1
)

// Upload limits for chart analysis
const (
	MaxChartUploadBytes = 10 << 20
	WebhookBodyLimit    = 1 << 20
)

// Rate limiting
const (
	DefaultRateLimitPerMin = 10
	RateLimitWindow        = time.Minute
	LoginAttemptsPerWindow = 5
	LoginAttemptWindow     = time.Minute
)

// DailyPickViewTTL keeps per-day view counters around long enough to span timezones.
const DailyPickViewTTL = 48 * time.Hour
