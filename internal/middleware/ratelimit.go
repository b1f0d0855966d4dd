package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/audit"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
)

// Limiter is satisfied by service.RateLimiter.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
}

// RateLimitMiddleware throttles authenticated requests per account. It runs
// after AuthMiddleware; requests without an account pass through.
type RateLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewRateLimitMiddleware(limiter Limiter, limit int, window time.Duration, prefix string) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, limit: limit, window: window, prefix: prefix}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := GetAccountID(r.Context())
		if accountID == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("account:%s:%s", m.prefix, accountID)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			log.Warn().Str("account_id", accountID).Str("route", m.prefix).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventRateLimitExceed,
				AccountID: accountID,
				Details:   map[string]interface{}{"route": m.prefix},
			})
			w.Header().Set("Retry-After", retryAfter(resetAt))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfter(resetAt time.Time) string {
	seconds := int(time.Until(resetAt).Seconds()) + 1
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
