package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tradesignal/billing-server-go/internal/audit"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
)

// IPRateLimitMiddleware guards unauthenticated routes such as login and register.
type IPRateLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter Limiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		if !allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"route": m.prefix},
			})
			w.Header().Set("Retry-After", retryAfter(resetAt))
			writeError(w, apperrors.New(apperrors.ErrCodeRateLimitExceeded, "Too many requests. Please try again later."))
			return
		}

		next.ServeHTTP(w, r)
	})
}
