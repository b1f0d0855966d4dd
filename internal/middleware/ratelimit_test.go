package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingLimiter struct {
	hits map[string]int
}

func (l *countingLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	l.hits[key]++
	return l.hits[key] <= limit, time.Now().Add(window)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{hits: map[string]int{}}
	handler := NewRateLimitMiddleware(limiter, 2, time.Minute, "analyze").Handler(okHandler())

	request := func(accountID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/analyze", nil)
		if accountID != "" {
			req = req.WithContext(WithAccountID(req.Context(), accountID))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("allows up to the limit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rec := request("acct-1")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
		}
	})

	t.Run("blocks over the limit", func(t *testing.T) {
		rec := request("acct-1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
	})

	t.Run("accounts are independent", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request("acct-2").Code)
	})

	t.Run("anonymous requests pass through", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request("").Code)
		for key := range limiter.hits {
			assert.True(t, strings.HasPrefix(key, "account:analyze:"))
		}
	})
}

func TestIPRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{hits: map[string]int{}}
	handler := NewIPRateLimitMiddleware(limiter, 1, time.Minute, "login").Handler(okHandler())

	request := func(ip string) int {
		req := httptest.NewRequest("POST", "/v1/auth/login", nil)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1"))
	assert.Equal(t, http.StatusOK, request("10.0.0.2"))
	assert.Equal(t, 2, limiter.hits["ip:login:10.0.0.1"])
}
