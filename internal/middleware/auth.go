package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tradesignal/billing-server-go/internal/audit"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
)

type contextKey string

const AccountIDContextKey contextKey = "account_id"

// GetAccountID returns the authenticated account id, or "" on public routes.
func GetAccountID(ctx context.Context) string {
	if id, ok := ctx.Value(AccountIDContextKey).(string); ok {
		return id
	}
	return ""
}

func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDContextKey, accountID)
}

// TokenVerifier resolves a bearer token to an account id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type AuthMiddleware struct {
	tokens TokenVerifier
}

func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handler only establishes identity. Whether the account still exists and what
// it may do is decided per request by the entitlement gateway.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		accountID, err := m.tokens.Verify(token)
		if err != nil {
			appErr, ok := apperrors.AsAppError(err)
			if !ok {
				appErr = apperrors.InvalidToken("Invalid token")
			}
			audit.LogFromRequest(r, audit.Event{
				Type: audit.EventAuthFailure,
				Details: map[string]interface{}{
					"reason": string(appErr.Code),
					"path":   r.URL.Path,
				},
			})
			writeError(w, appErr)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
	})
}

// extractToken reads the Authorization header. EventSource cannot set headers,
// so the events stream also accepts ?token=.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if strings.HasSuffix(r.URL.Path, "/events") {
		return r.URL.Query().Get("token")
	}
	return ""
}
