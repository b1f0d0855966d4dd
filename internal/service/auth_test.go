package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

func newTestAuthService(store repository.AccountRepository) *AuthService {
	s := NewAuthService(store, NewTokenManager(testJWTSecret, "tradesignal", time.Hour))
	s.now = func() time.Time { return midMarch }
	return s
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a free account with full allotment", func(t *testing.T) {
		store := repository.NewMemoryAccountStore()
		svc := newTestAuthService(store)

		res, err := svc.Register(ctx, "  Trader@Example.com ", "correct-horse")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, model.TierFree, res.Tier)

		a, err := store.FindByID(ctx, res.AccountID)
		require.NoError(t, err)
		assert.Equal(t, "trader@example.com", *a.Email)
		assert.Equal(t, 5, a.CreditsRemaining)
		assert.Equal(t, midMarch, a.ResetAnchor)
		assert.NotEqual(t, "correct-horse", *a.PasswordHash)

		subject, err := svc.tokens.Verify(res.Token)
		require.NoError(t, err)
		assert.Equal(t, res.AccountID, subject)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		svc := newTestAuthService(repository.NewMemoryAccountStore())
		_, err := svc.Register(ctx, "dup@example.com", "password1")
		require.NoError(t, err)

		_, err = svc.Register(ctx, "DUP@example.com", "password2")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyExists))
	})

	t.Run("validates input", func(t *testing.T) {
		svc := newTestAuthService(repository.NewMemoryAccountStore())

		_, err := svc.Register(ctx, "not-an-email", "password1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

		_, err = svc.Register(ctx, "a@example.com", "short")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

		_, err = svc.Register(ctx, "a@example.com", strings.Repeat("x", 73))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(repository.NewMemoryAccountStore())
	reg, err := svc.Register(ctx, "login@example.com", "password1")
	require.NoError(t, err)

	res, err := svc.Login(ctx, "Login@Example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, reg.AccountID, res.AccountID)

	_, err = svc.Login(ctx, "login@example.com", "wrong-password")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	_, err = svc.Login(ctx, "nobody@example.com", "password1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}
