package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Account not found")
		assert.Equal(t, "NOT_FOUND: Account not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]any{"tier": "FREE", "limit": 5}
		err := LimitExceeded().WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"InvalidToken", func() *AppError { return InvalidToken("test") }, ErrCodeInvalidToken},
		{"TokenExpired", TokenExpired, ErrCodeTokenExpired},
		{"ProRequired", ProRequired, ErrCodeProRequired},
		{"LimitExceeded", LimitExceeded, ErrCodeLimitExceeded},
		{"NotFound", func() *AppError { return NotFound("Account") }, ErrCodeNotFound},
		{"AlreadyExists", func() *AppError { return AlreadyExists("Account") }, ErrCodeAlreadyExists},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("email", "invalid") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("email") }, ErrCodeMissingRequired},
		{"InvalidSignature", func() *AppError { return InvalidSignature("card") }, ErrCodeInvalidSignature},
		{"RateLimitExceeded", RateLimitExceeded, ErrCodeRateLimitExceeded},
		{"NotConfigured", func() *AppError { return NotConfigured("Card checkout") }, ErrCodeNotConfigured},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestExternal(t *testing.T) {
	cause := errors.New("timeout")
	err := External("analysis engine", cause)
	assert.Equal(t, ErrCodeExternal, err.Code)
	assert.Contains(t, err.Message, "analysis engine")
	assert.Equal(t, cause, err.Unwrap())
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError through fmt wrapping", func(t *testing.T) {
		original := ProRequired()
		wrapped := fmt.Errorf("authorize: %w", original)
		extracted, ok := AsAppError(wrapped)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, GetCode(NotFound("Account")))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("consume: %w", LimitExceeded())
	assert.True(t, HasCode(err, ErrCodeLimitExceeded))
	assert.False(t, HasCode(err, ErrCodeProRequired))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeLimitExceeded))
}
