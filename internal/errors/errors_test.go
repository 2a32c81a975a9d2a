package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeSessionInvalid, "Session is invalid")
		assert.Equal(t, "SESSION_INVALID: Session is invalid", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := StoreUnavailable(cause)
		assert.Contains(t, err.Error(), "STORE_UNAVAILABLE")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "email"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"InvalidCredentials", InvalidCredentials, ErrCodeInvalidCredentials},
		{"AccountLocked", AccountLocked, ErrCodeAccountLocked},
		{"InvalidMfaCode", InvalidMfaCode, ErrCodeInvalidMfaCode},
		{"MfaSetupRequired", MfaSetupRequired, ErrCodeMfaSetupRequired},
		{"SessionInvalid", SessionInvalid, ErrCodeSessionInvalid},
		{"InsufficientPermissions", InsufficientPermissions, ErrCodeInsufficientPermissions},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("days", "not a number") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("email") }, ErrCodeMissingRequired},
		{"RateLimitExceeded", RateLimitExceeded, ErrCodeRateLimitExceeded},
		{"StoreUnavailable", func() *AppError { return StoreUnavailable(errors.New("x")) }, ErrCodeStoreUnavailable},
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

func TestAsAppError(t *testing.T) {
	t.Run("extracts wrapped AppError", func(t *testing.T) {
		original := SessionInvalid()
		wrapped := fmt.Errorf("validate: %w", original)
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
	assert.Equal(t, ErrCodeAccountLocked, GetCode(AccountLocked()))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(InvalidCredentials()))
	assert.True(t, IsAuthFailure(AccountLocked()))
	assert.True(t, IsAuthFailure(InvalidMfaCode()))
	assert.True(t, IsAuthFailure(SessionInvalid()))
	assert.False(t, IsAuthFailure(InsufficientPermissions()))
	assert.False(t, IsAuthFailure(StoreUnavailable(nil)))
	assert.False(t, IsAuthFailure(errors.New("boom")))
}

func TestIs(t *testing.T) {
	assert.True(t, Is(fmt.Errorf("wrap: %w", InvalidMfaCode()), ErrCodeInvalidMfaCode))
	assert.False(t, Is(InvalidMfaCode(), ErrCodeSessionInvalid))
}
