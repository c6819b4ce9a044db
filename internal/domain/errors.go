package domain

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors (4xx input problems)
var (
	ErrValidation      = errors.New("validation failed")
	ErrInvalidUsername = fmt.Errorf("%w: username must be 3-64 characters", ErrValidation)
	ErrInvalidEmail    = fmt.Errorf("%w: invalid email address", ErrValidation)
	ErrWeakPassword    = fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
)

// Authentication errors (401)
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrInvalidAPIKey      = errors.New("invalid api key")
)

// Authorization errors (403)
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInsufficientScope = errors.New("insufficient scope")
)

// Conflict and lookup errors
var (
	ErrUserExists   = errors.New("username already exists")
	ErrEmailExists  = errors.New("email already exists")
	ErrUserNotFound = errors.New("user not found")
	ErrKeyNotFound  = errors.New("api key not found")
)

// ErrInternal masks store failures at the core boundary; the underlying
// cause is logged, never returned to callers.
var ErrInternal = errors.New("internal error")

// RateLimitError is returned when a request exceeds its rate-limit window.
// RetryAfter is the time until the window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// IsRateLimited reports whether err is a rate-limit failure and returns the
// retry-after hint.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
