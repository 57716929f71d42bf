package errors

import (
	"errors"
	"fmt"
)

// Common error types for the bridge
var (
	// Token lifecycle errors
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrRefreshThrottled = errors.New("token refresh throttled")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrNoAccessToken    = errors.New("access token is missing")

	// Gateway errors
	ErrRateLimited   = errors.New("rate limited")
	ErrAuthExhausted = errors.New("authentication exhausted")

	// Reconciler errors
	ErrNoContact = errors.New("no contact id or contact name configured")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
