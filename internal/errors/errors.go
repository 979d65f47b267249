package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials        = errors.New("invalid credentials")
	ErrEmailAlreadyInUse         = errors.New("email already in use")
	ErrUserNotFound              = errors.New("user not found")
	ErrUserInactive              = errors.New("user is deactivated")
	ErrSessionNotFound           = errors.New("session not found")
	ErrSessionExpired            = errors.New("session expired")
	ErrSessionIdle               = errors.New("session idle timeout exceeded")
	ErrTokenRevoked              = errors.New("token revoked")
	ErrInvalidToken              = errors.New("invalid token")
	ErrRefreshTokenNotFound      = errors.New("refresh token not found")
	ErrRefreshTokenRevoked       = errors.New("refresh token revoked")
	ErrRefreshTokenExpired       = errors.New("refresh token expired")
	ErrDeviceFingerprintMismatch = errors.New("device fingerprint mismatch")
	ErrMfaNotConfigured          = errors.New("mfa not configured")
	ErrMfaAlreadyEnabled         = errors.New("mfa already enabled")
	ErrForbidden                 = errors.New("insufficient permissions")
)

// ValidationError reports every policy rule the input violated, not just the
// first one found.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// LockoutError is returned while an identifier is locked. RetryAfter tells
// the caller when the lock window elapses.
type LockoutError struct {
	Identifier string
	RetryAfter time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("identifier %q locked until %s", e.Identifier, e.RetryAfter.Format(time.RFC3339))
}

// MfaError covers invalid one-time and backup codes.
type MfaError struct {
	Reason string
}

func (e *MfaError) Error() string {
	return "mfa verification failed: " + e.Reason
}

// IntegrityError indicates a signature or revocation-set check failure.
type IntegrityError struct {
	Detail string
}

func (e *IntegrityError) Error() string {
	return "integrity check failed: " + e.Detail
}

// IsLockout reports whether err is (or wraps) a LockoutError.
func IsLockout(err error) bool {
	var le *LockoutError
	return errors.As(err, &le)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
