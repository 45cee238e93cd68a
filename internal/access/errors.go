package access

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("access: not found")
	ErrConstraint    = errors.New("access: constraint violation")
	ErrValidation    = errors.New("access: validation failed")
	ErrConfiguration = errors.New("access: configuration error")
	ErrUnauthorized  = errors.New("access: unauthorized")
	ErrInvalidToken  = errors.New("access: invalid token")
)

// ErrNoDefaultRole surfaces a deployment misconfiguration: a user without an
// explicit role requires exactly one role with is_default=true.
var ErrNoDefaultRole = fmt.Errorf("%w: no default role configured", ErrConfiguration)

// Auth error codes surfaced to callers.
const (
	CodeUserTerminated          = "user_terminated"
	CodeInvalidUserToken        = "invalid_user_token"
	CodeUserTokenNotActive      = "invalid_user_token:not_active"
	CodeTokenTooOldForCritical  = "token_too_old_for_include_critical"
	CodeCannotLoginWithTokenOTP = "cannot_login_using_otp_type_token"
	CodePasswordResetRequired   = "password_reset_required"
	CodeOTPThresholdNotReached  = "create_new_otp_threshold_not_reached"
)

// AuthError is an authentication/authorization failure carrying a stable
// machine-readable code. It matches ErrUnauthorized in errors.Is checks.
type AuthError struct {
	Code string
}

func (e *AuthError) Error() string {
	return "access: auth error: " + e.Code
}

func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// NewAuthError constructs an AuthError with the given code.
func NewAuthError(code string) *AuthError {
	return &AuthError{Code: code}
}
