package services

import (
	"errors"
)

// ErrAuthenticationFailed is returned for any login mismatch. It does not
// say whether the email or the password was wrong.
var ErrAuthenticationFailed = errors.New("invalid email/password")

// ErrForbidden is returned when the caller acts on another user's records.
var ErrForbidden = errors.New("forbidden")

// ErrUnavailable is returned when an optional backend is not configured.
var ErrUnavailable = errors.New("service unavailable")

// ValidationError reports malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError reports a uniqueness conflict such as a duplicate email.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func validationError(msg string) error {
	return &ValidationError{Message: msg}
}
