package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers. Transports map kinds to status codes.
type Kind string

const (
	KindAuthenticationRequired Kind = "AUTHENTICATION_REQUIRED"
	KindAuthorizationDenied    Kind = "AUTHORIZATION_DENIED"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidReference       Kind = "INVALID_REFERENCE"
	KindInvalidState           Kind = "INVALID_STATE"
	KindValidationFailure      Kind = "VALIDATION_FAILURE"
	KindRateLimited            Kind = "RATE_LIMITED"
	KindInternal               Kind = "INTERNAL"
)

// Error is the coded error returned by the session, presence and position
// services.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind, so sentinel values below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// NewError creates a coded error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a coded error around an underlying cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ValidationError reports a plain validation error as ValidationFailure,
// keeping its message.
func ValidationError(err error) *Error {
	return &Error{Kind: KindValidationFailure, Message: err.Error(), Cause: err}
}

// KindOf returns the Kind of err, or KindInternal for uncoded errors.
func KindOf(err error) Kind {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is comparisons.
var (
	ErrAuthenticationRequired = NewError(KindAuthenticationRequired, "authentication required")
	ErrAuthorizationDenied    = NewError(KindAuthorizationDenied, "not authorized")
	ErrNotFound               = NewError(KindNotFound, "not found")
	ErrInvalidReference       = NewError(KindInvalidReference, "invalid reference")
	ErrInvalidState           = NewError(KindInvalidState, "invalid state")
	ErrValidationFailure      = NewError(KindValidationFailure, "validation failure")
	ErrRateLimited            = NewError(KindRateLimited, "rate limit exceeded")
	ErrInternal               = NewError(KindInternal, "internal error")
)

// Plain validation errors returned by the helpers in validation.go.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot only")
	ErrInvalidSection  = errors.New("section must be one of briefing, resources, lab, debrief")
	ErrInvalidAction   = errors.New("action must be next_step or prev_step")
	ErrInvalidStep     = errors.New("step must be at least 1")
	ErrNoUpdates       = errors.New("no updates provided")
	ErrAmbiguousUpdate = errors.New("step and action cannot be combined")
)
