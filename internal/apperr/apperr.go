// Package apperr defines the error taxonomy shared by the Katler core.
//
// Every error a component returns to the orchestrator is an *Error carrying a
// Kind. Callers branch on the kind with IsKind or KindOf; the HTTP layer maps
// kinds onto status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and presentation.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindTransport     Kind = "transport"
)

// Common error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUsernameRequired = "USERNAME_REQUIRED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeNotFound         = "NOT_FOUND"
	CodeUnavailable      = "UNAVAILABLE"
)

// Error is a classified core error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a caller-correctable input error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// Authorization creates a role or ownership failure.
func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a uniqueness or state-transition violation.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a missing-entity error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Transport wraps a store or channel failure.
func Transport(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransport, Code: CodeUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrUsernameRequired is the identity gate: no command proceeds until the
// principal has chosen a username.
var ErrUsernameRequired = &Error{
	Kind:    KindValidation,
	Code:    CodeUsernameRequired,
	Message: "a username must be set before continuing",
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
