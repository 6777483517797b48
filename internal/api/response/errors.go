package response

import (
	"errors"
	"net/http"

	"github.com/good-yellow-bee/katler/internal/apperr"
)

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// Standard errors
var (
	ErrInvalidToken = &Error{
		Code:    ErrCodeUnauthorized,
		Message: "invalid or expired token",
		Status:  http.StatusUnauthorized,
	}

	ErrInternalServer = &Error{
		Code:    ErrCodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
	}

	ErrRateLimited = &Error{
		Code:    ErrCodeRateLimited,
		Message: "too many requests",
		Status:  http.StatusTooManyRequests,
	}
)

// NewBadRequest creates a bad request error with custom message.
func NewBadRequest(message string) *Error {
	return &Error{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// statusFor maps core error kinds to HTTP status codes.
var statusFor = map[apperr.Kind]int{
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindAuthorization: http.StatusForbidden,
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindConflict:      http.StatusConflict,
	apperr.KindTransport:     http.StatusServiceUnavailable,
}

// FromError converts err to an API error. Errors without a kind become
// internal errors; the cause of transport errors is never exposed.
func FromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return ErrInternalServer
	}
	status, ok := statusFor[appErr.Kind]
	if !ok {
		return ErrInternalServer
	}
	return &Error{Code: appErr.Code, Message: appErr.Message, Status: status}
}
