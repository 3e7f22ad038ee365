// Package errors provides the application's typed error vocabulary: a
// single AppError carrying a stable code, a human message, and an optional
// wrapped cause, plus the predefined instances used across the store,
// acquisition, and model-client layers.
package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a stable code, a
// message, and an optional cause.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause returns a new error with the same code/message and the given cause.
func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Cause: cause}
}

// WithMessage returns a new error with the same code/cause and a custom message.
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{Code: e.Code, Message: msg, Cause: e.Cause}
}

// Predefined error codes.
const (
	CodeInvalidRequest = "invalid_request_error"
	CodeAuthError      = "authentication_error"
	CodeNotFound       = "not_found"
	CodeUnusable       = "unusable_source"
	CodeContentPolicy  = "content_policy_violation"
	CodeUpstreamError  = "upstream_error"
	CodeInternalError  = "internal_error"
	CodeRateLimit      = "rate_limit_exceeded"
	CodeTimeout        = "timeout_error"
	CodeCircuitOpen    = "circuit_breaker_open"
)

// Predefined error instances.
var (
	ErrInvalidRequest = &AppError{
		Code:    CodeInvalidRequest,
		Message: "invalid request arguments",
	}
	ErrUnauthorized = &AppError{
		Code:    CodeAuthError,
		Message: "authentication denied by upstream",
	}
	ErrSourceNotFound = &AppError{
		Code:    CodeNotFound,
		Message: "source record not found",
	}
	ErrSourceUnusable = &AppError{
		Code:    CodeUnusable,
		Message: "source record missing hash or extension",
	}
	ErrContentPolicyViolation = &AppError{
		Code:    CodeContentPolicy,
		Message: "model refused by content policy",
	}
	ErrUpstreamUnavailable = &AppError{
		Code:    CodeUpstreamError,
		Message: "model endpoint unavailable",
	}
	ErrRateLimitExceeded = &AppError{
		Code:    CodeRateLimit,
		Message: "rate limited by upstream",
	}
	ErrCircuitBreakerOpen = &AppError{
		Code:    CodeCircuitOpen,
		Message: "circuit breaker open, retry later",
	}
	ErrInternal = &AppError{
		Code:    CodeInternalError,
		Message: "internal error",
	}
	ErrStoreUnavailable = &AppError{
		Code:    CodeInternalError,
		Message: "document store unavailable",
	}
)

// New creates a new application error.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches cause to appErr, or returns nil if cause is nil.
func Wrap(cause error, appErr *AppError) *AppError {
	if cause == nil {
		return nil
	}
	return appErr.WithCause(cause)
}

// Is reports whether err is (or wraps) target by code.
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode extracts the AppError code from err, or CodeInternalError if err
// is not an AppError.
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}
