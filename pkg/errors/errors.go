// Package errors defines custom error types and error handling utilities for the abuse guard service.
// Structured errors carry a machine code and the HTTP status they map to.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/turtacn/abuseguard/pkg/constants"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal           Code = "internal_error"
	CodeInvalidRequest     Code = "invalid_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeRateLimited        Code = "rate_limited"
	CodeStoreUnavailable   Code = "store_unavailable"
	CodeInvalidPolicy      Code = "invalid_policy"
	CodeServiceUnavailable Code = "service_unavailable"
)

// ================================================================================
// Sentinel Errors
// ================================================================================

var (
	// ErrStoreUnavailable signals that the counter store could not be reached.
	// The decision engine treats it as fail-open.
	ErrStoreUnavailable = stderrors.New("counter store unavailable")

	// ErrInvalidPolicy signals malformed rule data.
	ErrInvalidPolicy = stderrors.New("invalid policy")
)

// ================================================================================
// GuardError
// ================================================================================

// GuardError represents a structured error with additional metadata
type GuardError struct {
	code        Code
	httpStatus  int
	description string
	message     string
	cause       error
}

// NewError creates a new GuardError with the specified parameters
func NewError(code Code, httpStatus int, description string, message string) *GuardError {
	return &GuardError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
	}
}

// Error implements the error interface
func (e *GuardError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Code returns the machine error code
func (e *GuardError) Code() Code { return e.code }

// HTTPStatus returns the HTTP status code
func (e *GuardError) HTTPStatus() int { return e.httpStatus }

// Description returns the human-readable description
func (e *GuardError) Description() string { return e.description }

// Unwrap returns the underlying cause error
func (e *GuardError) Unwrap() error { return e.cause }

// WithCause adds a cause error to the error chain
func (e *GuardError) WithCause(cause error) *GuardError {
	e.cause = cause
	return e
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrRateLimited is the uniform error callers surface for any non-allow decision.
// It intentionally carries no counts, limits or rule names.
func ErrRateLimited() *GuardError {
	return NewError(CodeRateLimited, http.StatusTooManyRequests, constants.RateLimitedMessage, "")
}

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) *GuardError {
	return NewError(CodeInvalidRequest, http.StatusBadRequest, "The request is malformed.", message)
}

// ErrUnauthorized creates an unauthorized error
func ErrUnauthorized(message string) *GuardError {
	return NewError(CodeUnauthorized, http.StatusUnauthorized, "Authentication required.", message)
}

// ErrNotFound creates a not_found error
func ErrNotFound(message string) *GuardError {
	return NewError(CodeNotFound, http.StatusNotFound, "The resource was not found.", message)
}

// ErrInternal creates an internal_error error
func ErrInternal(message string) *GuardError {
	return NewError(CodeInternal, http.StatusInternalServerError, "An unexpected error occurred.", message)
}

// ErrServiceUnavailable creates a service_unavailable error
func ErrServiceUnavailable(message string) *GuardError {
	return NewError(CodeServiceUnavailable, http.StatusServiceUnavailable, "The service is temporarily unavailable.", message)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsGuardError attempts to extract a GuardError from an error chain
func AsGuardError(err error) (*GuardError, bool) {
	var gErr *GuardError
	if stderrors.As(err, &gErr) {
		return gErr, true
	}
	return nil, false
}

// IsStoreUnavailable reports whether err signals an unreachable counter store
func IsStoreUnavailable(err error) bool {
	return stderrors.Is(err, ErrStoreUnavailable)
}

// IsRateLimitError checks if an error is the uniform rate-limited error
func IsRateLimitError(err error) bool {
	if gErr, ok := AsGuardError(err); ok {
		return gErr.HTTPStatus() == http.StatusTooManyRequests
	}
	return false
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse represents the JSON structure for error responses
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ToErrorResponse converts any error to an ErrorResponse. Details of non-guard
// errors are never exposed.
func ToErrorResponse(err error) *ErrorResponse {
	if gErr, ok := AsGuardError(err); ok {
		return &ErrorResponse{
			Error:            string(gErr.Code()),
			ErrorDescription: gErr.Description(),
		}
	}
	return &ErrorResponse{
		Error:            string(CodeInternal),
		ErrorDescription: "An unexpected error occurred.",
	}
}
