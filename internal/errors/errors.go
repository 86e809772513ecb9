// Package errors defines the service error taxonomy. Every expected,
// recoverable-by-the-caller failure is a ServiceError carrying a machine code,
// a human-readable reason and the HTTP status the boundary should answer with.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error kind.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeConflict          Code = "CONFLICT"
	CodeCapacityExceeded  Code = "CAPACITY_EXCEEDED"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInvalidToken      Code = "INVALID_TOKEN"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeRateLimited       Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal          Code = "INTERNAL"
)

// ServiceError is an expected failure surfaced verbatim to the request
// boundary. It is never retried automatically; infrastructure faults are the
// only errors that stay outside this taxonomy.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a key/value pair and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// NotFound reports that a referenced study or application is absent.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message)
}

// Forbidden reports that the caller lacks the required role for the action.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message)
}

// InvalidTransition reports that the state machine rejects the requested move.
func InvalidTransition(message string) *ServiceError {
	return newError(CodeInvalidTransition, http.StatusConflict, message)
}

// Conflict reports a duplicate non-terminal application.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message)
}

// CapacityExceeded reports that an approval would overshoot study capacity.
func CapacityExceeded(message string) *ServiceError {
	return newError(CodeCapacityExceeded, http.StatusConflict, message)
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message)
}

// InvalidToken reports a credential that failed validation.
func InvalidToken(cause error) *ServiceError {
	err := newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token")
	err.cause = cause
	return err
}

// InvalidInput reports a malformed request payload.
func InvalidInput(message string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, message)
}

// RateLimitExceeded reports that the caller outran its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	err := newError(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded")
	return err.WithDetails("limit", limit).WithDetails("window", window)
}

// Internal wraps an unexpected infrastructure fault. The boundary maps it to a
// generic failure; the cause stays in the logs, not the response.
func Internal(message string, cause error) *ServiceError {
	err := newError(CodeInternal, http.StatusInternalServerError, message)
	err.cause = cause
	return err
}

// GetServiceError returns err as a *ServiceError if it is one, nil otherwise.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// IsCode reports whether err is a ServiceError with the given code.
func IsCode(err error, code Code) bool {
	serviceErr := GetServiceError(err)
	return serviceErr != nil && serviceErr.Code == code
}
