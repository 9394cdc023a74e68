package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure by how callers should react to it.
type ErrorCode string

const (
	// ErrCodeTransientNetwork covers timeouts, refused connections and
	// broken pipes. Recovered locally: the operation fails, nothing else.
	ErrCodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	// ErrCodeProtocolViolation covers malformed request lines, unexpected
	// fields and missing headers. Ends the offending session.
	ErrCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	// ErrCodePreconditionFailed covers operations rejected up front, such
	// as starting a session while one is active.
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	// ErrCodeResourceUnavailable covers failed port binds and TLS setup.
	// Aborts the start sequence with full teardown.
	ErrCodeResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError is a classified error carried to the control API.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// WrapError attaches a classification to an underlying error.
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewTransientNetworkError(err error, message string) *AppError {
	return WrapError(err, ErrCodeTransientNetwork, message, http.StatusBadGateway)
}

func NewProtocolViolationError(message string) *AppError {
	return NewAppError(ErrCodeProtocolViolation, message, http.StatusBadGateway)
}

func NewPreconditionFailedError(message string) *AppError {
	return NewAppError(ErrCodePreconditionFailed, message, http.StatusConflict)
}

func NewResourceUnavailableError(err error, message string) *AppError {
	return WrapError(err, ErrCodeResourceUnavailable, message, http.StatusServiceUnavailable)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts the first AppError in the chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HTTPStatus maps any error to a response status.
func HTTPStatus(err error) int {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
