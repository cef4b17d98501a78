package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies every error the core can surface to a caller.
type ErrorType string

const (
	// Domain errors
	ErrorTypeInvalidArgument ErrorType = "INVALID_ARGUMENT"
	ErrorTypeNotFound        ErrorType = "NOT_FOUND"
	ErrorTypeAlreadyExists   ErrorType = "ALREADY_EXISTS"
	ErrorTypeConflict        ErrorType = "CONFLICT"
	ErrorTypeCycle           ErrorType = "WOULD_CREATE_CYCLE"
	ErrorTypeNotSupported    ErrorType = "NOT_SUPPORTED"
	ErrorTypeUnauthorized    ErrorType = "UNAUTHORIZED"

	// Lifecycle errors
	ErrorTypeCanceled     ErrorType = "CANCELED"
	ErrorTypeShuttingDown ErrorType = "SHUTTING_DOWN"

	// Infrastructure errors
	ErrorTypeCircuitOpen ErrorType = "CIRCUIT_OPEN"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypePersistence ErrorType = "PERSISTENCE_FAILURE"
	ErrorTypeInternal    ErrorType = "INTERNAL"
)

// AppError is the single error shape crossing component boundaries.
// Every command response carries either a result or one of these.
type AppError struct {
	Type          ErrorType              `json:"type"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Cause         error                  `json:"-"`
	HTTPStatus    int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithCorrelationID tags the error with the originating command id
func (e *AppError) WithCorrelationID(id string) *AppError {
	e.CorrelationID = id
	return e
}

// WithDetails adds structured detail fields
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// Constructor functions for the error kinds

// NewInvalidArgumentError creates a validation error
func NewInvalidArgumentError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInvalidArgument,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewAlreadyExistsError creates an already exists error
func NewAlreadyExistsError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeAlreadyExists,
		Message:    fmt.Sprintf("%s already exists", resource),
		HTTPStatus: http.StatusConflict,
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewCycleError creates a cycle violation error for a rejected edge
func NewCycleError(parentID, childID int64) *AppError {
	return &AppError{
		Type:       ErrorTypeCycle,
		Message:    fmt.Sprintf("adding group %d as parent of group %d would create a cycle", parentID, childID),
		HTTPStatus: http.StatusConflict,
	}
}

// NewNotSupportedError creates a not supported error
func NewNotSupportedError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotSupported,
		Message:    fmt.Sprintf("operation '%s' is not supported", operation),
		HTTPStatus: http.StatusNotImplemented,
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewCanceledError creates a cancellation error
func NewCanceledError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeCanceled,
		Message:    fmt.Sprintf("operation '%s' was canceled", operation),
		HTTPStatus: 499, // client closed request
	}
}

// NewShuttingDownError creates a shutdown rejection error
func NewShuttingDownError() *AppError {
	return &AppError{
		Type:       ErrorTypeShuttingDown,
		Message:    "service is shutting down",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewCircuitOpenError creates a fast-fail error for an open breaker
func NewCircuitOpenError(class string) *AppError {
	return &AppError{
		Type:       ErrorTypeCircuitOpen,
		Message:    fmt.Sprintf("circuit breaker for '%s' is open", class),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// NewPersistenceError creates a persistence failure error
func NewPersistenceError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypePersistence,
		Message:    fmt.Sprintf("persistence operation '%s' failed", operation),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsInvalidArgument checks if an error is a validation error
func IsInvalidArgument(err error) bool {
	return IsType(err, ErrorTypeInvalidArgument)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return IsType(err, ErrorTypeAlreadyExists)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsCycle checks if an error is a cycle violation
func IsCycle(err error) bool {
	return IsType(err, ErrorTypeCycle)
}

// IsCircuitOpen checks if an error is a circuit open fast-fail
func IsCircuitOpen(err error) bool {
	return IsType(err, ErrorTypeCircuitOpen)
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsCanceled checks if an error is a cancellation
func IsCanceled(err error) bool {
	return IsType(err, ErrorTypeCanceled)
}

// IsRetryable reports whether the resilience layer may retry the
// operation. Timeouts and infrastructure failures are transient;
// domain rejections are not.
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	if appErr == nil {
		// Untyped errors come from drivers and the network; assume transient.
		return true
	}
	switch appErr.Type {
	case ErrorTypeTimeout, ErrorTypePersistence, ErrorTypeInternal:
		return true
	default:
		return false
	}
}

// ExitCode maps an error to the companion CLI's exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	appErr := GetAppError(err)
	if appErr == nil {
		return 1
	}
	switch appErr.Type {
	case ErrorTypeInvalidArgument:
		return 2
	case ErrorTypeNotFound:
		return 3
	case ErrorTypeConflict, ErrorTypeAlreadyExists, ErrorTypeCycle:
		return 4
	case ErrorTypeCircuitOpen, ErrorTypeShuttingDown:
		return 5
	default:
		return 1
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to the message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
