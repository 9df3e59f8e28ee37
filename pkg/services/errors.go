package services

import (
	"errors"
	"fmt"

	"github.com/fakturo/fakturo/pkg/scheduler"
)

var (
	// ErrInvalidRequest marks malformed input (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")

	// Conflicts with the run lifecycle (409 Conflict).
	ErrRunNotRetryable   = scheduler.ErrRunNotRetryable
	ErrRunNotCancellable = scheduler.ErrRunNotCancellable
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return true
	}

	return errors.Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRunNotRetryable) ||
		errors.Is(err, ErrRunNotCancellable)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
