// Package services provides the flow registry service layer and its error types.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrTenantRequired = errors.New("tenant is required")
	ErrNameRequired   = errors.New("flow name is required")
	ErrGraphRequired  = errors.New("graph is required")
	ErrInvalidRequest = errors.New("invalid request")

	// Conflicts (409 Conflict).
	ErrNoPublishableVersion = errors.New("flow has no current version to run")
	ErrRunTerminal          = errors.New("run is in a terminal state")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
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

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Message: message, Err: err}
}

// IsValidationError checks if an error should surface as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTenantRequired) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrGraphRequired) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error should surface as HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNoPublishableVersion) ||
		errors.Is(err, ErrRunTerminal)
}
