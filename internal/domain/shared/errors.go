// Package shared contains common domain types, errors, and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrObservationInFlight    = errors.New("observation already in flight")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "tracking", "assignment", "agent"
	Op      string // Operation that failed, e.g., "Record", "Upsert"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Tracking domain errors
var (
	ErrTrackingSessionNotFound = NewDomainError("tracking", "Find", ErrNotFound, "session not found")
	ErrTrackingSessionExists   = NewDomainError("tracking", "Create", ErrAlreadyExists, "session already exists")
	ErrTrackingSessionInactive = NewDomainError("tracking", "Record", ErrInvalidState, "session is not active")
	ErrObservationConflict     = NewDomainError("tracking", "Record", ErrObservationInFlight, "session already has an observation in flight")
)

// Assignment domain errors
var (
	ErrAssignmentNotFound = NewDomainError("assignment", "Find", ErrNotFound, "assignment not found")
	ErrAssignmentExpired  = NewDomainError("assignment", "Check", ErrExpired, "assignment window has ended")
)

// Agent domain errors
var (
	ErrAgentNotFound      = NewDomainError("agent", "Find", ErrNotFound, "agent not found")
	ErrAgentAlreadyExists = NewDomainError("agent", "Enroll", ErrAlreadyExists, "agent already enrolled")
	ErrAgentRevoked       = NewDomainError("agent", "Authorize", ErrForbidden, "agent credentials revoked")
	ErrBadAgentSecret     = NewDomainError("agent", "Authorize", ErrUnauthorized, "agent secret mismatch")
)

// External service errors
var (
	ErrVisionUnavailable     = NewDomainError("vision", "Analyze", ErrServiceUnavailable, "vision API is unavailable")
	ErrVisionRateLimited     = NewDomainError("vision", "Analyze", ErrRateLimited, "vision API rate limit exceeded")
	ErrVisionTimeout         = NewDomainError("vision", "Analyze", ErrTimeout, "vision API request timeout")
	ErrVisionInvalidResponse = NewDomainError("vision", "Parse", ErrInvalidFormat, "invalid response from vision API")
	ErrCaptureFailed         = NewDomainError("capture", "Grab", ErrExternalService, "screen capture failed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
