package utils

import (
	"errors"
	"fmt"
	"time"
)

// Custom error types
var (
	// ErrValidation is returned when input validation fails
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")

	// ErrThrottled is returned when the external API rate-limits a call
	// and the retry budget has been exhausted
	ErrThrottled = errors.New("throttled")

	// ErrDatabase is returned when there's a database operation error
	ErrDatabase = errors.New("database error")

	// ErrModuleFatal is returned when a whole module job must abort,
	// as opposed to a single item failing
	ErrModuleFatal = errors.New("module failure")
)

// ValidationError represents an error that occurs during input validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ThrottleError represents an exhausted retry budget against a
// rate-limited external API
type ThrottleError struct {
	Path       string
	Attempts   int
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("request to %s throttled after %d attempts (last retry-after %s)",
		e.Path, e.Attempts, e.RetryAfter)
}

func (e *ThrottleError) Unwrap() error {
	return ErrThrottled
}

// APIError represents a non-throttling failure from the external API.
// These are never retried by the client layer.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api error %d on %s: %s", e.StatusCode, e.Path, e.Body)
	}
	return fmt.Sprintf("api error %d on %s", e.StatusCode, e.Path)
}

// DatabaseError represents an error that occurs during database operations
type DatabaseError struct {
	Operation string
	Cause     error
}

func (e *DatabaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("database error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("database error during %s", e.Operation)
}

func (e *DatabaseError) Unwrap() error {
	return ErrDatabase
}

// ModuleError aborts an entire module job. Item-level failures are
// recorded in the checkpoint ledger instead and never use this type.
type ModuleError struct {
	Module  string
	Message string
	Cause   error
}

func (e *ModuleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("module %s: %s: %v", e.Module, e.Message, e.Cause)
	}
	return fmt.Sprintf("module %s: %s", e.Module, e.Message)
}

func (e *ModuleError) Unwrap() error {
	return ErrModuleFatal
}

// Error wrapping functions

// WrapValidationError wraps an error as a validation error
func WrapValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// WrapNotFoundError wraps an error as a not found error
func WrapNotFoundError(resource, id string) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// WrapDatabaseError wraps an error as a database error
func WrapDatabaseError(operation string, cause error) error {
	return &DatabaseError{
		Operation: operation,
		Cause:     cause,
	}
}

// WrapModuleError wraps an error as a module-level fatal error
func WrapModuleError(module, message string, cause error) error {
	return &ModuleError{
		Module:  module,
		Message: message,
		Cause:   cause,
	}
}

// Error checking functions

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsThrottledError checks if an error is a throttling error
func IsThrottledError(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsDatabaseError checks if an error is a database error
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsModuleError checks if an error is a module-level fatal error
func IsModuleError(err error) bool {
	return errors.Is(err, ErrModuleFatal)
}

// Helper function to create a validation error for required fields
func RequiredFieldError(field string) error {
	return WrapValidationError(field, "field is required")
}

// Helper function to create a validation error for invalid field values
func InvalidFieldError(field, reason string) error {
	return WrapValidationError(field, reason)
}
