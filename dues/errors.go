/*
errors.go - Centralized error types for the dues engine

ERROR CATEGORIES:
  1. Not found   - unknown reference id, missing bill (client-facing)
  2. Validation  - malformed batch or update (client-facing)
  3. System      - ledger/directory access failure, including timeouts
                   (retried by the caller at the transport layer, never here)

Malformed individual payment rows are not errors at all: the ingestor skips
and logs them.

USAGE:
  report, err := engine.Reconcile(ctx, ref)
  switch {
  case dues.IsNotFound(err):    // 404
  case dues.IsClientError(err): // 400
  case dues.IsSystemError(err): // 500
  }
*/
package dues

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOccupantNotFound is returned when no occupant has the reference id.
	ErrOccupantNotFound = errors.New("occupant not found")

	// ErrBillNotFound is returned when no bill exists for (occupant, period).
	ErrBillNotFound = errors.New("bill not found")

	// ErrInvalidPeriod is returned for tokens that are not "YYYY-MM".
	ErrInvalidPeriod = errors.New("invalid billing period")

	// ErrInvalidTransition is returned when a bill status cannot advance.
	ErrInvalidTransition = errors.New("invalid bill status transition")

	// ErrValidation is the root of every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrSystem is the root of every *SystemError.
	ErrSystem = errors.New("system error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects a whole request. Nothing was written.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// SystemError wraps a storage failure. It matches both ErrSystem and the
// underlying cause, so errors.Is(err, context.DeadlineExceeded) still works.
type SystemError struct {
	Op  string
	Err error
}

// NewSystemError wraps err; it returns nil for a nil err and leaves an
// existing *SystemError untouched.
func NewSystemError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SystemError
	if errors.As(err, &se) {
		return err
	}
	return &SystemError{Op: op, Err: err}
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() []error {
	return []error{ErrSystem, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOccupantNotFound) ||
		errors.Is(err, ErrBillNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsSystemError returns true for storage failures.
func IsSystemError(err error) bool {
	return errors.Is(err, ErrSystem)
}
