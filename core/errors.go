/*
errors.go - Centralized error types for the billing core

PURPOSE:
  All sentinel errors in one place. The taxonomy follows the request
  lifecycle: validation errors reject before any write, authorization
  errors reject before any read of sensitive data, dependency errors
  abort the whole operation, and per-item errors in batch operations are
  accumulated, not thrown.

USAGE:
  if errors.Is(err, core.ErrNotAuthorized) { ... 403 ... }
  if core.IsClientError(err)               { ... 400 ... }
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidMonth is returned for a month outside the "YYYY-MM" format.
	ErrInvalidMonth = errors.New("invalid month")

	// ErrNotAuthorized is returned when a non-admin calls an admin-only
	// mutation. Checked before any read of sensitive data.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrDuplicateIdempotencyKey is returned when a ledger posting carries
	// an idempotency key that already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStudentNotFound / ErrFamilyNotFound / ... are entity lookups.
	ErrStudentNotFound    = errors.New("student not found")
	ErrFamilyNotFound     = errors.New("family not found")
	ErrClassNotFound      = errors.New("class not found")
	ErrTeacherNotFound    = errors.New("teacher not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrInvoiceNotFound    = errors.New("invoice not found")

	// ErrAccountCreation is returned when the lazy ledger-account creation
	// fails; the whole payment operation must abort before any Payment row
	// is written.
	ErrAccountCreation = errors.New("ledger account creation failed")

	// ErrAuditWrite is returned when the audit row cannot be appended.
	// An admin mutation without an audit row must not be applied.
	ErrAuditWrite = errors.New("audit log write failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError rejects bad input before any partial write and is
// surfaced verbatim to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault (400-class).
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound reports whether the error is a missing entity (404-class).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrFamilyNotFound) ||
		errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrTeacherNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}
