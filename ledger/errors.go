/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses; the Coordinator uses the
  retryable classification to drive its conflict loop.

ERROR CATEGORIES:
  1. Validation errors - rejected before any store access
  2. Business-rule errors - rejected after load, before write
  3. Concurrency errors - retried internally, surfaced only on exhaustion
  4. Storage errors - fatal for the operation, nothing was written

USAGE:
  if errors.Is(err, ledger.ErrInsufficientAvailable) { ... }

SEE ALSO:
  - record.go: Returns validation and business-rule errors
  - coordinator.go: Handles ErrVersionConflict
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientAvailable is returned when an issue or reserve asks for
	// more than currentQuantity - reservedQuantity. No state is mutated.
	ErrInsufficientAvailable = errors.New("insufficient available quantity")

	// ErrInsufficientBatchQuantity is returned when a batch-scoped issue
	// cannot be covered by that batch alone. The engine never auto-splits
	// across batches; the caller picks a batch or omits it.
	ErrInsufficientBatchQuantity = errors.New("insufficient batch quantity")

	// ErrVersionConflict is returned by RecordStore.Upsert when the record
	// changed between load and write. The Coordinator retries these.
	ErrVersionConflict = errors.New("stock record version conflict")

	// ErrConcurrencyExhausted is surfaced when conflict retries run out.
	// Transient: the caller may retry the whole operation.
	ErrConcurrencyExhausted = errors.New("concurrent update retries exhausted")

	// ErrRecordNotFound is returned when no stock record exists for a key.
	// Only receive creates records; every other operation requires one.
	ErrRecordNotFound = errors.New("stock record not found")

	// ErrRecordRetired is returned when mutating a logically retired record.
	ErrRecordRetired = errors.New("stock record is retired")

	// ErrSequenceFailed is returned when the sequence counter write fails,
	// aborting the enclosing operation (no entry without a number).
	ErrSequenceFailed = errors.New("sequence allocation failed")

	// ErrStorage wraps store-level failures where the atomic transaction
	// guarantees nothing was written.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports invalid input with the offending field.
// Rejected before any store access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InsufficientError details a shortage on issue or reserve.
type InsufficientError struct {
	Key       StockKey
	Batch     BatchID // empty unless the shortage is batch-scoped
	Available Quantity
	Requested Quantity
}

func (e *InsufficientError) Error() string {
	if e.Batch != "" {
		return fmt.Sprintf("batch %s at %s: available %s, requested %s",
			e.Batch, e.Key, e.Available, e.Requested)
	}
	return fmt.Sprintf("%s: available %s, requested %s", e.Key, e.Available, e.Requested)
}

func (e *InsufficientError) Unwrap() error {
	if e.Batch != "" {
		return ErrInsufficientBatchQuantity
	}
	return ErrInsufficientAvailable
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrConcurrencyExhausted)
}

// IsClientError returns true if the error is due to invalid or
// unsatisfiable client input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInsufficientAvailable) ||
		errors.Is(err, ErrInsufficientBatchQuantity) ||
		errors.Is(err, ErrRecordRetired)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
