/*
errors.go - Centralized error types for the conference engine

PURPOSE:
  All error types in one place. Callers match with errors.Is / errors.As;
  the API layer maps categories to HTTP status codes.

ERROR CATEGORIES:
  1. Input errors - malformed scan codes, SKUs unknown at the location
  2. State errors - operation not allowed in the current status
  3. Ledger errors - per-item adjustment rejections during finalize
  4. Concurrency errors - lock contention, optimistic version conflicts

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP responses
*/
package conference

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCodeFormat is returned when a scanned code is not <productId>-<skuId>.
	ErrInvalidCodeFormat = errors.New("invalid code format")

	// ErrSKUNotFoundAtLocation is returned when a decoded SKU has no stock record
	// at the conference location.
	ErrSKUNotFoundAtLocation = errors.New("sku not found at location")

	// ErrInvalidState is returned when an operation is not allowed in the
	// conference's current status.
	ErrInvalidState = errors.New("invalid conference state")

	// ErrConferenceNotFound is returned when a conference ID does not exist.
	ErrConferenceNotFound = errors.New("conference not found")

	// ErrLocationNotFound is returned when creating a conference for an unknown location.
	ErrLocationNotFound = errors.New("location not found")

	// ErrOpenConferenceExists is returned when the location already has a
	// conference that is not finalized.
	ErrOpenConferenceExists = errors.New("location already has an open conference")

	// ErrConcurrentModification is returned on lock contention or when an
	// optimistic version check fails. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInsufficientStock is returned by a strict ledger when a delta would
	// drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAdjustmentRejected is the generic ledger refusal of a single delta.
	ErrAdjustmentRejected = errors.New("adjustment rejected")

	// ErrDuplicateAdjustment is returned by the ledger when an adjustment with the
	// same idempotency key was already applied.
	ErrDuplicateAdjustment = errors.New("duplicate adjustment")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CodeFormatError describes why a scanned code was rejected.
type CodeFormatError struct {
	Code   string
	Reason string
}

func (e *CodeFormatError) Error() string {
	return fmt.Sprintf("invalid code format %q: %s", e.Code, e.Reason)
}

func (e *CodeFormatError) Unwrap() error { return ErrInvalidCodeFormat }

// SKUNotFoundError names the SKU that is unknown at the location.
type SKUNotFoundError struct {
	LocationID LocationID
	SKUID      SKUID
}

func (e *SKUNotFoundError) Error() string {
	return fmt.Sprintf("sku %d not found at location %d", e.SKUID, e.LocationID)
}

func (e *SKUNotFoundError) Unwrap() error { return ErrSKUNotFoundAtLocation }

// InvalidStateError reports the operation and the status that refused it.
type InvalidStateError struct {
	ConferenceID ConferenceID
	Operation    string
	Status       Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s conference %s in status %s", e.Operation, e.ConferenceID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// AdjustmentError wraps a ledger refusal for one SKU during finalize.
type AdjustmentError struct {
	SKUID SKUID
	Delta int
	Err   error
}

func (e *AdjustmentError) Error() string {
	return fmt.Sprintf("adjustment of %+d for sku %d rejected: %v", e.Delta, e.SKUID, e.Err)
}

func (e *AdjustmentError) Unwrap() error {
	if e.Err == nil {
		return ErrAdjustmentRejected
	}
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCodeFormat) ||
		errors.Is(err, ErrSKUNotFoundAtLocation) ||
		errors.Is(err, ErrOpenConferenceExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConferenceNotFound) ||
		errors.Is(err, ErrLocationNotFound)
}

// isLedgerRejection reports whether a ledger error refuses a single delta
// (skip the item) rather than signalling an infrastructure failure (abort).
func isLedgerRejection(err error) bool {
	var adjErr *AdjustmentError
	return errors.As(err, &adjErr) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAdjustmentRejected) ||
		errors.Is(err, ErrSKUNotFoundAtLocation)
}
