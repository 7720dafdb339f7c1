/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR TAXONOMY:
  1. UpstreamFetchError - External pagination failed mid-stream (fatal)
  2. DataStoreError - Any relational read/write failed (fatal)
  3. AdjustmentValidationError - Malformed manual entry (rejected at write)
  4. Configuration gaps - Missing rate profile or subscription. NOT errors:
     resolved by a default or an explicit skip, and logged.

PROPAGATION:
  Fatal errors bubble to the report assembler and surface as one failure.
  There are no partial reports.

SEE ALSO:
  - payments/fetcher.go: Produces UpstreamFetchError
  - revenue/report.go: Propagates fatal errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUpstreamFetch is returned when the payment processor listing fails.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrPageLimitExceeded is returned when pagination would exceed the page cap.
	ErrPageLimitExceeded = errors.New("page limit exceeded")

	// ErrDataStore is returned when the relational store fails.
	ErrDataStore = errors.New("data store query failed")

	// ErrAdjustmentValidation is returned for malformed manual adjustments.
	ErrAdjustmentValidation = errors.New("invalid adjustment")

	// ErrAdjustmentNotFound is returned when an adjustment ID does not exist.
	ErrAdjustmentNotFound = errors.New("adjustment not found")

	// ErrInvalidInput is returned for malformed request parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the caller lacks the admin capability.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UpstreamFetchError reports which page of which listing failed.
type UpstreamFetchError struct {
	Subtype string
	Page    int
	Err     error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("upstream fetch %q failed on page %d: %v", e.Subtype, e.Page, e.Err)
}

func (e *UpstreamFetchError) Unwrap() []error {
	return []error{ErrUpstreamFetch, e.Err}
}

// DataStoreError reports the store operation that failed.
type DataStoreError struct {
	Op  string
	Err error
}

func (e *DataStoreError) Error() string {
	return fmt.Sprintf("data store %s: %v", e.Op, e.Err)
}

func (e *DataStoreError) Unwrap() []error {
	return []error{ErrDataStore, e.Err}
}

// StoreErr wraps err as a DataStoreError, passing nil through.
func StoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var dse *DataStoreError
	if errors.As(err, &dse) {
		return err
	}
	return &DataStoreError{Op: op, Err: err}
}

// AdjustmentValidationError names the offending field.
type AdjustmentValidationError struct {
	Field  string
	Reason string
}

func (e *AdjustmentValidationError) Error() string {
	return fmt.Sprintf("invalid adjustment %s: %s", e.Field, e.Reason)
}

func (e *AdjustmentValidationError) Unwrap() error {
	return ErrAdjustmentValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAdjustmentValidation) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAdjustmentNotFound)
}

// IsUpstream returns true if the payment processor caused the failure.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamFetch)
}
