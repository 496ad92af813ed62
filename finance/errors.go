/*
errors.go - Centralized error types for the financial engine

PURPOSE:
  All error kinds in one place. The core communicates only structured
  error kinds plus contextual data (offending amounts, conflicting
  document ids). Turning them into caller-facing messages is the API
  layer's job.

ERROR CATEGORIES:
  1. State machine errors - invalid transitions, conflicting dependencies,
     stale cumulative chains
  2. Guard errors - budget below certified, immutable entities
  3. Recalculation errors - dangling references, timeouts

USAGE:
  Sentinels work with errors.Is, structured errors with errors.As:

    var stale *finance.StaleCumulativeError
    if errors.As(err, &stale) {
        // stale.Expected, stale.Actual
    }

  KindOf(err) collapses any error into its ErrorKind.

SEE ALSO:
  - status.go: Produces transition errors
  - budget.go: Produces BudgetBelowCertifiedError
  - coordinator.go: Produces RecalculationTimeoutError
*/
package finance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorKind is the stable, machine-readable category of an error.
type ErrorKind string

const (
	KindInvalidTransition      ErrorKind = "invalid_transition"
	KindConflictingDependency  ErrorKind = "conflicting_dependency"
	KindStaleCumulative        ErrorKind = "stale_cumulative"
	KindBudgetBelowCertified   ErrorKind = "budget_below_certified"
	KindDanglingReference      ErrorKind = "dangling_reference"
	KindRecalculationTimeout   ErrorKind = "recalculation_timeout"
	KindImmutableEntity        ErrorKind = "immutable_entity"
	KindNotFound               ErrorKind = "not_found"
	KindInvalidInput           ErrorKind = "invalid_input"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindInternal               ErrorKind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when a status change is not in the
	// legal transition table for the document type.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflictingDependency is returned when revising a document that a
	// certified document depends on.
	ErrConflictingDependency = errors.New("conflicting dependency")

	// ErrStaleCumulative is returned when a certificate's previous cumulative
	// does not match the latest certified cumulative for its vendor.
	ErrStaleCumulative = errors.New("stale cumulative certified value")

	// ErrBudgetBelowCertified is returned when a budget edit would undercut
	// the already-certified value.
	ErrBudgetBelowCertified = errors.New("budget below certified value")

	// ErrDanglingReference is returned when a project, code or vendor cannot
	// be resolved.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrRecalculationTimeout is returned when recalculation exceeds its bound.
	ErrRecalculationTimeout = errors.New("recalculation timed out")

	// ErrImmutableEntity is returned for any delete of a financial entity.
	ErrImmutableEntity = errors.New("financial entities cannot be deleted")

	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a rejected status change.
type TransitionError struct {
	DocumentType DocumentType
	DocumentID   DocumentID
	From         Status
	To           Status
	Reason       string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: cannot transition %s -> %s", e.DocumentType, e.DocumentID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DependencyError lists the documents that block a revision.
type DependencyError struct {
	DocumentID DocumentID
	Version    int
	Dependents []DocumentID
}

func (e *DependencyError) Error() string {
	ids := make([]string, len(e.Dependents))
	for i, id := range e.Dependents {
		ids[i] = string(id)
	}
	return fmt.Sprintf("work order %s v%d is referenced by certified documents: %s",
		e.DocumentID, e.Version, strings.Join(ids, ", "))
}

func (e *DependencyError) Unwrap() error { return ErrConflictingDependency }

// StaleCumulativeError reports a broken cumulative chain.
type StaleCumulativeError struct {
	DocumentID DocumentID
	VendorID   VendorID
	Expected   decimal.Decimal // latest certified cumulative
	Actual     decimal.Decimal // what the certificate claims
}

func (e *StaleCumulativeError) Error() string {
	return fmt.Sprintf("certificate %s: cumulative previous certified %s does not match latest %s for vendor %s",
		e.DocumentID, e.Actual, e.Expected, e.VendorID)
}

func (e *StaleCumulativeError) Unwrap() error { return ErrStaleCumulative }

// BudgetBelowCertifiedError carries the current certified value so the
// caller can render a precise message.
type BudgetBelowCertifiedError struct {
	Key       Key
	Requested decimal.Decimal
	Certified decimal.Decimal
}

func (e *BudgetBelowCertifiedError) Error() string {
	return fmt.Sprintf("budget %s for %s is below certified value %s", e.Requested, e.Key, e.Certified)
}

func (e *BudgetBelowCertifiedError) Unwrap() error { return ErrBudgetBelowCertified }

// DanglingReferenceError names the reference that could not be resolved.
type DanglingReferenceError struct {
	Entity     string // "project", "code", "vendor", "work_order", "payment_certificate"
	ID         string
	DocumentID DocumentID // referencing document, if any
}

func (e *DanglingReferenceError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("document %s references unknown %s %q", e.DocumentID, e.Entity, e.ID)
	}
	return fmt.Sprintf("unknown %s %q", e.Entity, e.ID)
}

func (e *DanglingReferenceError) Unwrap() error { return ErrDanglingReference }

// RecalculationTimeoutError is returned when a recalculation (including time
// spent waiting for the key) exceeds the coordinator's bound.
type RecalculationTimeoutError struct {
	Key     Key
	Timeout string
}

func (e *RecalculationTimeoutError) Error() string {
	return fmt.Sprintf("recalculation of %s exceeded %s", e.Key, e.Timeout)
}

func (e *RecalculationTimeoutError) Unwrap() error { return ErrRecalculationTimeout }

// ImmutableEntityError is returned for delete requests on financial entities.
type ImmutableEntityError struct {
	DocumentType DocumentType
	DocumentID   DocumentID
}

func (e *ImmutableEntityError) Error() string {
	return fmt.Sprintf("%s %s is a financial record and cannot be deleted", e.DocumentType, e.DocumentID)
}

func (e *ImmutableEntityError) Unwrap() error { return ErrImmutableEntity }

// StaleSnapshotError means the document write succeeded but the follow-up
// recalculation failed. The previous snapshot is still in place.
type StaleSnapshotError struct {
	Key Key
	Err error
}

func (e *StaleSnapshotError) Error() string {
	return fmt.Sprintf("document recorded but snapshot for %s is stale: %v", e.Key, e.Err)
}

func (e *StaleSnapshotError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the ErrorKind of err, or KindInternal when unknown.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrConflictingDependency):
		return KindConflictingDependency
	case errors.Is(err, ErrStaleCumulative):
		return KindStaleCumulative
	case errors.Is(err, ErrBudgetBelowCertified):
		return KindBudgetBelowCertified
	case errors.Is(err, ErrDanglingReference):
		return KindDanglingReference
	case errors.Is(err, ErrRecalculationTimeout):
		return KindRecalculationTimeout
	case errors.Is(err, ErrImmutableEntity):
		return KindImmutableEntity
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConcurrentModification):
		return KindConcurrentModification
	}
	return KindInternal
}

// IsSnapshotStale reports whether err is a recalculation failure that
// followed a successful document write.
func IsSnapshotStale(err error) bool {
	var stale *StaleSnapshotError
	return errors.As(err, &stale)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrRecalculationTimeout)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidTransition, KindConflictingDependency, KindStaleCumulative,
		KindBudgetBelowCertified, KindDanglingReference, KindImmutableEntity,
		KindInvalidInput, KindNotFound:
		return true
	}
	return false
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFound(what string, id DocumentID) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}
