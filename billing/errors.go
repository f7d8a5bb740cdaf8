/*
errors.go - Centralized error types for billing

ERROR CATEGORIES:
  1. Transition errors    - A status change the table does not allow
  2. Reference errors     - Unknown ids, fee events already claimed
  3. Concurrency errors   - Guarded update lost to a concurrent writer
  4. Reconciliation       - Invoice totals that do not match their lines
  5. Persistence          - Store failures, with the rollback outcome

Structured errors unwrap to a sentinel so callers can use errors.Is for
classification and errors.As for detail. Nothing is retried here; retry
policy belongs to the caller.
*/
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStatusChanged is returned by stores when a guarded update finds a
	// status other than the one the caller observed.
	ErrStatusChanged = errors.New("current status has changed")

	// ErrAlreadyExists rejects a second insert of the same id. Stored fee
	// events are never overwritten.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyClaimed means a fee event is no longer accrued, usually
	// because another invoice claimed it.
	ErrAlreadyClaimed = errors.New("fee event already claimed")

	ErrDiscrepancy       = errors.New("invoice total does not match its lines")
	ErrEmptyInvoice      = errors.New("invoice has no lines")
	ErrDuplicateFeeEvent = errors.New("fee event listed more than once")
	ErrCurrencyMismatch  = errors.New("fee events have different currencies")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrPersistence       = errors.New("persistence failed")

	// ErrInvoicedOnlyByAssembly rejects freestanding edits to "invoiced";
	// only the invoice assembler may move a fee event there.
	ErrInvoicedOnlyByAssembly = errors.New("fee events are invoiced only by invoice assembly")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidTransitionError names the entity and both statuses.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
	}
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// UnresolvedReferenceError lists ids that do not exist.
type UnresolvedReferenceError struct {
	Entity string
	IDs    []string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, strings.Join(e.IDs, ", "))
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrNotFound }

// AlreadyClaimedError reports a fee event that is not claimable.
type AlreadyClaimedError struct {
	FeeEventID FeeEventID
	Status     FeeEventStatus
	InvoiceID  InvoiceID
}

func (e *AlreadyClaimedError) Error() string {
	if e.InvoiceID != "" {
		return fmt.Sprintf("fee event %s is %s (invoice %s)", e.FeeEventID, e.Status, e.InvoiceID)
	}
	return fmt.Sprintf("fee event %s is %s, not accrued", e.FeeEventID, e.Status)
}

func (e *AlreadyClaimedError) Unwrap() error { return ErrAlreadyClaimed }

// StaleStatusError reports a transition based on an outdated read.
type StaleStatusError struct {
	Entity   string
	ID       string
	Observed string
	Current  string // empty when the store did not report it
}

func (e *StaleStatusError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("%s %s: current status has changed since %s was observed", e.Entity, e.ID, e.Observed)
	}
	return fmt.Sprintf("%s %s: current status has changed (observed %s, now %s)", e.Entity, e.ID, e.Observed, e.Current)
}

func (e *StaleStatusError) Unwrap() error { return ErrStatusChanged }

// DiscrepancyError is the fatal form of a DiscrepancyReport, raised while
// an invoice is being assembled.
type DiscrepancyError struct {
	Report DiscrepancyReport
}

func (e *DiscrepancyError) Error() string {
	r := e.Report
	return fmt.Sprintf("invoice %s: total %s, subtotal %s, lines sum to %s (discrepancy %s)",
		r.InvoiceID, r.StatedTotal, r.StatedSubtotal, r.ComputedLinesSum, r.DiscrepancyAmount)
}

func (e *DiscrepancyError) Unwrap() error { return ErrDiscrepancy }

// PaymentError rejects a payment against an invoice.
type PaymentError struct {
	InvoiceID  InvoiceID
	Amount     decimal.Decimal
	BalanceDue decimal.Decimal
	Reason     string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("invoice %s: %s (payment %s, balance due %s)", e.InvoiceID, e.Reason, e.Amount, e.BalanceDue)
}

func (e *PaymentError) Unwrap() error { return ErrInvalidPayment }

// PersistenceError wraps a store failure. RollbackErr is set when the
// compensating delete also failed and an orphan record may remain.
type PersistenceError struct {
	Op          string
	InvoiceID   InvoiceID
	Err         error
	RollbackErr error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("%s failed for invoice %s: %v", e.Op, e.InvoiceID, e.Err)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback failed: %v)", e.RollbackErr)
	}
	return msg
}

func (e *PersistenceError) Unwrap() []error {
	errs := []error{ErrPersistence, e.Err}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to caller input and must
// not be retried automatically.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrEmptyInvoice) ||
		errors.Is(err, ErrDuplicateFeeEvent) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrInvoicedOnlyByAssembly) ||
		fees.IsConfigError(err)
}

// IsConflict returns true if the error comes from a concurrent or earlier
// change to the same record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStatusChanged) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
