/*
store.go - Persistence ports for billing

PURPOSE:
  The engine never talks to a database. Services receive these interfaces
  at construction time; implementations live in billing/store (memory) and
  store/sqlite.

GUARDED UPDATES:
  Every status write is conditional on the status the caller observed:

    UPDATE ... SET status = :to WHERE id = :id AND status = :from

  A write that matches no row fails with ErrStatusChanged, or with
  *AlreadyClaimedError for invoice claims. The first valid transition wins;
  a concurrent second one is rejected rather than overwriting it.

MISSING RECORDS:
  Get* methods return (nil, nil) for an unknown id. Update methods return
  ErrNotFound.
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// FeeEventStore persists fee events.
type FeeEventStore interface {
	// SaveFeeEvent inserts a new event. An existing id returns
	// ErrAlreadyExists and leaves the stored event untouched.
	SaveFeeEvent(ctx context.Context, ev FeeEvent) error
	GetFeeEvent(ctx context.Context, id FeeEventID) (*FeeEvent, error)

	// GetFeeEvents returns the events that exist among ids, in any order.
	GetFeeEvents(ctx context.Context, ids []FeeEventID) ([]FeeEvent, error)

	// ListFeeEvents returns events with the given status, or all when empty.
	ListFeeEvents(ctx context.Context, status FeeEventStatus) ([]FeeEvent, error)

	// ClaimFeeEvents moves every id from accrued to invoiced and records the
	// invoice id, atomically. If any event is not accrued nothing changes
	// and an *AlreadyClaimedError is returned.
	ClaimFeeEvents(ctx context.Context, ids []FeeEventID, invoiceID InvoiceID) error

	// UpdateFeeEventStatus is a guarded single-event status write.
	UpdateFeeEventStatus(ctx context.Context, id FeeEventID, from, to FeeEventStatus) error
}

// InvoiceStore persists invoices and their lines. Header and lines are
// separate writes; the assembler compensates when the second one fails.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv Invoice) error
	CreateInvoiceLines(ctx context.Context, lines []InvoiceLine) error

	// DeleteInvoice removes an invoice and any of its lines.
	DeleteInvoice(ctx context.Context, id InvoiceID) error

	// GetInvoice returns the invoice with its lines.
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	ListInvoices(ctx context.Context) ([]Invoice, error)

	// RecordInvoicePayment sets PaidAmount to newPaid if it still equals
	// expectedPaid, else ErrStatusChanged.
	RecordInvoicePayment(ctx context.Context, id InvoiceID, expectedPaid, newPaid decimal.Decimal) error
}

// CommissionUpdate is a guarded commission status write.
type CommissionUpdate struct {
	ID               CommissionID
	From             CommissionStatus
	To               CommissionStatus
	InvoiceID        string
	PaymentReference string
	At               time.Time
}

// CommissionStore persists commissions.
type CommissionStore interface {
	SaveCommission(ctx context.Context, c Commission) error
	GetCommission(ctx context.Context, id CommissionID) (*Commission, error)
	ListCommissions(ctx context.Context, status CommissionStatus) ([]Commission, error)

	// UpdateCommissionStatus applies u only if the stored status is u.From.
	// Non-empty InvoiceID / PaymentReference are recorded with the change.
	UpdateCommissionStatus(ctx context.Context, u CommissionUpdate) error
}

// Store is the full set of billing ports.
type Store interface {
	FeeEventStore
	InvoiceStore
	CommissionStore
}
