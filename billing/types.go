/*
Package billing turns computed fees into invoices and commissions.

PURPOSE:
  The fees package computes amounts. This package owns what happens next:
  a computed amount becomes a FeeEvent, a batch of fee events becomes an
  Invoice with InvoiceLines, and fee events feed partner Commissions that
  move from accrual to payment.

KEY CONCEPTS IN THIS FILE (types.go):
  - FeeEvent:    One computed fee occurrence (accrued -> invoiced | cancelled)
  - Invoice:     Aggregation of fee events and custom items
  - InvoiceLine: One itemised amount on an invoice
  - Commission:  Partner/introducer entitlement derived from fee events

OWNERSHIP:
  Every record is owned by the store behind the ports in store.go. Services
  receive records by value, decide, and write back through guarded updates.
  Nothing in this package caches records or keeps package-level state.

SEE ALSO:
  - transitions.go: Status transition tables
  - invoice.go:     Invoice assembly saga
  - reconcile.go:   Invoice total validation
  - commission.go:  Commission accrual and transitions
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FeeEventID string
type InvoiceID string
type CommissionID string
type LineID string

// =============================================================================
// FEE EVENT
// =============================================================================

// FeeType is the fee a fee event records. Component kinds map onto it
// directly; other values come from upstream systems (e.g. "bd_fee").
type FeeType string

const (
	FeeSubscription FeeType = "subscription"
	FeeManagement   FeeType = "management"
	FeePerformance  FeeType = "performance"
	FeeSpread       FeeType = "spread"
	FeeFlat         FeeType = "flat"
	FeeBrokerDealer FeeType = "bd_fee"
)

var feeLabels = map[FeeType]string{
	FeeSubscription: "Subscription fee",
	FeeManagement:   "Management fee",
	FeePerformance:  "Performance fee",
	FeeSpread:       "Spread fee",
	FeeFlat:         "Commitment amount",
	FeeBrokerDealer: "Broker-dealer fee",
}

// Label is the human-readable invoice description for a fee type.
// Unknown types render as "<fee_type> fee".
func (t FeeType) Label() string {
	if l, ok := feeLabels[t]; ok {
		return l
	}
	return string(t) + " fee"
}

type FeeEventStatus string

const (
	FeeEventAccrued   FeeEventStatus = "accrued"
	FeeEventInvoiced  FeeEventStatus = "invoiced"
	FeeEventCancelled FeeEventStatus = "cancelled"
)

// FeeEvent is one computed fee occurrence. ComputedAmount is the output of
// exactly one calculator call and is never changed afterwards.
type FeeEvent struct {
	ID             FeeEventID
	FeeType        FeeType
	ComponentID    string
	AllocationID   string // the subscription/transaction the fee belongs to
	ComputedAmount decimal.Decimal
	Currency       string
	Status         FeeEventStatus
	EventDate      time.Time
	InvoiceID      InvoiceID // set when invoiced
	CreatedAt      time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type LineKind string

const (
	LineFee   LineKind = "fee"
	LineOther LineKind = "other"
)

// InvoiceLine is one itemised amount. FeeEventID is empty for custom items.
type InvoiceLine struct {
	ID          LineID
	InvoiceID   InvoiceID
	FeeEventID  FeeEventID
	Kind        LineKind
	Description string
	Amount      decimal.Decimal
}

// CustomItem is a free-form line supplied by the caller.
type CustomItem struct {
	Description string
	Amount      decimal.Decimal
	Kind        LineKind
}

// Invoice aggregates fee events and custom items.
// Total equals Subtotal today; the gap is reserved for tax.
type Invoice struct {
	ID         InvoiceID
	Currency   string
	Subtotal   decimal.Decimal
	Total      decimal.Decimal
	PaidAmount decimal.Decimal
	Notes      string
	Lines      []InvoiceLine
	CreatedAt  time.Time
}

// BalanceDue is Total - PaidAmount. It is always derived, never stored.
func (inv Invoice) BalanceDue() decimal.Decimal {
	return inv.Total.Sub(inv.PaidAmount)
}

// Settled reports whether nothing remains due.
func (inv Invoice) Settled() bool {
	return !inv.BalanceDue().IsPositive()
}

// FeeEventIDs returns the fee events referenced by the invoice's lines.
func (inv Invoice) FeeEventIDs() []FeeEventID {
	var ids []FeeEventID
	for _, l := range inv.Lines {
		if l.FeeEventID != "" {
			ids = append(ids, l.FeeEventID)
		}
	}
	return ids
}

// ApplyPayment adds a payment to PaidAmount. Payments must be positive and
// may not exceed the balance due.
func (inv *Invoice) ApplyPayment(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &PaymentError{InvoiceID: inv.ID, Amount: amount, BalanceDue: inv.BalanceDue(), Reason: "payment must be positive"}
	}
	if amount.GreaterThan(inv.BalanceDue()) {
		return &PaymentError{InvoiceID: inv.ID, Amount: amount, BalanceDue: inv.BalanceDue(), Reason: "payment exceeds balance due"}
	}
	inv.PaidAmount = inv.PaidAmount.Add(amount)
	return nil
}

// =============================================================================
// COMMISSION
// =============================================================================

type CommissionStatus string

const (
	CommissionAccrued          CommissionStatus = "accrued"
	CommissionInvoiceRequested CommissionStatus = "invoice_requested"
	CommissionInvoiceSubmitted CommissionStatus = "invoice_submitted"
	CommissionInvoiced         CommissionStatus = "invoiced"
	CommissionPaid             CommissionStatus = "paid"
	CommissionCancelled        CommissionStatus = "cancelled"
)

// Commission is a partner/introducer entitlement derived from fee events.
type Commission struct {
	ID               CommissionID
	PartnerID        string
	FeeEventIDs      []FeeEventID
	Rate             fees.Bps
	GrossFeeAmount   decimal.Decimal
	AccrualAmount    decimal.Decimal
	Currency         string
	Status           CommissionStatus
	InvoiceID        string // partner's invoice reference, set on invoiced
	PaymentReference string // set on paid
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
