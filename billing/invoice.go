/*
invoice.go - Invoice assembly

PURPOSE:
  Turns a batch of accrued fee events (plus optional custom items) into a
  persisted invoice, and marks the fee events invoiced.

ASSEMBLY FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │  resolve ids ─▶ build lines ─▶ validate ─▶ write invoice         │
  │                                               │                  │
  │                                               ▼                  │
  │                     delete invoice ◀── fail ─ write lines        │
  │                           ▲                   │                  │
  │                           │                   ▼                  │
  │                           └────── fail ─ claim fee events        │
  │                                               │                  │
  │                                               ▼                  │
  │                                            invoiced              │
  └──────────────────────────────────────────────────────────────────┘

COMPENSATION:
  Invoice header and lines are two writes with no shared transaction.
  When the lines or the claim fail, the header is deleted. An invoice is
  never left with zero or partial lines, and a fee event is never invoiced
  without its invoice.

DOUBLE BILLING:
  The claim is a guarded update (status = accrued). If another assembly got
  there first, the whole invoice is rolled back. Re-running an assembly for
  the same events therefore fails with *AlreadyClaimedError.

SEE ALSO:
  - reconcile.go: ValidateInvoiceTotal, used before anything is written
  - store.go:     ClaimFeeEvents contract
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/fees"
)

// AssembleRequest lists what goes on a new invoice.
type AssembleRequest struct {
	FeeEventIDs []FeeEventID
	CustomItems []CustomItem
	Currency    string // optional; must match the fee events when set
	Notes       string
}

// AssembleResult is the persisted invoice and the fee events it claimed,
// already in their invoiced state.
type AssembleResult struct {
	Invoice   Invoice
	FeeEvents []FeeEvent
}

// Assembler builds and persists invoices.
type Assembler struct {
	FeeEvents FeeEventStore
	Invoices  InvoiceStore
	Logger    *slog.Logger
	NewID     func() string
	Now       func() time.Time
}

func NewAssembler(store Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		FeeEvents: store,
		Invoices:  store,
		Logger:    logger.With("component", "invoice_assembler"),
		NewID:     uuid.NewString,
		Now:       time.Now,
	}
}

// Assemble resolves the fee events, builds the invoice, persists it and
// claims the events. Any failure leaves no invoice behind.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (*AssembleResult, error) {
	events, err := a.resolve(ctx, req.FeeEventIDs)
	if err != nil {
		return nil, err
	}

	invoiceID := InvoiceID("inv-" + a.NewID())
	inv, err := BuildInvoice(invoiceID, events, req.CustomItems, req.Currency, a.Now().UTC())
	if err != nil {
		return nil, err
	}
	inv.Notes = req.Notes
	for i := range inv.Lines {
		inv.Lines[i].ID = LineID("line-" + a.NewID())
	}

	header := inv
	header.Lines = nil
	if err := a.Invoices.CreateInvoice(ctx, header); err != nil {
		return nil, &PersistenceError{Op: "create invoice", InvoiceID: inv.ID, Err: err}
	}
	if err := a.Invoices.CreateInvoiceLines(ctx, inv.Lines); err != nil {
		return nil, a.rollback(ctx, inv.ID, "create invoice lines", err)
	}
	if len(events) > 0 {
		if err := a.FeeEvents.ClaimFeeEvents(ctx, req.FeeEventIDs, inv.ID); err != nil {
			return nil, a.rollback(ctx, inv.ID, "claim fee events", err)
		}
	}

	for i := range events {
		events[i].Status = FeeEventInvoiced
		events[i].InvoiceID = inv.ID
	}
	a.Logger.InfoContext(ctx, "invoice assembled",
		"invoice_id", inv.ID, "fee_events", len(events), "lines", len(inv.Lines), "total", inv.Total.String())
	return &AssembleResult{Invoice: inv, FeeEvents: events}, nil
}

// resolve loads the requested events in request order, rejecting duplicates,
// unknown ids and events that are not accrued.
func (a *Assembler) resolve(ctx context.Context, ids []FeeEventID) ([]FeeEvent, error) {
	seen := make(map[FeeEventID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFeeEvent, id)
		}
		seen[id] = true
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := a.FeeEvents.GetFeeEvents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load fee events: %w", err)
	}
	byID := make(map[FeeEventID]FeeEvent, len(found))
	for _, ev := range found {
		byID[ev.ID] = ev
	}

	var missing []string
	events := make([]FeeEvent, 0, len(ids))
	for _, id := range ids {
		ev, ok := byID[id]
		if !ok {
			missing = append(missing, string(id))
			continue
		}
		events = append(events, ev)
	}
	if len(missing) > 0 {
		return nil, &UnresolvedReferenceError{Entity: "fee event", IDs: missing}
	}
	for _, ev := range events {
		if ev.Status != FeeEventAccrued {
			return nil, &AlreadyClaimedError{FeeEventID: ev.ID, Status: ev.Status, InvoiceID: ev.InvoiceID}
		}
	}
	return events, nil
}

// rollback deletes the invoice header after a failed write. The delete
// still runs when ctx has been cancelled.
func (a *Assembler) rollback(ctx context.Context, id InvoiceID, op string, cause error) error {
	if err := a.Invoices.DeleteInvoice(context.WithoutCancel(ctx), id); err != nil {
		a.Logger.ErrorContext(ctx, "invoice rollback failed", "invoice_id", id, "op", op, "cause", cause, "error", err)
		return &PersistenceError{Op: op, InvoiceID: id, Err: cause, RollbackErr: err}
	}
	a.Logger.WarnContext(ctx, "invoice rolled back", "invoice_id", id, "op", op, "cause", cause)

	var claimed *AlreadyClaimedError
	if errors.As(cause, &claimed) {
		return fmt.Errorf("invoice %s rolled back: %w", id, cause)
	}
	return &PersistenceError{Op: op, InvoiceID: id, Err: cause}
}

// =============================================================================
// BUILDING
// =============================================================================

// BuildInvoice is the pure part of assembly: totals, lines, validation.
// Fee event lines come first, in the order given, followed by the custom
// items unmodified.
func BuildInvoice(id InvoiceID, events []FeeEvent, custom []CustomItem, currency string, now time.Time) (Invoice, error) {
	if len(events) == 0 && len(custom) == 0 {
		return Invoice{}, ErrEmptyInvoice
	}
	cur, err := invoiceCurrency(events, currency)
	if err != nil {
		return Invoice{}, err
	}

	feeEventsTotal := sumAmounts(events)
	customTotal := decimal.Zero
	for _, c := range custom {
		customTotal = customTotal.Add(c.Amount)
	}
	subtotal := feeEventsTotal.Add(customTotal)

	lines := make([]InvoiceLine, 0, len(events)+len(custom))
	for _, ev := range events {
		kind := LineFee
		if ev.FeeType == FeeFlat {
			kind = LineOther
		}
		lines = append(lines, InvoiceLine{
			InvoiceID:   id,
			FeeEventID:  ev.ID,
			Kind:        kind,
			Description: ev.FeeType.Label(),
			Amount:      ev.ComputedAmount,
		})
	}
	for _, c := range custom {
		lines = append(lines, InvoiceLine{
			InvoiceID:   id,
			Kind:        c.Kind,
			Description: c.Description,
			Amount:      c.Amount,
		})
	}

	inv := Invoice{
		ID:         id,
		Currency:   cur,
		Subtotal:   subtotal,
		Total:      subtotal,
		PaidAmount: decimal.Zero,
		Lines:      lines,
		CreatedAt:  now,
	}
	if report := ValidateInvoiceTotal(inv); report.HasDiscrepancy {
		return Invoice{}, &DiscrepancyError{Report: report}
	}
	return inv, nil
}

func invoiceCurrency(events []FeeEvent, requested string) (string, error) {
	currencies := make(map[string]bool)
	for _, ev := range events {
		currencies[ev.Currency] = true
	}
	if requested != "" {
		currencies[requested] = true
	}
	if len(currencies) > 1 {
		list := make([]string, 0, len(currencies))
		for c := range currencies {
			list = append(list, c)
		}
		sort.Strings(list)
		return "", fmt.Errorf("%w: %v", ErrCurrencyMismatch, list)
	}
	for c := range currencies {
		return c, nil
	}
	return fees.DefaultCurrency, nil
}
