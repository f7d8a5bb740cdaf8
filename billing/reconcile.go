/*
reconcile.go - Invoice total validation and payments

PURPOSE:
  Checks that an invoice's stated total matches the sum of its lines, and
  records payments against invoices.

TOLERANCE:
  A difference of up to one cent is accepted. Anything larger, between
  the lines and either the total or the subtotal, is a discrepancy.
  DiscrepancyAmount is signed: total - sum(lines).

USAGE:
  - During assembly the check is fatal (*DiscrepancyError).
  - On reads and in the scheduled sweep it is advisory: the report is
    returned alongside the invoice and nothing is changed.

SEE ALSO:
  - invoice.go:       BuildInvoice calls ValidateInvoiceTotal
  - api/scheduler.go: runs Reconciler.ReconcileAll periodically
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// DiscrepancyEpsilon is the largest accepted difference between an invoice
// total and its lines.
var DiscrepancyEpsilon = decimal.New(1, -2)

// DiscrepancyReport is the outcome of ValidateInvoiceTotal.
type DiscrepancyReport struct {
	InvoiceID           InvoiceID
	StatedSubtotal      decimal.Decimal
	StatedTotal         decimal.Decimal
	ComputedLinesSum    decimal.Decimal
	DiscrepancyAmount   decimal.Decimal // total - lines
	SubtotalDiscrepancy decimal.Decimal // subtotal - lines
	HasDiscrepancy      bool
}

// ValidateInvoiceTotal compares the invoice total and subtotal with the sum
// of its lines. Either one being off by more than DiscrepancyEpsilon is a
// discrepancy.
func ValidateInvoiceTotal(inv Invoice) DiscrepancyReport {
	sum := decimal.Zero
	for _, l := range inv.Lines {
		sum = sum.Add(l.Amount)
	}
	diff := inv.Total.Sub(sum)
	subtotalDiff := inv.Subtotal.Sub(sum)
	off := diff.Abs().GreaterThan(DiscrepancyEpsilon) || subtotalDiff.Abs().GreaterThan(DiscrepancyEpsilon)
	return DiscrepancyReport{
		InvoiceID:           inv.ID,
		StatedSubtotal:      inv.Subtotal,
		StatedTotal:         inv.Total,
		ComputedLinesSum:    sum,
		DiscrepancyAmount:   diff,
		SubtotalDiscrepancy: subtotalDiff,
		HasDiscrepancy:      off,
	}
}

// =============================================================================
// RECONCILER
// =============================================================================

// ReconciliationRun summarises one sweep over stored invoices.
type ReconciliationRun struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Checked       int
	Discrepancies []DiscrepancyReport
}

// Reconciler validates stored invoices and records payments.
type Reconciler struct {
	Invoices InvoiceStore
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewReconciler(invoices InvoiceStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		Invoices: invoices,
		Logger:   logger.With("component", "reconciler"),
		Now:      time.Now,
	}
}

// ReconcileAll validates every stored invoice. Discrepancies are reported,
// never corrected.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*ReconciliationRun, error) {
	run := &ReconciliationRun{StartedAt: r.Now().UTC()}

	invoices, err := r.Invoices.ListInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run.Checked++
		report := ValidateInvoiceTotal(inv)
		if report.HasDiscrepancy {
			run.Discrepancies = append(run.Discrepancies, report)
			r.Logger.WarnContext(ctx, "invoice discrepancy",
				"invoice_id", inv.ID,
				"total", report.StatedTotal.String(),
				"subtotal", report.StatedSubtotal.String(),
				"lines_sum", report.ComputedLinesSum.String(),
				"discrepancy", report.DiscrepancyAmount.String())
		}
	}

	run.FinishedAt = r.Now().UTC()
	r.Logger.InfoContext(ctx, "reconciliation finished", "checked", run.Checked, "discrepancies", len(run.Discrepancies))
	return run, nil
}

// RecordPayment applies a payment to an invoice with a guarded write on
// the paid amount, so two concurrent payments cannot both be counted
// against the same balance.
func (r *Reconciler) RecordPayment(ctx context.Context, id InvoiceID, amount decimal.Decimal) (*Invoice, error) {
	inv, err := r.Invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load invoice %s: %w", id, err)
	}
	if inv == nil {
		return nil, &UnresolvedReferenceError{Entity: "invoice", IDs: []string{string(id)}}
	}
	expected := inv.PaidAmount
	if err := inv.ApplyPayment(amount); err != nil {
		return nil, err
	}
	if err := r.Invoices.RecordInvoicePayment(ctx, id, expected, inv.PaidAmount); err != nil {
		return nil, staleOr(err, "invoice", string(id), "paid "+expected.String())
	}
	r.Logger.InfoContext(ctx, "payment recorded",
		"invoice_id", id, "amount", amount.String(), "balance_due", inv.BalanceDue().String())
	return inv, nil
}
