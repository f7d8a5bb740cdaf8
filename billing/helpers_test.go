package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

// seqIDs returns an id generator producing prefix-1, prefix-2, ...
func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

func newAssembler(s billing.Store) *billing.Assembler {
	a := billing.NewAssembler(s, quietLogger())
	a.NewID = seqIDs("id")
	a.Now = fixedClock()
	return a
}

// seedFeeEvent stores an accrued USD fee event.
func seedFeeEvent(t *testing.T, s billing.FeeEventStore, id billing.FeeEventID, feeType billing.FeeType, amount string) billing.FeeEvent {
	t.Helper()
	ev := billing.FeeEvent{
		ID:             id,
		FeeType:        feeType,
		ComponentID:    "comp-" + string(feeType),
		AllocationID:   "alloc-1",
		ComputedAmount: dec(amount),
		Currency:       "USD",
		Status:         billing.FeeEventAccrued,
		EventDate:      testNow,
		CreatedAt:      testNow,
	}
	require.NoError(t, s.SaveFeeEvent(context.Background(), ev))
	return ev
}

// faultyStore wraps a Memory store and fails selected operations.
type faultyStore struct {
	*store.Memory
	failLines    error
	failClaim    error
	failDelete   error
	beforeClaim  func()
	deletedCount int
}

func (f *faultyStore) CreateInvoiceLines(ctx context.Context, lines []billing.InvoiceLine) error {
	if f.failLines != nil {
		return f.failLines
	}
	return f.Memory.CreateInvoiceLines(ctx, lines)
}

func (f *faultyStore) ClaimFeeEvents(ctx context.Context, ids []billing.FeeEventID, invoiceID billing.InvoiceID) error {
	if f.beforeClaim != nil {
		f.beforeClaim()
	}
	if f.failClaim != nil {
		return f.failClaim
	}
	return f.Memory.ClaimFeeEvents(ctx, ids, invoiceID)
}

func (f *faultyStore) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	f.deletedCount++
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.Memory.DeleteInvoice(ctx, id)
}

var errDiskFull = errors.New("disk full")
