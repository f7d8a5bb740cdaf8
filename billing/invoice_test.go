package billing_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
)

// =============================================================================
// BUILDING
// =============================================================================

func TestBuildInvoice_LinesAndTotals(t *testing.T) {
	// GIVEN: A management fee, a flat commitment and one custom item
	// WHEN: Building the invoice
	// THEN: Flat becomes an "other" line, totals include the custom item

	events := []billing.FeeEvent{
		{ID: "fe-1", FeeType: billing.FeeManagement, ComputedAmount: dec("2000"), Currency: "USD"},
		{ID: "fe-2", FeeType: billing.FeeFlat, ComputedAmount: dec("50000"), Currency: "USD"},
		{ID: "fe-3", FeeType: billing.FeeBrokerDealer, ComputedAmount: dec("125.50"), Currency: "USD"},
	}
	custom := []billing.CustomItem{{Description: "Wire fee", Amount: dec("25"), Kind: billing.LineOther}}

	inv, err := billing.BuildInvoice("inv-1", events, custom, "", testNow)
	require.NoError(t, err)

	assertAmount(t, "52150.50", inv.Subtotal)
	assertAmount(t, "52150.50", inv.Total)
	assertAmount(t, "0", inv.PaidAmount)
	assert.Equal(t, "USD", inv.Currency)
	require.Len(t, inv.Lines, 4)

	assert.Equal(t, billing.LineFee, inv.Lines[0].Kind)
	assert.Equal(t, "Management fee", inv.Lines[0].Description)
	assert.Equal(t, billing.FeeEventID("fe-1"), inv.Lines[0].FeeEventID)

	assert.Equal(t, billing.LineOther, inv.Lines[1].Kind)
	assert.Equal(t, "Commitment amount", inv.Lines[1].Description)

	assert.Equal(t, "Broker-dealer fee", inv.Lines[2].Description)

	assert.Equal(t, "Wire fee", inv.Lines[3].Description)
	assert.Empty(t, inv.Lines[3].FeeEventID)
	assertAmount(t, "25", inv.Lines[3].Amount)
}

func TestFeeTypeLabel_DefaultsForUnknownTypes(t *testing.T) {
	assert.Equal(t, "Performance fee", billing.FeePerformance.Label())
	assert.Equal(t, "custody fee", billing.FeeType("custody").Label())
}

func TestBuildInvoice_Rejections(t *testing.T) {
	usd := billing.FeeEvent{ID: "fe-1", FeeType: billing.FeeManagement, ComputedAmount: dec("10"), Currency: "USD"}
	eur := billing.FeeEvent{ID: "fe-2", FeeType: billing.FeeManagement, ComputedAmount: dec("10"), Currency: "EUR"}

	_, err := billing.BuildInvoice("inv-1", nil, nil, "", testNow)
	assert.ErrorIs(t, err, billing.ErrEmptyInvoice)

	_, err = billing.BuildInvoice("inv-1", []billing.FeeEvent{usd, eur}, nil, "", testNow)
	assert.ErrorIs(t, err, billing.ErrCurrencyMismatch)

	_, err = billing.BuildInvoice("inv-1", []billing.FeeEvent{usd}, nil, "EUR", testNow)
	assert.ErrorIs(t, err, billing.ErrCurrencyMismatch)
}

// =============================================================================
// ASSEMBLY
// =============================================================================

func TestAssemble_ClaimsFeeEvents(t *testing.T) {
	// GIVEN: Two accrued fee events
	// WHEN: Assembling an invoice for both
	// THEN: The invoice and lines are stored and both events point at it

	ctx := context.Background()
	mem := store.NewMemory()
	seedFeeEvent(t, mem, "fe-1", billing.FeeSubscription, "2000")
	seedFeeEvent(t, mem, "fe-2", billing.FeePerformance, "8000")

	result, err := newAssembler(mem).Assemble(ctx, billing.AssembleRequest{
		FeeEventIDs: []billing.FeeEventID{"fe-1", "fe-2"},
		Notes:       "Q1",
	})
	require.NoError(t, err)

	inv := result.Invoice
	assert.Equal(t, billing.InvoiceID("inv-id-1"), inv.ID)
	assertAmount(t, "10000", inv.Total)
	assert.Equal(t, "Q1", inv.Notes)

	stored, err := mem.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Lines, 2)
	assert.False(t, billing.ValidateInvoiceTotal(*stored).HasDiscrepancy)

	for _, id := range []billing.FeeEventID{"fe-1", "fe-2"} {
		ev, err := mem.GetFeeEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, billing.FeeEventInvoiced, ev.Status)
		assert.Equal(t, inv.ID, ev.InvoiceID)
	}
	for _, ev := range result.FeeEvents {
		assert.Equal(t, billing.FeeEventInvoiced, ev.Status)
	}
}

func TestAssemble_CustomItemsOnly(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	result, err := newAssembler(mem).Assemble(ctx, billing.AssembleRequest{
		CustomItems: []billing.CustomItem{{Description: "Setup", Amount: dec("300"), Kind: billing.LineFee}},
	})
	require.NoError(t, err)
	assertAmount(t, "300", result.Invoice.Total)
	assert.Empty(t, result.FeeEvents)
}

func TestAssemble_RetryIsRejected(t *testing.T) {
	// GIVEN: An invoice already assembled from fe-1
	// WHEN: The same assembly is retried
	// THEN: It is rejected and only one invoice exists

	ctx := context.Background()
	mem := store.NewMemory()
	seedFeeEvent(t, mem, "fe-1", billing.FeeManagement, "2000")
	a := newAssembler(mem)
	req := billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1"}}

	first, err := a.Assemble(ctx, req)
	require.NoError(t, err)

	_, err = a.Assemble(ctx, req)
	var claimed *billing.AlreadyClaimedError
	require.ErrorAs(t, err, &claimed)
	assert.Equal(t, first.Invoice.ID, claimed.InvoiceID)

	invoices, err := mem.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestAssemble_UnresolvedAndDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedFeeEvent(t, mem, "fe-1", billing.FeeManagement, "2000")
	a := newAssembler(mem)

	_, err := a.Assemble(ctx, billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1", "fe-404"}})
	var unresolved *billing.UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, []string{"fe-404"}, unresolved.IDs)

	_, err = a.Assemble(ctx, billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1", "fe-1"}})
	assert.ErrorIs(t, err, billing.ErrDuplicateFeeEvent)

	_, err = a.Assemble(ctx, billing.AssembleRequest{})
	assert.ErrorIs(t, err, billing.ErrEmptyInvoice)

	ev, err := mem.GetFeeEvent(ctx, "fe-1")
	require.NoError(t, err)
	assert.Equal(t, billing.FeeEventAccrued, ev.Status)
	invoices, err := mem.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestAssemble_CancelledEventIsNotClaimable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedFeeEvent(t, mem, "fe-1", billing.FeeManagement, "2000")
	require.NoError(t, mem.UpdateFeeEventStatus(ctx, "fe-1", billing.FeeEventAccrued, billing.FeeEventCancelled))

	_, err := newAssembler(mem).Assemble(ctx, billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1"}})
	assert.ErrorIs(t, err, billing.ErrAlreadyClaimed)
}

// =============================================================================
// COMPENSATION
// =============================================================================

func TestAssemble_LineFailureDeletesInvoice(t *testing.T) {
	// GIVEN: A store whose line writes fail
	// WHEN: Assembling
	// THEN: The invoice header is deleted and fee events stay accrued

	ctx := context.Background()
	fs := &faultyStore{Memory: store.NewMemory(), failLines: errDiskFull}
	seedFeeEvent(t, fs, "fe-1", billing.FeeManagement, "2000")

	_, err := newAssembler(fs).Assemble(ctx, billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, fs.deletedCount)

	invoices, err := fs.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, invoices)

	ev, err := fs.GetFeeEvent(ctx, "fe-1")
	require.NoError(t, err)
	assert.Equal(t, billing.FeeEventAccrued, ev.Status)
}

func TestAssemble_FailedRollbackIsReported(t *testing.T) {
	ctx := context.Background()
	fs := &faultyStore{Memory: store.NewMemory(), failLines: errDiskFull, failDelete: billing.ErrNotFound}
	seedFeeEvent(t, fs, "fe-1", billing.FeeManagement, "2000")

	_, err := newAssembler(fs).Assemble(ctx, billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1"}})
	var pe *billing.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, pe.RollbackErr, billing.ErrNotFound)
	assert.Contains(t, err.Error(), "rollback failed")
}

func TestAssemble_ConcurrentClaimRollsBack(t *testing.T) {
	// GIVEN: Another invoice claims fe-1 between our validation and our claim
	// WHEN: Our claim runs
	// THEN: Our invoice is deleted and the other invoice keeps the event

	ctx := context.Background()
	fs := &faultyStore{Memory: store.NewMemory()}
	seedFeeEvent(t, fs, "fe-1", billing.FeeManagement, "2000")
	fs.beforeClaim = func() {
		fs.beforeClaim = nil
		require.NoError(t, fs.Memory.ClaimFeeEvents(ctx, []billing.FeeEventID{"fe-1"}, "inv-other"))
	}

	_, err := newAssembler(fs).Assemble(ctx, billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1"}})
	assert.ErrorIs(t, err, billing.ErrAlreadyClaimed)
	assert.Equal(t, 1, fs.deletedCount)

	invoices, err := fs.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, invoices)

	ev, err := fs.GetFeeEvent(ctx, "fe-1")
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceID("inv-other"), ev.InvoiceID)
}

func TestAssemble_ParallelAssembliesBillOnce(t *testing.T) {
	// GIVEN: Eight goroutines assembling the same fee events
	// WHEN: They race
	// THEN: Exactly one invoice survives

	ctx := context.Background()
	mem := store.NewMemory()
	seedFeeEvent(t, mem, "fe-1", billing.FeeManagement, "2000")
	seedFeeEvent(t, mem, "fe-2", billing.FeeSpread, "5000")
	a := billing.NewAssembler(mem, quietLogger())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Assemble(ctx, billing.AssembleRequest{FeeEventIDs: []billing.FeeEventID{"fe-1", "fe-2"}})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, billing.IsConflict(err), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	invoices, err := mem.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assertAmount(t, "7000", invoices[0].Total)
}
