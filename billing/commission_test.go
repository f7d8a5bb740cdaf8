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

func newCommissionService(s billing.Store) *billing.CommissionService {
	svc := billing.NewCommissionService(s, quietLogger())
	svc.Now = fixedClock()
	next := seqIDs("com")
	svc.NewID = func() billing.CommissionID { return billing.CommissionID(next()) }
	return svc
}

// =============================================================================
// ACCRUAL
// =============================================================================

func TestNewCommission_SkipsCancelledEvents(t *testing.T) {
	events := []billing.FeeEvent{
		{ID: "fe-1", ComputedAmount: dec("1500"), Currency: "USD", Status: billing.FeeEventAccrued},
		{ID: "fe-2", ComputedAmount: dec("500"), Currency: "USD", Status: billing.FeeEventInvoiced},
		{ID: "fe-3", ComputedAmount: dec("9999"), Currency: "USD", Status: billing.FeeEventCancelled},
	}

	c, err := billing.NewCommission("com-1", "partner-1", events, 500, testNow)
	require.NoError(t, err)

	assertAmount(t, "2000", c.GrossFeeAmount)
	assertAmount(t, "100", c.AccrualAmount)
	assert.Equal(t, billing.CommissionAccrued, c.Status)
	assert.Len(t, c.FeeEventIDs, 3)
}

func TestNewCommission_Rejections(t *testing.T) {
	ev := []billing.FeeEvent{{ID: "fe-1", ComputedAmount: dec("100"), Currency: "USD"}}

	_, err := billing.NewCommission("com-1", "", ev, 500, testNow)
	assert.True(t, billing.IsClientError(err))

	_, err = billing.NewCommission("com-1", "partner-1", ev, 10001, testNow)
	assert.True(t, billing.IsClientError(err))

	_, err = billing.NewCommission("com-1", "partner-1", nil, 500, testNow)
	assert.True(t, billing.IsClientError(err))
}

func TestCommissionService_Accrue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedFeeEvent(t, mem, "fe-1", billing.FeeSubscription, "2000")
	svc := newCommissionService(mem)

	c, err := svc.Accrue(ctx, "partner-1", []billing.FeeEventID{"fe-1"}, 500)
	require.NoError(t, err)
	assert.Equal(t, billing.CommissionID("com-1"), c.ID)
	assertAmount(t, "100", c.AccrualAmount)

	stored, err := mem.GetCommission(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.CommissionAccrued, stored.Status)

	_, err = svc.Accrue(ctx, "partner-1", []billing.FeeEventID{"fe-1", "fe-missing"}, 500)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestCommissionTransition_FullLifecycle(t *testing.T) {
	// GIVEN: An accrued commission
	// WHEN: Moving it through request, invoice and payment
	// THEN: The partner invoice and payment reference are recorded

	ctx := context.Background()
	mem := store.NewMemory()
	seedFeeEvent(t, mem, "fe-1", billing.FeeManagement, "2000")
	svc := newCommissionService(mem)
	c, err := svc.Accrue(ctx, "partner-1", []billing.FeeEventID{"fe-1"}, 1000)
	require.NoError(t, err)

	steps := []billing.TransitionInput{
		{Observed: billing.CommissionAccrued, To: billing.CommissionInvoiceRequested},
		{Observed: billing.CommissionInvoiceRequested, To: billing.CommissionInvoiced, InvoiceID: "P-2025-001"},
		{Observed: billing.CommissionInvoiced, To: billing.CommissionPaid, PaymentReference: "wire-8812"},
	}
	for _, step := range steps {
		c, err = svc.Transition(ctx, c.ID, step)
		require.NoError(t, err)
		assert.Equal(t, step.To, c.Status)
	}

	stored, err := mem.GetCommission(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.CommissionPaid, stored.Status)
	assert.Equal(t, "P-2025-001", stored.InvoiceID)
	assert.Equal(t, "wire-8812", stored.PaymentReference)
}

func TestCommissionTransition_SameStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveCommission(ctx, billing.Commission{ID: "com-1", Status: billing.CommissionPaid}))

	c, err := newCommissionService(mem).Transition(ctx, "com-1",
		billing.TransitionInput{Observed: billing.CommissionPaid, To: billing.CommissionPaid})
	require.NoError(t, err)
	assert.Equal(t, billing.CommissionPaid, c.Status)
}

func TestCommissionTransition_InvalidEdgeNamesBothStatuses(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveCommission(ctx, billing.Commission{ID: "com-1", Status: billing.CommissionPaid}))

	_, err := newCommissionService(mem).Transition(ctx, "com-1",
		billing.TransitionInput{Observed: billing.CommissionPaid, To: billing.CommissionAccrued})
	var te *billing.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "com-1", te.ID)
	assert.Equal(t, "paid", te.From)
	assert.Equal(t, "accrued", te.To)
	assert.True(t, billing.IsClientError(err))
}

func TestCommissionTransition_StaleObservedStatus(t *testing.T) {
	// GIVEN: A reviewer who saw "accrued" while the commission is already cancelled
	// WHEN: They request invoice_requested
	// THEN: The request is rejected as stale, naming the current status

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveCommission(ctx, billing.Commission{ID: "com-1", Status: billing.CommissionCancelled}))

	_, err := newCommissionService(mem).Transition(ctx, "com-1",
		billing.TransitionInput{Observed: billing.CommissionAccrued, To: billing.CommissionInvoiceRequested})
	var stale *billing.StaleStatusError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "cancelled", stale.Current)
	assert.True(t, billing.IsConflict(err))
	assert.Contains(t, err.Error(), "current status has changed")
}

func TestCommissionTransition_ConcurrentReviewersFirstWins(t *testing.T) {
	// GIVEN: Two reviewers that both observed "accrued"
	// WHEN: One cancels while the other requests an invoice, concurrently
	// THEN: Exactly one succeeds and the other is told the status changed

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveCommission(ctx, billing.Commission{ID: "com-1", Status: billing.CommissionAccrued}))
	svc := billing.NewCommissionService(mem, quietLogger())

	targets := []billing.CommissionStatus{billing.CommissionCancelled, billing.CommissionInvoiceRequested}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to billing.CommissionStatus) {
			defer wg.Done()
			_, errs[i] = svc.Transition(ctx, "com-1", billing.TransitionInput{Observed: billing.CommissionAccrued, To: to})
		}(i, to)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, billing.ErrStatusChanged)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestCommissionTransition_NotFound(t *testing.T) {
	_, err := newCommissionService(store.NewMemory()).Transition(context.Background(), "com-404",
		billing.TransitionInput{Observed: billing.CommissionAccrued, To: billing.CommissionCancelled})
	assert.True(t, billing.IsNotFound(err))
}

func TestOutstanding(t *testing.T) {
	total := billing.Outstanding([]billing.Commission{
		{AccrualAmount: dec("100"), Status: billing.CommissionAccrued},
		{AccrualAmount: dec("50"), Status: billing.CommissionInvoiced},
		{AccrualAmount: dec("70"), Status: billing.CommissionPaid},
		{AccrualAmount: dec("30"), Status: billing.CommissionCancelled},
	})
	assertAmount(t, "150", total)
}
