package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunNowRecordsRun(t *testing.T) {
	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.loadInvoiceDiscrepancyScenario(ctx))

	rs := NewReconciliationScheduler(h.Store, h.Reconciler, h.Logger)
	assert.Nil(t, rs.LastRun())

	run := rs.RunNow(ctx)
	require.NotNil(t, run)
	assert.Equal(t, 1, run.Checked)
	assert.Len(t, run.Discrepancies, 1)
	assert.Equal(t, run, rs.LastRun())

	latest, err := h.Store.LatestReconciliationRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)
}

func TestScheduler_CancelledSweepIsRecordedWithError(t *testing.T) {
	// GIVEN: A stored invoice and an already cancelled context
	// WHEN: Running a sweep
	// THEN: The run is still stored, carrying the cancellation error
	h, _ := setupTestHandler(t)
	require.NoError(t, h.loadInvoiceDiscrepancyScenario(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rs := NewReconciliationScheduler(h.Store, h.Reconciler, h.Logger)
	run := rs.RunNow(ctx)
	require.NotNil(t, run)
	assert.NotEmpty(t, run.Error)
	assert.Zero(t, run.Checked)
}

func TestScheduler_StartStop(t *testing.T) {
	// GIVEN: A scheduler with a short interval
	// WHEN: Starting it and stopping it
	// THEN: The immediate sweep has run and Stop returns
	h, _ := setupTestHandler(t)

	rs := NewReconciliationScheduler(h.Store, h.Reconciler, h.Logger)
	rs.CheckInterval = 10 * time.Millisecond
	rs.Start()
	rs.Start() // second start is a no-op

	require.Eventually(t, func() bool { return rs.LastRun() != nil }, time.Second, 5*time.Millisecond)
	rs.Stop()
	rs.Stop()
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	h, _ := setupTestHandler(t)

	rs := NewReconciliationScheduler(h.Store, h.Reconciler, h.Logger)
	rs.Enabled = false
	rs.Start()
	rs.Stop()
	assert.Nil(t, rs.LastRun())
}
