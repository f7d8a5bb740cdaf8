/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state through the real
	services, so scenarios double as integration tests for the billing flow.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
)

func TestScenario_FundClose(t *testing.T) {
	// GIVEN: The fund-close scenario
	// WHEN: Loading it
	// THEN: One invoice bills 7,000 and one 1,000 fee event stays accrued
	h, _ := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadFundCloseScenario(ctx))

	invoices, err := h.Store.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "7000", invoices[0].Total.String())

	accrued, err := h.Store.ListFeeEvents(ctx, billing.FeeEventAccrued)
	require.NoError(t, err)
	require.Len(t, accrued, 1)
	assert.Equal(t, "1000", accrued[0].ComputedAmount.String())
	assert.Equal(t, "alloc-003", accrued[0].AllocationID)
}

func TestScenario_TieredCarry(t *testing.T) {
	h, _ := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadTieredCarryScenario(ctx))

	events, err := h.Store.ListFeeEvents(ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, billing.FeePerformance, events[0].FeeType)
	assert.Equal(t, "24000", events[0].ComputedAmount.String())
}

func TestScenario_SecondarySale(t *testing.T) {
	// GIVEN: The secondary-sale scenario
	// WHEN: Loading it
	// THEN: 5,000 spread + 50,000 commitment + 25 wire fee, 20,000 paid
	h, _ := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadSecondarySaleScenario(ctx))

	invoices, err := h.Store.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	inv := invoices[0]
	assert.Equal(t, "55025", inv.Total.String())
	assert.Equal(t, "20000", inv.PaidAmount.String())
	assert.Equal(t, "35025", inv.BalanceDue().String())
	require.Len(t, inv.Lines, 3)
	assert.Equal(t, "Wire fee", inv.Lines[2].Description)
}

func TestScenario_PartnerCommission(t *testing.T) {
	h, _ := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadPartnerCommissionScenario(ctx))

	commissions, err := h.Store.ListCommissions(ctx, billing.CommissionInvoiceRequested)
	require.NoError(t, err)
	require.Len(t, commissions, 1)
	assert.Equal(t, "9000", commissions[0].GrossFeeAmount.String())
	assert.Equal(t, "900", commissions[0].AccrualAmount.String())
}

func TestScenario_InvoiceDiscrepancy(t *testing.T) {
	// GIVEN: An imported invoice whose total is 10.00 above its lines
	// WHEN: Loading the scenario
	// THEN: The latest reconciliation run reports exactly that discrepancy
	h, router := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadInvoiceDiscrepancyScenario(ctx))

	rec := do(t, router, http.MethodGet, "/api/reconciliation/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[ReconciliationRunDTO](t, rec)
	assert.Equal(t, 1, run.Checked)
	require.Len(t, run.Discrepancies, 1)
	assert.Equal(t, "inv-import-0001", run.Discrepancies[0].InvoiceID)
	assert.Equal(t, "10", run.Discrepancies[0].DiscrepancyAmount.String())

	rec = do(t, router, http.MethodGet, "/api/invoices/inv-import-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[InvoiceDetailResponse](t, rec).Reconciliation.HasDiscrepancy)
}

func TestScenario_LoadViaAPIResetsState(t *testing.T) {
	// GIVEN: Each scenario loaded through the API in turn
	// WHEN: Checking the current scenario and stored invoices
	// THEN: Every load succeeds and replaces the previous data
	_, router := setupTestHandler(t)

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, s.ID, decode[ScenarioDTO](t, rec).ID)

			rec = do(t, router, http.MethodGet, "/api/invoices", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.LessOrEqual(t, len(decode[[]InvoiceDTO](t, rec)), 1)
		})
	}

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/fee-plans", nil)
	assert.Empty(t, decode[[]PlanDTO](t, rec))
}
