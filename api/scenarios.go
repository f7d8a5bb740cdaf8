/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	billing data for demos and integration tests. Each scenario stores a
	fee plan, accrues fee events through the normal services, and
	optionally assembles invoices or commissions on top.

AVAILABLE SCENARIOS:

	fund-close:          Subscription fees for three allocations, two invoiced
	tiered-carry:        Carry above a hurdle with a step-up tier
	secondary-sale:      Spread + commitment invoice with a partial payment
	partner-commission:  Introducer commission awaiting the partner's invoice
	invoice-discrepancy: Imported invoice whose total disagrees with its lines

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Store fee plans via factory presets
 3. Accrue fee events through FeeEventService
 4. Optionally assemble invoices, record payments, accrue commissions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fund-close"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/presets.go: Plan JSON definitions
  - handlers.go: The services scenarios drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fund-close",
		Name:        "Fund Close",
		Description: "2% subscription fees on three allocations; two are invoiced together",
		Category:    "invoicing",
	},
	{
		ID:          "tiered-carry",
		Name:        "Tiered Carry",
		Description: "20% carry stepping up to 30% above a 10x exit, behind an 8% hurdle",
		Category:    "fees",
	},
	{
		ID:          "secondary-sale",
		Name:        "Secondary Sale",
		Description: "Spread and commitment invoiced with a wire fee, partially paid",
		Category:    "invoicing",
	},
	{
		ID:          "partner-commission",
		Name:        "Partner Commission",
		Description: "10% introducer commission requested from the partner",
		Category:    "commissions",
	},
	{
		ID:          "invoice-discrepancy",
		Name:        "Invoice Discrepancy",
		Description: "Imported invoice whose total is 10.00 above its lines",
		Category:    "reconciliation",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loaders := map[string]func(context.Context) error{
		"fund-close":          h.loadFundCloseScenario,
		"tiered-carry":        h.loadTieredCarryScenario,
		"secondary-sale":      h.loadSecondarySaleScenario,
		"partner-commission":  h.loadPartnerCommissionScenario,
		"invoice-discrepancy": h.loadInvoiceDiscrepancyScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data and caches.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.plans = make(map[string]*factory.FeePlan)
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFundCloseScenario(ctx context.Context) error {
	plan, err := h.createPlanFromJSON(ctx, factory.StandardFundPlanJSON("fund-2025", "Fund 2025", 200, 200, 2000))
	if err != nil {
		return err
	}

	// 2% of 100,000 / 250,000 / 50,000
	investments := map[string]int64{"alloc-001": 100000, "alloc-002": 250000, "alloc-003": 50000}
	var toInvoice []billing.FeeEventID
	for _, alloc := range []string{"alloc-001", "alloc-002", "alloc-003"} {
		ev, err := h.accrue(ctx, plan, "fund-2025-sub", alloc, fees.Facts{
			InvestmentAmount: decimal.NewFromInt(investments[alloc]),
		})
		if err != nil {
			return err
		}
		if alloc != "alloc-003" {
			toInvoice = append(toInvoice, ev.ID)
		}
	}

	_, err = h.Assembler.Assemble(ctx, billing.AssembleRequest{
		FeeEventIDs: toInvoice,
		Notes:       "Fund 2025 first close",
	})
	return err
}

func (h *Handler) loadTieredCarryScenario(ctx context.Context) error {
	plan, err := h.createPlanFromJSON(ctx, factory.TieredCarryPlanJSON("carry-2025", "Tiered Carry", 0, 2000, 3000, "10", 800))
	if err != nil {
		return err
	}

	// 1,000 shares bought at 10, sold at 120: gain 110,000, 12x multiple.
	_, err = h.accrue(ctx, plan, "carry-2025-carry", "alloc-exit-001", fees.Facts{
		NumShares:          fees.Value(decimal.NewFromInt(1000)),
		EntryPricePerShare: fees.Value(decimal.NewFromInt(10)),
		ExitPricePerShare:  fees.Value(decimal.NewFromInt(120)),
	})
	return err
}

func (h *Handler) loadSecondarySaleScenario(ctx context.Context) error {
	plan, err := h.createPlanFromJSON(ctx, factory.SecondaryPlanJSON("sec-acme", "ACME Secondary", "50000"))
	if err != nil {
		return err
	}

	spread, err := h.accrue(ctx, plan, "sec-acme-spread", "alloc-sec-001", fees.Facts{
		NumShares:             fees.Value(decimal.NewFromInt(1000)),
		InvestorPricePerShare: fees.Value(decimal.NewFromInt(15)),
		CostPerShare:          fees.Value(decimal.NewFromInt(10)),
	})
	if err != nil {
		return err
	}
	commitment, err := h.accrue(ctx, plan, "sec-acme-commitment", "alloc-sec-001", fees.Facts{})
	if err != nil {
		return err
	}

	res, err := h.Assembler.Assemble(ctx, billing.AssembleRequest{
		FeeEventIDs: []billing.FeeEventID{spread.ID, commitment.ID},
		CustomItems: []billing.CustomItem{
			{Description: "Wire fee", Amount: decimal.NewFromInt(25), Kind: billing.LineOther},
		},
		Notes: "ACME secondary settlement",
	})
	if err != nil {
		return err
	}

	_, err = h.Reconciler.RecordPayment(ctx, res.Invoice.ID, decimal.NewFromInt(20000))
	return err
}

func (h *Handler) loadPartnerCommissionScenario(ctx context.Context) error {
	plan, err := h.createPlanFromJSON(ctx, factory.StandardFundPlanJSON("fund-partner", "Partner Fund", 300, 200, 2000))
	if err != nil {
		return err
	}

	var ids []billing.FeeEventID
	for i, amount := range []int64{200000, 100000} {
		ev, err := h.accrue(ctx, plan, "fund-partner-sub", fmt.Sprintf("alloc-p-%03d", i+1), fees.Facts{
			InvestmentAmount: decimal.NewFromInt(amount),
		})
		if err != nil {
			return err
		}
		ids = append(ids, ev.ID)
	}

	// 10% of 9,000 gross subscription fees
	c, err := h.Commissions.Accrue(ctx, "partner-northwind", ids, 1000)
	if err != nil {
		return err
	}
	_, err = h.Commissions.Transition(ctx, c.ID, billing.TransitionInput{
		Observed: billing.CommissionAccrued,
		To:       billing.CommissionInvoiceRequested,
	})
	return err
}

// loadInvoiceDiscrepancyScenario writes an invoice directly to the store,
// bypassing the assembler's validation, then runs a reconciliation sweep so
// the discrepancy shows up in GET /api/reconciliation/latest.
func (h *Handler) loadInvoiceDiscrepancyScenario(ctx context.Context) error {
	now := time.Now().UTC()
	inv := billing.Invoice{
		ID:        "inv-import-0001",
		Currency:  fees.DefaultCurrency,
		Subtotal:  decimal.NewFromInt(1000),
		Total:     decimal.NewFromInt(1000),
		Notes:     "Imported from legacy billing",
		CreatedAt: now,
	}
	if err := h.Store.CreateInvoice(ctx, inv); err != nil {
		return err
	}
	lines := []billing.InvoiceLine{
		{ID: "line-import-0001", InvoiceID: inv.ID, Kind: billing.LineOther, Description: "Advisory retainer", Amount: decimal.NewFromInt(600)},
		{ID: "line-import-0002", InvoiceID: inv.ID, Kind: billing.LineOther, Description: "Data room", Amount: decimal.NewFromInt(390)},
	}
	if err := h.Store.CreateInvoiceLines(ctx, lines); err != nil {
		return err
	}

	_, err := reconcileAndRecord(ctx, h.Store, h.Reconciler)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createPlanFromJSON(ctx context.Context, jsonStr string) (*factory.FeePlan, error) {
	plan, err := h.PlanFactory.ParsePlan(jsonStr)
	if err != nil {
		return nil, err
	}

	record := sqlite.PlanRecord{
		ID:         plan.ID,
		Name:       plan.Name,
		ConfigJSON: jsonStr,
		Version:    1,
	}
	if err := h.Store.SavePlan(ctx, record); err != nil {
		return nil, err
	}

	h.cachePlan(plan)
	return plan, nil
}

func (h *Handler) accrue(ctx context.Context, plan *factory.FeePlan, componentID, allocationID string, facts fees.Facts) (*billing.FeeEvent, error) {
	c, ok := plan.Component(componentID)
	if !ok {
		return nil, fmt.Errorf("plan %s has no component %s", plan.ID, componentID)
	}
	return h.FeeEvents.Accrue(ctx, billing.AccrualInput{
		Component:    c,
		Facts:        facts,
		AllocationID: allocationID,
		Currency:     plan.Currency,
	})
}
