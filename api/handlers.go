/*
handlers.go - HTTP request handlers for the fee engine API

PURPOSE:
  Implements all REST API endpoints. Handlers decode the request, call the
  billing services, and encode the response. They hold no business rules of
  their own: amounts come from the fees calculators, status changes from the
  billing transition tables.

ENDPOINTS:
  Fees:
    POST /api/fees/calculate               Evaluate a component against facts

  Fee plans:
    GET  /api/fee-plans                    List stored plans
    POST /api/fee-plans                    Validate and store a plan
    GET  /api/fee-plans/{id}               Get one plan

  Fee events:
    GET  /api/fee-events                   List events (?status=accrued)
    POST /api/fee-events                   Compute and persist an accrued event
    GET  /api/fee-events/{id}              Get one event
    POST /api/fee-events/{id}/cancel       Cancel an accrued event

  Invoices:
    GET  /api/invoices                     List invoices
    POST /api/invoices                     Assemble an invoice
    GET  /api/invoices/{id}                Invoice + reconciliation report
    POST /api/invoices/{id}/payments       Record a payment

  Commissions:
    GET  /api/commissions                  List (?status=) with outstanding total
    POST /api/commissions                  Accrue a commission
    GET  /api/commissions/{id}             Get one commission
    POST /api/commissions/{id}/transition  Guarded status change

  Reconciliation:
    GET  /api/reconciliation/latest        Last stored sweep
    POST /api/reconciliation/run           Sweep now

  Scenarios (dev only):
    GET  /api/scenarios                    List demo scenarios
    GET  /api/scenarios/current            Currently loaded scenario
    POST /api/scenarios/load               Reset and load a scenario
    POST /api/scenarios/reset              Reset the database

ERROR HANDLING:
  All errors return JSON: {"error": "message", "details": "..."}
  Status codes come from the billing error classifiers:
    - 400: Client errors (bad config, invalid transition, bad payment)
    - 404: Unknown ids
    - 409: Conflicts (stale status, fee event already claimed)
    - 500: Everything else, including persistence failures

SEE ALSO:
  - server.go: Route configuration
  - dto.go: Request/response types
  - billing/errors.go: Error classification
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/store/sqlite"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	PlanFactory *factory.PlanFactory
	FeeEvents   *billing.FeeEventService
	Assembler   *billing.Assembler
	Reconciler  *billing.Reconciler
	Commissions *billing.CommissionService
	Logger      *slog.Logger

	// Currency is used for invoices whose request and fee events name none.
	Currency string

	mu              sync.RWMutex
	plans           map[string]*factory.FeePlan
	currentScenario string
}

// NewHandler creates a new handler wired to the store.
func NewHandler(store *sqlite.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:       store,
		PlanFactory: factory.NewPlanFactory(),
		FeeEvents:   billing.NewFeeEventService(store, logger),
		Assembler:   billing.NewAssembler(store, logger),
		Reconciler:  billing.NewReconciler(store, logger),
		Commissions: billing.NewCommissionService(store, logger),
		Logger:      logger.With("component", "api"),
		Currency:    fees.DefaultCurrency,
		plans:       make(map[string]*factory.FeePlan),
	}
}

// LoadPlans parses every stored plan into the cache. A plan that no longer
// parses is logged and skipped.
func (h *Handler) LoadPlans(ctx context.Context) error {
	records, err := h.Store.ListPlans(ctx)
	if err != nil {
		return fmt.Errorf("list fee plans: %w", err)
	}
	for _, rec := range records {
		plan, err := h.PlanFactory.ParsePlan(rec.ConfigJSON)
		if err != nil {
			h.Logger.WarnContext(ctx, "skipping unparseable fee plan", "plan_id", rec.ID, "error", err)
			continue
		}
		h.cachePlan(plan)
	}
	h.Logger.InfoContext(ctx, "fee plans loaded", "count", len(records))
	return nil
}

func (h *Handler) cachePlan(plan *factory.FeePlan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plans[plan.ID] = plan
}

// plan returns a cached plan, falling back to the store.
func (h *Handler) plan(ctx context.Context, id string) (*factory.FeePlan, error) {
	h.mu.RLock()
	plan, ok := h.plans[id]
	h.mu.RUnlock()
	if ok {
		return plan, nil
	}

	rec, err := h.Store.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load fee plan %s: %w", id, err)
	}
	if rec == nil {
		return nil, &billing.UnresolvedReferenceError{Entity: "fee plan", IDs: []string{id}}
	}
	plan, err = h.PlanFactory.ParsePlan(rec.ConfigJSON)
	if err != nil {
		return nil, err
	}
	h.cachePlan(plan)
	return plan, nil
}

// resolveComponent turns a ComponentRef into a validated component. The
// second return value is the plan currency, empty for inline components.
func (h *Handler) resolveComponent(ctx context.Context, ref ComponentRef) (fees.Component, string, error) {
	if ref.Component != nil {
		c, err := h.PlanFactory.ParseComponent(*ref.Component)
		return c, "", err
	}
	if ref.PlanID == "" || ref.ComponentID == "" {
		return fees.Component{}, "", &fees.ConfigError{Field: "component", Reason: "either component or plan_id and component_id is required"}
	}
	plan, err := h.plan(ctx, ref.PlanID)
	if err != nil {
		return fees.Component{}, "", err
	}
	c, ok := plan.Component(ref.ComponentID)
	if !ok {
		return fees.Component{}, "", &billing.UnresolvedReferenceError{
			Entity: "fee component",
			IDs:    []string{ref.PlanID + "/" + ref.ComponentID},
		}
	}
	return c, plan.Currency, nil
}

// =============================================================================
// FEE CALCULATION
// =============================================================================

// CalculateFee evaluates one component without persisting anything.
// POST /api/fees/calculate
func (h *Handler) CalculateFee(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, planCurrency, err := h.resolveComponent(r.Context(), req.ComponentRef)
	if err != nil {
		writeServiceError(w, "Invalid fee component", err)
		return
	}
	amount, err := fees.Calculate(c, req.Facts.ToFacts())
	if err != nil {
		writeServiceError(w, "Fee calculation failed", err)
		return
	}

	currency := firstNonEmpty(req.Currency, planCurrency, h.Currency)
	writeJSON(w, http.StatusOK, CalculationDTO{
		ComponentID:  c.ID,
		Kind:         string(c.Kind),
		Amount:       amount,
		Formatted:    fees.FormatMoney(amount, currency),
		PaymentTerms: c.PaymentTerms(),
	})
}

// =============================================================================
// FEE PLAN HANDLERS
// =============================================================================

// ListPlans returns all stored fee plans.
// GET /api/fee-plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListPlans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list fee plans", err)
		return
	}

	dtos := make([]PlanDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, planDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePlan validates a plan through the factory and stores it. Posting an
// existing id replaces the plan and bumps its version.
// POST /api/fee-plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req factory.PlanJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, err := h.PlanFactory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fee plan configuration", err)
		return
	}

	// Store the normalised form so defaulted ids and currency survive reloads.
	configJSON, err := json.Marshal(h.PlanFactory.ToJSON(plan))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode fee plan", err)
		return
	}
	record := sqlite.PlanRecord{ID: plan.ID, Name: plan.Name, ConfigJSON: string(configJSON)}
	if err := h.Store.SavePlan(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save fee plan", err)
		return
	}
	h.cachePlan(plan)

	saved, err := h.Store.GetPlan(r.Context(), plan.ID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload fee plan", err)
		return
	}
	h.Logger.InfoContext(r.Context(), "fee plan saved", "plan_id", plan.ID, "version", saved.Version)
	writeJSON(w, http.StatusCreated, planDTO(*saved))
}

// GetPlan returns a single fee plan.
// GET /api/fee-plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.Store.GetPlan(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get fee plan", err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "Fee plan not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, planDTO(*record))
}

func planDTO(rec sqlite.PlanRecord) PlanDTO {
	var config factory.PlanJSON
	json.Unmarshal([]byte(rec.ConfigJSON), &config)

	return PlanDTO{
		ID:        rec.ID,
		Name:      rec.Name,
		Currency:  config.Currency,
		Config:    config,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// FEE EVENT HANDLERS
// =============================================================================

// ListFeeEvents returns fee events, optionally filtered by status.
// GET /api/fee-events?status=accrued
func (h *Handler) ListFeeEvents(w http.ResponseWriter, r *http.Request) {
	status := billing.FeeEventStatus(r.URL.Query().Get("status"))

	events, err := h.Store.ListFeeEvents(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list fee events", err)
		return
	}

	dtos := make([]FeeEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = feeEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateFeeEvent computes a fee and persists it as an accrued fee event.
// POST /api/fee-events
func (h *Handler) CreateFeeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateFeeEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AllocationID == "" {
		writeError(w, http.StatusBadRequest, "allocation_id is required", nil)
		return
	}

	c, planCurrency, err := h.resolveComponent(ctx, req.ComponentRef)
	if err != nil {
		writeServiceError(w, "Invalid fee component", err)
		return
	}

	in := billing.AccrualInput{
		Component:    c,
		Facts:        req.Facts.ToFacts(),
		AllocationID: req.AllocationID,
		Currency:     firstNonEmpty(req.Currency, planCurrency, h.Currency),
	}
	if req.EventDate != nil {
		in.EventDate = req.EventDate.UTC()
	}

	ev, err := h.FeeEvents.Accrue(ctx, in)
	if err != nil {
		writeServiceError(w, "Failed to accrue fee event", err)
		return
	}
	writeJSON(w, http.StatusCreated, feeEventDTO(*ev))
}

// GetFeeEvent returns a single fee event.
// GET /api/fee-events/{id}
func (h *Handler) GetFeeEvent(w http.ResponseWriter, r *http.Request) {
	id := billing.FeeEventID(chi.URLParam(r, "id"))

	ev, err := h.Store.GetFeeEvent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get fee event", err)
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "Fee event not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, feeEventDTO(*ev))
}

// CancelFeeEvent cancels an accrued fee event.
// POST /api/fee-events/{id}/cancel
func (h *Handler) CancelFeeEvent(w http.ResponseWriter, r *http.Request) {
	id := billing.FeeEventID(chi.URLParam(r, "id"))

	ev, err := h.FeeEvents.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to cancel fee event", err)
		return
	}
	writeJSON(w, http.StatusOK, feeEventDTO(*ev))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns all invoices with their lines.
// GET /api/invoices
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Store.ListInvoices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = invoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvoice assembles an invoice from accrued fee events and custom
// items. The fee events are claimed atomically; a request naming an event
// that is already invoiced fails with 409 and leaves nothing behind.
// POST /api/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	areq := billing.AssembleRequest{
		Currency: req.Currency,
		Notes:    req.Notes,
	}
	for _, id := range req.FeeEventIDs {
		areq.FeeEventIDs = append(areq.FeeEventIDs, billing.FeeEventID(id))
	}
	for _, item := range req.CustomItems {
		areq.CustomItems = append(areq.CustomItems, billing.CustomItem{
			Description: item.Description,
			Amount:      item.Amount,
			Kind:        billing.LineKind(item.Kind),
		})
	}
	if len(areq.FeeEventIDs) == 0 && areq.Currency == "" {
		areq.Currency = h.Currency
	}

	res, err := h.Assembler.Assemble(r.Context(), areq)
	if err != nil {
		writeServiceError(w, "Failed to assemble invoice", err)
		return
	}

	resp := InvoiceDetailResponse{
		Invoice:        invoiceDTO(res.Invoice),
		Reconciliation: discrepancyDTO(billing.ValidateInvoiceTotal(res.Invoice)),
	}
	for _, ev := range res.FeeEvents {
		resp.FeeEvents = append(resp.FeeEvents, feeEventDTO(ev))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetInvoice returns an invoice with a fresh reconciliation report.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.GetInvoice(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get invoice", err)
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}

	resp := InvoiceDetailResponse{
		Invoice:        invoiceDTO(*inv),
		Reconciliation: discrepancyDTO(billing.ValidateInvoiceTotal(*inv)),
	}
	if ids := inv.FeeEventIDs(); len(ids) > 0 {
		events, err := h.Store.GetFeeEvents(ctx, ids)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load invoice fee events", err)
			return
		}
		for _, ev := range events {
			resp.FeeEvents = append(resp.FeeEvents, feeEventDTO(ev))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordPayment applies a payment against an invoice's balance due.
// POST /api/invoices/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.Reconciler.RecordPayment(r.Context(), id, req.Amount)
	if err != nil {
		writeServiceError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceDTO(*inv))
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// ListCommissions returns commissions, optionally filtered by status, with
// the accrual total still owed to partners.
// GET /api/commissions?status=accrued
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	status := billing.CommissionStatus(r.URL.Query().Get("status"))

	commissions, err := h.Store.ListCommissions(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}

	resp := CommissionListResponse{
		Commissions: make([]CommissionDTO, len(commissions)),
		Outstanding: billing.Outstanding(commissions),
	}
	for i, c := range commissions {
		resp.Commissions[i] = commissionDTO(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCommission accrues a partner commission over fee events.
// POST /api/commissions
func (h *Handler) CreateCommission(w http.ResponseWriter, r *http.Request) {
	var req CreateCommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]billing.FeeEventID, len(req.FeeEventIDs))
	for i, id := range req.FeeEventIDs {
		ids[i] = billing.FeeEventID(id)
	}

	c, err := h.Commissions.Accrue(r.Context(), req.PartnerID, ids, fees.Bps(req.RateBps))
	if err != nil {
		writeServiceError(w, "Failed to accrue commission", err)
		return
	}
	writeJSON(w, http.StatusCreated, commissionDTO(*c))
}

// GetCommission returns a single commission.
// GET /api/commissions/{id}
func (h *Handler) GetCommission(w http.ResponseWriter, r *http.Request) {
	id := billing.CommissionID(chi.URLParam(r, "id"))

	c, err := h.Store.GetCommission(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get commission", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Commission not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, commissionDTO(*c))
}

// TransitionCommission moves a commission to a new status. The request
// names the status the caller observed; if another reviewer moved it first
// the response is 409.
// POST /api/commissions/{id}/transition
func (h *Handler) TransitionCommission(w http.ResponseWriter, r *http.Request) {
	id := billing.CommissionID(chi.URLParam(r, "id"))

	var req CommissionTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Observed == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "observed and to are required", nil)
		return
	}

	c, err := h.Commissions.Transition(r.Context(), id, billing.TransitionInput{
		Observed:         billing.CommissionStatus(req.Observed),
		To:               billing.CommissionStatus(req.To),
		InvoiceID:        req.InvoiceID,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		writeServiceError(w, "Commission transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, commissionDTO(*c))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// GetLatestReconciliation returns the most recent reconciliation sweep.
// GET /api/reconciliation/latest
func (h *Handler) GetLatestReconciliation(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.LatestReconciliationRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "No reconciliation has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, runDTO(*run))
}

// RunReconciliation sweeps all invoices now and stores the result.
// POST /api/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	run, err := reconcileAndRecord(r.Context(), h.Store, h.Reconciler)
	if run == nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "reconciliation finished with error", "run_id", run.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, runDTO(*run))
}

func runDTO(run sqlite.RunRecord) ReconciliationRunDTO {
	dto := ReconciliationRunDTO{
		ID:            run.ID,
		Checked:       run.Checked,
		Discrepancies: make([]DiscrepancyDTO, len(run.Discrepancies)),
		Error:         run.Error,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
		FinishedAt:    run.FinishedAt.Format(time.RFC3339),
	}
	for i, d := range run.Discrepancies {
		dto.Discrepancies[i] = discrepancyDTO(d)
	}
	return dto
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a billing or fees error to its status code.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	case billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
