/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal and marshal as JSON strings ("1250.50"), so
  clients never see float rounding. Requests accept strings or numbers.

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON and ComponentJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/factory"
	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// FEE CALCULATION
// =============================================================================

// FactsDTO carries the transaction facts a component is evaluated against.
// Price fields are optional; calculators that need them reject a request
// that leaves them out.
type FactsDTO struct {
	InvestmentAmount      decimal.Decimal  `json:"investment_amount"`
	NumShares             *decimal.Decimal `json:"num_shares,omitempty"`
	EntryPricePerShare    *decimal.Decimal `json:"entry_price_per_share,omitempty"`
	ExitPricePerShare     *decimal.Decimal `json:"exit_price_per_share,omitempty"`
	InvestorPricePerShare *decimal.Decimal `json:"investor_price_per_share,omitempty"`
	CostPerShare          *decimal.Decimal `json:"cost_per_share,omitempty"`
	Upfront               bool             `json:"upfront,omitempty"`
}

// ToFacts converts the DTO to calculator facts.
func (f FactsDTO) ToFacts() fees.Facts {
	return fees.Facts{
		InvestmentAmount:      f.InvestmentAmount,
		NumShares:             nullable(f.NumShares),
		EntryPricePerShare:    nullable(f.EntryPricePerShare),
		ExitPricePerShare:     nullable(f.ExitPricePerShare),
		InvestorPricePerShare: nullable(f.InvestorPricePerShare),
		CostPerShare:          nullable(f.CostPerShare),
		Upfront:               f.Upfront,
	}
}

// ComponentRef points at a component either inline or inside a stored plan.
// Exactly one of Component or PlanID+ComponentID is expected.
type ComponentRef struct {
	PlanID      string                 `json:"plan_id,omitempty"`
	ComponentID string                 `json:"component_id,omitempty"`
	Component   *factory.ComponentJSON `json:"component,omitempty"`
}

// CalculateRequest is the body for POST /api/fees/calculate.
type CalculateRequest struct {
	ComponentRef
	Currency string   `json:"currency,omitempty"`
	Facts    FactsDTO `json:"facts"`
}

// CalculationDTO is a computed fee.
type CalculationDTO struct {
	ComponentID  string          `json:"component_id"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Formatted    string          `json:"formatted"`
	PaymentTerms string          `json:"payment_terms"`
}

// =============================================================================
// FEE PLANS
// =============================================================================

// PlanDTO is a stored fee plan.
type PlanDTO struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Currency  string           `json:"currency"`
	Config    factory.PlanJSON `json:"config"`
	Version   int              `json:"version"`
	CreatedAt string           `json:"created_at,omitempty"`
}

// =============================================================================
// FEE EVENTS
// =============================================================================

// CreateFeeEventRequest is the body for POST /api/fee-events.
type CreateFeeEventRequest struct {
	ComponentRef
	AllocationID string     `json:"allocation_id"`
	Currency     string     `json:"currency,omitempty"`
	EventDate    *time.Time `json:"event_date,omitempty"`
	Facts        FactsDTO   `json:"facts"`
}

// FeeEventDTO represents a fee event in API responses.
type FeeEventDTO struct {
	ID             string          `json:"id"`
	FeeType        string          `json:"fee_type"`
	ComponentID    string          `json:"component_id,omitempty"`
	AllocationID   string          `json:"allocation_id"`
	ComputedAmount decimal.Decimal `json:"computed_amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	EventDate      string          `json:"event_date"`
	InvoiceID      string          `json:"invoice_id,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func feeEventDTO(ev billing.FeeEvent) FeeEventDTO {
	return FeeEventDTO{
		ID:             string(ev.ID),
		FeeType:        string(ev.FeeType),
		ComponentID:    ev.ComponentID,
		AllocationID:   ev.AllocationID,
		ComputedAmount: ev.ComputedAmount,
		Currency:       ev.Currency,
		Status:         string(ev.Status),
		EventDate:      ev.EventDate.Format(time.RFC3339),
		InvoiceID:      string(ev.InvoiceID),
		CreatedAt:      ev.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

// CustomItemDTO is a free-form invoice line.
type CustomItemDTO struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind,omitempty"`
}

// CreateInvoiceRequest is the body for POST /api/invoices.
type CreateInvoiceRequest struct {
	FeeEventIDs []string        `json:"fee_event_ids"`
	CustomItems []CustomItemDTO `json:"custom_items,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// InvoiceLineDTO is one invoice line.
type InvoiceLineDTO struct {
	ID          string          `json:"id"`
	FeeEventID  string          `json:"fee_event_id,omitempty"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID         string           `json:"id"`
	Currency   string           `json:"currency"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
	Total      decimal.Decimal  `json:"total"`
	PaidAmount decimal.Decimal  `json:"paid_amount"`
	BalanceDue decimal.Decimal  `json:"balance_due"`
	Settled    bool             `json:"settled"`
	Formatted  string           `json:"formatted_total"`
	Notes      string           `json:"notes,omitempty"`
	Lines      []InvoiceLineDTO `json:"lines"`
	CreatedAt  string           `json:"created_at"`
}

// InvoiceDetailResponse is an invoice with its reconciliation report.
type InvoiceDetailResponse struct {
	Invoice        InvoiceDTO     `json:"invoice"`
	Reconciliation DiscrepancyDTO `json:"reconciliation"`
	FeeEvents      []FeeEventDTO  `json:"fee_events,omitempty"`
}

// PaymentRequest is the body for POST /api/invoices/{id}/payments.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func invoiceDTO(inv billing.Invoice) InvoiceDTO {
	lines := make([]InvoiceLineDTO, len(inv.Lines))
	for i, l := range inv.Lines {
		lines[i] = InvoiceLineDTO{
			ID:          string(l.ID),
			FeeEventID:  string(l.FeeEventID),
			Kind:        string(l.Kind),
			Description: l.Description,
			Amount:      l.Amount,
		}
	}
	return InvoiceDTO{
		ID:         string(inv.ID),
		Currency:   inv.Currency,
		Subtotal:   inv.Subtotal,
		Total:      inv.Total,
		PaidAmount: inv.PaidAmount,
		BalanceDue: inv.BalanceDue(),
		Settled:    inv.Settled(),
		Formatted:  fees.FormatMoney(inv.Total, inv.Currency),
		Notes:      inv.Notes,
		Lines:      lines,
		CreatedAt:  inv.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// DiscrepancyDTO is the outcome of validating one invoice total.
type DiscrepancyDTO struct {
	InvoiceID           string          `json:"invoice_id"`
	StatedSubtotal      decimal.Decimal `json:"stated_subtotal"`
	StatedTotal         decimal.Decimal `json:"stated_total"`
	ComputedLinesSum    decimal.Decimal `json:"computed_lines_sum"`
	DiscrepancyAmount   decimal.Decimal `json:"discrepancy_amount"`
	SubtotalDiscrepancy decimal.Decimal `json:"subtotal_discrepancy"`
	HasDiscrepancy      bool            `json:"has_discrepancy"`
}

func discrepancyDTO(r billing.DiscrepancyReport) DiscrepancyDTO {
	return DiscrepancyDTO{
		InvoiceID:           string(r.InvoiceID),
		StatedSubtotal:      r.StatedSubtotal,
		StatedTotal:         r.StatedTotal,
		ComputedLinesSum:    r.ComputedLinesSum,
		DiscrepancyAmount:   r.DiscrepancyAmount,
		SubtotalDiscrepancy: r.SubtotalDiscrepancy,
		HasDiscrepancy:      r.HasDiscrepancy,
	}
}

// ReconciliationRunDTO is a stored reconciliation sweep.
type ReconciliationRunDTO struct {
	ID            string           `json:"id"`
	Checked       int              `json:"checked"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
	Error         string           `json:"error,omitempty"`
	StartedAt     string           `json:"started_at"`
	FinishedAt    string           `json:"finished_at"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

// CreateCommissionRequest is the body for POST /api/commissions.
type CreateCommissionRequest struct {
	PartnerID   string   `json:"partner_id"`
	FeeEventIDs []string `json:"fee_event_ids"`
	RateBps     int      `json:"rate_bps"`
}

// CommissionTransitionRequest is the body for
// POST /api/commissions/{id}/transition. Observed is the status the client
// last saw; the change is refused if it is no longer current.
type CommissionTransitionRequest struct {
	Observed         string `json:"observed"`
	To               string `json:"to"`
	InvoiceID        string `json:"invoice_id,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

// CommissionDTO represents a commission in API responses.
type CommissionDTO struct {
	ID               string          `json:"id"`
	PartnerID        string          `json:"partner_id"`
	FeeEventIDs      []string        `json:"fee_event_ids"`
	RateBps          int             `json:"rate_bps"`
	Rate             string          `json:"rate"`
	GrossFeeAmount   decimal.Decimal `json:"gross_fee_amount"`
	AccrualAmount    decimal.Decimal `json:"accrual_amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	AllowedNext      []string        `json:"allowed_next"`
	InvoiceID        string          `json:"invoice_id,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

// CommissionListResponse lists commissions with the unpaid accrual total.
type CommissionListResponse struct {
	Commissions []CommissionDTO `json:"commissions"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

func commissionDTO(c billing.Commission) CommissionDTO {
	ids := make([]string, len(c.FeeEventIDs))
	for i, id := range c.FeeEventIDs {
		ids[i] = string(id)
	}
	next := billing.CommissionTransitions().Allowed(c.Status)
	allowed := make([]string, len(next))
	for i, s := range next {
		allowed[i] = string(s)
	}
	return CommissionDTO{
		ID:               string(c.ID),
		PartnerID:        c.PartnerID,
		FeeEventIDs:      ids,
		RateBps:          int(c.Rate),
		Rate:             c.Rate.String(),
		GrossFeeAmount:   c.GrossFeeAmount,
		AccrualAmount:    c.AccrualAmount,
		Currency:         c.Currency,
		Status:           string(c.Status),
		AllowedNext:      allowed,
		InvoiceID:        c.InvoiceID,
		PaymentReference: c.PaymentReference,
		CreatedAt:        c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        c.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// LoadScenarioRequest is the body for POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
