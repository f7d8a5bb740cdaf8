/*
Package factory provides JSON to Go fee plan conversion.

PURPOSE:
  Converts JSON fee plan definitions into validated fees.Component values.
  Fee plans are configured without code changes - operations staff define
  a plan in JSON, the factory checks it and builds the Go structs.

JSON SCHEMA:
  {
    "id": "fund-standard",
    "name": "Standard Fund Terms",
    "currency": "USD",
    "components": [
      {"id": "sub", "kind": "subscription", "calc_method": "percentage", "rate_bps": 200},
      {"id": "mgmt", "kind": "management", "calc_method": "percentage", "rate_bps": 200,
       "duration_periods": 4, "duration_unit": "year"},
      {"id": "carry", "kind": "performance", "calc_method": "tiered",
       "tiers": [
         {"rate_bps": 2000, "threshold_multiplier": "10"},
         {"rate_bps": 3000}
       ],
       "hurdle_rate_bps": 800},
      {"id": "markup", "kind": "spread"}
    ]
  }

  Amounts and multipliers may be JSON numbers or strings; they are parsed as
  decimals either way. A tier without threshold_multiplier is the final,
  unbounded tier.

KEY FEATURES:
  - Validates every component through fees.NewComponent
  - Rejects duplicate component ids
  - Round-trips: ToJSON(FromJSON(x)) describes the same plan

USAGE:
  factory := NewPlanFactory()

  // From JSON string
  plan, err := factory.ParsePlan(jsonString)

  // From a preset
  plan, err := factory.ParsePlan(StandardFundPlanJSON("fund-a", "Fund A", 200, 200, 2000))

  // Compute a fee
  amount, err := fees.Calculate(plan.Components[0], facts)

SEE ALSO:
  - fees/component.go: Component validation rules
  - presets.go: Ready-made plan definitions
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of a fee plan.
type PlanJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Currency   string          `json:"currency,omitempty"`
	Components []ComponentJSON `json:"components"`
}

// ComponentJSON is the JSON representation of a fee component record.
type ComponentJSON struct {
	ID                    string           `json:"id"`
	Kind                  string           `json:"kind"`
	CalcMethod            string           `json:"calc_method,omitempty"`
	RateBps               *int             `json:"rate_bps,omitempty"`
	FlatAmount            *decimal.Decimal `json:"flat_amount,omitempty"`
	Tiers                 []TierJSON       `json:"tiers,omitempty"`
	DurationPeriods       int              `json:"duration_periods,omitempty"`
	DurationUnit          string           `json:"duration_unit,omitempty"`
	HurdleRateBps         *int             `json:"hurdle_rate_bps,omitempty"`
	HasCatchup            bool             `json:"has_catchup,omitempty"`
	CatchupRateBps        *int             `json:"catchup_rate_bps,omitempty"`
	HasHighWaterMark      bool             `json:"has_high_water_mark,omitempty"`
	HasNoCap              bool             `json:"has_no_cap,omitempty"`
	PerformanceCapPercent *decimal.Decimal `json:"performance_cap_percent,omitempty"`
	PaymentDaysAfterEvent int              `json:"payment_days_after_event,omitempty"`
}

// TierJSON is one performance band. ThresholdMultiplier is omitted on the
// final tier.
type TierJSON struct {
	RateBps             int              `json:"rate_bps"`
	ThresholdMultiplier *decimal.Decimal `json:"threshold_multiplier,omitempty"`
}

// =============================================================================
// FEE PLAN
// =============================================================================

// FeePlan is a named, validated set of fee components.
type FeePlan struct {
	ID         string
	Name       string
	Currency   string
	Components []fees.Component
}

// Component returns the component with the given id.
func (p *FeePlan) Component(id string) (fees.Component, bool) {
	for _, c := range p.Components {
		if c.ID == id {
			return c, true
		}
	}
	return fees.Component{}, false
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON fee plans to Go structs.
type PlanFactory struct{}

// NewPlanFactory creates a new plan factory.
func NewPlanFactory() *PlanFactory {
	return &PlanFactory{}
}

// ParsePlan parses a JSON string into a FeePlan.
func (f *PlanFactory) ParsePlan(jsonStr string) (*FeePlan, error) {
	var pj PlanJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse fee plan JSON: %w", err)
	}

	return f.FromJSON(pj)
}

// FromJSON validates a PlanJSON and builds the FeePlan.
func (f *PlanFactory) FromJSON(pj PlanJSON) (*FeePlan, error) {
	if pj.ID == "" {
		return nil, &fees.ConfigError{Field: "id", Reason: "fee plan id is required"}
	}
	currency := pj.Currency
	if currency == "" {
		currency = fees.DefaultCurrency
	}

	plan := &FeePlan{ID: pj.ID, Name: pj.Name, Currency: currency}
	seen := make(map[string]bool, len(pj.Components))
	for i, cj := range pj.Components {
		if cj.ID == "" {
			cj.ID = fmt.Sprintf("%s-%d", pj.ID, i+1)
		}
		if seen[cj.ID] {
			return nil, &fees.ConfigError{Field: "components", Reason: fmt.Sprintf("duplicate component id %q", cj.ID)}
		}
		seen[cj.ID] = true

		c, err := f.ParseComponent(cj)
		if err != nil {
			return nil, fmt.Errorf("fee plan %s component %s: %w", pj.ID, cj.ID, err)
		}
		plan.Components = append(plan.Components, c)
	}
	return plan, nil
}

// ParseComponent converts one ComponentJSON into a validated fees.Component.
func (f *PlanFactory) ParseComponent(cj ComponentJSON) (fees.Component, error) {
	cfg := fees.ComponentConfig{
		ID:                    cj.ID,
		Kind:                  fees.Kind(cj.Kind),
		CalcMethod:            fees.CalcMethod(cj.CalcMethod),
		RateBps:               bpsPtr(cj.RateBps),
		FlatAmount:            cj.FlatAmount,
		DurationPeriods:       cj.DurationPeriods,
		DurationUnit:          cj.DurationUnit,
		HurdleRateBps:         bpsPtr(cj.HurdleRateBps),
		HasCatchup:            cj.HasCatchup,
		CatchupRateBps:        bpsPtr(cj.CatchupRateBps),
		HasHighWaterMark:      cj.HasHighWaterMark,
		HasNoCap:              cj.HasNoCap,
		PerformanceCapPercent: cj.PerformanceCapPercent,
		PaymentDaysAfterEvent: cj.PaymentDaysAfterEvent,
	}
	for _, tj := range cj.Tiers {
		cfg.Tiers = append(cfg.Tiers, fees.TierConfig{
			RateBps:             fees.Bps(tj.RateBps),
			ThresholdMultiplier: tj.ThresholdMultiplier,
		})
	}
	return fees.NewComponent(cfg)
}

// ToJSON converts a FeePlan back to its JSON representation.
func (f *PlanFactory) ToJSON(plan *FeePlan) PlanJSON {
	pj := PlanJSON{ID: plan.ID, Name: plan.Name, Currency: plan.Currency}
	for _, c := range plan.Components {
		pj.Components = append(pj.Components, componentToJSON(c))
	}
	return pj
}

func componentToJSON(c fees.Component) ComponentJSON {
	cj := ComponentJSON{
		ID:                    c.ID,
		Kind:                  string(c.Kind),
		CalcMethod:            string(c.Pricing.Method()),
		DurationPeriods:       c.DurationPeriods,
		DurationUnit:          c.DurationUnit,
		HasCatchup:            c.Terms.HasCatchup,
		HasHighWaterMark:      c.Terms.HasHighWaterMark,
		HasNoCap:              c.Terms.HasNoCap,
		PaymentDaysAfterEvent: c.PaymentDaysAfterEvent,
	}

	switch p := c.Pricing.(type) {
	case fees.FlatFee:
		amount := p.Amount
		cj.FlatAmount = &amount
	case fees.RateFee:
		cj.RateBps = intPtr(p.Rate)
	case fees.TieredFee:
		for _, t := range p.Tiers.All() {
			tj := TierJSON{RateBps: int(t.Rate)}
			if !t.UpperBound.IsUnbounded() {
				m := t.UpperBound.Multiple()
				tj.ThresholdMultiplier = &m
			}
			cj.Tiers = append(cj.Tiers, tj)
		}
	}

	if c.Terms.HurdleRate != 0 {
		cj.HurdleRateBps = intPtr(c.Terms.HurdleRate)
	}
	if c.Terms.CatchupRate != 0 {
		cj.CatchupRateBps = intPtr(c.Terms.CatchupRate)
	}
	if c.Terms.CapPercent.Valid {
		cp := c.Terms.CapPercent.Decimal
		cj.PerformanceCapPercent = &cp
	}
	return cj
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func bpsPtr(v *int) *fees.Bps {
	if v == nil {
		return nil
	}
	b := fees.Bps(*v)
	return &b
}

func intPtr(b fees.Bps) *int {
	v := int(b)
	return &v
}
