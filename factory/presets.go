/*
presets.go - Pre-built fee plan definitions

PURPOSE:
  Ready-to-use JSON fee plans for common deal structures. They are starting
  points; real deals usually adjust rates, hurdles and payment terms.

AVAILABLE PLANS:
  StandardFundPlanJSON: Subscription + management + simple carry
  TieredCarryPlanJSON:  Subscription + tiered carry above a hurdle
  SecondaryPlanJSON:    Spread on a secondary share sale + flat commitment

EXAMPLE:
  jsonStr := factory.StandardFundPlanJSON("fund-2025", "Fund 2025", 200, 200, 2000)
  plan, err := factory.NewPlanFactory().ParsePlan(jsonStr)
*/
package factory

import "encoding/json"

// StandardFundPlanJSON returns JSON for a 2-and-20 style plan with the
// management fee charged annually.
func StandardFundPlanJSON(id, name string, subscriptionBps, managementBps, carryBps int) string {
	pj := map[string]interface{}{
		"id":       id,
		"name":     name,
		"currency": "USD",
		"components": []map[string]interface{}{
			{"id": id + "-sub", "kind": "subscription", "calc_method": "percentage", "rate_bps": subscriptionBps},
			{"id": id + "-mgmt", "kind": "management", "calc_method": "percentage", "rate_bps": managementBps,
				"duration_periods": 1, "duration_unit": "year", "payment_days_after_event": 30},
			{"id": id + "-carry", "kind": "performance", "calc_method": "percentage", "rate_bps": carryBps},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// TieredCarryPlanJSON returns JSON for a plan whose carry steps up from
// lowBps to highBps once the exit reaches multiple times the entry price.
func TieredCarryPlanJSON(id, name string, subscriptionBps, lowBps, highBps int, multiple string, hurdleBps int) string {
	pj := map[string]interface{}{
		"id":       id,
		"name":     name,
		"currency": "USD",
		"components": []map[string]interface{}{
			{"id": id + "-sub", "kind": "subscription", "calc_method": "percentage", "rate_bps": subscriptionBps},
			{"id": id + "-carry", "kind": "performance", "calc_method": "tiered",
				"tiers": []map[string]interface{}{
					{"rate_bps": lowBps, "threshold_multiplier": multiple},
					{"rate_bps": highBps},
				},
				"hurdle_rate_bps": hurdleBps},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// SecondaryPlanJSON returns JSON for a secondary sale: the spread between
// investor price and cost, plus a flat commitment line.
func SecondaryPlanJSON(id, name, commitment string) string {
	pj := map[string]interface{}{
		"id":       id,
		"name":     name,
		"currency": "USD",
		"components": []map[string]interface{}{
			{"id": id + "-spread", "kind": "spread"},
			{"id": id + "-commitment", "kind": "flat", "calc_method": "flat", "flat_amount": commitment},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
