/*
component.go - Fee component configuration

PURPOSE:
  A fee plan (owned by the caller) is a list of fee components. A component
  says which fee it is (Kind) and how it is priced (Pricing).

PRICING IS A TAGGED UNION:
  Raw records carry optional rate_bps / flat_amount / tiers fields. They are
  resolved once, in NewComponent, into exactly one of:

    FlatFee{Amount}     fixed currency amount
    RateFee{Rate}       basis points applied to a base amount
    TieredFee{Tiers}    ordered performance bands (performance only)
    NoCharge{}          nothing configured

  "Both rate and flat given" resolves to FlatFee. Calculators switch on the
  concrete type and never look at raw optional fields.

TIERS:
  Each tier has a rate and an upper bound expressed as a multiple of the
  entry price. The final tier's bound is the Unbounded sentinel; no other
  tier may be unbounded.

SEE ALSO:
  - calculators.go: Consumes Component and FeeRequest
  - factory/plan.go: JSON to ComponentConfig
*/
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KIND / CALC METHOD
// =============================================================================

// Kind identifies the fee a component produces.
type Kind string

const (
	KindSubscription Kind = "subscription"
	KindManagement   Kind = "management"
	KindPerformance  Kind = "performance"
	KindSpread       Kind = "spread"
	KindFlat         Kind = "flat"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSubscription, KindManagement, KindPerformance, KindSpread, KindFlat:
		return true
	}
	return false
}

// CalcMethod is the formula variant named in a raw component record.
type CalcMethod string

const (
	MethodFlat       CalcMethod = "flat"
	MethodPercentage CalcMethod = "percentage"
	MethodTiered     CalcMethod = "tiered"
)

// =============================================================================
// PRICING
// =============================================================================

// Pricing is one of FlatFee, RateFee, TieredFee or NoCharge.
type Pricing interface {
	Method() CalcMethod
	isPricing()
}

type FlatFee struct{ Amount decimal.Decimal }

type RateFee struct{ Rate Bps }

type TieredFee struct{ Tiers Tiers }

type NoCharge struct{}

func (FlatFee) Method() CalcMethod   { return MethodFlat }
func (RateFee) Method() CalcMethod   { return MethodPercentage }
func (TieredFee) Method() CalcMethod { return MethodTiered }
func (NoCharge) Method() CalcMethod  { return "" }

func (FlatFee) isPricing()   {}
func (RateFee) isPricing()   {}
func (TieredFee) isPricing() {}
func (NoCharge) isPricing()  {}

// NewPricing resolves optional rate and flat fields. Flat wins when both are
// present; neither yields NoCharge.
func NewPricing(rate *Bps, flat *decimal.Decimal) Pricing {
	switch {
	case flat != nil:
		return FlatFee{Amount: *flat}
	case rate != nil:
		return RateFee{Rate: *rate}
	default:
		return NoCharge{}
	}
}

// =============================================================================
// TIERS
// =============================================================================

// Bound is the upper edge of a tier, as a multiple of the entry price.
type Bound struct {
	multiple  decimal.Decimal
	unbounded bool
}

// Unbounded is the sentinel bound of the final tier.
var Unbounded = Bound{unbounded: true}

// UpTo returns a bound at the given multiple (10 = 10x the entry price).
func UpTo(multiple decimal.Decimal) Bound { return Bound{multiple: multiple} }

func (b Bound) IsUnbounded() bool { return b.unbounded }

// Multiple returns the bound's multiple; zero for Unbounded.
func (b Bound) Multiple() decimal.Decimal { return b.multiple }

func (b Bound) String() string {
	if b.unbounded {
		return "unbounded"
	}
	return b.multiple.String() + "x"
}

// Tier is one performance band.
type Tier struct {
	Rate       Bps
	UpperBound Bound
}

// Tiers is a validated, ordered list of bands. The zero value holds no tiers
// and is rejected by the calculators.
type Tiers struct {
	tiers []Tier
}

// NewTiers validates the ordering rules: at least one tier, rates in range,
// strictly ascending bounds above 1x, only the last tier unbounded.
func NewTiers(tiers ...Tier) (Tiers, error) {
	if len(tiers) == 0 {
		return Tiers{}, configErr(KindPerformance, "tiers", "at least one tier is required")
	}
	prev := decimal.NewFromInt(1)
	for i, t := range tiers {
		if !t.Rate.Valid() {
			return Tiers{}, configErr(KindPerformance, fmt.Sprintf("tiers[%d].rate_bps", i), "%d outside [0, %d]", t.Rate, MaxBps)
		}
		last := i == len(tiers)-1
		if t.UpperBound.IsUnbounded() {
			if !last {
				return Tiers{}, configErr(KindPerformance, fmt.Sprintf("tiers[%d].threshold_multiplier", i), "only the last tier may be unbounded")
			}
			continue
		}
		if last {
			return Tiers{}, configErr(KindPerformance, fmt.Sprintf("tiers[%d].threshold_multiplier", i), "the last tier must be unbounded")
		}
		if !t.UpperBound.multiple.GreaterThan(prev) {
			return Tiers{}, configErr(KindPerformance, fmt.Sprintf("tiers[%d].threshold_multiplier", i), "%s must exceed %s", t.UpperBound.multiple, prev)
		}
		prev = t.UpperBound.multiple
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return Tiers{tiers: out}, nil
}

// All returns a copy of the tiers in order.
func (t Tiers) All() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

func (t Tiers) Len() int { return len(t.tiers) }

// =============================================================================
// PERFORMANCE TERMS
// =============================================================================

// PerformanceTerms are the modifiers of a performance fee.
//
// HurdleRate and the cap are applied by the calculators. Catch-up and the
// high-water mark are accepted as configuration only; calculating with either
// enabled returns ErrUnsupportedModifier.
type PerformanceTerms struct {
	HurdleRate       Bps
	HasCatchup       bool
	CatchupRate      Bps
	HasHighWaterMark bool
	HasNoCap         bool
	CapPercent       decimal.NullDecimal // percent of the gain, 0..100
}

func (pt PerformanceTerms) check(kind Kind) error {
	if pt.HasCatchup {
		return fmt.Errorf("%s fee: catch-up: %w", kind, ErrUnsupportedModifier)
	}
	if pt.HasHighWaterMark {
		return fmt.Errorf("%s fee: high-water mark: %w", kind, ErrUnsupportedModifier)
	}
	return nil
}

// =============================================================================
// COMPONENT
// =============================================================================

// Component is a validated fee component. Build it with NewComponent.
type Component struct {
	ID                    string
	Kind                  Kind
	Pricing               Pricing
	DurationPeriods       int
	DurationUnit          string
	PaymentDaysAfterEvent int
	Terms                 PerformanceTerms
}

// PaymentTerms renders the component's payment-term text.
func (c Component) PaymentTerms() string { return PaymentTerms(c.PaymentDaysAfterEvent) }

// TierConfig is a raw tier; a nil ThresholdMultiplier marks the last tier.
type TierConfig struct {
	RateBps             Bps
	ThresholdMultiplier *decimal.Decimal
}

// ComponentConfig is the raw field set of a fee component record.
type ComponentConfig struct {
	ID                    string
	Kind                  Kind
	CalcMethod            CalcMethod
	RateBps               *Bps
	FlatAmount            *decimal.Decimal
	Tiers                 []TierConfig
	DurationPeriods       int
	DurationUnit          string
	HurdleRateBps         *Bps
	HasCatchup            bool
	CatchupRateBps        *Bps
	HasHighWaterMark      bool
	HasNoCap              bool
	PerformanceCapPercent *decimal.Decimal
	PaymentDaysAfterEvent int
}

// NewComponent validates a raw record and resolves its pricing.
func NewComponent(cfg ComponentConfig) (Component, error) {
	k := cfg.Kind
	if !k.Valid() {
		return Component{}, configErr(k, "kind", "unknown kind %q", k)
	}
	for field, r := range map[string]*Bps{"rate_bps": cfg.RateBps, "hurdle_rate_bps": cfg.HurdleRateBps, "catchup_rate_bps": cfg.CatchupRateBps} {
		if r != nil && !r.Valid() {
			return Component{}, configErr(k, field, "%d outside [0, %d]", *r, MaxBps)
		}
	}
	if cfg.FlatAmount != nil && cfg.FlatAmount.IsNegative() {
		return Component{}, configErr(k, "flat_amount", "must not be negative")
	}
	if cfg.DurationPeriods < 0 {
		return Component{}, configErr(k, "duration_periods", "must not be negative")
	}
	if cfg.PaymentDaysAfterEvent < 0 {
		return Component{}, configErr(k, "payment_days_after_event", "must not be negative")
	}

	pricing, err := resolvePricing(cfg)
	if err != nil {
		return Component{}, err
	}
	if err := checkKindPricing(k, pricing); err != nil {
		return Component{}, err
	}

	terms := PerformanceTerms{
		HasCatchup:       cfg.HasCatchup,
		HasHighWaterMark: cfg.HasHighWaterMark,
		HasNoCap:         cfg.HasNoCap,
	}
	if cfg.HurdleRateBps != nil {
		terms.HurdleRate = *cfg.HurdleRateBps
	}
	if cfg.CatchupRateBps != nil {
		terms.CatchupRate = *cfg.CatchupRateBps
	}
	if cfg.PerformanceCapPercent != nil {
		cp := *cfg.PerformanceCapPercent
		if cp.IsNegative() || cp.GreaterThan(decimal.NewFromInt(100)) {
			return Component{}, configErr(k, "performance_cap_percent", "%s outside [0, 100]", cp)
		}
		if !cfg.HasNoCap {
			terms.CapPercent = decimal.NewNullDecimal(cp)
		}
	}

	return Component{
		ID:                    cfg.ID,
		Kind:                  k,
		Pricing:               pricing,
		DurationPeriods:       cfg.DurationPeriods,
		DurationUnit:          cfg.DurationUnit,
		PaymentDaysAfterEvent: cfg.PaymentDaysAfterEvent,
		Terms:                 terms,
	}, nil
}

func resolvePricing(cfg ComponentConfig) (Pricing, error) {
	k := cfg.Kind
	if cfg.CalcMethod == MethodTiered || len(cfg.Tiers) > 0 {
		if cfg.CalcMethod != "" && cfg.CalcMethod != MethodTiered {
			return nil, configErr(k, "calc_method", "tiers given with calc_method %q", cfg.CalcMethod)
		}
		tiers := make([]Tier, len(cfg.Tiers))
		for i, tc := range cfg.Tiers {
			tiers[i] = Tier{Rate: tc.RateBps, UpperBound: Unbounded}
			if tc.ThresholdMultiplier != nil {
				tiers[i].UpperBound = UpTo(*tc.ThresholdMultiplier)
			}
		}
		t, err := NewTiers(tiers...)
		if err != nil {
			return nil, err
		}
		return TieredFee{Tiers: t}, nil
	}

	p := NewPricing(cfg.RateBps, cfg.FlatAmount)
	switch cfg.CalcMethod {
	case "":
	case MethodFlat:
		if _, ok := p.(FlatFee); !ok {
			return nil, configErr(k, "flat_amount", "required by calc_method %q", cfg.CalcMethod)
		}
	case MethodPercentage:
		if _, ok := p.(RateFee); !ok && cfg.RateBps == nil {
			return nil, configErr(k, "rate_bps", "required by calc_method %q", cfg.CalcMethod)
		}
	default:
		return nil, configErr(k, "calc_method", "unknown calc_method %q", cfg.CalcMethod)
	}
	return p, nil
}

func checkKindPricing(k Kind, p Pricing) error {
	switch k {
	case KindSubscription:
		if _, ok := p.(TieredFee); ok {
			return configErr(k, "calc_method", "tiers only apply to performance fees")
		}
	case KindManagement:
		switch p.(type) {
		case RateFee, NoCharge:
		default:
			return configErr(k, "calc_method", "management fees are rate based, got %q", p.Method())
		}
	case KindPerformance:
		switch p.(type) {
		case RateFee, TieredFee:
		default:
			return configErr(k, "rate_bps", "performance fees need a rate or tiers")
		}
	case KindSpread:
		if _, ok := p.(NoCharge); !ok {
			return configErr(k, "calc_method", "spread is derived from prices and takes no rate or amount")
		}
	case KindFlat:
		if _, ok := p.(FlatFee); !ok {
			return configErr(k, "flat_amount", "required for flat components")
		}
	}
	return nil
}
