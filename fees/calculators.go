/*
calculators.go - Fee component formulas

FORMULAS:
  Subscription   flat amount if configured, else investment * rate
  Management     investment * rate, times DurationPeriods when upfront
  Performance    max(0, (exit - entry) * shares) * rate
  Tiered perf.   per-band gain * band rate, bands as multiples of entry price
  Spread         max(0, investor price - cost) * shares

ZERO vs ERROR:
  Subscription and management fees are optional and return 0 when nothing
  is priced. Performance and spread return 0 only when there is no gain or
  no positive spread. A missing share count or price is an error.

All results are non-negative and rounded once with RoundCurrency.
*/
package fees

import (
	"github.com/shopspring/decimal"
)

// FeeRequest carries the pricing and transaction facts for one calculation.
// Optional facts are decimal.NullDecimal; a calculator that needs one that is
// not Valid returns a *MissingInputError.
type FeeRequest struct {
	InvestmentAmount      decimal.Decimal
	Pricing               Pricing
	NumShares             decimal.NullDecimal
	EntryPricePerShare    decimal.NullDecimal
	ExitPricePerShare     decimal.NullDecimal
	InvestorPricePerShare decimal.NullDecimal
	CostPerShare          decimal.NullDecimal
	DurationPeriods       int
	Terms                 PerformanceTerms
}

func (r FeeRequest) pricing() Pricing {
	if r.Pricing == nil {
		return NoCharge{}
	}
	return r.Pricing
}

// Value wraps a decimal as a present optional fact.
func Value(d decimal.Decimal) decimal.NullDecimal { return decimal.NewNullDecimal(d) }

// =============================================================================
// SUBSCRIPTION / MANAGEMENT
// =============================================================================

// SubscriptionFee returns the flat amount when one is configured, otherwise
// investment * rate, otherwise 0.
func SubscriptionFee(req FeeRequest) (decimal.Decimal, error) {
	if err := checkInvestment(KindSubscription, req); err != nil {
		return decimal.Zero, err
	}
	switch p := req.pricing().(type) {
	case FlatFee:
		if p.Amount.IsNegative() {
			return decimal.Zero, configErr(KindSubscription, "flat_amount", "must not be negative")
		}
		return RoundCurrency(p.Amount), nil
	case RateFee:
		if !p.Rate.Valid() {
			return decimal.Zero, configErr(KindSubscription, "rate_bps", "%d outside [0, %d]", p.Rate, MaxBps)
		}
		return RoundCurrency(p.Rate.Apply(req.InvestmentAmount)), nil
	case NoCharge:
		return decimal.Zero, nil
	default:
		return decimal.Zero, configErr(KindSubscription, "calc_method", "unsupported pricing %q", p.Method())
	}
}

// ManagementFee returns investment * rate for one period. When upfront is
// set the single-period amount is multiplied by DurationPeriods.
func ManagementFee(req FeeRequest, upfront bool) (decimal.Decimal, error) {
	if err := checkInvestment(KindManagement, req); err != nil {
		return decimal.Zero, err
	}
	switch p := req.pricing().(type) {
	case RateFee:
		if !p.Rate.Valid() {
			return decimal.Zero, configErr(KindManagement, "rate_bps", "%d outside [0, %d]", p.Rate, MaxBps)
		}
		fee := p.Rate.Apply(req.InvestmentAmount)
		if upfront {
			if req.DurationPeriods < 1 {
				return decimal.Zero, configErr(KindManagement, "duration_periods", "upfront fees need at least one period")
			}
			fee = fee.Mul(decimal.NewFromInt(int64(req.DurationPeriods)))
		}
		return RoundCurrency(fee), nil
	case NoCharge:
		return decimal.Zero, nil
	default:
		return decimal.Zero, configErr(KindManagement, "calc_method", "management fees are rate based, got %q", p.Method())
	}
}

// =============================================================================
// PERFORMANCE
// =============================================================================

type priceFacts struct {
	shares, entry, exit decimal.Decimal
}

func performanceFacts(req FeeRequest) (priceFacts, error) {
	var f priceFacts
	var err error
	if f.shares, err = required(KindPerformance, "num_shares", req.NumShares); err != nil {
		return f, err
	}
	if f.entry, err = required(KindPerformance, "entry_price_per_share", req.EntryPricePerShare); err != nil {
		return f, err
	}
	if f.exit, err = required(KindPerformance, "exit_price_per_share", req.ExitPricePerShare); err != nil {
		return f, err
	}
	return f, nil
}

// PerformanceFee returns max(0, (exit - entry) * shares) * rate.
func PerformanceFee(req FeeRequest) (decimal.Decimal, error) {
	p, ok := req.pricing().(RateFee)
	if !ok {
		return decimal.Zero, configErr(KindPerformance, "rate_bps", "simple performance fee needs a rate, got %q", req.pricing().Method())
	}
	if !p.Rate.Valid() {
		return decimal.Zero, configErr(KindPerformance, "rate_bps", "%d outside [0, %d]", p.Rate, MaxBps)
	}
	if err := req.Terms.check(KindPerformance); err != nil {
		return decimal.Zero, err
	}
	f, err := performanceFacts(req)
	if err != nil {
		return decimal.Zero, err
	}
	if f.exit.LessThanOrEqual(f.entry) || f.shares.IsZero() || !passesHurdle(f, req.Terms) {
		return decimal.Zero, nil
	}
	gain := f.exit.Sub(f.entry).Mul(f.shares)
	return RoundCurrency(applyCap(p.Rate.Apply(gain), gain, req.Terms)), nil
}

// TieredPerformanceFee walks the tiers in order. Each tier charges its rate
// on the price band between the previous bound (1x for the first tier) and
// min(exit, this tier's bound). A multiple exactly on a bound is charged
// entirely at the lower tier.
func TieredPerformanceFee(req FeeRequest) (decimal.Decimal, error) {
	p, ok := req.pricing().(TieredFee)
	if !ok || p.Tiers.Len() == 0 {
		return decimal.Zero, configErr(KindPerformance, "tiers", "tiered performance fee needs tiers")
	}
	if err := req.Terms.check(KindPerformance); err != nil {
		return decimal.Zero, err
	}
	f, err := performanceFacts(req)
	if err != nil {
		return decimal.Zero, err
	}
	if !f.entry.IsPositive() {
		return decimal.Zero, configErr(KindPerformance, "entry_price_per_share", "must be positive for tiered fees")
	}
	if f.exit.LessThanOrEqual(f.entry) || f.shares.IsZero() || !passesHurdle(f, req.Terms) {
		return decimal.Zero, nil
	}

	total := decimal.Zero
	low := f.entry
	for _, t := range p.Tiers.tiers {
		high := f.exit
		if !t.UpperBound.IsUnbounded() {
			if bound := f.entry.Mul(t.UpperBound.Multiple()); bound.LessThan(high) {
				high = bound
			}
		}
		if high.LessThanOrEqual(low) {
			break
		}
		total = total.Add(t.Rate.Apply(high.Sub(low).Mul(f.shares)))
		low = high
		if low.GreaterThanOrEqual(f.exit) {
			break
		}
	}

	gain := f.exit.Sub(f.entry).Mul(f.shares)
	return RoundCurrency(applyCap(total, gain, req.Terms)), nil
}

// passesHurdle reports whether the realised return reaches the hurdle rate:
// exit >= entry * (1 + hurdle).
func passesHurdle(f priceFacts, terms PerformanceTerms) bool {
	if terms.HurdleRate == 0 {
		return true
	}
	threshold := f.entry.Add(terms.HurdleRate.Apply(f.entry))
	return f.exit.GreaterThanOrEqual(threshold)
}

// applyCap limits fee to CapPercent of the gain.
func applyCap(fee, gain decimal.Decimal, terms PerformanceTerms) decimal.Decimal {
	if terms.HasNoCap || !terms.CapPercent.Valid {
		return fee
	}
	limit := gain.Mul(terms.CapPercent.Decimal).Div(decimal.NewFromInt(100))
	return decimal.Min(fee, limit)
}

// =============================================================================
// SPREAD
// =============================================================================

// SpreadFee returns max(0, investor price - cost) * shares.
func SpreadFee(req FeeRequest) (decimal.Decimal, error) {
	shares, err := required(KindSpread, "num_shares", req.NumShares)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := required(KindSpread, "investor_price_per_share", req.InvestorPricePerShare)
	if err != nil {
		return decimal.Zero, err
	}
	cost, err := required(KindSpread, "cost_per_share", req.CostPerShare)
	if err != nil {
		return decimal.Zero, err
	}
	diff := price.Sub(cost)
	if !diff.IsPositive() {
		return decimal.Zero, nil
	}
	return RoundCurrency(diff.Mul(shares)), nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Facts are the transaction facts a component is evaluated against.
type Facts struct {
	InvestmentAmount      decimal.Decimal
	NumShares             decimal.NullDecimal
	EntryPricePerShare    decimal.NullDecimal
	ExitPricePerShare     decimal.NullDecimal
	InvestorPricePerShare decimal.NullDecimal
	CostPerShare          decimal.NullDecimal
	Upfront               bool
}

// Request combines a component's configuration with transaction facts.
func (c Component) Request(f Facts) FeeRequest {
	return FeeRequest{
		InvestmentAmount:      f.InvestmentAmount,
		Pricing:               c.Pricing,
		NumShares:             f.NumShares,
		EntryPricePerShare:    f.EntryPricePerShare,
		ExitPricePerShare:     f.ExitPricePerShare,
		InvestorPricePerShare: f.InvestorPricePerShare,
		CostPerShare:          f.CostPerShare,
		DurationPeriods:       c.DurationPeriods,
		Terms:                 c.Terms,
	}
}

// Calculate evaluates a component against facts using the calculator for its
// kind. It is the single entry point used when creating fee events.
func Calculate(c Component, f Facts) (decimal.Decimal, error) {
	req := c.Request(f)
	switch c.Kind {
	case KindSubscription:
		return SubscriptionFee(req)
	case KindManagement:
		return ManagementFee(req, f.Upfront)
	case KindPerformance:
		if _, ok := c.Pricing.(TieredFee); ok {
			return TieredPerformanceFee(req)
		}
		return PerformanceFee(req)
	case KindSpread:
		return SpreadFee(req)
	case KindFlat:
		p, ok := c.Pricing.(FlatFee)
		if !ok {
			return decimal.Zero, configErr(KindFlat, "flat_amount", "required for flat components")
		}
		return RoundCurrency(p.Amount), nil
	default:
		return decimal.Zero, configErr(c.Kind, "kind", "unknown kind %q", c.Kind)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func required(kind Kind, field string, v decimal.NullDecimal) (decimal.Decimal, error) {
	if !v.Valid {
		return decimal.Zero, &MissingInputError{Kind: kind, Field: field}
	}
	if v.Decimal.IsNegative() {
		return decimal.Zero, configErr(kind, field, "must not be negative")
	}
	return v.Decimal, nil
}

func checkInvestment(kind Kind, req FeeRequest) error {
	if req.InvestmentAmount.IsNegative() {
		return configErr(kind, "investment_amount", "must not be negative")
	}
	return nil
}
