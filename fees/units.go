/*
Package fees provides the fee and commission calculation library.

PURPOSE:
  Pure financial formulas for an investment platform: subscription,
  management, simple and tiered performance fees, spread/markup, and
  introducer/partner commissions. Every function takes plain values and
  returns plain values. Nothing here performs I/O or keeps state, so every
  function is safe to call concurrently.

KEY CONCEPTS IN THIS FILE (units.go):
  - Bps: Integer basis points (10000 bps = 100%)
  - Conversions between bps and decimal fractions
  - Locale-stable display formatting for amounts and rates

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. One rounding step: calculators round their final result to the currency
     minor unit with banker's rounding; intermediates stay exact
  3. Explicit configuration: see component.go for the pricing tagged union

USAGE:
  fee, err := fees.SubscriptionFee(fees.FeeRequest{
      InvestmentAmount: decimal.NewFromInt(100000),
      Pricing:          fees.RateFee{Rate: 200},
  })
  fmt.Println(fees.FormatCurrency(fee)) // $2,000.00

SEE ALSO:
  - component.go: Fee component configuration
  - calculators.go: Fee formulas
  - commission.go: Commission formulas
*/
package fees

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BASIS POINTS
// =============================================================================

// Bps is a rate in basis points. 1 bps = 0.01%, 10000 bps = 100%.
type Bps int

// MaxBps is the upper bound of a valid rate.
const MaxBps Bps = 10000

// DefaultCurrency is used wherever a record carries no currency code.
const DefaultCurrency = "USD"

// MinorUnitPlaces is the number of fraction digits amounts are rounded to.
const MinorUnitPlaces = 2

// Valid reports whether b lies in [0, 10000].
func (b Bps) Valid() bool { return b >= 0 && b <= MaxBps }

// Fraction returns the rate as a decimal fraction (200 bps -> 0.02).
func (b Bps) Fraction() decimal.Decimal { return BpsToPercent(b) }

// Apply returns amount * b / 10000, unrounded.
func (b Bps) Apply(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(b.Fraction())
}

func (b Bps) String() string { return FormatBps(b) }

// BpsToPercent converts basis points to a decimal fraction: bps / 10000.
// The result is exact.
func BpsToPercent(b Bps) decimal.Decimal {
	return decimal.New(int64(b), -4)
}

// PercentToBps converts a decimal fraction to basis points: round(p * 10000).
// It is the exact inverse of BpsToPercent for every multiple of 0.0001.
func PercentToBps(p decimal.Decimal) Bps {
	return Bps(p.Shift(4).Round(0).IntPart())
}

// RoundCurrency rounds an amount to the currency minor unit using banker's
// rounding. Every calculator applies it exactly once, to its final result.
func RoundCurrency(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(MinorUnitPlaces)
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatCurrency renders an amount as US dollars, e.g. "$1,234.56".
func FormatCurrency(amount decimal.Decimal) string {
	return FormatMoney(amount, DefaultCurrency)
}

// FormatMoney renders an amount in the given ISO 4217 currency using fixed
// separators, so the output does not depend on the host locale.
// Unknown codes fall back to "1234.56 XYZ".
func FormatMoney(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return fmt.Sprintf("%s %s", amount.StringFixedBank(MinorUnitPlaces), code)
	}
	minor := amount.Shift(int32(cur.Fraction)).RoundBank(0).IntPart()
	return cur.Formatter().Format(minor)
}

// FormatBps renders a rate as a percentage with two decimals, e.g. "2.00%".
func FormatBps(b Bps) string {
	return BpsToPercent(b).Shift(2).StringFixed(2) + "%"
}

// PaymentTerms renders the payment-term text for a component's
// payment_days_after_event setting.
func PaymentTerms(daysAfterEvent int) string {
	switch {
	case daysAfterEvent <= 0:
		return "Payment due upon event"
	case daysAfterEvent == 1:
		return "Payment due within 1 day of event"
	default:
		return fmt.Sprintf("Payment due within %d days of event", daysAfterEvent)
	}
}
