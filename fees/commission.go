package fees

import "github.com/shopspring/decimal"

// IntroducerCommission returns grossFee * commissionBps / 10000.
func IntroducerCommission(grossFee decimal.Decimal, commission Bps) decimal.Decimal {
	return RoundCurrency(commission.Apply(grossFee))
}

// NetFeeRetained is what the fee-taking entity keeps after paying the
// introducer: grossFee - IntroducerCommission(grossFee, commission).
func NetFeeRetained(grossFee decimal.Decimal, commission Bps) decimal.Decimal {
	return RoundCurrency(grossFee).Sub(IntroducerCommission(grossFee, commission))
}

// TotalWireAmount is the amount the investor wires: the investment plus the
// rate-based subscription fee on it.
func TotalWireAmount(investment decimal.Decimal, subscriptionFee Bps) decimal.Decimal {
	return RoundCurrency(investment).Add(RoundCurrency(subscriptionFee.Apply(investment)))
}
