package fees_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/fees"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func val(s string) decimal.NullDecimal {
	return fees.Value(dec(s))
}

func bps(b fees.Bps) *fees.Bps { return &b }

func amt(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}

func twoTiers(t *testing.T) fees.Tiers {
	t.Helper()
	tiers, err := fees.NewTiers(
		fees.Tier{Rate: 2000, UpperBound: fees.UpTo(dec("10"))},
		fees.Tier{Rate: 3000, UpperBound: fees.Unbounded},
	)
	require.NoError(t, err)
	return tiers
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

func TestSubscriptionFee_FlatWinsOverRate(t *testing.T) {
	fee, err := fees.SubscriptionFee(fees.FeeRequest{
		InvestmentAmount: dec("100000"),
		Pricing:          fees.NewPricing(bps(200), amt("1500")),
	})
	require.NoError(t, err)
	assertAmount(t, "1500", fee)
}

func TestSubscriptionFee_RatePath(t *testing.T) {
	fee, err := fees.SubscriptionFee(fees.FeeRequest{
		InvestmentAmount: dec("100000"),
		Pricing:          fees.NewPricing(bps(200), nil),
	})
	require.NoError(t, err)
	assertAmount(t, "2000", fee)
}

func TestSubscriptionFee_NothingConfigured_IsZero(t *testing.T) {
	fee, err := fees.SubscriptionFee(fees.FeeRequest{InvestmentAmount: dec("100000")})
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
}

func TestSubscriptionFee_RoundsToCents(t *testing.T) {
	// 1234.565 * 1% = 12.34565 -> 12.35 (banker's rounding only matters on an exact half)
	fee, err := fees.SubscriptionFee(fees.FeeRequest{
		InvestmentAmount: dec("1234.565"),
		Pricing:          fees.RateFee{Rate: 100},
	})
	require.NoError(t, err)
	assertAmount(t, "12.35", fee)
}

func TestSubscriptionFee_NegativeInvestment_Rejected(t *testing.T) {
	_, err := fees.SubscriptionFee(fees.FeeRequest{
		InvestmentAmount: dec("-1"),
		Pricing:          fees.RateFee{Rate: 100},
	})
	assert.ErrorIs(t, err, fees.ErrInvalidConfig)
}

// =============================================================================
// MANAGEMENT
// =============================================================================

func TestManagementFee_SinglePeriod(t *testing.T) {
	fee, err := fees.ManagementFee(fees.FeeRequest{
		InvestmentAmount: dec("100000"),
		Pricing:          fees.RateFee{Rate: 200},
		DurationPeriods:  4,
	}, false)
	require.NoError(t, err)
	assertAmount(t, "2000", fee)
}

func TestManagementFee_UpfrontMultiPeriod(t *testing.T) {
	fee, err := fees.ManagementFee(fees.FeeRequest{
		InvestmentAmount: dec("100000"),
		Pricing:          fees.RateFee{Rate: 200},
		DurationPeriods:  4,
	}, true)
	require.NoError(t, err)
	assertAmount(t, "8000", fee)
}

func TestManagementFee_UpfrontWithoutPeriods_Rejected(t *testing.T) {
	_, err := fees.ManagementFee(fees.FeeRequest{
		InvestmentAmount: dec("100000"),
		Pricing:          fees.RateFee{Rate: 200},
	}, true)
	assert.ErrorIs(t, err, fees.ErrInvalidConfig)
}

func TestManagementFee_NoRate_IsZero(t *testing.T) {
	fee, err := fees.ManagementFee(fees.FeeRequest{InvestmentAmount: dec("100000")}, true)
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
}

// =============================================================================
// SIMPLE PERFORMANCE
// =============================================================================

func perfRequest(entry, exit string, pricing fees.Pricing) fees.FeeRequest {
	return fees.FeeRequest{
		Pricing:            pricing,
		NumShares:          val("1000"),
		EntryPricePerShare: val(entry),
		ExitPricePerShare:  val(exit),
	}
}

func TestPerformanceFee_Gain(t *testing.T) {
	fee, err := fees.PerformanceFee(perfRequest("10", "50", fees.RateFee{Rate: 2000}))
	require.NoError(t, err)
	assertAmount(t, "8000", fee)
}

func TestPerformanceFee_Loss_IsZero(t *testing.T) {
	fee, err := fees.PerformanceFee(perfRequest("50", "10", fees.RateFee{Rate: 2000}))
	require.NoError(t, err)
	assert.True(t, fee.IsZero())

	fee, err = fees.PerformanceFee(perfRequest("10", "10", fees.RateFee{Rate: 2000}))
	require.NoError(t, err)
	assert.True(t, fee.IsZero(), "flat price is not a gain")
}

func TestPerformanceFee_MissingShares_IsError(t *testing.T) {
	req := perfRequest("10", "50", fees.RateFee{Rate: 2000})
	req.NumShares = decimal.NullDecimal{}

	_, err := fees.PerformanceFee(req)

	var missing *fees.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "num_shares", missing.Field)
	assert.True(t, fees.IsConfigError(err))
}

func TestPerformanceFee_HurdleNotReached_IsZero(t *testing.T) {
	// GIVEN: 8% hurdle, realised return 5%
	req := perfRequest("100", "105", fees.RateFee{Rate: 2000})
	req.Terms.HurdleRate = 800

	fee, err := fees.PerformanceFee(req)
	require.NoError(t, err)
	assert.True(t, fee.IsZero())

	// WHEN: return reaches the hurdle exactly
	req.ExitPricePerShare = val("108")
	fee, err = fees.PerformanceFee(req)
	require.NoError(t, err)
	assertAmount(t, "1600", fee) // 8 * 1000 * 20%
}

func TestPerformanceFee_CapLimitsFee(t *testing.T) {
	// GIVEN: 20% rate capped at 10% of the gain
	req := perfRequest("10", "50", fees.RateFee{Rate: 2000})
	req.Terms.CapPercent = val("10")

	fee, err := fees.PerformanceFee(req)
	require.NoError(t, err)
	assertAmount(t, "4000", fee)

	req.Terms.HasNoCap = true
	fee, err = fees.PerformanceFee(req)
	require.NoError(t, err)
	assertAmount(t, "8000", fee)
}

func TestPerformanceFee_CatchupAndHighWaterMark_Unsupported(t *testing.T) {
	req := perfRequest("10", "50", fees.RateFee{Rate: 2000})
	req.Terms.HasCatchup = true
	_, err := fees.PerformanceFee(req)
	assert.ErrorIs(t, err, fees.ErrUnsupportedModifier)

	req.Terms = fees.PerformanceTerms{HasHighWaterMark: true}
	_, err = fees.TieredPerformanceFee(perfRequestTiered(t, req))
	assert.ErrorIs(t, err, fees.ErrUnsupportedModifier)
}

func perfRequestTiered(t *testing.T, base fees.FeeRequest) fees.FeeRequest {
	base.Pricing = fees.TieredFee{Tiers: twoTiers(t)}
	return base
}

// =============================================================================
// TIERED PERFORMANCE
// =============================================================================

func TestTieredPerformanceFee_SplitsAcrossThreshold(t *testing.T) {
	// GIVEN: 20% up to 10x, 30% above; entry 10, exit 120 (12x)
	// THEN: 0->10x band at 20% (18000) + 10x->12x band at 30% (6000)
	fee, err := fees.TieredPerformanceFee(perfRequest("10", "120", fees.TieredFee{Tiers: twoTiers(t)}))
	require.NoError(t, err)
	assertAmount(t, "24000", fee)
}

func TestTieredPerformanceFee_ExactlyOnThreshold_BelongsToLowerTier(t *testing.T) {
	fee, err := fees.TieredPerformanceFee(perfRequest("10", "100", fees.TieredFee{Tiers: twoTiers(t)}))
	require.NoError(t, err)
	assertAmount(t, "18000", fee)
}

func TestTieredPerformanceFee_WithinFirstTier(t *testing.T) {
	fee, err := fees.TieredPerformanceFee(perfRequest("10", "50", fees.TieredFee{Tiers: twoTiers(t)}))
	require.NoError(t, err)
	assertAmount(t, "8000", fee)
}

func TestTieredPerformanceFee_NoGain_IsZero(t *testing.T) {
	fee, err := fees.TieredPerformanceFee(perfRequest("10", "5", fees.TieredFee{Tiers: twoTiers(t)}))
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
}

func TestTieredPerformanceFee_ThreeTiers(t *testing.T) {
	tiers, err := fees.NewTiers(
		fees.Tier{Rate: 1000, UpperBound: fees.UpTo(dec("2"))},
		fees.Tier{Rate: 2000, UpperBound: fees.UpTo(dec("5"))},
		fees.Tier{Rate: 3000, UpperBound: fees.Unbounded},
	)
	require.NoError(t, err)

	// entry 10, exit 60 (6x), 100 shares
	// 1x-2x: 10*100*10% = 100; 2x-5x: 30*100*20% = 600; 5x-6x: 10*100*30% = 300
	fee, err := fees.TieredPerformanceFee(fees.FeeRequest{
		Pricing:            fees.TieredFee{Tiers: tiers},
		NumShares:          val("100"),
		EntryPricePerShare: val("10"),
		ExitPricePerShare:  val("60"),
	})
	require.NoError(t, err)
	assertAmount(t, "1000", fee)
}

func TestTieredPerformanceFee_ZeroEntryPrice_Rejected(t *testing.T) {
	_, err := fees.TieredPerformanceFee(perfRequest("0", "10", fees.TieredFee{Tiers: twoTiers(t)}))
	assert.ErrorIs(t, err, fees.ErrInvalidConfig)
}

func TestTieredPerformanceFee_WithoutTiers_Rejected(t *testing.T) {
	_, err := fees.TieredPerformanceFee(perfRequest("10", "120", fees.TieredFee{}))
	assert.ErrorIs(t, err, fees.ErrInvalidConfig)
}

// =============================================================================
// SPREAD
// =============================================================================

func TestSpreadFee(t *testing.T) {
	req := fees.FeeRequest{
		NumShares:             val("1000"),
		InvestorPricePerShare: val("15"),
		CostPerShare:          val("10"),
	}
	fee, err := fees.SpreadFee(req)
	require.NoError(t, err)
	assertAmount(t, "5000", fee)

	req.InvestorPricePerShare = val("10")
	fee, err = fees.SpreadFee(req)
	require.NoError(t, err)
	assert.True(t, fee.IsZero())

	req.InvestorPricePerShare = val("8")
	fee, err = fees.SpreadFee(req)
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
}

func TestSpreadFee_MissingCost_IsError(t *testing.T) {
	_, err := fees.SpreadFee(fees.FeeRequest{
		NumShares:             val("1000"),
		InvestorPricePerShare: val("15"),
	})
	assert.ErrorIs(t, err, fees.ErrMissingInput)
}

// =============================================================================
// CALCULATE
// =============================================================================

func TestCalculate_DispatchesOnKind(t *testing.T) {
	facts := fees.Facts{
		InvestmentAmount:      dec("100000"),
		NumShares:             val("1000"),
		EntryPricePerShare:    val("10"),
		ExitPricePerShare:     val("120"),
		InvestorPricePerShare: val("15"),
		CostPerShare:          val("10"),
		Upfront:               true,
	}

	tests := []struct {
		name string
		cfg  fees.ComponentConfig
		want string
	}{
		{"subscription", fees.ComponentConfig{Kind: fees.KindSubscription, RateBps: bps(200)}, "2000"},
		{"management upfront", fees.ComponentConfig{Kind: fees.KindManagement, RateBps: bps(200), DurationPeriods: 4}, "8000"},
		{"simple performance", fees.ComponentConfig{Kind: fees.KindPerformance, RateBps: bps(2000)}, "22000"},
		{"tiered performance", fees.ComponentConfig{Kind: fees.KindPerformance, Tiers: []fees.TierConfig{
			{RateBps: 2000, ThresholdMultiplier: amt("10")},
			{RateBps: 3000},
		}}, "24000"},
		{"spread", fees.ComponentConfig{Kind: fees.KindSpread}, "5000"},
		{"flat", fees.ComponentConfig{Kind: fees.KindFlat, FlatAmount: amt("250000")}, "250000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := fees.NewComponent(tt.cfg)
			require.NoError(t, err)

			got, err := fees.Calculate(c, facts)
			require.NoError(t, err)
			assertAmount(t, tt.want, got)
		})
	}
}
