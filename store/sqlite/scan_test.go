package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/billing"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2025, time.June, 30, 17, 0, 0, 500, time.UTC)
	got, err := parseTime(formatTime(want))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = parseTime("yesterday")
	assert.ErrorContains(t, err, "yesterday")
}

func TestScan_CorruptTimestampIsAnError(t *testing.T) {
	// GIVEN: A stored fee event whose created_at was overwritten with garbage
	// WHEN: Reading it back
	// THEN: The read fails instead of returning a zero time

	ctx := context.Background()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.SaveFeeEvent(ctx, billing.FeeEvent{
		ID:             "fe-1",
		FeeType:        billing.FeeManagement,
		ComputedAmount: decimal.NewFromInt(10),
		Currency:       "USD",
		Status:         billing.FeeEventAccrued,
		EventDate:      time.Now(),
		CreatedAt:      time.Now(),
	}))
	_, err = s.db.ExecContext(ctx, "UPDATE fee_events SET created_at = 'yesterday' WHERE id = 'fe-1'")
	require.NoError(t, err)

	_, err = s.GetFeeEvent(ctx, "fe-1")
	assert.ErrorContains(t, err, "fe-1")
	assert.ErrorContains(t, err, "yesterday")

	_, err = s.ListFeeEvents(ctx, "")
	assert.Error(t, err)
}
