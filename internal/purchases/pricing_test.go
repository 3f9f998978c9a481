package purchases

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitPriceForTiers(t *testing.T) {
	tests := []struct {
		credits int
		want    string
	}{
		{credits: 10, want: "0.05"},
		{credits: 99, want: "0.05"},
		{credits: 100, want: "0.045"},
		{credits: 499, want: "0.045"},
		{credits: 500, want: "0.04"},
		{credits: 999, want: "0.04"},
		{credits: 1000, want: "0.035"},
		{credits: 2499, want: "0.035"},
		{credits: 2500, want: "0.03"},
		{credits: 5000, want: "0.03"},
	}

	for _, tt := range tests {
		got := UnitPriceFor(tt.credits)
		assert.Equal(t, tt.want, got.String(), "credits=%d", tt.credits)
	}
}

func TestAmountCentsBillsWholeQuantityAtOneTier(t *testing.T) {
	tests := []struct {
		credits int
		want    int64
	}{
		{credits: 10, want: 50},
		{credits: 99, want: 495},
		{credits: 100, want: 450},
		{credits: 250, want: 1125},
		{credits: 500, want: 2000},
		{credits: 1000, want: 3500},
		{credits: 2500, want: 7500},
		{credits: 5000, want: 15000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, AmountCents(tt.credits), "credits=%d", tt.credits)
	}
}

func TestTierBoundaryCanCostLessThanSmallerQuantity(t *testing.T) {
	// 99 credits at $0.050 costs more than 100 at $0.045; the schedule is
	// intentionally not monotonic at boundaries.
	assert.Greater(t, AmountCents(99), AmountCents(100))
}
