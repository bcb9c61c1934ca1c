package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func euros(v int64) Money { return Money{Cents: v * 100} }

func TestThresholdCrossed(t *testing.T) {
	budget := NewBudget("u1", euros(1000))

	tests := []struct {
		name      string
		current   Money
		candidate Money
		want      bool
	}{
		{"over threshold", euros(700), euros(150), true},
		{"under threshold", euros(700), euros(50), false},
		{"exactly at threshold is not crossed", euros(700), euros(100), false},
		{"one cent over", euros(700), Money{Cents: 10001}, true},
		{"first expense crosses alone", Money{}, euros(900), true},
		{"already over and small add", euros(950), Money{Cents: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ThresholdCrossed(budget, tt.current, tt.candidate))
		})
	}
}

func TestThresholdCrossedUsesExactDecimal(t *testing.T) {
	// 0.1 × 0.3 style float drift must not flip the comparison.
	b := NewBudget("u1", Money{Cents: 30})
	b.AlertThreshold = decimal.RequireFromString("0.1")
	assert.False(t, ThresholdCrossed(b, Money{}, Money{Cents: 3}))
	assert.True(t, ThresholdCrossed(b, Money{}, Money{Cents: 4}))
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name           string
		current, prior Money
		want           int64
	}{
		{"increase", euros(250), euros(200), 25},
		{"decrease", euros(150), euros(200), -25},
		{"no prior", euros(500), Money{}, 0},
		{"both zero", Money{}, Money{}, 0},
		{"current zero", Money{}, euros(80), -100},
		{"half rounds up", Money{Cents: 201}, Money{Cents: 200}, 1},          // 0.5%
		{"negative half rounds away", Money{Cents: 199}, Money{Cents: 200}, -1}, // -0.5%
		{"below half rounds down", Money{Cents: 1001}, Money{Cents: 1000}, 0},   // 0.1%
		{"doubling", euros(400), euros(200), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentChange(tt.current, tt.prior))
		})
	}
}

func TestCompare(t *testing.T) {
	got := Compare(euros(250), euros(200))
	assert.Equal(t, MonthComparison{CurrentMonthTotal: euros(250), LastMonthTotal: euros(200), PercentChange: 25}, got)
}

func TestBreakdown(t *testing.T) {
	t.Run("two categories", func(t *testing.T) {
		got := Breakdown(map[Category]Money{
			CategoryTransport: euros(100),
			CategoryFood:      euros(300),
		})
		require.Len(t, got, 2)
		assert.Equal(t, CategoryShare{Category: CategoryFood, Amount: euros(300), Percentage: 75}, got[0])
		assert.Equal(t, CategoryShare{Category: CategoryTransport, Amount: euros(100), Percentage: 25}, got[1])
	})

	t.Run("empty input", func(t *testing.T) {
		got := Breakdown(nil)
		require.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("zero total reports zero percent", func(t *testing.T) {
		got := Breakdown(map[Category]Money{CategoryFood: {}})
		require.Len(t, got, 1)
		assert.Equal(t, int64(0), got[0].Percentage)
	})

	t.Run("rounded shares need not sum to 100", func(t *testing.T) {
		got := Breakdown(map[Category]Money{
			CategoryFood:      euros(1),
			CategoryRent:      euros(1),
			CategoryTransport: euros(1),
		})
		var sum int64
		for _, s := range got {
			assert.Equal(t, int64(33), s.Percentage)
			sum += s.Percentage
		}
		assert.Equal(t, int64(99), sum)
		assert.Equal(t, CategoryFood, got[0].Category, "ties ordered by name")
	})

	t.Run("each category once", func(t *testing.T) {
		got := Breakdown(map[Category]Money{CategoryFood: euros(5), CategoryOther: euros(5)})
		seen := map[Category]bool{}
		for _, s := range got {
			assert.False(t, seen[s.Category])
			seen[s.Category] = true
		}
	})
}
