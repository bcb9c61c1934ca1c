package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MonthComparison is the current vs. previous calendar month summary.
type MonthComparison struct {
	CurrentMonthTotal Money
	LastMonthTotal    Money
	PercentChange     int64
}

// CategoryShare is one row of a category breakdown.
type CategoryShare struct {
	Category   Category
	Amount     Money
	Percentage int64
}

// MonthSpend is the total spent in one month of a yearly series.
type MonthSpend struct {
	Month time.Month
	Spent Money
}

// MonthlyReport is a twelve-month series for one calendar year plus the
// month-over-month comparison for the reference month.
type MonthlyReport struct {
	Year   int
	Months []MonthSpend
	MonthComparison
}

// Percent rounding is half away from zero on the whole-number percentage
// (12.5 -> 13, -12.5 -> -13).
func roundPercent(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// PercentChange returns round((current-prior)/prior × 100), or 0 when prior is 0.
func PercentChange(current, prior Money) int64 {
	if prior.Cents == 0 {
		return 0
	}
	delta := decimal.NewFromInt(current.Cents - prior.Cents)
	return roundPercent(delta.Mul(hundred).Div(decimal.NewFromInt(prior.Cents)))
}

// Compare builds the month-over-month summary from two totals.
func Compare(current, prior Money) MonthComparison {
	return MonthComparison{
		CurrentMonthTotal: current,
		LastMonthTotal:    prior,
		PercentChange:     PercentChange(current, prior),
	}
}

// Breakdown turns per-category totals into shares of the overall total.
//
// Percentages are rounded individually and not normalised to 100. When the
// total is zero every row reports 0. Rows are ordered by amount descending,
// ties by category name. An empty input yields an empty, non-nil slice.
func Breakdown(totals map[Category]Money) []CategoryShare {
	shares := make([]CategoryShare, 0, len(totals))
	var total int64
	for _, amt := range totals {
		total += amt.Cents
	}
	for cat, amt := range totals {
		share := CategoryShare{Category: cat, Amount: amt}
		if total != 0 {
			share.Percentage = roundPercent(decimal.NewFromInt(amt.Cents).Mul(hundred).Div(decimal.NewFromInt(total)))
		}
		shares = append(shares, share)
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Amount.Cents != shares[j].Amount.Cents {
			return shares[i].Amount.Cents > shares[j].Amount.Cents
		}
		return shares[i].Category < shares[j].Category
	})
	return shares
}

// ProjectedTotal is the period spend once the candidate expense is counted.
func ProjectedTotal(currentExcludingCandidate, candidate Money) Money {
	return currentExcludingCandidate.Add(candidate)
}

// ThresholdCrossed reports whether adding candidate to the current period
// total strictly exceeds monthlyLimit × alertThreshold.
func ThresholdCrossed(b Budget, currentExcludingCandidate, candidate Money) bool {
	projected := decimal.NewFromInt(ProjectedTotal(currentExcludingCandidate, candidate).Cents)
	return projected.GreaterThan(b.ThresholdAmount())
}
