package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spendwatch/internal/core"
	"spendwatch/internal/log"
	"spendwatch/internal/store"
)

// Outcome is the result of one budget evaluation.
type Outcome struct {
	Triggered bool
	NoBudget  bool
	// Err is set when the budget or the period total could not be read.
	// Triggered is always false in that case.
	Err       error
	Projected core.Money
	// Threshold is monthly limit × alert threshold, in cents.
	Threshold decimal.Decimal
	Budget    core.Budget
	Period    core.Period
}

func (o Outcome) Failed() bool { return o.Err != nil }

// BudgetEvaluator decides whether an expense pushes the user's current
// calendar-month spend past their alert threshold.
type BudgetEvaluator struct {
	budgets  store.BudgetStore
	expenses store.ExpenseStore
	loc      *time.Location
	logger   *log.Logger
}

func NewBudgetEvaluator(budgets store.BudgetStore, expenses store.ExpenseStore, loc *time.Location, logger *log.Logger) *BudgetEvaluator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &BudgetEvaluator{
		budgets:  budgets,
		expenses: expenses,
		loc:      loc,
		logger:   logger.WithComponent(log.ComponentBudget),
	}
}

// Evaluate checks candidate, which has already been stored, against the
// user's active budget. The candidate is removed from the aggregated total
// when its date falls in the current period so it is counted once.
//
// Evaluate never returns an error: lookup failures are logged and reported
// through Outcome.Err with Triggered false.
func (e *BudgetEvaluator) Evaluate(ctx context.Context, userID string, candidate core.Expense, now time.Time) Outcome {
	period := core.MonthBounds(now.In(e.loc), 0)
	out := Outcome{Period: period}

	budget, err := e.budgets.GetActiveBudget(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		out.NoBudget = true
		return out
	}
	if err != nil {
		return e.failOpen(ctx, out, userID, fmt.Errorf("load budget: %w", err))
	}
	out.Budget = budget
	out.Threshold = budget.ThresholdAmount()

	total, err := e.expenses.SumAmounts(ctx, userID, period.Start, period.End)
	if err != nil {
		return e.failOpen(ctx, out, userID, fmt.Errorf("sum current period: %w", err))
	}
	current := total
	if period.Contains(candidate.ExpenseDate) {
		current = total.Sub(candidate.Amount)
	}

	out.Projected = core.ProjectedTotal(current, candidate.Amount)
	out.Triggered = core.ThresholdCrossed(budget, current, candidate.Amount)

	e.logger.DebugContext(ctx, "Budget evaluated",
		log.FieldUserID, userID,
		log.FieldProjectedCents, out.Projected.Cents,
		log.FieldLimitCents, budget.MonthlyLimit.Cents,
		log.FieldThreshold, budget.AlertThreshold.String(),
		"triggered", out.Triggered)
	return out
}

func (e *BudgetEvaluator) failOpen(ctx context.Context, out Outcome, userID string, err error) Outcome {
	out.Err = err
	e.logger.WarnContext(ctx, "Budget evaluation failed, skipping alert",
		log.FieldUserID, userID,
		log.FieldOperation, log.OpEvaluate,
		log.FieldError, err)
	return out
}
