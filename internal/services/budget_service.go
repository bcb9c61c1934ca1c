package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"spendwatch/internal/core"
	"spendwatch/internal/store"
)

// BudgetInput is a budget upsert request. Nil fields take their defaults.
type BudgetInput struct {
	MonthlyLimit   core.Money
	ResetDay       *int
	AlertThreshold *decimal.Decimal
}

type BudgetService struct {
	budgets store.BudgetStore
}

func NewBudgetService(budgets store.BudgetStore) *BudgetService {
	return &BudgetService{budgets: budgets}
}

// Set replaces the user's budget. The new budget is always active.
func (s *BudgetService) Set(ctx context.Context, userID string, in BudgetInput) (core.Budget, error) {
	b := core.NewBudget(userID, in.MonthlyLimit)
	if in.ResetDay != nil {
		b.ResetDay = *in.ResetDay
	}
	if in.AlertThreshold != nil {
		b.AlertThreshold = *in.AlertThreshold
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	saved, err := s.budgets.UpsertBudget(ctx, b)
	if err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}
	return saved, nil
}

// Get returns store.ErrNotFound when no budget is set.
func (s *BudgetService) Get(ctx context.Context, userID string) (core.Budget, error) {
	return s.budgets.GetActiveBudget(ctx, userID)
}
