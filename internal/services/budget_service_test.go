package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwatch/internal/core"
	"spendwatch/internal/store"
	"spendwatch/internal/store/memory"
)

func TestBudgetService_SetAndGet(t *testing.T) {
	svc := NewBudgetService(memory.New())
	ctx := context.Background()

	_, err := svc.Get(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	b, err := svc.Set(ctx, "u1", BudgetInput{MonthlyLimit: core.Money{Cents: 100000}})
	require.NoError(t, err)
	assert.Equal(t, core.DefaultResetDay, b.ResetDay)
	assert.True(t, b.AlertThreshold.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, b.IsActive)

	day := 15
	th := decimal.RequireFromString("0.5")
	b2, err := svc.Set(ctx, "u1", BudgetInput{MonthlyLimit: core.Money{Cents: 50000}, ResetDay: &day, AlertThreshold: &th})
	require.NoError(t, err)
	assert.Equal(t, 15, b2.ResetDay)
	assert.True(t, b2.CreatedAt.Equal(b.CreatedAt), "created_at survives the upsert")

	got, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), got.MonthlyLimit.Cents)
}

func TestBudgetService_Validation(t *testing.T) {
	svc := NewBudgetService(memory.New())
	zero := 0
	over := decimal.RequireFromString("1.5")

	_, err := svc.Set(context.Background(), "u1", BudgetInput{})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = svc.Set(context.Background(), "u1", BudgetInput{MonthlyLimit: core.Money{Cents: 1}, ResetDay: &zero})
	assert.ErrorIs(t, err, core.ErrInvalidResetDay)
	_, err = svc.Set(context.Background(), "u1", BudgetInput{MonthlyLimit: core.Money{Cents: 1}, AlertThreshold: &over})
	assert.ErrorIs(t, err, core.ErrInvalidThreshold)
}
