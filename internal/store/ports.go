// Package store defines the persistence ports the services depend on.
//
// Every read and aggregate is scoped by user id; implementations never
// return rows that belong to another user.
package store

import (
	"context"
	"errors"
	"time"

	"spendwatch/internal/core"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// ExpenseStore persists expenses and their receipts and answers the
// date-range aggregations used by reports and budget checks.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	AttachReceipt(ctx context.Context, r core.Receipt) (core.Receipt, error)
	GetExpense(ctx context.Context, userID, id string) (core.Expense, error)
	// ListExpenses returns the user's expenses, newest expense_date first.
	ListExpenses(ctx context.Context, userID string) ([]core.Expense, error)
	// SumAmounts totals expenses with start <= expense_date < end; zero when none.
	SumAmounts(ctx context.Context, userID string, start, end time.Time) (core.Money, error)
	// SumByCategory groups the same range by category.
	SumByCategory(ctx context.Context, userID string, start, end time.Time) (map[core.Category]core.Money, error)
}

type BudgetStore interface {
	// UpsertBudget replaces the user's budget, keeping the original created_at.
	UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	// GetActiveBudget returns ErrNotFound when the user has no active budget.
	GetActiveBudget(ctx context.Context, userID string) (core.Budget, error)
}

type UserStore interface {
	// CreateUser returns ErrConflict when the email is taken.
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUser(ctx context.Context, id string) (core.User, error)
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	SetTelegramChatID(ctx context.Context, userID string, chatID int64) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, s core.Session) error
	GetSession(ctx context.Context, token string) (core.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Store is the full persistence surface a backend provides.
type Store interface {
	ExpenseStore
	BudgetStore
	UserStore
	SessionStore
	Ping(ctx context.Context) error
	Close() error
}

// Stamp fills CreatedAt/UpdatedAt style fields when the caller left them zero.
func Stamp(t *time.Time, now time.Time) {
	if t.IsZero() {
		*t = now.UTC()
	}
}
