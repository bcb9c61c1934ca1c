package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spendwatch/internal/core"
	"spendwatch/internal/notify"
	"spendwatch/internal/store/memory"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore fails the selected aggregate and budget calls.
type flakyStore struct {
	*memory.Store
	failSum    bool
	failBudget bool
	failMonth  time.Month
}

func (f *flakyStore) SumAmounts(ctx context.Context, userID string, start, end time.Time) (core.Money, error) {
	if f.failSum || (f.failMonth != 0 && start.Month() == f.failMonth) {
		return core.Money{}, errStoreDown
	}
	return f.Store.SumAmounts(ctx, userID, start, end)
}

func (f *flakyStore) GetActiveBudget(ctx context.Context, userID string) (core.Budget, error) {
	if f.failBudget {
		return core.Budget{}, errStoreDown
	}
	return f.Store.GetActiveBudget(ctx, userID)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []notify.Alert
	err    error
	done   chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan struct{}, 16)}
}

func (d *recordingDispatcher) NotifyBudgetAlert(_ context.Context, a notify.Alert) error {
	d.mu.Lock()
	d.alerts = append(d.alerts, a)
	d.mu.Unlock()
	d.done <- struct{}{}
	return d.err
}

func (d *recordingDispatcher) Alerts() []notify.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Alert(nil), d.alerts...)
}

func money(t *testing.T, s string) core.Money {
	t.Helper()
	cents, err := core.ParseDecimalToCents(s)
	require.NoError(t, err)
	return core.Money{Cents: cents}
}

func seedExpense(t *testing.T, st *memory.Store, id, userID, amount string, cat core.Category, at time.Time) {
	t.Helper()
	_, err := st.CreateExpense(context.Background(), core.Expense{
		ID: id, UserID: userID, Amount: money(t, amount), Category: cat, ExpenseDate: at,
	})
	require.NoError(t, err)
}

func seedBudget(t *testing.T, st *memory.Store, userID, limit string) {
	t.Helper()
	_, err := st.UpsertBudget(context.Background(), core.NewBudget(userID, money(t, limit)))
	require.NoError(t, err)
}
