// Package memory is an in-process Store used by tests and throwaway runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spendwatch/internal/core"
	"spendwatch/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	expenses map[string]core.Expense
	receipts map[string]core.Receipt // by expense id
	budgets  map[string]core.Budget
	users    map[string]core.User
	emails   map[string]string
	sessions map[string]core.Session
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		expenses: make(map[string]core.Expense),
		receipts: make(map[string]core.Receipt),
		budgets:  make(map[string]core.Budget),
		users:    make(map[string]core.User),
		emails:   make(map[string]string),
		sessions: make(map[string]core.Session),
		now:      time.Now,
	}
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[e.ID]; ok {
		return core.Expense{}, store.ErrConflict
	}
	now := s.now()
	store.Stamp(&e.CreatedAt, now)
	store.Stamp(&e.UpdatedAt, now)
	e.ExpenseDate = e.ExpenseDate.UTC()
	e.Receipt = nil
	s.expenses[e.ID] = e
	return e, nil
}

func (s *Store) AttachReceipt(_ context.Context, r core.Receipt) (core.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expenses[r.ExpenseID]; !ok {
		return core.Receipt{}, store.ErrNotFound
	}
	if _, ok := s.receipts[r.ExpenseID]; ok {
		return core.Receipt{}, store.ErrConflict
	}
	store.Stamp(&r.UploadedAt, s.now())
	s.receipts[r.ExpenseID] = r
	return r, nil
}

func (s *Store) GetExpense(_ context.Context, userID, id string) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.Expense{}, store.ErrNotFound
	}
	return s.withReceipt(e), nil
}

func (s *Store) ListExpenses(_ context.Context, userID string) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Expense, 0)
	for _, e := range s.expenses {
		if e.UserID == userID {
			out = append(out, s.withReceipt(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpenseDate.Equal(out[j].ExpenseDate) {
			return out[i].ExpenseDate.After(out[j].ExpenseDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) withReceipt(e core.Expense) core.Expense {
	if r, ok := s.receipts[e.ID]; ok {
		e.Receipt = &r
	}
	return e
}

func (s *Store) SumAmounts(_ context.Context, userID string, start, end time.Time) (core.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := core.Period{Start: start, End: end}
	var total core.Money
	for _, e := range s.expenses {
		if e.UserID == userID && p.Contains(e.ExpenseDate) {
			var err error
			if total, err = total.CheckedAdd(e.Amount); err != nil {
				return core.Money{}, fmt.Errorf("sum amounts: %w", err)
			}
		}
	}
	return total, nil
}

func (s *Store) SumByCategory(_ context.Context, userID string, start, end time.Time) (map[core.Category]core.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := core.Period{Start: start, End: end}
	totals := make(map[core.Category]core.Money)
	for _, e := range s.expenses {
		if e.UserID == userID && p.Contains(e.ExpenseDate) {
			sum, err := totals[e.Category].CheckedAdd(e.Amount)
			if err != nil {
				return nil, fmt.Errorf("sum %s amounts: %w", e.Category, err)
			}
			totals[e.Category] = sum
		}
	}
	return totals, nil
}

func (s *Store) UpsertBudget(_ context.Context, b core.Budget) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	b.IsActive = true
	b.UpdatedAt = now
	if prev, ok := s.budgets[b.UserID]; ok {
		b.CreatedAt = prev.CreatedAt
	} else {
		b.CreatedAt = now
	}
	s.budgets[b.UserID] = b
	return b, nil
}

func (s *Store) GetActiveBudget(_ context.Context, userID string) (core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.budgets[userID]
	if !ok || !b.IsActive {
		return core.Budget{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = core.NormalizeEmail(u.Email)
	if _, taken := s.emails[u.Email]; taken {
		return core.User{}, store.ErrConflict
	}
	if _, taken := s.users[u.ID]; taken {
		return core.User{}, store.ErrConflict
	}
	now := s.now()
	store.Stamp(&u.CreatedAt, now)
	store.Stamp(&u.UpdatedAt, now)
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return core.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[core.NormalizeEmail(email)]
	if !ok {
		return core.User{}, store.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) SetTelegramChatID(_ context.Context, userID string, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.TelegramChatID = chatID
	u.UpdatedAt = s.now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) CreateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.Token]; ok {
		return store.ErrConflict
	}
	store.Stamp(&sess.CreatedAt, s.now())
	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return core.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
