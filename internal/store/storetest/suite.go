// Package storetest holds the behavioural suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"spendwatch/internal/core"
	"spendwatch/internal/store"
)

// Suite runs against the store returned by NewStore, one fresh store per test.
type Suite struct {
	suite.Suite
	NewStore func(t *testing.T) store.Store

	store store.Store
	ctx   context.Context
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore(s.T())
}

func (s *Suite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *Suite) addExpense(userID string, cents int64, cat core.Category, at time.Time) core.Expense {
	e, err := s.store.CreateExpense(s.ctx, core.Expense{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      core.Money{Cents: cents},
		Category:    cat,
		ExpenseDate: at,
	})
	s.Require().NoError(err)
	return e
}

func (s *Suite) addUser(email string) core.User {
	u, err := s.store.CreateUser(s.ctx, core.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		FirstName:    "Ana",
		LastName:     "Pop",
	})
	s.Require().NoError(err)
	return u
}

func (s *Suite) TestSumAmountsHalfOpenRange() {
	march := core.MonthBounds(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), 0)

	s.addExpense("u1", 1000, core.CategoryFood, march.Start)
	s.addExpense("u1", 2500, core.CategoryRent, march.End.Add(-time.Second))
	// Outside the range or owned by someone else.
	s.addExpense("u1", 9999, core.CategoryFood, march.End)
	s.addExpense("u1", 7777, core.CategoryFood, march.Start.Add(-time.Second))
	s.addExpense("u2", 5000, core.CategoryFood, march.Start.Add(48*time.Hour))

	total, err := s.store.SumAmounts(s.ctx, "u1", march.Start, march.End)
	s.Require().NoError(err)
	s.Equal(int64(3500), total.Cents)
}

func (s *Suite) TestSumAmountsEmpty() {
	p := core.MonthBounds(time.Now(), 0)
	total, err := s.store.SumAmounts(s.ctx, "nobody", p.Start, p.End)
	s.Require().NoError(err)
	s.True(total.IsZero())
}

func (s *Suite) TestSumAmountsNonUTCBounds() {
	loc := time.FixedZone("UTC+2", 2*60*60)
	p := core.MonthBounds(time.Date(2024, time.June, 15, 0, 0, 0, 0, loc), 0)

	// 2024-05-31T23:00Z is already June 1st 01:00 at UTC+2.
	s.addExpense("u1", 100, core.CategoryFood, time.Date(2024, time.May, 31, 23, 0, 0, 0, time.UTC))
	// 2024-05-31T21:00Z is May 31st 23:00 at UTC+2.
	s.addExpense("u1", 200, core.CategoryFood, time.Date(2024, time.May, 31, 21, 0, 0, 0, time.UTC))

	total, err := s.store.SumAmounts(s.ctx, "u1", p.Start, p.End)
	s.Require().NoError(err)
	s.Equal(int64(100), total.Cents)
}

func (s *Suite) TestSumByCategory() {
	p := core.MonthBounds(time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), 0)
	day := p.Start.Add(36 * time.Hour)

	s.addExpense("u1", 20000, core.CategoryFood, day)
	s.addExpense("u1", 10000, core.CategoryFood, day)
	s.addExpense("u1", 10000, core.CategoryTransport, day)
	s.addExpense("u1", 5000, core.CategoryOther, p.End)
	s.addExpense("u2", 5000, core.CategoryRent, day)

	totals, err := s.store.SumByCategory(s.ctx, "u1", p.Start, p.End)
	s.Require().NoError(err)
	s.Equal(map[core.Category]core.Money{
		core.CategoryFood:      {Cents: 30000},
		core.CategoryTransport: {Cents: 10000},
	}, totals)
}

func (s *Suite) TestExpenseReadsAreUserScoped() {
	at := time.Date(2024, time.January, 5, 12, 0, 0, 0, time.UTC)
	mine := s.addExpense("u1", 100, core.CategoryFood, at)
	s.addExpense("u2", 200, core.CategoryFood, at)

	got, err := s.store.GetExpense(s.ctx, "u1", mine.ID)
	s.Require().NoError(err)
	s.Equal(mine.ID, got.ID)
	s.True(got.ExpenseDate.Equal(at))
	s.Nil(got.Receipt)

	_, err = s.store.GetExpense(s.ctx, "u2", mine.ID)
	s.ErrorIs(err, store.ErrNotFound)

	list, err := s.store.ListExpenses(s.ctx, "u1")
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *Suite) TestListExpensesNewestFirstWithReceipt() {
	old := s.addExpense("u1", 100, core.CategoryFood, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	recent := s.addExpense("u1", 200, core.CategoryRent, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))

	rc, err := s.store.AttachReceipt(s.ctx, core.Receipt{
		ID:          uuid.NewString(),
		ExpenseID:   recent.ID,
		StoragePath: core.ReceiptStoragePath("u1", recent.ID, "r.png"),
		FileSize:    42,
		MimeType:    "image/png",
	})
	s.Require().NoError(err)
	s.False(rc.UploadedAt.IsZero())

	list, err := s.store.ListExpenses(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(recent.ID, list[0].ID)
	s.Equal(old.ID, list[1].ID)
	s.Require().NotNil(list[0].Receipt)
	s.Equal("image/png", list[0].Receipt.MimeType)
	s.Equal(int64(42), list[0].Receipt.FileSize)
	s.Nil(list[1].Receipt)

	empty, err := s.store.ListExpenses(s.ctx, "nobody")
	s.Require().NoError(err)
	s.NotNil(empty)
	s.Empty(empty)
}

func (s *Suite) TestAttachReceiptUnknownExpense() {
	_, err := s.store.AttachReceipt(s.ctx, core.Receipt{ID: uuid.NewString(), ExpenseID: "missing", MimeType: "image/png"})
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestBudgetUpsertKeepsSingleRow() {
	_, err := s.store.GetActiveBudget(s.ctx, "u1")
	s.ErrorIs(err, store.ErrNotFound)

	first, err := s.store.UpsertBudget(s.ctx, core.NewBudget("u1", core.Money{Cents: 100000}))
	s.Require().NoError(err)
	s.True(first.IsActive)

	next := core.NewBudget("u1", core.Money{Cents: 50000})
	next.ResetDay = 15
	next.AlertThreshold = decimal.RequireFromString("0.5")
	second, err := s.store.UpsertBudget(s.ctx, next)
	s.Require().NoError(err)
	s.True(second.CreatedAt.Equal(first.CreatedAt), "created_at survives upsert")

	got, err := s.store.GetActiveBudget(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(int64(50000), got.MonthlyLimit.Cents)
	s.Equal(15, got.ResetDay)
	s.True(got.AlertThreshold.Equal(decimal.RequireFromString("0.5")))
	s.True(got.IsActive)
}

func (s *Suite) TestUsers() {
	u := s.addUser("Ana@Example.com")
	s.Equal("ana@example.com", u.Email)

	_, err := s.store.CreateUser(s.ctx, core.User{ID: uuid.NewString(), Email: "ana@example.com", FirstName: "x", LastName: "y"})
	s.ErrorIs(err, store.ErrConflict)

	byEmail, err := s.store.GetUserByEmail(s.ctx, "ANA@example.com")
	s.Require().NoError(err)
	s.Equal(u.ID, byEmail.ID)

	s.Require().NoError(s.store.SetTelegramChatID(s.ctx, u.ID, 424242))
	byID, err := s.store.GetUser(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(int64(424242), byID.TelegramChatID)

	_, err = s.store.GetUser(s.ctx, "missing")
	s.ErrorIs(err, store.ErrNotFound)
	s.ErrorIs(s.store.SetTelegramChatID(s.ctx, "missing", 1), store.ErrNotFound)
}

func (s *Suite) TestSessions() {
	u := s.addUser("sess@example.com")
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	s.Require().NoError(s.store.CreateSession(s.ctx, core.Session{Token: "tok", UserID: u.ID, ExpiresAt: expires}))
	got, err := s.store.GetSession(s.ctx, "tok")
	s.Require().NoError(err)
	s.Equal(u.ID, got.UserID)
	s.True(got.ExpiresAt.Equal(expires))

	s.Require().NoError(s.store.DeleteSession(s.ctx, "tok"))
	_, err = s.store.GetSession(s.ctx, "tok")
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}
