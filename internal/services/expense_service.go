package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spendwatch/internal/core"
	"spendwatch/internal/log"
	"spendwatch/internal/notify"
	"spendwatch/internal/receipts"
	"spendwatch/internal/store"
)

// ReceiptUpload is a file submitted together with a new expense.
type ReceiptUpload struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// NewExpense is the user-supplied part of an expense.
type NewExpense struct {
	Amount      core.Money
	Category    core.Category
	Description string
	// ExpenseDate defaults to the creation time when zero.
	ExpenseDate time.Time
	Receipt     *ReceiptUpload
}

type CreateResult struct {
	Expense              core.Expense
	BudgetAlertTriggered bool
}

// ExpenseService stores expenses and runs the budget check on each one.
type ExpenseService struct {
	expenses      store.ExpenseStore
	receipts      receipts.Storage
	evaluator     *BudgetEvaluator
	dispatcher    notify.Dispatcher
	logger        *log.Logger
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string

	inflight sync.WaitGroup
}

type ExpenseServiceConfig struct {
	Expenses   store.ExpenseStore
	Receipts   receipts.Storage
	Evaluator  *BudgetEvaluator
	Dispatcher notify.Dispatcher
	Logger     *log.Logger
	// NotifyTimeout bounds each alert dispatch; defaults to 5s.
	NotifyTimeout time.Duration
	Now           func() time.Time
}

func NewExpenseService(cfg ExpenseServiceConfig) *ExpenseService {
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = notify.NewLogDispatcher(cfg.Logger)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ExpenseService{
		expenses:      cfg.Expenses,
		receipts:      cfg.Receipts,
		evaluator:     cfg.Evaluator,
		dispatcher:    cfg.Dispatcher,
		logger:        cfg.Logger.WithComponent(log.ComponentExpense),
		notifyTimeout: cfg.NotifyTimeout,
		now:           cfg.Now,
		newID:         uuid.NewString,
	}
}

// Create validates and stores the expense, stores its receipt, and runs the
// budget check. A receipt failure is returned after the expense row has
// been written. The budget check never fails the call; an alert is
// dispatched in the background.
func (s *ExpenseService) Create(ctx context.Context, userID string, in NewExpense) (CreateResult, error) {
	now := s.now()
	e := core.Expense{
		ID:          s.newID(),
		UserID:      userID,
		Amount:      in.Amount,
		Category:    in.Category,
		Description: strings.TrimSpace(in.Description),
		ExpenseDate: in.ExpenseDate,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if e.ExpenseDate.IsZero() {
		e.ExpenseDate = now
	}
	if err := e.Validate(); err != nil {
		return CreateResult{}, err
	}
	if in.Receipt != nil {
		if err := (core.Receipt{FileSize: in.Receipt.Size, MimeType: in.Receipt.MimeType}).Validate(); err != nil {
			return CreateResult{}, err
		}
		if s.receipts == nil {
			return CreateResult{}, errors.New("receipt storage not configured")
		}
	}

	created, err := s.expenses.CreateExpense(ctx, e)
	if err != nil {
		return CreateResult{}, fmt.Errorf("save expense: %w", err)
	}
	fields := log.NewFields().WithExpense(created.ID, userID, created.Amount.Cents, created.Category.String())
	s.logger.InfoContext(ctx, "Expense created", fields...)

	if in.Receipt != nil {
		r, err := s.storeReceipt(ctx, created, in.Receipt, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Receipt upload failed", fields.WithOperation(log.OpUpload).WithError(err)...)
			return CreateResult{Expense: created}, fmt.Errorf("store receipt for expense %s: %w", created.ID, err)
		}
		created.Receipt = &r
	}

	res := CreateResult{Expense: created}
	if s.evaluator != nil {
		out := s.evaluator.Evaluate(ctx, userID, created, now)
		res.BudgetAlertTriggered = out.Triggered
		if out.Triggered {
			s.dispatchAlert(ctx, notify.Alert{
				UserID:      userID,
				ExpenseID:   created.ID,
				Projected:   out.Projected,
				Limit:       out.Budget.MonthlyLimit,
				Threshold:   out.Budget.AlertThreshold,
				PeriodStart: out.Period.Start,
				TriggeredAt: now,
			})
		}
	}
	return res, nil
}

func (s *ExpenseService) storeReceipt(ctx context.Context, e core.Expense, up *ReceiptUpload, now time.Time) (core.Receipt, error) {
	mime := strings.ToLower(strings.TrimSpace(up.MimeType))
	path := core.ReceiptStoragePath(e.UserID, e.ID, up.Filename)
	if err := s.receipts.Put(ctx, path, up.Body, up.Size, mime); err != nil {
		return core.Receipt{}, err
	}
	return s.expenses.AttachReceipt(ctx, core.Receipt{
		ID:          s.newID(),
		ExpenseID:   e.ID,
		StoragePath: path,
		FileSize:    up.Size,
		MimeType:    mime,
		UploadedAt:  now.UTC(),
	})
}

// dispatchAlert hands the alert to the dispatcher without blocking the
// caller. The dispatch outlives the request but not NotifyTimeout.
func (s *ExpenseService) dispatchAlert(ctx context.Context, alert notify.Alert) {
	detached := context.WithoutCancel(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		nctx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()

		if err := s.dispatcher.NotifyBudgetAlert(nctx, alert); err != nil {
			s.logger.WarnContext(nctx, "Budget alert dispatch failed",
				log.FieldUserID, alert.UserID,
				log.FieldExpenseID, alert.ExpenseID,
				log.FieldOperation, log.OpNotify,
				log.FieldError, err)
		}
	}()
}

// Wait blocks until in-flight alert dispatches finish or ctx is done.
func (s *ExpenseService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ExpenseService) List(ctx context.Context, userID string) ([]core.Expense, error) {
	list, err := s.expenses.ListExpenses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return list, nil
}

// Get returns store.ErrNotFound for another user's expense.
func (s *ExpenseService) Get(ctx context.Context, userID, id string) (core.Expense, error) {
	return s.expenses.GetExpense(ctx, userID, id)
}

// OpenReceipt streams the receipt attached to one of the user's expenses.
func (s *ExpenseService) OpenReceipt(ctx context.Context, userID, expenseID string) (io.ReadCloser, core.Receipt, error) {
	e, err := s.expenses.GetExpense(ctx, userID, expenseID)
	if err != nil {
		return nil, core.Receipt{}, err
	}
	if e.Receipt == nil || s.receipts == nil {
		return nil, core.Receipt{}, store.ErrNotFound
	}
	rc, err := s.receipts.Open(ctx, e.Receipt.StoragePath)
	if errors.Is(err, receipts.ErrNotFound) {
		return nil, core.Receipt{}, store.ErrNotFound
	}
	if err != nil {
		return nil, core.Receipt{}, fmt.Errorf("open receipt: %w", err)
	}
	return rc, *e.Receipt, nil
}
