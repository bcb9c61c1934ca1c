// Package worker holds the queue consumers run by cmd/alert-worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spendwatch/internal/amqp"
	"spendwatch/internal/log"
	"spendwatch/internal/notify"
	"spendwatch/internal/store"
)

// DefaultMaxAlertAge is how long a queued alert stays worth delivering.
const DefaultMaxAlertAge = 24 * time.Hour

// AlertWorker turns queued budget alerts into user notifications.
type AlertWorker struct {
	users  store.UserStore
	sender notify.Sender
	logger *log.Logger
	maxAge time.Duration
	now    func() time.Time
}

// NewAlertWorker builds a worker. A nil sender logs alerts instead of
// delivering them.
func NewAlertWorker(users store.UserStore, sender notify.Sender, logger *log.Logger) *AlertWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &AlertWorker{
		users:  users,
		sender: sender,
		logger: logger.WithComponent(log.ComponentWorker),
		maxAge: DefaultMaxAlertAge,
		now:    time.Now,
	}
}

// HandleBudgetAlert processes one message. Returning an error requeues the
// message, so only transient failures are returned.
func (w *AlertWorker) HandleBudgetAlert(ctx context.Context, msg *amqp.BudgetAlertMessage) error {
	alert, err := notify.AlertFromMessage(msg)
	if err != nil {
		w.logger.ErrorContext(ctx, "Dropping malformed budget alert", log.FieldError, err, log.FieldUserID, msg.UserID)
		return nil
	}

	if !alert.TriggeredAt.IsZero() && w.now().Sub(alert.TriggeredAt) > w.maxAge {
		w.logger.WarnContext(ctx, "Dropping stale budget alert",
			log.FieldUserID, alert.UserID,
			"triggered_at", alert.TriggeredAt)
		return nil
	}

	user, err := w.users.GetUser(ctx, alert.UserID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.WarnContext(ctx, "Budget alert for unknown user", log.FieldUserID, alert.UserID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user %s: %w", alert.UserID, err)
	}

	fields := log.NewFields().
		WithUser(alert.UserID).
		With(log.FieldExpenseID, alert.ExpenseID).
		With(log.FieldProjectedCents, alert.Projected.Cents).
		With(log.FieldLimitCents, alert.Limit.Cents)

	if w.sender == nil || user.TelegramChatID == 0 {
		w.logger.InfoContext(ctx, "Budget alert (no delivery channel)", fields...)
		return nil
	}

	if err := w.sender.Send(ctx, user.TelegramChatID, notify.FormatAlert(alert, user.FirstName)); err != nil {
		if errors.Is(err, notify.ErrNoChat) {
			return nil
		}
		return fmt.Errorf("deliver budget alert: %w", err)
	}
	w.logger.InfoContext(ctx, "Budget alert delivered", fields...)
	return nil
}
