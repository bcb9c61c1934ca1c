// Package notify delivers budget alerts. The API process hands alerts to a
// Dispatcher; the alert worker turns queued alerts into Telegram messages.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spendwatch/internal/amqp"
	"spendwatch/internal/core"
	"spendwatch/internal/log"
)

// Alert describes one threshold crossing.
type Alert struct {
	UserID      string
	ExpenseID   string
	Projected   core.Money
	Limit       core.Money
	Threshold   decimal.Decimal
	PeriodStart time.Time
	TriggeredAt time.Time
}

// Dispatcher hands an alert off for delivery. Callers only log the error.
type Dispatcher interface {
	NotifyBudgetAlert(ctx context.Context, alert Alert) error
}

// Message converts the alert to its queue representation.
func (a Alert) Message() *amqp.BudgetAlertMessage {
	return &amqp.BudgetAlertMessage{
		UserID:         a.UserID,
		ExpenseID:      a.ExpenseID,
		ProjectedCents: a.Projected.Cents,
		LimitCents:     a.Limit.Cents,
		Threshold:      a.Threshold.String(),
		PeriodStart:    a.PeriodStart.UTC(),
		TriggeredAt:    a.TriggeredAt.UTC(),
	}
}

// AlertFromMessage is the inverse of Alert.Message.
func AlertFromMessage(m *amqp.BudgetAlertMessage) (Alert, error) {
	threshold, err := decimal.NewFromString(m.Threshold)
	if err != nil {
		return Alert{}, fmt.Errorf("parse threshold %q: %w", m.Threshold, err)
	}
	return Alert{
		UserID:      m.UserID,
		ExpenseID:   m.ExpenseID,
		Projected:   core.Money{Cents: m.ProjectedCents},
		Limit:       core.Money{Cents: m.LimitCents},
		Threshold:   threshold,
		PeriodStart: m.PeriodStart,
		TriggeredAt: m.TriggeredAt,
	}, nil
}

// Publisher is satisfied by *amqp.Client.
type Publisher interface {
	PublishBudgetAlert(ctx context.Context, msg *amqp.BudgetAlertMessage) error
}

// QueueDispatcher publishes alerts for the alert worker.
type QueueDispatcher struct {
	publisher Publisher
}

func NewQueueDispatcher(p Publisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: p}
}

func (d *QueueDispatcher) NotifyBudgetAlert(ctx context.Context, alert Alert) error {
	if err := d.publisher.PublishBudgetAlert(ctx, alert.Message()); err != nil {
		return fmt.Errorf("queue budget alert: %w", err)
	}
	return nil
}

// LogDispatcher only records the alert. Used when no broker is configured.
type LogDispatcher struct {
	logger *log.Logger
}

func NewLogDispatcher(logger *log.Logger) *LogDispatcher {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogDispatcher{logger: logger.WithComponent(log.ComponentNotify)}
}

func (d *LogDispatcher) NotifyBudgetAlert(ctx context.Context, alert Alert) error {
	d.logger.InfoContext(ctx, "Budget alert",
		log.FieldUserID, alert.UserID,
		log.FieldExpenseID, alert.ExpenseID,
		log.FieldProjectedCents, alert.Projected.Cents,
		log.FieldLimitCents, alert.Limit.Cents,
		log.FieldThreshold, alert.Threshold.String(),
		log.FieldPeriodStart, alert.PeriodStart.Format(time.DateOnly))
	return nil
}

// FormatAlert renders the user-facing alert text.
func FormatAlert(alert Alert, name string) string {
	pct := decimal.Zero
	if !alert.Limit.IsZero() {
		pct = alert.Projected.Decimal().Div(alert.Limit.Decimal()).Mul(decimal.NewFromInt(100)).Round(0)
	}
	greeting := "Hi"
	if name != "" {
		greeting = "Hi " + name
	}
	return fmt.Sprintf(
		"%s, your spending for %s has reached %s of your %s monthly budget (%s%%). Alerts are set at %s%%.",
		greeting,
		alert.PeriodStart.Format("January 2006"),
		alert.Projected.String(),
		alert.Limit.String(),
		pct.String(),
		alert.Threshold.Mul(decimal.NewFromInt(100)).Round(0).String(),
	)
}
