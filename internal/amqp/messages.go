package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// BudgetAlertMessage is published when an expense pushes a user's projected
// monthly spend past their alert threshold.
type BudgetAlertMessage struct {
	UserID         string    `json:"user_id"`
	ExpenseID      string    `json:"expense_id,omitempty"`
	ProjectedCents int64     `json:"projected_cents"`
	LimitCents     int64     `json:"limit_cents"`
	Threshold      string    `json:"threshold"`
	PeriodStart    time.Time `json:"period_start"`
	TriggeredAt    time.Time `json:"triggered_at"`
}

var ErrInvalidMessage = errors.New("invalid budget alert message")

func (m *BudgetAlertMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BudgetAlertMessageFromJSON decodes and checks a message body.
func BudgetAlertMessageFromJSON(data []byte) (*BudgetAlertMessage, error) {
	var msg BudgetAlertMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" || msg.LimitCents <= 0 {
		return nil, ErrInvalidMessage
	}
	return &msg, nil
}
