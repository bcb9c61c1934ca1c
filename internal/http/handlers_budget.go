package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"spendwatch/internal/core"
	"spendwatch/internal/log"
	"spendwatch/internal/services"
	"spendwatch/internal/store"
)

type budgetJSON struct {
	UserID         string      `json:"user_id"`
	MonthlyLimit   core.Money  `json:"monthly_limit"`
	ResetDay       int         `json:"reset_day"`
	AlertThreshold json.Number `json:"alert_threshold"`
	IsActive       bool        `json:"is_active"`
	CreatedAt      string      `json:"created_at"`
	UpdatedAt      string      `json:"updated_at"`
}

func newBudgetJSON(b core.Budget) budgetJSON {
	return budgetJSON{
		UserID:         b.UserID,
		MonthlyLimit:   b.MonthlyLimit,
		ResetDay:       b.ResetDay,
		AlertThreshold: json.Number(b.AlertThreshold.String()),
		IsActive:       b.IsActive,
		CreatedAt:      formatTime(b.CreatedAt),
		UpdatedAt:      formatTime(b.UpdatedAt),
	}
}

type budgetRequest struct {
	MonthlyLimit   *core.Money      `json:"monthly_limit"`
	ResetDay       *int             `json:"reset_day"`
	AlertThreshold *decimal.Decimal `json:"alert_threshold"`
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		BadRequestError("Invalid budget: monthly_limit, reset_day and alert_threshold must be numbers").Write(w)
		return
	}
	if req.MonthlyLimit == nil {
		BadRequestError("monthly_limit is required").Write(w)
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()
	b, err := s.budgets.Set(ctx, userIDFrom(r.Context()), services.BudgetInput{
		MonthlyLimit:   *req.MonthlyLimit,
		ResetDay:       req.ResetDay,
		AlertThreshold: req.AlertThreshold,
	})
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidResetDay),
		errors.Is(err, core.ErrInvalidThreshold):
		BadRequestError(err.Error()).Write(w)
		return
	case err != nil:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to save budget", log.FieldError, err)
		InternalServerError("Failed to save budget").Write(w)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Budget set",
		log.FieldLimitCents, b.MonthlyLimit.Cents,
		log.FieldThreshold, b.AlertThreshold.String())
	NewJSONResponse().Body(newBudgetJSON(b)).Write(w)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()
	b, err := s.budgets.Get(ctx, userIDFrom(r.Context()))
	if errors.Is(err, store.ErrNotFound) {
		NewJSONResponse().Body(map[string]string{"message": "No budget set"}).Write(w)
		return
	}
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to load budget", log.FieldError, err)
		InternalServerError("Failed to load budget").Write(w)
		return
	}
	NewJSONResponse().Body(newBudgetJSON(b)).Write(w)
}
