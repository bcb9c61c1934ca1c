package http

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"spendwatch/internal/core"
	"spendwatch/internal/log"
	"spendwatch/internal/store"
)

type receiptJSON struct {
	ID          string `json:"id"`
	ExpenseID   string `json:"expense_id"`
	StoragePath string `json:"storage_path"`
	FileSize    int64  `json:"file_size"`
	MimeType    string `json:"mime_type"`
	OCRText     string `json:"ocr_text,omitempty"`
	UploadedAt  string `json:"uploaded_at"`
}

type expenseJSON struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Amount      core.Money   `json:"amount"`
	Category    string       `json:"category"`
	Description string       `json:"description,omitempty"`
	ExpenseDate string       `json:"expense_date"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
	Receipt     *receiptJSON `json:"receipt"`
}

func newExpenseJSON(e core.Expense) expenseJSON {
	out := expenseJSON{
		ID:          e.ID,
		UserID:      e.UserID,
		Amount:      e.Amount,
		Category:    e.Category.String(),
		Description: e.Description,
		ExpenseDate: formatTime(e.ExpenseDate),
		CreatedAt:   formatTime(e.CreatedAt),
		UpdatedAt:   formatTime(e.UpdatedAt),
	}
	if r := e.Receipt; r != nil {
		out.Receipt = &receiptJSON{
			ID:          r.ID,
			ExpenseID:   r.ExpenseID,
			StoragePath: r.StoragePath,
			FileSize:    r.FileSize,
			MimeType:    r.MimeType,
			OCRText:     r.OCRText,
			UploadedAt:  formatTime(r.UploadedAt),
		}
	}
	return out
}

// isClientError reports whether err is a domain validation failure.
func isClientError(err error) bool {
	for _, target := range []error{
		core.ErrInvalidAmount,
		core.ErrInvalidCategory,
		core.ErrDescriptionTooLong,
		core.ErrInvalidDate,
		core.ErrReceiptTooLarge,
		core.ErrReceiptType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	p, err := NewRequestBodyParser(w, r)
	if errors.Is(err, errBodyTooLarge) {
		ErrorResponse(http.StatusRequestEntityTooLarge, core.ErrReceiptTooLarge.Error()).Write(w)
		return
	}
	if err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	defer p.Close()

	in, closer, err := parseNewExpense(p, s.reports.Location())
	if closer != nil {
		defer closer.Close()
	}
	var ve validationError
	if errors.As(err, &ve) {
		BadRequestError(ve.Error()).Write(w)
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to read expense request", log.FieldError, err)
		InternalServerError("Internal server error").Write(w)
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()
	res, err := s.expenses.Create(ctx, userIDFrom(r.Context()), in)
	switch {
	case err == nil:
	case isClientError(err):
		BadRequestError(err.Error()).Write(w)
		return
	case res.Expense.ID != "":
		// The row exists; report the id so the client does not resubmit.
		NewJSONResponse().Status(http.StatusInternalServerError).Body(map[string]any{
			"success": false,
			"error":   "Expense saved but receipt upload failed",
			"data":    map[string]string{"id": res.Expense.ID},
		}).Write(w)
		return
	default:
		logger.ErrorContext(r.Context(), "Failed to create expense", log.FieldError, err)
		NewJSONResponse().Status(http.StatusInternalServerError).Body(map[string]any{
			"success": false,
			"error":   "Internal server error",
		}).Write(w)
		return
	}

	NewJSONResponse().Status(http.StatusCreated).Body(map[string]any{
		"success": true,
		"data": map[string]any{
			"id":                   res.Expense.ID,
			"budgetAlertTriggered": res.BudgetAlertTriggered,
			"expense":              newExpenseJSON(res.Expense),
		},
	}).Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()
	items, err := s.expenses.List(ctx, userIDFrom(r.Context()))
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to list expenses", log.FieldError, err)
		InternalServerError("Failed to load expenses").Write(w)
		return
	}

	out := make([]expenseJSON, 0, len(items))
	for _, e := range items {
		out = append(out, newExpenseJSON(e))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()
	e, err := s.expenses.Get(ctx, userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError("Expense not found").Write(w)
		return
	}
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to load expense", log.FieldError, err)
		InternalServerError("Failed to load expense").Write(w)
		return
	}
	NewJSONResponse().Body(newExpenseJSON(e)).Write(w)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	expenseID := chi.URLParam(r, "id")
	body, rc, err := s.expenses.OpenReceipt(r.Context(), userIDFrom(r.Context()), expenseID)
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError("Receipt not found").Write(w)
		return
	}
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to open receipt",
			log.FieldExpenseID, expenseID, log.FieldError, err)
		InternalServerError("Failed to load receipt").Write(w)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", rc.MimeType)
	w.Header().Set("Content-Disposition", `inline; filename="`+path.Base(rc.StoragePath)+`"`)
	if rc.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rc.FileSize, 10))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Receipt stream interrupted",
			log.FieldExpenseID, expenseID, log.FieldError, err)
	}
}
