package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"spendwatch/internal/config"
	"spendwatch/internal/core"
	"spendwatch/internal/notify"
	"spendwatch/internal/ocr"
	"spendwatch/internal/receipts"
	"spendwatch/internal/services"
	"spendwatch/internal/store/memory"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (a *alertRecorder) NotifyBudgetAlert(_ context.Context, alert notify.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type fakeScanner struct {
	res ocr.ScanResult
	err error
}

func (f fakeScanner) Scan(context.Context, string) (ocr.ScanResult, error) { return f.res, f.err }

type harness struct {
	t        *testing.T
	srv      *Server
	store    *memory.Store
	alerts   *alertRecorder
	expenses *services.ExpenseService
}

func newHarness(t *testing.T, mutate func(*config.Config, *Dependencies)) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataBackend = "memory"

	st := memory.New()
	local, err := receipts.NewLocal(t.TempDir())
	require.NoError(t, err)
	alerts := &alertRecorder{}

	evaluator := services.NewBudgetEvaluator(st, st, time.UTC, nil)
	expenses := services.NewExpenseService(services.ExpenseServiceConfig{
		Expenses:   st,
		Receipts:   local,
		Evaluator:  evaluator,
		Dispatcher: alerts,
	})
	deps := Dependencies{
		Auth:     services.NewAuthService(services.AuthServiceConfig{Users: st, Sessions: st, BcryptCost: bcrypt.MinCost}),
		Expenses: expenses,
		Budgets:  services.NewBudgetService(st),
		Reports:  services.NewReportService(st, time.UTC),
		Store:    st,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	srv, err := NewServer(cfg, deps, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &harness{t: t, srv: srv, store: st, alerts: alerts, expenses: expenses}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rr, req)
	return rr
}

// login signs up email and returns a bearer token.
func (h *harness) login(email string) string {
	h.t.Helper()
	rr := h.do(http.MethodPost, "/auth/signup", "", map[string]string{
		"email": email, "password": "correct horse", "first_name": "Ada", "last_name": "Lovelace",
	})
	require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "correct horse"})
	require.Equal(h.t, http.StatusOK, rr.Code, rr.Body.String())
	var res struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(h.t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotEmpty(h.t, res.AccessToken)
	return res.AccessToken
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestIndexAndHealth(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Expense Tracker API")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready"} {
		rr := h.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, want, rr.Body.String())
	}

	rr = h.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rr.Body.String())
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodGet, "/api/expenses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"Missing authorization token"}`, rr.Body.String())

	rr = h.do(http.MethodGet, "/api/expenses", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"Invalid or expired token"}`, rr.Body.String())

	rr = h.do(http.MethodPost, "/auth/signup", "", map[string]string{"email": "a@example.com"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	token := h.login("a@example.com")

	rr = h.do(http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "A@example.com", "password": "correct horse", "first_name": "A", "last_name": "B",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "a@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.do(http.MethodGet, "/api/expenses", token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = h.do(http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = h.do(http.MethodGet, "/api/expenses", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateExpenseAndBudgetAlert(t *testing.T) {
	h := newHarness(t, nil)
	token := h.login("a@example.com")

	rr := h.do(http.MethodGet, "/api/budget", token, nil)
	assert.JSONEq(t, `{"message":"No budget set"}`, rr.Body.String())

	rr = h.do(http.MethodPost, "/api/budget", token, `{"monthly_limit": 1000}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	b := decode[map[string]any](t, rr)
	assert.Equal(t, 1000.0, b["monthly_limit"])
	assert.Equal(t, 0.8, b["alert_threshold"])
	assert.Equal(t, 1.0, b["reset_day"])
	assert.Equal(t, true, b["is_active"])

	rr = h.do(http.MethodPost, "/api/expenses", token, `{"amount": 700, "category": "rent"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[struct {
		Success bool `json:"success"`
		Data    struct {
			ID                   string `json:"id"`
			BudgetAlertTriggered bool   `json:"budgetAlertTriggered"`
		} `json:"data"`
	}](t, rr)
	assert.True(t, created.Success)
	assert.NotEmpty(t, created.Data.ID)
	assert.False(t, created.Data.BudgetAlertTriggered)

	rr = h.do(http.MethodPost, "/api/expenses", token, `{"amount": "150", "category": "food", "description": "dinner"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"budgetAlertTriggered":true`)

	require.NoError(t, h.expenses.Wait(context.Background()))
	assert.Equal(t, 1, h.alerts.count())

	rr = h.do(http.MethodGet, "/api/expenses/"+created.Data.ID, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	e := decode[map[string]any](t, rr)
	assert.Equal(t, 700.0, e["amount"])
	assert.Equal(t, "rent", e["category"])
	assert.Nil(t, e["receipt"])

	rr = h.do(http.MethodGet, "/api/expenses", token, nil)
	assert.Len(t, decode[[]map[string]any](t, rr), 2)
}

func TestCreateExpenseValidation(t *testing.T) {
	h := newHarness(t, nil)
	token := h.login("a@example.com")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing amount", `{"category":"food"}`, "Amount must be a valid number"},
		{"zero amount", `{"amount":0,"category":"food"}`, "Amount must be a valid positive number"},
		{"bad category", `{"amount":1,"category":"travel"}`, "Invalid category"},
		{"bad date", `{"amount":1,"category":"food","expense_date":"soon"}`, "Invalid expense date"},
		{"long description", `{"amount":1,"category":"food","description":"` + strings.Repeat("x", 501) + `"}`, core.ErrDescriptionTooLong.Error()},
		{"not json", `amount=1`, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := h.do(http.MethodPost, "/api/expenses", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.want, decode[map[string]string](t, rr)["error"])
		})
	}
}

func TestReceiptUploadAndDownload(t *testing.T) {
	h := newHarness(t, nil)
	token := h.login("a@example.com")
	other := h.login("b@example.com")

	png := []byte("\x89PNG\r\n\x1a\nfake")
	req := multipartRequest(t, "/api/expenses", map[string]string{"amount": "12.50", "category": "food"}, png, "image/png")
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decode[struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}](t, rr).Data.ID

	rr = h.do(http.MethodGet, "/api/expenses/"+id, token, nil)
	e := decode[struct {
		Receipt *struct {
			StoragePath string `json:"storage_path"`
			MimeType    string `json:"mime_type"`
			FileSize    int64  `json:"file_size"`
		} `json:"receipt"`
	}](t, rr)
	require.NotNil(t, e.Receipt)
	assert.Equal(t, "image/png", e.Receipt.MimeType)
	assert.Equal(t, int64(len(png)), e.Receipt.FileSize)
	assert.True(t, strings.HasSuffix(e.Receipt.StoragePath, "/lunch.png"))

	rr = h.do(http.MethodGet, "/api/expenses/"+id+"/receipt", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, png, rr.Body.Bytes())

	rr = h.do(http.MethodGet, "/api/expenses/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = h.do(http.MethodGet, "/api/expenses/"+id+"/receipt", other, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = multipartRequest(t, "/api/expenses", map[string]string{"amount": "1", "category": "food"}, []byte("GIF89a"), "image/gif")
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReports(t *testing.T) {
	h := newHarness(t, nil)
	token := h.login("a@example.com")

	rr := h.do(http.MethodGet, "/api/expenses/categories", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"categories":[]}`, rr.Body.String())

	rr = h.do(http.MethodGet, "/api/expenses/month", token, nil)
	assert.JSONEq(t, `{"currentMonthTotal":0,"lastMonthTotal":0,"percentChange":0}`, rr.Body.String())

	now := time.Now().UTC()
	lastMonth := core.MonthBounds(now, -1).Start.Add(time.Hour)
	for _, body := range []string{
		`{"amount":75,"category":"food"}`,
		`{"amount":25,"category":"transport"}`,
		`{"amount":50,"category":"food","expense_date":"` + lastMonth.Format(time.RFC3339) + `"}`,
	} {
		rr := h.do(http.MethodPost, "/api/expenses", token, body)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr = h.do(http.MethodGet, "/api/expenses/categories", token, nil)
	assert.JSONEq(t, `{"categories":[
		{"name":"food","amount":75,"percentage":75},
		{"name":"transport","amount":25,"percentage":25}]}`, rr.Body.String())

	rr = h.do(http.MethodGet, "/api/expenses/month", token, nil)
	assert.JSONEq(t, `{"currentMonthTotal":100,"lastMonthTotal":50,"percentChange":100}`, rr.Body.String())

	rr = h.do(http.MethodGet, "/api/expenses/monthly", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	monthly := decode[struct {
		Year    int `json:"year"`
		Monthly []struct {
			Name  string  `json:"name"`
			Spent float64 `json:"spent"`
		} `json:"monthly"`
		CurrentMonthTotal float64 `json:"currentMonthTotal"`
		PercentChange     int64   `json:"percentChange"`
	}](t, rr)
	require.Len(t, monthly.Monthly, 12)
	assert.Equal(t, now.Year(), monthly.Year)
	assert.Equal(t, "Jan", monthly.Monthly[0].Name)
	assert.Equal(t, 100.0, monthly.Monthly[now.Month()-1].Spent)
	assert.Equal(t, 100.0, monthly.CurrentMonthTotal)
	assert.Equal(t, int64(100), monthly.PercentChange)
}

func TestBudgetValidation(t *testing.T) {
	h := newHarness(t, nil)
	token := h.login("a@example.com")

	for body, code := range map[string]int{
		`{}`: http.StatusBadRequest,
		`{"monthly_limit":"lots"}`:                          http.StatusBadRequest,
		`{"monthly_limit":-5}`:                              http.StatusBadRequest,
		`{"monthly_limit":184467440737095516.17}`:           http.StatusBadRequest,
		`{"monthly_limit":100,"reset_day":40}`:              http.StatusBadRequest,
		`{"monthly_limit":100,"alert_threshold":1.5}`:       http.StatusBadRequest,
		`{"monthly_limit":"250.5","alert_threshold":"0.5"}`: http.StatusOK,
	} {
		rr := h.do(http.MethodPost, "/api/budget", token, body)
		assert.Equal(t, code, rr.Code, "%s -> %s", body, rr.Body.String())
	}

	b, err := h.store.GetActiveBudget(context.Background(), decodeUserID(t, h, token))
	require.NoError(t, err)
	assert.Equal(t, int64(25050), b.MonthlyLimit.Cents)
	assert.True(t, b.AlertThreshold.Equal(decimal.RequireFromString("0.5")))
}

func decodeUserID(t *testing.T, h *harness, token string) string {
	t.Helper()
	id, err := h.srv.auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	return id
}

func TestScan(t *testing.T) {
	h := newHarness(t, nil)
	token := h.login("a@example.com")
	rr := h.do(http.MethodPost, "/api/scan", token, `{"file_data":"eA=="}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	h = newHarness(t, func(_ *config.Config, d *Dependencies) {
		d.Scanner = fakeScanner{res: ocr.ScanResult{
			Merchant: "Corner Shop",
			Total:    decimal.RequireFromString("42.5"),
			Date:     "2024-03-10",
			Items:    []json.RawMessage{},
			Category: "other",
		}}
	})
	token = h.login("a@example.com")
	rr = h.do(http.MethodPost, "/api/scan", token, `{"file_data":"eA=="}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"merchant":"Corner Shop","total":42.5,"date":"2024-03-10","items":[],"category":"other"}`, rr.Body.String())

	h = newHarness(t, func(cfg *config.Config, d *Dependencies) {
		cfg.AppEnv = "development"
		d.Scanner = fakeScanner{err: &ocr.ScanError{Status: http.StatusTooManyRequests, UserMessage: "Too many requests. Please try again later.", Err: io.ErrUnexpectedEOF}}
	})
	token = h.login("a@example.com")
	rr = h.do(http.MethodPost, "/api/scan", token, `{"file_data":"eA=="}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t, `{"error":"Too many requests. Please try again later.","details":"unexpected EOF"}`, rr.Body.String())
}

func TestRateLimitOnWrites(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, _ *Dependencies) { cfg.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		rr := h.do(http.MethodPost, "/auth/login", "", `{"email":"x@example.com","password":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := h.do(http.MethodPost, "/auth/login", "", `{"email":"x@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "reads are not limited")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/expenses", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:8080", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		got, ok := bearerToken(r)
		assert.Equal(t, tt.want, got, tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
	}
}
