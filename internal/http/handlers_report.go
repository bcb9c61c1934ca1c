package http

import (
	"net/http"

	"spendwatch/internal/core"
	"spendwatch/internal/log"
)

type categoryJSON struct {
	Name       string     `json:"name"`
	Amount     core.Money `json:"amount"`
	Percentage int64      `json:"percentage"`
}

type comparisonJSON struct {
	CurrentMonthTotal core.Money `json:"currentMonthTotal"`
	LastMonthTotal    core.Money `json:"lastMonthTotal"`
	PercentChange     int64      `json:"percentChange"`
}

type monthJSON struct {
	Name  string     `json:"name"`
	Spent core.Money `json:"spent"`
}

func newComparisonJSON(c core.MonthComparison) comparisonJSON {
	return comparisonJSON{
		CurrentMonthTotal: c.CurrentMonthTotal,
		LastMonthTotal:    c.LastMonthTotal,
		PercentChange:     c.PercentChange,
	}
}

func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()
	shares, err := s.reports.Breakdown(ctx, userIDFrom(r.Context()), s.now())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Category breakdown failed", log.FieldError, err)
		ReportError().Write(w)
		return
	}

	out := make([]categoryJSON, 0, len(shares))
	for _, sh := range shares {
		out = append(out, categoryJSON{Name: sh.Category.String(), Amount: sh.Amount, Percentage: sh.Percentage})
	}
	NewJSONResponse().Body(map[string]any{"categories": out}).Write(w)
}

func (s *Server) handleMonthComparison(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()
	cmp, err := s.reports.Compare(ctx, userIDFrom(r.Context()), s.now())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Month comparison failed", log.FieldError, err)
		ReportError().Write(w)
		return
	}
	NewJSONResponse().Body(newComparisonJSON(cmp)).Write(w)
}

func (s *Server) handleMonthlySeries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storeContext(r)
	defer cancel()
	rep, err := s.reports.MonthlySeries(ctx, userIDFrom(r.Context()), s.now())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Monthly series failed", log.FieldError, err)
		ReportError().Write(w)
		return
	}

	months := make([]monthJSON, 0, len(rep.Months))
	for _, m := range rep.Months {
		months = append(months, monthJSON{Name: core.ShortMonthName(m.Month), Spent: m.Spent})
	}
	NewJSONResponse().Body(struct {
		Year    int         `json:"year"`
		Monthly []monthJSON `json:"monthly"`
		comparisonJSON
	}{rep.Year, months, newComparisonJSON(rep.MonthComparison)}).Write(w)
}
