package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"spendwatch/internal/core"
	"spendwatch/internal/store"
)

// monthlyFanOut bounds concurrent store queries for the yearly series.
const monthlyFanOut = 4

// ReportService answers the spending summaries. Every period comes from
// core.MonthBounds in the configured reporting zone.
type ReportService struct {
	expenses store.ExpenseStore
	loc      *time.Location
}

func NewReportService(expenses store.ExpenseStore, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{expenses: expenses, loc: loc}
}

// Location is the zone calendar months are computed in.
func (s *ReportService) Location() *time.Location { return s.loc }

func (s *ReportService) sum(ctx context.Context, userID string, p core.Period) (core.Money, error) {
	m, err := s.expenses.SumAmounts(ctx, userID, p.Start, p.End)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum %s..%s: %w", p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly), err)
	}
	return m, nil
}

// Compare totals ref's month and the month before it.
func (s *ReportService) Compare(ctx context.Context, userID string, ref time.Time) (core.MonthComparison, error) {
	ref = ref.In(s.loc)
	var current, prior core.Money

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.sum(gctx, userID, core.MonthBounds(ref, 0))
		return err
	})
	g.Go(func() error {
		var err error
		prior, err = s.sum(gctx, userID, core.MonthBounds(ref, -1))
		return err
	})
	if err := g.Wait(); err != nil {
		return core.MonthComparison{}, fmt.Errorf("compare months: %w", err)
	}
	return core.Compare(current, prior), nil
}

// Breakdown splits ref's month by category.
func (s *ReportService) Breakdown(ctx context.Context, userID string, ref time.Time) ([]core.CategoryShare, error) {
	p := core.MonthBounds(ref.In(s.loc), 0)
	totals, err := s.expenses.SumByCategory(ctx, userID, p.Start, p.End)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	return core.Breakdown(totals), nil
}

// MonthlySeries totals each month of ref's calendar year and adds the
// month-over-month comparison for ref's month.
func (s *ReportService) MonthlySeries(ctx context.Context, userID string, ref time.Time) (core.MonthlyReport, error) {
	ref = ref.In(s.loc)
	jan := time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, s.loc)

	months := make([]core.MonthSpend, 12)
	var cmp core.MonthComparison

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monthlyFanOut)
	for i := range months {
		g.Go(func() error {
			p := core.MonthBounds(jan, i)
			spent, err := s.sum(gctx, userID, p)
			if err != nil {
				return err
			}
			months[i] = core.MonthSpend{Month: p.Start.Month(), Spent: spent}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		cmp, err = s.Compare(gctx, userID, ref)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.MonthlyReport{}, fmt.Errorf("monthly series: %w", err)
	}

	return core.MonthlyReport{Year: ref.Year(), Months: months, MonthComparison: cmp}, nil
}
