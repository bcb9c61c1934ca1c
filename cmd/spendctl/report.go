package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spendwatch/internal/services"
	"spendwatch/internal/store"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		email string
		month string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a monthly spending report",
		Long:  "Print the category breakdown, month-over-month comparison and yearly series for one user.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, st store.Store, loc *time.Location) error {
				ref := a.now().In(loc)
				if month != "" {
					t, err := time.ParseInLocation("2006-01", month, loc)
					if err != nil {
						return fmt.Errorf("invalid --month %q, want YYYY-MM", month)
					}
					// Mid-month so the reference never straddles a zone boundary.
					ref = t.AddDate(0, 0, 14)
				}

				u, err := userByEmail(ctx, st, email)
				if err != nil {
					return err
				}
				reports := services.NewReportService(st, loc)
				shares, err := reports.Breakdown(ctx, u.ID, ref)
				if err != nil {
					return fmt.Errorf("category breakdown: %w", err)
				}
				series, err := reports.MonthlySeries(ctx, u.ID, ref)
				if err != nil {
					return fmt.Errorf("monthly series: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTitle(fmt.Sprintf("SPENDING  %s  %s", u.FullName(), ref.Format("January 2006"))))
				fmt.Fprintln(out)
				fmt.Fprint(out, renderComparison(series.MonthComparison))
				fmt.Fprintln(out)
				fmt.Fprint(out, renderBreakdown(shares))
				fmt.Fprintln(out)
				fmt.Fprint(out, renderSeries(series))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address of the user (required)")
	cmd.Flags().StringVar(&month, "month", "", "Reference month as YYYY-MM (default current month)")
	return cmd
}
