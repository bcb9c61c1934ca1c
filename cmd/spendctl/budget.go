package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"spendwatch/internal/core"
	"spendwatch/internal/services"
	"spendwatch/internal/store"
)

func newBudgetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect or replace a user's monthly budget",
	}
	cmd.AddCommand(newBudgetSetCmd(a), newBudgetShowCmd(a))
	return cmd
}

func newBudgetSetCmd(a *app) *cobra.Command {
	var (
		email     string
		limit     string
		resetDay  int
		threshold string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the monthly limit and alert threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cents, err := core.ParseDecimalToCents(limit)
			if err != nil {
				return fmt.Errorf("invalid --limit %q: %w", limit, err)
			}
			in := services.BudgetInput{MonthlyLimit: core.Money{Cents: cents}}
			if cmd.Flags().Changed("reset-day") {
				in.ResetDay = &resetDay
			}
			if threshold != "" {
				t, err := decimal.NewFromString(threshold)
				if err != nil {
					return fmt.Errorf("invalid --threshold %q", threshold)
				}
				in.AlertThreshold = &t
			}

			return a.withStore(cmd, func(ctx context.Context, st store.Store, _ *time.Location) error {
				u, err := userByEmail(ctx, st, email)
				if err != nil {
					return err
				}
				b, err := services.NewBudgetService(st).Set(ctx, u.ID, in)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderBudget(u.Email, b))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address of the user (required)")
	cmd.Flags().StringVar(&limit, "limit", "", "Monthly limit, e.g. 1500.00 (required)")
	cmd.Flags().IntVar(&resetDay, "reset-day", core.DefaultResetDay, "Day of month the budget resets (1-31)")
	cmd.Flags().StringVar(&threshold, "threshold", "", "Alert threshold as a fraction of the limit (default 0.8)")
	_ = cmd.MarkFlagRequired("limit")
	return cmd
}

func newBudgetShowCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, st store.Store, _ *time.Location) error {
				u, err := userByEmail(ctx, st, email)
				if err != nil {
					return err
				}
				b, err := services.NewBudgetService(st).Get(ctx, u.ID)
				if errors.Is(err, store.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "No budget set for %s\n", u.Email)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderBudget(u.Email, b))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address of the user (required)")
	return cmd
}
