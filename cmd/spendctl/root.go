package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"spendwatch/internal/backend"
	"spendwatch/internal/config"
	"spendwatch/internal/core"
	"spendwatch/internal/log"
	"spendwatch/internal/store"
)

// storeOpener returns the store to operate on and a func releasing it.
type storeOpener func(ctx context.Context, flags *rootFlags) (store.Store, *time.Location, func() error, error)

type rootFlags struct {
	backend string
	dbPath  string
	verbose bool
}

type app struct {
	flags rootFlags
	open  storeOpener
	now   func() time.Time
}

func newRootCmd(open storeOpener) *cobra.Command {
	a := &app{open: open, now: time.Now}

	root := &cobra.Command{
		Use:           "spendctl",
		Short:         "Administer a spendwatch deployment",
		Long:          "Manage users, budgets and reports directly against the spendwatch data backend.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.flags.backend, "backend", "", "Data backend override ("+backendChoices()+")")
	root.PersistentFlags().StringVar(&a.flags.dbPath, "db", "", "SQLite database path override")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "Log backend activity to stderr")

	root.AddCommand(newUserCmd(a), newBudgetCmd(a), newReportCmd(a))
	return root
}

func backendChoices() string {
	s := ""
	for i, b := range backend.GetBackendTypeStrings() {
		if i > 0 {
			s += "|"
		}
		s += b
	}
	return s
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store, loc *time.Location) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, loc, release, err := a.open(ctx, &a.flags)
	if err != nil {
		return err
	}
	defer func() {
		if release != nil {
			_ = release()
		}
	}()
	return fn(ctx, st, loc)
}

// userByEmail resolves the --email flag every subcommand takes.
func userByEmail(ctx context.Context, st store.Store, email string) (core.User, error) {
	if email == "" {
		return core.User{}, fmt.Errorf("--email is required")
	}
	u, err := st.GetUserByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		return core.User{}, fmt.Errorf("look up %s: %w", email, err)
	}
	return u, nil
}

// openConfiguredStore builds the store the server would use, honouring the
// --backend and --db overrides.
func openConfiguredStore(ctx context.Context, flags *rootFlags) (store.Store, *time.Location, func() error, error) {
	cfg := config.Load()
	if flags.backend != "" {
		cfg.DataBackend = flags.backend
	}
	if flags.dbPath != "" {
		cfg.SQLiteDBPath = flags.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger := log.Discard()
	if flags.verbose {
		lc := log.DefaultConfig()
		lc.Component = log.ComponentCLI
		lc.Level = log.ParseLevel(cfg.LogLevel)
		lc.Output = os.Stderr
		logger = log.New(lc)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s backend: %w", cfg.DataBackend, err)
	}
	return res.Store, cfg.Location(), res.Cleanup, nil
}
