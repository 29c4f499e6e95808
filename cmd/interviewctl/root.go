package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/interviewd/internal/checkpoint"
	"github.com/ashureev/interviewd/internal/config"
)

// app carries what the commands share. Tests swap openStore.
type app struct {
	logger    *slog.Logger
	openStore func(cmd *cobra.Command) (checkpoint.Store, error)
}

func defaultApp() *app {
	a := &app{
		logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	a.openStore = a.storeFromConfig
	return a
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "interviewctl",
		Short: "Inspect and maintain interview checkpoints",
		Long: `interviewctl reads the checkpoint store used by interviewd. It shows the
current state of a session, walks its step history, reads any past step and
expires abandoned sessions.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if err := godotenv.Load(); err != nil {
				a.logger.Debug("no .env file found, using environment variables")
			}
			if level, _ := cmd.Flags().GetString("log-level"); level == "debug" {
				a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
		},
	}

	root.PersistentFlags().String("driver", "", "store driver override (sqlite, postgres, memory)")
	root.PersistentFlags().String("db", "", "sqlite path override")
	root.PersistentFlags().String("dsn", "", "postgres DSN override")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info)")
	root.PersistentFlags().Bool("json", false, "print JSON instead of text")

	root.AddCommand(newShowCmd(a), newHistoryCmd(a), newAtCmd(a), newSweepCmd(a), newSetsCmd(a))
	return root
}

// storeFromConfig opens the store described by the environment, with flag
// overrides applied.
func (a *app) storeFromConfig(cmd *cobra.Command) (checkpoint.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Store.Path = v
	}
	if v, _ := cmd.Flags().GetString("dsn"); v != "" {
		cfg.Store.DSN = v
	}
	store, err := checkpoint.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN, 2, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return checkpoint.NewBounded(store, 1, cfg.Store.OpTimeout), nil
}

func (a *app) withStore(cmd *cobra.Command, fn func(checkpoint.Store) error) error {
	store, err := a.openStore(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			a.logger.Warn("failed to close store", "error", closeErr)
		}
	}()
	return fn(store)
}
