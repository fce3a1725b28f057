package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nixos/hydra-evaluator/internal/config"
	"github.com/nixos/hydra-evaluator/internal/logging"
	"github.com/nixos/hydra-evaluator/internal/scheduler"
	"github.com/nixos/hydra-evaluator/internal/statusapi"
	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

var (
	flagConfig    string
	flagUnlock    bool
	flagLogLevel  string
	flagLogFormat string
)

// NewRootCmd builds the evaluator's root command. It supports three
// shapes, matching the source evaluator's main(): no args runs the
// daemon forever; --unlock clears every jobset's start-time marker
// and exits; <project> <jobset> runs one evaluation unconditionally
// and exits.
//
// Deliberately absent: any clean-shutdown handling for the daemon
// loop. An interrupt kills the process the way Go's default signal
// disposition always has; see spec Non-goals.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hydra-evaluator [project] [jobset]",
		Short:         "jobset evaluator-scheduler for a package build farm",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run,
	}

	root.Flags().StringVar(&flagConfig, "config", "/etc/hydra/hydra.conf", "path to the evaluator config file")
	root.Flags().BoolVar(&flagUnlock, "unlock", false, "clear every jobset's start-time marker, then exit")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&flagLogFormat, "log-format", "text", "log format (text, json)")

	return root
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagLogLevel != "info" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "text" {
		cfg.LogFormat = flagLogFormat
	}
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx := context.Background()

	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.MaxConcurrentEvals*2, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if flagUnlock {
		return scheduler.Unlock(ctx, st)
	}

	if len(args) == 2 {
		name := model.JobsetName{Project: args[0], Name: args[1]}
		if err := scheduler.EvalOne(ctx, st, name, logger); err != nil {
			return err
		}
		return nil
	}

	return runDaemon(ctx, cfg, st, logger)
}

func runDaemon(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger) error {
	if err := scheduler.Unlock(ctx, st); err != nil {
		return fmt.Errorf("startup unlock: %w", err)
	}

	state := scheduler.NewState(cfg.MaxConcurrentEvals)
	registry := scheduler.NewRegistry(st, func() (store.Notifier, error) {
		return store.NewPQListener(cfg.DatabaseURL, logger)
	}, logger)
	registry.Attach(state)
	dispatcher := scheduler.NewDispatcher(state, st, logger)
	reaper := scheduler.NewReaper(state, st, logger)

	go registry.Run(ctx)
	go reaper.Run(ctx)

	if cfg.StatusAddr != "" {
		statusSrv := statusapi.New(state, logger)
		go func() {
			logger.Info("status endpoint listening", "addr", cfg.StatusAddr)
			if err := http.ListenAndServe(cfg.StatusAddr, statusSrv); err != nil {
				logger.Error("status endpoint stopped", "error", err)
			}
		}()
	}

	dispatcher.Run(ctx)
	return ctx.Err()
}
