// Package cmd wires the mbox-archive command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-archive/config"
	"github.com/dhcgn/mbox-archive/staging"
)

// app carries the state resolved before any subcommand runs.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
}

func (a *app) close() {
	if a.closeLog != nil {
		_ = a.closeLog()
		a.closeLog = nil
	}
}

func (a *app) openStore() (*staging.Store, error) {
	store, err := staging.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("staging.Open: %w", err)
	}
	return store, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() (*cobra.Command, func(), error) {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "mbox-archive",
		Short:         "Turn mbox exports into yearly text archives and deduplicated attachment trees",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = logger
			a.closeLog = cleanup
			slog.SetDefault(logger)
			logger.Debug("configuration loaded", "command", cmd.Name(), "db", cfg.DBPath, "out", cfg.OutputDir)
			return nil
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, nil, fmt.Errorf("failed to register CLI flags: %w", err)
	}

	rootCmd.AddCommand(
		newIngestCmd(a),
		newExportCmd(a),
		newDedupCmd(a),
		newRunCmd(a),
		newStatusCmd(a),
		newStatsCmd(a),
	)

	return rootCmd, a.close, nil
}

// Execute runs the command line with ctx, which is cancelled on interrupt.
func Execute(ctx context.Context, args []string) error {
	rootCmd, cleanup, err := NewRootCmd()
	if err != nil {
		return err
	}
	defer cleanup()

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
