package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/internal/observability"
	"github.com/3leaps/demuxmgr/pkg/lock"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one processing pass",
	Long: `Discover new run folders under the configured roots, advance every
active run through its pipeline, and forget runs whose folders are gone.

Only one pass runs per host. When another pass holds the lock this one
exits immediately with status 0.

Examples:
  demuxmgr process
  demuxmgr --config /etc/demuxmgr.yaml`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	guard, err := lock.Acquire(cfg.Lock.Path)
	if errors.Is(err, lock.ErrLocked) {
		observability.CLILogger.Info("Another pass is running; exiting",
			zap.String("lock", cfg.Lock.Path),
			zap.Int("holder_pid", lock.HolderPID(cfg.Lock.Path)))
		return nil
	}
	if err != nil {
		return exitError(foundry.ExitFailure, "Cannot acquire lock", err)
	}
	defer func() {
		if err := guard.Release(); err != nil {
			observability.CLILogger.Warn("Failed to release lock", zap.Error(err))
		}
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := a.manager().Run(ctx)
	if path := cfg.Metrics.Textfile; path != "" {
		if werr := a.metrics.WriteTextfile(path); werr != nil {
			observability.CLILogger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(werr))
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Processing pass cancelled", err)
		}
		return exitError(foundry.ExitFailure, "Processing pass aborted", err)
	}

	observability.CLILogger.Info("Processing pass complete",
		zap.String("batch_id", sum.BatchID),
		zap.Strings("discovered", sum.Discovered),
		zap.Int("processed", sum.Processed),
		zap.Int("errored", sum.Errored),
		zap.Int("skipped", sum.Skipped),
		zap.Strings("removed", sum.Removed))
	return nil
}
