package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/internal/observability"
	"github.com/3leaps/demuxmgr/pkg/lock"
	"github.com/3leaps/demuxmgr/pkg/state"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <run-id>",
	Short: "Queue a run for reprocessing",
	Long: `Mark a registered run for reprocessing. The next pass moves the
previous output aside as Unaligned.<n>, decompresses the base calls, and
runs the pipeline again from the sample sheet.

The change is made under the processing lock so it cannot race a pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runReprocess,
}

func init() {
	rootCmd.AddCommand(reprocessCmd)
}

func runReprocess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	guard, err := lock.Acquire(cfg.Lock.Path)
	if errors.Is(err, lock.ErrLocked) {
		return exitError(foundry.ExitFailure, "A processing pass is running; try again later", err)
	}
	if err != nil {
		return exitError(foundry.ExitFailure, "Cannot acquire lock", err)
	}
	defer func() { _ = guard.Release() }()

	store, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Get(ctx, id)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown run", err)
	}
	if err := store.SetState(ctx, id, state.Reprocess); err != nil {
		return exitError(foundry.ExitFailure, "Cannot update run state", err)
	}
	observability.CLILogger.Info("Run queued for reprocessing",
		zap.String("run_id", id),
		zap.String("previous_state", rec.State.String()))
	return nil
}
