// Package manager runs one processing pass over every known run: it
// discovers new run folders, drives active runs through the transition
// table of their kind, and forgets runs whose folders have been removed.
//
// A pass is meant to be started periodically (typically from cron) under
// the host-wide lock; it holds no state between passes beyond the
// registry.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/registry"
	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/statemachine"
)

// RunFolderPattern matches instrument run folder names such as
// 150101_D00550_0001_AH2K3JADXX.
var RunFolderPattern = regexp.MustCompile(`^[0-9]*_[A-Z0-9]*_[0-9]*_[A-Z0-9-]*$`)

// Store is the part of the registry a pass needs.
type Store interface {
	statemachine.Persister
	Add(ctx context.Context, r *run.Run) error
	ListActive(ctx context.Context) ([]registry.Record, error)
	DeleteIfMissing(ctx context.Context) ([]string, error)
}

// Processor classifies runs and supplies their tables.
type Processor interface {
	ResolveFacility(ctx context.Context, r *run.Run)
	Classify(ctx context.Context, r *run.Run) run.Kind
	Table(kind run.Kind) statemachine.Table
}

// DiscoveryRecorder observes newly registered runs.
type DiscoveryRecorder interface {
	RunsDiscovered(ctx context.Context, n int)
}

// Manager performs processing passes.
type Manager struct {
	Roots     []string
	Store     Store
	Processor Processor
	Logger    *zap.Logger

	// Transitions and Discoveries are optional metrics hooks.
	Transitions statemachine.Recorder
	Discoveries DiscoveryRecorder
}

// Summary describes one pass.
type Summary struct {
	BatchID    string   `json:"batch_id"`
	Discovered []string `json:"discovered"`
	Processed  int      `json:"processed"`
	Errored    int      `json:"errored"`
	Skipped    int      `json:"skipped"`
	Removed    []string `json:"removed"`
}

// Run performs one pass. Failures of individual runs are logged and
// counted in the summary; the returned error reports registry failures
// and cancellation.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	sum := Summary{BatchID: uuid.NewString()}
	logger := m.logger().With(zap.String("batch_id", sum.BatchID))
	logger.Info("processing pass starting", zap.Strings("roots", m.Roots))

	added, err := m.discover(ctx, logger)
	sum.Discovered = added
	if err != nil {
		logger.Error("discovery incomplete", zap.Error(err))
	}
	if m.Discoveries != nil && len(added) > 0 {
		m.Discoveries.RunsDiscovered(ctx, len(added))
	}

	if err := m.process(ctx, logger, &sum); err != nil {
		return sum, err
	}

	removed, err := m.Store.DeleteIfMissing(ctx)
	sum.Removed = removed
	if err != nil {
		return sum, fmt.Errorf("remove missing runs: %w", err)
	}

	logger.Info("processing pass finished",
		zap.Int("discovered", len(sum.Discovered)),
		zap.Int("processed", sum.Processed),
		zap.Int("errored", sum.Errored),
		zap.Int("skipped", sum.Skipped),
		zap.Int("removed", len(sum.Removed)))
	return sum, nil
}

// Discover registers run folders under the roots that the registry does
// not know yet and returns their ids.
func (m *Manager) Discover(ctx context.Context) ([]string, error) {
	return m.discover(ctx, m.logger())
}

func (m *Manager) discover(ctx context.Context, logger *zap.Logger) ([]string, error) {
	var added []string
	var errs []error
	for _, root := range m.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			logger.Warn("cannot scan root", zap.String("root", root), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if !RunFolderPattern.MatchString(e.Name()) {
				continue
			}
			dir := filepath.Join(root, e.Name())
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				continue
			}
			err := m.Store.Add(ctx, run.New(e.Name(), dir))
			var dup *registry.DuplicateRunError
			switch {
			case errors.As(err, &dup):
				continue
			case err != nil:
				errs = append(errs, err)
				continue
			}
			logger.Info("discovered run", zap.String("run_id", e.Name()), zap.String("directory", dir))
			added = append(added, e.Name())
		}
	}
	return added, errors.Join(errs...)
}

func (m *Manager) process(ctx context.Context, logger *zap.Logger, sum *Summary) error {
	records, err := m.Store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active runs: %w", err)
	}
	runs := make([]*run.Run, 0, len(records))
	for _, rec := range records {
		runs = append(runs, rec.Run())
	}
	run.SortByPriority(runs)

	driver := &statemachine.Driver{Persister: m.Store, Logger: logger, Recorder: m.Transitions}
	for _, r := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rlog := logger.With(zap.String("run_id", r.ID))

		m.Processor.ResolveFacility(ctx, r)
		r.Kind = m.Processor.Classify(ctx, r)
		table := m.Processor.Table(r.Kind)
		if table == nil {
			rlog.Warn("run not classified, leaving it for a later pass", zap.String("state", r.State.String()))
			sum.Skipped++
			continue
		}

		res, err := driver.Drive(ctx, table, r)
		sum.Processed++
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rlog.Error("run processing failed", zap.Error(err))
			sum.Errored++
			continue
		}
		if res.Failed {
			sum.Errored++
		}
		rlog.Info("run processed",
			zap.String("kind", string(r.Kind)),
			zap.String("from", res.From.String()),
			zap.String("to", res.To.String()),
			zap.Int("steps", res.Steps))
	}
	return nil
}

func (m *Manager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}
