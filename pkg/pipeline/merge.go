package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
)

// MergeConversions gathers the per-length conversion outputs into a single
// Unaligned tree. A project already moved from another group has its
// sample directories merged in instead.
func (p *Processor) MergeConversions(_ context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	unaligned := unalignedDir(r)
	undetermined := filepath.Join(unaligned, "Undetermined_indices")
	if err := os.MkdirAll(undetermined, 0o755); err != nil {
		return false, err
	}

	outputs := r.OutputDirs
	if len(outputs) == 0 {
		found, err := filepath.Glob(filepath.Join(r.Dir, "Unaligned_*"))
		if err != nil {
			return false, err
		}
		for _, d := range found {
			if isDir(d) {
				outputs = append(outputs, d)
			}
		}
	}
	if len(outputs) == 0 {
		logger.Error("no conversion output directories to merge")
		return false, nil
	}

	for _, out := range outputs {
		if !filepath.IsAbs(out) {
			out = filepath.Join(r.Dir, out)
		}
		projects, err := filepath.Glob(filepath.Join(out, "Project_*"))
		if err != nil {
			return false, err
		}
		for _, proj := range projects {
			if err := moveProject(logger, proj, filepath.Join(unaligned, filepath.Base(proj))); err != nil {
				return false, err
			}
		}

		lanes, err := filepath.Glob(filepath.Join(out, "Undetermined_indices", "Sample_lane*"))
		if err != nil {
			return false, err
		}
		for _, lane := range lanes {
			dest := filepath.Join(undetermined, filepath.Base(lane))
			if err := os.Rename(lane, dest); err != nil {
				return false, fmt.Errorf("move %s: %w", lane, err)
			}
		}
	}
	return true, nil
}

func moveProject(logger *zap.Logger, src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !isDir(dest) {
		return fmt.Errorf("move %s: %w", src, err)
	}

	logger.Info("project already merged, moving sample directories", zap.String("project", filepath.Base(src)))
	samples, err := filepath.Glob(filepath.Join(src, "Sample_*"))
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range samples {
		target := filepath.Join(dest, filepath.Base(s))
		if err := os.Rename(s, target); err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", strings.TrimPrefix(s, filepath.Dir(src)+"/"), err))
		}
	}
	return errors.Join(errs...)
}
