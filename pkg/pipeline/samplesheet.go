package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/samplesheet"
)

// MakeSampleSheet writes the run's sample sheet from the lab database. An
// existing sheet is kept as is so that manual edits survive reprocessing.
func (p *Processor) MakeSampleSheet(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	path := r.SampleSheet()
	if exists(path) {
		logger.Info("sample sheet already exists", zap.String("path", path))
		return true, nil
	}

	samples, err := p.db.LaneSamples(ctx, r.ID)
	if err != nil {
		logger.Error("lane sample lookup failed", zap.Error(err))
		return false, nil
	}
	if len(samples) == 0 {
		logger.Error("no samples registered for run")
		return false, nil
	}

	opts := samplesheet.BuildOptions{Operator: p.cfg.Operator}
	if p.cfg.RapidRunDuplication && samplesheet.IsRapidRun(samples, r.Dir) {
		logger.Info("rapid run detected, duplicating lane 1 as lane 2")
		opts.DuplicateLane2 = true
	}
	rows := samplesheet.Build(samples, opts)
	if err := samplesheet.Write(path, rows); err != nil {
		logger.Error("failed to write sample sheet", zap.Error(err))
		return false, nil
	}
	logger.Info("wrote sample sheet", zap.String("path", path), zap.Int("rows", len(rows)))
	return true, nil
}

// CheckSingleIndexLength reads the sheet back and succeeds when every
// index has the same length.
func (p *Processor) CheckSingleIndexLength(_ context.Context, r *run.Run) (bool, error) {
	rows, err := samplesheet.Read(r.SampleSheet())
	if err != nil {
		return false, err
	}
	lengths := samplesheet.IndexLengths(rows)
	p.log(r).Info("index lengths", zap.Ints("lengths", lengths))
	return len(lengths) == 1, nil
}
