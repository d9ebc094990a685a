package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/qc"
	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/samplesheet"
)

// ReportName is the file name of a run's barcode QC report.
func ReportName(runID string) string {
	return fmt.Sprintf("barcode_report_%s.xls", runID)
}

// Qc counts reads per barcode for the lanes on the sample sheet, writes
// the report into the run folder, saves a copy with the flowcell's data
// and mails it to lab staff.
func (p *Processor) Qc(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	rows, err := samplesheet.Read(r.SampleSheet())
	if err != nil {
		logger.Error("cannot read sample sheet", zap.Error(err))
		return false, nil
	}
	info, err := r.Info()
	if err != nil {
		return false, err
	}
	lanes := samplesheet.Lanes(rows)

	ev := &qc.Evaluator{
		UnalignedDir: unalignedDir(r),
		NumBases:     info.DataBases(),
		Workers:      p.cfg.Jobs.Compress,
		Logger:       logger,
	}
	logger.Info("running qc report", zap.Ints("lanes", lanes))
	report, err := ev.Evaluate(ctx, rows, lanes)
	if err != nil {
		return false, fmt.Errorf("evaluate indexing: %w", err)
	}
	out := filepath.Join(r.Dir, ReportName(r.ID))
	if err := report.WriteFile(out); err != nil {
		return false, err
	}
	if report.Problems() {
		logger.Warn("qc report flagged problems", zap.String("report", out))
	}

	if p.reports != nil {
		fc, err := p.db.FlowCell(ctx, r.FlowCellBarcode())
		if err != nil {
			logger.Error("flowcell lookup failed", zap.String("barcode", r.FlowCellBarcode()), zap.Error(err))
			return false, nil
		}
		dir := path.Join("FlowCellData", strconv.Itoa(fc.Created.Year()), fc.Number)
		saved, err := p.reports.Save(ctx, dir, out)
		if err != nil {
			logger.Error("cannot save qc report", zap.Error(err))
			return false, nil
		}
		logger.Info("saved qc report", zap.String("location", saved))
	}

	if err := p.notifier.QcReport(ctx, target(r), out); err != nil {
		logger.Error("cannot send qc report", zap.Error(err))
		return false, nil
	}
	return true, nil
}
