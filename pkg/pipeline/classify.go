package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
)

// Classify decides which table drives r. Protocol applications recorded in
// the lab database take precedence over the read layout. A failed
// application lookup leaves the run unclassified so it is retried on a later
// pass instead of being driven through the wrong table.
func (p *Processor) Classify(ctx context.Context, r *run.Run) run.Kind {
	logger := p.log(r)
	apps, err := p.db.Applications(ctx, r.ID)
	if err != nil {
		logger.Warn("application lookup failed, leaving run unclassified", zap.Error(err))
		return run.KindUnclassified
	}
	for _, a := range apps {
		if strings.Contains(a, PatchPCRApplication) {
			return run.KindPatchPCR
		}
	}
	if custom := p.cfg.CustomPcrApplication; custom != "" {
		for _, a := range apps {
			if strings.Contains(a, custom) {
				return run.KindCustomPCR
			}
		}
	}

	info, err := r.Info()
	if err != nil {
		logger.Warn("cannot read run info", zap.Error(err))
		return run.KindUnclassified
	}
	switch info.DataReads() {
	case 1:
		return run.KindSingleEnd
	case 2:
		return run.KindPairedEnd
	default:
		logger.Warn("unsupported data read count", zap.Int("data_reads", info.DataReads()))
		return run.KindUnclassified
	}
}

// ResolveFacility sets r.CoreFacility from the lab database, defaulting to
// run.UnknownFacility when the lookup fails or matches nothing.
func (p *Processor) ResolveFacility(ctx context.Context, r *run.Run) {
	logger := p.log(r)
	names, err := p.db.CoreFacilities(ctx, r.ID)
	switch {
	case err != nil:
		logger.Warn("core facility lookup failed", zap.Error(err))
		r.CoreFacility = run.UnknownFacility
	case len(names) == 0:
		logger.Info("no core facility recorded for run")
		r.CoreFacility = run.UnknownFacility
	default:
		if len(names) > 1 {
			logger.Warn("run has several core facilities, using the first", zap.Strings("facilities", names))
		}
		r.CoreFacility = names[0]
	}
}
