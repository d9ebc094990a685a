package pipeline

import (
	"context"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
)

// CheckRegistrationVerbose succeeds when the run's flowcell is registered
// in the lab database. Lab staff are told about every failed check.
func (p *Processor) CheckRegistrationVerbose(ctx context.Context, r *run.Run) (bool, error) {
	return p.checkRegistration(ctx, r, true)
}

// CheckRegistrationSilent is the polling form of the registration check.
// Lab staff are told only once the instrument has finished transferring,
// since the pipeline is then blocked on them.
func (p *Processor) CheckRegistrationSilent(ctx context.Context, r *run.Run) (bool, error) {
	return p.checkRegistration(ctx, r, false)
}

func (p *Processor) checkRegistration(ctx context.Context, r *run.Run, verbose bool) (bool, error) {
	logger := p.log(r)
	n, err := p.db.LaneChannelCount(ctx, r.ID)
	if err != nil {
		logger.Warn("registration lookup failed", zap.Error(err))
		return false, nil
	}
	if slices.Contains(p.cfg.AcceptedLaneCounts, n) {
		return true, nil
	}

	done := p.transferComplete(r)
	logger.Info("run folder not registered", zap.Int("lanes", n), zap.Bool("transfer_complete", done))
	if !verbose && !done {
		return false, nil
	}
	if err := p.notifier.NotRegistered(ctx, target(r), done); err != nil {
		logger.Warn("failed to notify lab staff", zap.Error(err))
	}
	return false, nil
}

// CheckTransferComplete succeeds once the instrument's copy-complete
// marker for the last read exists, and announces that processing starts.
func (p *Processor) CheckTransferComplete(ctx context.Context, r *run.Run) (bool, error) {
	if !p.transferComplete(r) {
		return false, nil
	}
	p.log(r).Info("transfer complete")
	if _, err := p.NotifyStarting(ctx, r); err != nil {
		return false, err
	}
	return true, nil
}

// CheckTransferCompleteSilent is CheckTransferComplete without the
// notification.
func (p *Processor) CheckTransferCompleteSilent(_ context.Context, r *run.Run) (bool, error) {
	return p.transferComplete(r), nil
}

func (p *Processor) transferComplete(r *run.Run) bool {
	info, err := r.Info()
	if err != nil {
		p.log(r).Debug("run info not readable", zap.Error(err))
		return false
	}
	marker := filepath.Join(r.Dir, info.TransferMarker())
	return exists(marker) || exists(marker+".gz")
}

// NotifyStarting tells lab staff the run is being processed. A failed send
// is logged and does not hold the run back.
func (p *Processor) NotifyStarting(ctx context.Context, r *run.Run) (bool, error) {
	if err := p.notifier.Starting(ctx, target(r)); err != nil {
		p.log(r).Warn("failed to send starting notification", zap.Error(err))
	}
	return true, nil
}
