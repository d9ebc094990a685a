package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
)

// Archive tells the archive list the run is ready. Its result is the
// result of the send.
func (p *Processor) Archive(ctx context.Context, r *run.Run) (bool, error) {
	if err := p.notifier.ReadyForArchive(ctx, target(r)); err != nil {
		p.log(r).Error("cannot send archive notification", zap.Error(err))
		return false, nil
	}
	return true, nil
}

// NotifyError tells the notify list the run entered the error state.
func (p *Processor) NotifyError(ctx context.Context, r *run.Run) (bool, error) {
	if err := p.notifier.Error(ctx, target(r)); err != nil {
		p.log(r).Error("cannot send error notification", zap.Error(err))
		return false, nil
	}
	return true, nil
}
