// Package statemachine drives a run through a transition table until the
// run stops changing state.
//
// A table maps each state to a handler and the states to move to when the
// handler succeeds or fails. A handler that fails returns false; a state
// that lists itself as its failure state waits and is retried on a later
// pass. Unexpected errors and panics divert the run to error_detected, and
// the table's error_detected entry (normally a notification) runs at once.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/state"
)

// Handler performs the work of one state.
type Handler func(ctx context.Context, r *run.Run) (bool, error)

// Transition is one table row.
type Transition struct {
	Name      string
	Handler   Handler
	OnSuccess state.State
	OnFailure state.State
}

// Table is a transition table keyed by current state.
type Table map[state.State]Transition

// Merge returns a copy of t with the rows of over replacing or adding to
// its own.
func (t Table) Merge(over Table) Table {
	out := make(Table, len(t)+len(over))
	for s, tr := range t {
		out[s] = tr
	}
	for s, tr := range over {
		out[s] = tr
	}
	return out
}

// Persister saves a run's current state.
type Persister interface {
	UpdateState(ctx context.Context, r *run.Run) error
}

// Recorder observes the driver.
type Recorder interface {
	Transition(ctx context.Context, kind, from, to string)
	HandlerDone(ctx context.Context, handler string, ok bool, elapsed time.Duration)
	RunError(ctx context.Context, kind string)
}

// ErrPersist wraps failures to save a state change.
var ErrPersist = errors.New("persist state")

// ErrTooManySteps reports a table that cycles through several states
// without settling.
var ErrTooManySteps = errors.New("transition limit exceeded")

// Driver executes tables.
type Driver struct {
	Persister Persister
	Logger    *zap.Logger
	Recorder  Recorder
}

// Result reports what one Drive call did.
type Result struct {
	From  state.State
	To    state.State
	Steps int
	// Failed is set when a handler error or panic diverted the run.
	Failed bool
}

// Drive advances r through table. It returns an error only when a state
// change could not be persisted or the table failed to settle; handler
// failures are absorbed into the run's state.
func (d *Driver) Drive(ctx context.Context, table Table, r *run.Run) (Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", r.ID), zap.String("kind", string(r.Kind)))

	res := Result{From: r.State}
	limit := len(table) + 1

	for {
		if err := ctx.Err(); err != nil {
			res.To = r.State
			return res, err
		}
		tr, ok := table[r.State]
		if !ok {
			break
		}
		if res.Steps >= limit {
			res.To = r.State
			return res, fmt.Errorf("%w: run %s after %d steps in %s", ErrTooManySteps, r.ID, res.Steps, r.State)
		}
		res.Steps++

		prev := r.State
		next, failed := d.step(ctx, logger, tr, r)
		if failed {
			res.Failed = true
			next = state.ErrorDetected
			if prev != state.ErrorDetected {
				next = d.divert(ctx, logger, table, r)
			}
		}
		if next == prev {
			break
		}

		r.State = next
		if err := d.persist(ctx, logger, r, prev); err != nil {
			res.To = r.State
			return res, err
		}
		if failed {
			break
		}
	}
	res.To = r.State
	return res, nil
}

// step runs one handler. failed reports an error or panic.
func (d *Driver) step(ctx context.Context, logger *zap.Logger, tr Transition, r *run.Run) (next state.State, failed bool) {
	start := time.Now()
	ok, err := d.call(ctx, tr, r)
	if d.Recorder != nil {
		d.Recorder.HandlerDone(ctx, tr.Name, ok && err == nil, time.Since(start))
	}
	if err != nil {
		logger.Error("handler failed",
			zap.String("handler", tr.Name),
			zap.String("state", r.State.String()),
			zap.Error(err),
		)
		return r.State, true
	}
	logger.Debug("handler finished",
		zap.String("handler", tr.Name),
		zap.Bool("ok", ok),
		zap.Duration("elapsed", time.Since(start)),
	)
	if ok {
		return tr.OnSuccess, false
	}
	return tr.OnFailure, false
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (d *Driver) call(ctx context.Context, tr Transition, r *run.Run) (ok bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			d.logger().Error("handler panicked",
				zap.String("run_id", r.ID),
				zap.String("handler", tr.Name),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)
			ok, err = false, &panicError{value: v}
		}
	}()
	if tr.Handler == nil {
		return false, fmt.Errorf("no handler for %s", r.State)
	}
	return tr.Handler(ctx, r)
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// divert moves a failed run to error_detected and runs the table's error
// handler once. The handler's own failure leaves the run in
// error_detected so the next pass retries the notification.
func (d *Driver) divert(ctx context.Context, logger *zap.Logger, table Table, r *run.Run) state.State {
	if d.Recorder != nil {
		d.Recorder.RunError(ctx, string(r.Kind))
	}
	tr, ok := table[state.ErrorDetected]
	if !ok || tr.Handler == nil {
		return state.ErrorDetected
	}
	saved := r.State
	r.State = state.ErrorDetected
	ok, err := d.call(ctx, tr, r)
	r.State = saved
	if err != nil || !ok {
		logger.Warn("error notification failed", zap.Error(err))
		return state.ErrorDetected
	}
	return tr.OnSuccess
}

func (d *Driver) persist(ctx context.Context, logger *zap.Logger, r *run.Run, prev state.State) error {
	if d.Persister != nil {
		if err := d.Persister.UpdateState(ctx, r); err != nil {
			logger.Error("failed to persist state",
				zap.String("from", prev.String()),
				zap.String("to", r.State.String()),
				zap.Error(err),
			)
			return fmt.Errorf("%w: run %s: %w", ErrPersist, r.ID, err)
		}
	}
	if d.Recorder != nil {
		d.Recorder.Transition(ctx, string(r.Kind), prev.String(), r.State.String())
	}
	logger.Info("state changed",
		zap.String("from", prev.String()),
		zap.String("to", r.State.String()),
	)
	return nil
}
