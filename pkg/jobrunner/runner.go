// Package jobrunner runs queues of independent shell commands with a
// bounded number of simultaneous subprocesses.
//
// The runner is work-conserving: a failing job never stops the remaining
// jobs from starting, and RunJobs reports whether every job succeeded.
package jobrunner

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultShell interprets each job command.
const DefaultShell = "/bin/sh"

// Recorder observes finished jobs, typically for metrics.
type Recorder interface {
	JobFinished(exitCode int, elapsed time.Duration)
}

// Result is the outcome of one job in the last batch.
type Result struct {
	Command  string
	ExitCode int
	Err      error
	Elapsed  time.Duration
}

// OK reports whether the job exited with status zero.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Stats summarizes the last batch.
type Stats struct {
	Started   int
	Succeeded int
	Failed    int
	Peak      int
}

// Runner queues shell commands and runs them as a batch.
type Runner struct {
	shell    string
	stdout   io.Writer
	stderr   io.Writer
	dir      string
	logger   *zap.Logger
	recorder Recorder

	mu      sync.Mutex
	queue   []string
	results []Result
	stats   Stats
}

// Option configures a Runner.
type Option func(*Runner)

// WithShell overrides the shell used for `<shell> -c <command>`.
func WithShell(path string) Option {
	return func(r *Runner) { r.shell = path }
}

// WithOutput sets the writers attached to job stdout and stderr. A nil
// writer discards the stream.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithDir sets the working directory of every job.
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithLogger sets the runner logger. Nil keeps the no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder reports every finished job to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// New returns an empty runner. Job stdout is discarded and stderr goes to
// the process stderr unless overridden.
func New(opts ...Option) *Runner {
	r := &Runner{
		shell:  DefaultShell,
		stderr: os.Stderr,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddJob enqueues a shell command.
func (r *Runner) AddJob(command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.New("job command is empty")
	}
	r.mu.Lock()
	r.queue = append(r.queue, command)
	r.mu.Unlock()
	return nil
}

// Pending returns the number of queued jobs.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// ClearJobs drops queued jobs and the bookkeeping of the last batch.
func (r *Runner) ClearJobs() {
	r.mu.Lock()
	r.queue = nil
	r.results = nil
	r.stats = Stats{}
	r.mu.Unlock()
}

// Results returns the outcomes of the last batch in start order.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Stats returns counters for the last batch.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

type finished struct {
	index  int
	result Result
}

// RunJobs starts up to maxConcurrency queued jobs and replaces each one as
// it exits until the queue is drained and every started job has finished.
// It returns true iff every job exited with status zero. The queue is
// empty afterwards.
//
// Cancelling ctx stops further jobs from starting; jobs never started are
// recorded as failures. Running jobs are waited for, not killed.
func (r *Runner) RunJobs(ctx context.Context, maxConcurrency int) bool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.results = make([]Result, len(queue))
	r.stats = Stats{}
	r.mu.Unlock()

	if len(queue) == 0 {
		return true
	}

	done := make(chan finished)
	next, running := 0, 0
	ok := true

	start := func() {
		idx, command := next, queue[next]
		next++

		cmd := exec.Command(r.shell, "-c", command)
		cmd.Dir = r.dir
		cmd.Stdout = r.stdout
		cmd.Stderr = r.stderr

		began := time.Now()
		if err := cmd.Start(); err != nil {
			r.logger.Warn("job failed to start", zap.String("command", command), zap.Error(err))
			r.record(idx, Result{Command: command, ExitCode: -1, Err: err})
			return
		}
		running++
		r.mu.Lock()
		r.stats.Started++
		if running > r.stats.Peak {
			r.stats.Peak = running
		}
		r.mu.Unlock()

		go func() {
			err := cmd.Wait()
			res := Result{Command: command, Elapsed: time.Since(began)}
			if err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					res.ExitCode = exitErr.ExitCode()
				} else {
					res.ExitCode = -1
					res.Err = err
				}
			}
			done <- finished{index: idx, result: res}
		}()
	}

	for next < len(queue) || running > 0 {
		for running < maxConcurrency && next < len(queue) {
			if ctx.Err() != nil {
				for ; next < len(queue); next++ {
					r.record(next, Result{Command: queue[next], ExitCode: -1, Err: ctx.Err()})
				}
				break
			}
			start()
		}
		if running == 0 {
			continue
		}
		f := <-done
		running--
		r.record(f.index, f.result)
	}

	r.mu.Lock()
	for _, res := range r.results {
		if !res.OK() {
			ok = false
			break
		}
	}
	r.mu.Unlock()
	return ok
}

func (r *Runner) record(idx int, res Result) {
	r.mu.Lock()
	r.results[idx] = res
	if res.OK() {
		r.stats.Succeeded++
	} else {
		r.stats.Failed++
	}
	r.mu.Unlock()

	if !res.OK() {
		r.logger.Warn("job failed",
			zap.String("command", res.Command),
			zap.Int("exit_code", res.ExitCode),
			zap.Error(res.Err))
	} else {
		r.logger.Debug("job finished", zap.String("command", res.Command), zap.Duration("elapsed", res.Elapsed))
	}
	if r.recorder != nil {
		r.recorder.JobFinished(res.ExitCode, res.Elapsed)
	}
}
