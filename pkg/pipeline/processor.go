// Package pipeline implements the per-state handlers that move a run from
// discovery to archive, and the transition tables that sequence them for
// each kind of run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/jobrunner"
	"github.com/3leaps/demuxmgr/pkg/labdb"
	"github.com/3leaps/demuxmgr/pkg/notify"
	"github.com/3leaps/demuxmgr/pkg/reportstore"
	"github.com/3leaps/demuxmgr/pkg/run"
)

// Config holds the knobs handlers read.
type Config struct {
	// AcceptedLaneCounts lists the channel counts of a correctly
	// registered flowcell.
	AcceptedLaneCounts []int

	ConverterPath string
	ConverterArgs []string
	CompressBcl   bool

	Jobs Concurrency

	Operator            string
	RapidRunDuplication bool

	CustomPcrApplication string
	MiSeqInstruments     []string

	// DataRoots maps a core facility to the root of its delivery tree.
	DataRoots map[string]string

	Commands Commands
}

// Concurrency bounds the job batches of each handler.
type Concurrency struct {
	Concatenate int
	Checksum    int
	Copy        int
	Compress    int
}

// Commands names the external programs used in job command lines.
type Commands struct {
	Cat    string
	Gzip   string
	Gunzip string
	Md5sum string
	Rsync  string
	Cp     string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AcceptedLaneCounts:   []int{1, 8},
		ConverterPath:        "bcl2fastq",
		CompressBcl:          true,
		Jobs:                 Concurrency{Concatenate: 4, Checksum: 5, Copy: 6, Compress: 8},
		CustomPcrApplication: "Kappa PCR",
		Commands:             DefaultCommands(),
	}
}

// DefaultCommands resolves the tools from PATH.
func DefaultCommands() Commands {
	return Commands{Cat: "cat", Gzip: "gzip", Gunzip: "gunzip", Md5sum: "md5sum", Rsync: "rsync", Cp: "cp"}
}

func (c Commands) withDefaults() Commands {
	d := DefaultCommands()
	if c.Cat == "" {
		c.Cat = d.Cat
	}
	if c.Gzip == "" {
		c.Gzip = d.Gzip
	}
	if c.Gunzip == "" {
		c.Gunzip = d.Gunzip
	}
	if c.Md5sum == "" {
		c.Md5sum = d.Md5sum
	}
	if c.Rsync == "" {
		c.Rsync = d.Rsync
	}
	if c.Cp == "" {
		c.Cp = d.Cp
	}
	return c
}

// Executor runs one external program to completion.
type Executor interface {
	Run(ctx context.Context, dir, name string, args []string, stdout, stderr io.Writer) error
}

// ExecExecutor runs programs with os/exec.
type ExecExecutor struct{}

// Run implements Executor.
func (ExecExecutor) Run(ctx context.Context, dir, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Processor carries the dependencies shared by all handlers.
type Processor struct {
	cfg      Config
	db       labdb.Querier
	notifier *notify.Notifier
	reports  reportstore.Store
	exec     Executor
	logger   *zap.Logger
	recorder jobrunner.Recorder
}

// Option configures a Processor.
type Option func(*Processor)

// WithExecutor replaces the converter executor.
func WithExecutor(e Executor) Option {
	return func(p *Processor) { p.exec = e }
}

// WithReportStore sets where QC reports are saved.
func WithReportStore(s reportstore.Store) Option {
	return func(p *Processor) { p.reports = s }
}

// WithLogger sets the logger handlers write to. Nil keeps the default.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithJobRecorder observes every job the handlers run.
func WithJobRecorder(r jobrunner.Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// New returns a Processor.
func New(cfg Config, db labdb.Querier, notifier *notify.Notifier, opts ...Option) *Processor {
	cfg.Commands = cfg.Commands.withDefaults()
	if cfg.ConverterPath == "" {
		cfg.ConverterPath = "bcl2fastq"
	}
	p := &Processor{
		cfg:      cfg,
		db:       db,
		notifier: notifier,
		exec:     ExecExecutor{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) log(r *run.Run) *zap.Logger {
	return p.logger.With(zap.String("run_id", r.ID))
}

func (p *Processor) jobs(r *run.Run) *jobrunner.Runner {
	return jobrunner.New(
		jobrunner.WithDir(r.Dir),
		jobrunner.WithLogger(p.log(r)),
		jobrunner.WithRecorder(p.recorder),
	)
}

func target(r *run.Run) notify.Run {
	return notify.Run{ID: r.ID, Dir: r.Dir, Facility: r.CoreFacility}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func unalignedDir(r *run.Run) string {
	return filepath.Join(r.Dir, "Unaligned")
}

func baseCallsDir(r *run.Run) string {
	return filepath.Join(r.Dir, "Data", "Intensities", "BaseCalls")
}

func logFiles(dir, stem string) (stdout, stderr *os.File, err error) {
	stdout, err = os.Create(filepath.Join(dir, stem+".out"))
	if err != nil {
		return nil, nil, fmt.Errorf("create %s.out: %w", stem, err)
	}
	stderr, err = os.Create(filepath.Join(dir, stem+".err"))
	if err != nil {
		_ = stdout.Close()
		return nil, nil, fmt.Errorf("create %s.err: %w", stem, err)
	}
	return stdout, stderr, nil
}
