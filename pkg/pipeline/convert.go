package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/basesmask"
	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/samplesheet"
)

// conversion is one invocation of the conversion tool.
type conversion struct {
	sheet      string
	output     string
	logStem    string
	mask       string
	mismatches int
	extra      []string
}

func (c conversion) args(r *run.Run, extra []string) []string {
	args := []string{
		"--runfolder-dir", r.Dir,
		"--input-dir", baseCallsDir(r),
		"--output-dir", c.output,
		"--sample-sheet", c.sheet,
		"--barcode-mismatches", strconv.Itoa(c.mismatches),
		"--use-bases-mask", c.mask,
	}
	args = append(args, c.extra...)
	return append(args, extra...)
}

// ConvertSimple converts the whole run in one invocation.
func (p *Processor) ConvertSimple(ctx context.Context, r *run.Run) (bool, error) {
	return p.convertSimple(ctx, r, nil)
}

// ConvertZeroMismatch is ConvertSimple with exact barcode matching, used
// for custom PCR libraries whose barcodes sit too close together.
func (p *Processor) ConvertZeroMismatch(ctx context.Context, r *run.Run) (bool, error) {
	m := basesmask.ZeroMismatch
	return p.convertSimple(ctx, r, &m)
}

func (p *Processor) convertSimple(ctx context.Context, r *run.Run, demux *basesmask.DemultiplexMethod) (bool, error) {
	logger := p.log(r)
	rows, err := samplesheet.Read(r.SampleSheet())
	if err != nil {
		logger.Error("cannot read sample sheet", zap.Error(err))
		return false, nil
	}
	c, err := p.plan(r, rows, demux)
	if err != nil {
		logger.Error("cannot plan conversion", zap.Error(err))
		return false, nil
	}
	c.sheet = r.SampleSheet()
	c.output = unalignedDir(r)
	c.logStem = "bcl2fastq"

	ok, err := p.convert(ctx, r, c)
	if !ok || err != nil {
		return ok, err
	}
	return p.compressBcl(ctx, r), nil
}

// ConvertComplex splits the sheet by index length and converts each group
// into its own Unaligned_<len> directory, stopping at the first failure.
func (p *Processor) ConvertComplex(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	rows, err := samplesheet.Read(r.SampleSheet())
	if err != nil {
		logger.Error("cannot read sample sheet", zap.Error(err))
		return false, nil
	}
	groups, err := samplesheet.Split(r.SampleSheet(), rows)
	if err != nil {
		logger.Error("cannot split sample sheet", zap.Error(err))
		return false, nil
	}

	r.OutputDirs = r.OutputDirs[:0]
	for _, g := range groups {
		c, err := p.plan(r, g.Rows, nil)
		if err != nil {
			logger.Error("cannot plan conversion", zap.Int("index_length", g.IndexLength), zap.Error(err))
			return false, nil
		}
		c.sheet = g.Path
		c.output = filepath.Join(r.Dir, fmt.Sprintf("Unaligned_%d", g.IndexLength))
		c.logStem = fmt.Sprintf("bcl2fastq_%d", g.IndexLength)
		r.OutputDirs = append(r.OutputDirs, c.output)

		logger.Info("converting index length group",
			zap.Int("index_length", g.IndexLength),
			zap.String("sample_sheet", g.Path),
			zap.String("output", c.output))
		ok, err := p.convert(ctx, r, c)
		if err != nil {
			return false, err
		}
		if !ok {
			logger.Error("conversion failed", zap.Int("index_length", g.IndexLength))
			return false, nil
		}
	}
	return p.compressBcl(ctx, r), nil
}

// plan derives the bases mask and mismatch count from the first sheet row.
func (p *Processor) plan(r *run.Run, rows []samplesheet.Row, demux *basesmask.DemultiplexMethod) (conversion, error) {
	if len(rows) == 0 {
		return conversion{}, errors.New("sample sheet has no rows")
	}
	info, err := r.Info()
	if err != nil {
		return conversion{}, err
	}
	method := basesmask.SingleMismatch
	if demux != nil {
		method = *demux
	} else if method, err = basesmask.ParseDemultiplexMethod(rows[0].Recipe); err != nil {
		return conversion{}, err
	}

	cfg, err := basesmask.FromRunInfo(info, len(rows[0].Index), rows[0].Dual(), method)
	if err != nil {
		return conversion{}, err
	}
	return conversion{mask: basesmask.Mask(cfg), mismatches: basesmask.Mismatches(cfg)}, nil
}

// convert runs the tool with output captured to <dir>/<stem>.out/.err.
// A non-zero exit is a failure, not an error.
func (p *Processor) convert(ctx context.Context, r *run.Run, c conversion) (bool, error) {
	logger := p.log(r)
	stdout, stderr, err := logFiles(r.Dir, c.logStem)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}()

	args := c.args(r, p.cfg.ConverterArgs)
	logger.Info("running conversion", zap.String("command", shellquote.Join(append([]string{p.cfg.ConverterPath}, args...)...)))
	if err := p.exec.Run(ctx, r.Dir, p.cfg.ConverterPath, args, stdout, stderr); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Error("conversion tool failed", zap.Error(err), zap.String("stderr", stderr.Name()))
		return false, nil
	}
	return true, nil
}

// compressBcl gzips the base call files once conversion no longer needs
// them.
func (p *Processor) compressBcl(ctx context.Context, r *run.Run) bool {
	if !p.cfg.CompressBcl {
		return true
	}
	return p.forEachFile(ctx, r, p.cfg.Commands.Gzip+" -f", p.cfg.Jobs.Compress, "**/*.bcl")
}

// forEachFile runs "<command> <file>" for every file under the run folder
// matching one of patterns.
func (p *Processor) forEachFile(ctx context.Context, r *run.Run, command string, concurrency int, patterns ...string) bool {
	files, err := globFiles(r.Dir, patterns...)
	if err != nil {
		p.log(r).Error("glob failed", zap.Strings("patterns", patterns), zap.Error(err))
		return false
	}
	return p.fileJobs(ctx, r, command, concurrency, files)
}

func (p *Processor) fileJobs(ctx context.Context, r *run.Run, command string, concurrency int, files []string) bool {
	if len(files) == 0 {
		return true
	}
	logger := p.log(r)
	jobs := p.jobs(r)
	for _, f := range files {
		if err := jobs.AddJob(command + " " + shellquote.Join(f)); err != nil {
			logger.Error("cannot queue job", zap.Error(err))
			return false
		}
	}
	logger.Info("running file jobs", zap.String("command", command), zap.Int("files", len(files)))
	return jobs.RunJobs(ctx, concurrency)
}

// globFiles returns absolute paths of regular files under root matching
// any of the doublestar patterns.
func globFiles(root string, patterns ...string) ([]string, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var out []string
	for _, pat := range patterns {
		matches, err := doublestar.Glob(fsys, pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, filepath.Join(root, filepath.FromSlash(m)))
			}
		}
	}
	return out, nil
}
