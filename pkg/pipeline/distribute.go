package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/fastq"
	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/samplesheet"
)

// Distribute joins the converter's per-tile fragments into one file per
// sample, lane and read end, checksums them, copies them to the request
// folders and tells lab staff the data is available.
func (p *Processor) Distribute(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	r.DataFiles = nil

	if ok, err := p.concatenate(ctx, r); !ok || err != nil {
		return ok, err
	}
	if !p.checksums(ctx, r) {
		logger.Error("checksum generation failed")
		return false, nil
	}
	ok, err := p.copyDataFiles(ctx, r)
	if !ok || err != nil {
		return ok, err
	}

	summary := fmt.Sprintf("%d files delivered.\n", len(r.DataFiles))
	if err := p.notifier.Complete(ctx, target(r), summary); err != nil {
		logger.Warn("failed to send completion notification", zap.Error(err))
	}
	return true, nil
}

func (p *Processor) concatenate(ctx context.Context, r *run.Run) (bool, error) {
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
	paired := info.DataReads() == 2

	unaligned := unalignedDir(r)
	jobs := p.jobs(r)
	for _, row := range rows {
		sampleDir := filepath.Join(unaligned, "Project_"+row.SampleProject, "Sample_"+row.SampleID)
		ends := []int{1}
		if paired {
			ends = []int{1, 2}
		}
		for _, end := range ends {
			name := fmt.Sprintf("%s_%s_%d.txt.gz", row.SampleID, r.ID, row.Lane)
			if paired {
				name = fmt.Sprintf("%s_%s_%d_%d.txt.gz", row.SampleID, r.ID, row.Lane, end)
			}
			dest := filepath.Join(unaligned, name)
			r.AddDataFiles(dest)

			if !isDir(sampleDir) {
				// Samples without reads get no directory; deliver a valid
				// empty file so downstream gunzip checks pass.
				logger.Warn("no output for sample", zap.String("sample", row.SampleID), zap.Int("lane", row.Lane))
				if err := fastq.WriteEmptyGzip(dest); err != nil {
					return false, err
				}
				continue
			}
			cmd := fmt.Sprintf("%s %s_*_L00%d_R%d_*.fastq.gz > %s",
				p.cfg.Commands.Cat,
				shellquote.Join(filepath.Join(sampleDir, row.SampleID)),
				row.Lane, end,
				shellquote.Join(dest))
			if err := jobs.AddJob(cmd); err != nil {
				return false, err
			}
		}
	}
	if !jobs.RunJobs(ctx, p.cfg.Jobs.Concatenate) {
		logger.Error("concatenation failed")
		return false, nil
	}
	return true, nil
}

// checksums writes <file>.md5 next to every data file and adds them to the
// delivery list.
func (p *Processor) checksums(ctx context.Context, r *run.Run) bool {
	jobs := p.jobs(r)
	var sums []string
	for _, f := range r.DataFiles {
		if isDir(f) || strings.HasSuffix(f, ".md5") {
			continue
		}
		base := filepath.Base(f)
		cmd := fmt.Sprintf("cd %s && %s %s > %s",
			shellquote.Join(filepath.Dir(f)),
			p.cfg.Commands.Md5sum,
			shellquote.Join(base),
			shellquote.Join(base+".md5"))
		if err := jobs.AddJob(cmd); err != nil {
			return false
		}
		sums = append(sums, f+".md5")
	}
	ok := jobs.RunJobs(ctx, p.cfg.Jobs.Checksum)
	r.AddDataFiles(sums...)
	return ok
}

// requestDirs maps sample numbers and request numbers to the Fastq folder
// of their request: <root>/<year>/<request number up to R>/Fastq.
func (p *Processor) requestDirs(ctx context.Context, r *run.Run) (map[string]string, error) {
	root := p.dataRoot(r.CoreFacility)
	if root == "" {
		return nil, fmt.Errorf("no data root configured for core facility %q", r.CoreFacility)
	}
	reqs, err := p.db.SampleRequests(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("sample request lookup: %w", err)
	}
	dirs := make(map[string]string, 2*len(reqs))
	for _, sr := range reqs {
		dir := filepath.Join(root, strconv.Itoa(sr.Created.Year()), requestFolder(sr.RequestNumber), "Fastq")
		dirs[sr.SampleNumber] = dir
		dirs[sr.RequestNumber] = dir
	}
	return dirs, nil
}

// dataRoot looks facility up case-insensitively.
func (p *Processor) dataRoot(facility string) string {
	if root, ok := p.cfg.DataRoots[facility]; ok {
		return root
	}
	for name, root := range p.cfg.DataRoots {
		if strings.EqualFold(name, facility) {
			return root
		}
	}
	return ""
}

// requestFolder trims a request number after its R revision marker:
// "12345R1" becomes "12345R".
func requestFolder(number string) string {
	if i := strings.IndexByte(number, 'R'); i >= 0 {
		return number[:i+1]
	}
	return number
}

// copyDataFiles copies r.DataFiles into their request folders. Compressed
// files are re-copied until they decompress cleanly at the destination.
func (p *Processor) copyDataFiles(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	dirs, err := p.requestDirs(ctx, r)
	if err != nil {
		logger.Error("cannot resolve delivery folders", zap.Error(err))
		return false, nil
	}
	made := make(map[string]bool)
	mkdir := func(d string) error {
		if made[d] {
			return nil
		}
		made[d] = true
		return os.MkdirAll(d, 0o775)
	}

	c := p.cfg.Commands
	jobs := p.jobs(r)
	for _, f := range r.DataFiles {
		base := filepath.Base(f)
		var key string
		if isDir(f) {
			parts := strings.Split(base, "_")
			key = parts[len(parts)-1]
		} else {
			key, _, _ = strings.Cut(base, "_")
		}
		dest, ok := dirs[key]
		if !ok {
			logger.Warn("produced data not found in lab database, not delivered", zap.String("file", f), zap.String("key", key))
			continue
		}
		if err := mkdir(dest); err != nil {
			return false, fmt.Errorf("create %s: %w", dest, err)
		}

		var cmd string
		switch {
		case isDir(f):
			cmd = fmt.Sprintf("%s -a %s %s", c.Rsync, shellquote.Join(f), shellquote.Join(dest))
		case strings.HasSuffix(f, ".gz"):
			cmd = fmt.Sprintf("until %s -c %s > /dev/null; do %s %s %s; done",
				c.Gunzip, shellquote.Join(filepath.Join(dest, base)),
				c.Rsync, shellquote.Join(f), shellquote.Join(dest+"/"))
		default:
			cmd = fmt.Sprintf("%s %s %s", c.Cp, shellquote.Join(f), shellquote.Join(dest))
		}
		if err := jobs.AddJob(cmd); err != nil {
			return false, err
		}
	}
	if !jobs.RunJobs(ctx, p.cfg.Jobs.Copy) {
		logger.Error("copy to delivery folders failed")
		return false, nil
	}
	return true, nil
}
