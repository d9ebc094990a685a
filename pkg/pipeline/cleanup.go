package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/runinfo"
)

// Cleanup prepares the run folder for archiving: qseq intermediates are
// removed and remaining text and control files are compressed in place.
func (p *Processor) Cleanup(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	qseq, err := globFiles(r.Dir, "**/*qseq.txt")
	if err != nil {
		return false, err
	}
	failed := 0
	for _, f := range qseq {
		if err := os.Remove(f); err != nil {
			logger.Warn("cannot remove qseq file", zap.String("file", f), zap.Error(err))
			failed++
		}
	}
	if len(qseq) > 0 {
		logger.Info("removed qseq files", zap.Int("count", len(qseq)-failed))
	}

	ok := p.forEachFile(ctx, r, p.cfg.Commands.Gzip+" -f", p.cfg.Jobs.Compress, "**/*.txt", "**/*.control")
	return ok && failed == 0, nil
}

// Reprocess moves earlier output aside as Unaligned.<n> and decompresses
// the intermediates so the run can be converted again.
func (p *Processor) Reprocess(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	unaligned := unalignedDir(r)
	if exists(unaligned) {
		dest := nextTaggedName(unaligned)
		logger.Info("moving previous output aside", zap.String("to", dest))
		if err := os.Rename(unaligned, dest); err != nil {
			return false, err
		}
	}
	r.OutputDirs = nil
	r.DataFiles = nil

	patterns := []string{"**/*.txt.gz", "**/*.control.gz"}
	flowcell, err := runinfo.FlowcellVersion(r.Dir)
	if err != nil {
		logger.Warn("cannot read flowcell version", zap.Error(err))
	}
	if flowcell == runinfo.HiSeqV3Flowcell {
		patterns = append(patterns, "**/*.bcl.gz")
	}
	files, err := globFiles(r.Dir, patterns...)
	if err != nil {
		return false, err
	}
	// Delivered files in the moved-aside output stay compressed.
	kept := files[:0]
	for _, f := range files {
		rel, _ := filepath.Rel(r.Dir, f)
		if !strings.HasPrefix(rel, "Unaligned") {
			kept = append(kept, f)
		}
	}
	return p.fileJobs(ctx, r, p.cfg.Commands.Gunzip+" -f", p.cfg.Jobs.Compress, kept), nil
}

func nextTaggedName(path string) string {
	for i := 1; ; i++ {
		candidate := path + "." + strconv.Itoa(i)
		if !exists(candidate) {
			return candidate
		}
	}
}
