// Package qc evaluates how well reads were assigned to barcodes. It counts
// reads per lane and barcode in the distributed sample files and in the
// undetermined-index files, then ranks them so that problems stand out.
package qc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/demuxmgr/pkg/fastq"
	"github.com/3leaps/demuxmgr/pkg/samplesheet"
)

const (
	StatusOK      = "OK"
	StatusProblem = "Problem!"

	// OthersThreshold is the share of unassigned reads above which a lane
	// is flagged.
	OthersThreshold = 0.10

	// minListedShare hides ranked barcodes below this share of the lane.
	minListedShare = 0.001

	readsPerUndeterminedFile = 4_000_000
	maxUndeterminedToCount   = 20_000_000

	unbarcodedSamplePattern = `[0-9]*X[0-9]*`
	unbarcodedIndex         = "None"
	emptyIndex              = "none"
)

// Evaluator counts reads under a conversion output directory.
type Evaluator struct {
	// UnalignedDir holds the distributed <sample>_<run>_<lane>[_<end>].txt.gz
	// files and the Undetermined_indices tree.
	UnalignedDir string

	// NumBases is the number of data bases per read.
	NumBases int

	// Workers bounds concurrent file decompression.
	Workers int

	Logger *zap.Logger
}

type laneCounts struct {
	mu          sync.Mutex
	reads       map[int]map[string]float64
	sampleReads map[int]map[string]float64
	samples     map[int]map[string]string
	order       map[int][]string
	requester   map[string]string
	nsamples    map[int]int
}

func (c *laneCounts) add(lane int, barcode string, n float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reads[lane] == nil {
		c.reads[lane] = make(map[string]float64)
	}
	c.reads[lane][barcode] += n
}

// set records a sample file count, which takes precedence over any
// undetermined reads seen with the same barcode.
func (c *laneCounts) set(lane int, barcode string, n float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sampleReads[lane] == nil {
		c.sampleReads[lane] = make(map[string]float64)
	}
	c.sampleReads[lane][barcode] = n
}

// merged returns the per-barcode counts of a lane.
func (c *laneCounts) merged(lane int) map[string]float64 {
	out := make(map[string]float64, len(c.reads[lane])+len(c.sampleReads[lane]))
	for bc, n := range c.reads[lane] {
		out[bc] = n
	}
	for bc, n := range c.sampleReads[lane] {
		out[bc] = n
	}
	return out
}

func (c *laneCounts) sample(lane int, barcode, sample, requester string) {
	if c.samples[lane] == nil {
		c.samples[lane] = make(map[string]string)
	}
	c.samples[lane][barcode] = sample
	c.order[lane] = append(c.order[lane], barcode)
	c.nsamples[lane]++
	c.requester[sample] = requester
}

// Evaluate counts reads for the selected lanes of a sample sheet and
// builds the report.
func (e *Evaluator) Evaluate(ctx context.Context, rows []samplesheet.Row, lanes []int) (*Report, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := e.Workers
	if workers < 1 {
		workers = 4
	}

	entries, err := os.ReadDir(e.UnalignedDir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() {
			names = append(names, ent.Name())
		}
	}

	selected := make(map[int]bool, len(lanes))
	for _, l := range lanes {
		selected[l] = true
	}

	c := &laneCounts{
		reads:       make(map[int]map[string]float64),
		sampleReads: make(map[int]map[string]float64),
		samples:     make(map[int]map[string]string),
		order:       make(map[int][]string),
		requester:   make(map[string]string),
		nsamples:    make(map[int]int),
	}
	var messages []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	countSample := func(lane int, barcode, path string) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := fastq.Count(path)
			if err != nil {
				return fmt.Errorf("count %s: %w", path, err)
			}
			logger.Debug("counted sample reads", zap.String("file", path), zap.Int64("reads", n))
			c.set(lane, barcode, float64(n))
			return nil
		})
	}

	for _, r := range rows {
		if !selected[r.Lane] {
			continue
		}
		sample := strings.ToUpper(strings.TrimSpace(r.SampleID))
		barcode := strings.TrimSpace(r.Index)
		file, matched := findSampleFile(names, regexp.QuoteMeta(sample), r.Lane)
		if file == "" {
			msg := fmt.Sprintf("Problem! No data file found for sample %s, lane %d.", sample, r.Lane)
			logger.Warn(msg)
			messages = append(messages, msg)
			continue
		}
		c.sample(r.Lane, barcode, matched, strings.TrimSpace(r.Description))
		countSample(r.Lane, barcode, filepath.Join(e.UnalignedDir, file))
	}

	for _, lane := range lanes {
		if c.nsamples[lane] > 0 {
			continue
		}
		file, matched := findSampleFile(names, unbarcodedSamplePattern, lane)
		if file == "" {
			msg := fmt.Sprintf("Problem! No data file found for lane %d.", lane)
			logger.Warn(msg)
			messages = append(messages, msg)
			continue
		}
		c.sample(lane, unbarcodedIndex, matched, "unknown")
		countSample(lane, unbarcodedIndex, filepath.Join(e.UnalignedDir, file))
	}

	for _, lane := range lanes {
		files, increment, estimated := e.undeterminedFiles(lane)
		if estimated {
			msg := fmt.Sprintf("Too many bad bar codes to count in lane %d. Estimating.", lane)
			logger.Info(msg)
			messages = append(messages, msg)
		}
		for _, path := range files {
			g.Go(func() error {
				return countUndetermined(gctx, path, lane, increment, c)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return buildReport(e, c, lanes, messages), nil
}

func findSampleFile(names []string, samplePattern string, lane int) (file, sample string) {
	re := regexp.MustCompile(fmt.Sprintf(`^(%s)_[0-9]*_[A-Z0-9]*_[0-9]*_[A-Z0-9-]*_%d(_1)?\.txt\.gz$`, samplePattern, lane))
	for _, n := range names {
		if m := re.FindStringSubmatch(n); m != nil {
			return n, m[1]
		}
	}
	return "", ""
}

// undeterminedFiles lists the read-1 undetermined files for a lane. When a
// lane has too many to count, only the first five are read and each read
// is weighted to estimate the total.
func (e *Evaluator) undeterminedFiles(lane int) (files []string, increment float64, estimated bool) {
	dir := filepath.Join(e.UnalignedDir, "Undetermined_indices", fmt.Sprintf("Sample_lane%d", lane))
	all, _ := filepath.Glob(filepath.Join(dir, fmt.Sprintf("lane%d_Undetermined_L00%d_R1_*.fastq.gz", lane, lane)))
	sort.Strings(all)

	estimate := 0
	if len(all) > 0 {
		estimate = len(all)*readsPerUndeterminedFile - readsPerUndeterminedFile/2
	}
	if estimate <= maxUndeterminedToCount {
		return all, 1, false
	}

	subset, _ := filepath.Glob(filepath.Join(dir, fmt.Sprintf("lane%d_Undetermined_L00%d_R1_00[12345].fastq.gz", lane, lane)))
	sort.Strings(subset)
	return subset, float64(estimate) / maxUndeterminedToCount, true
}

func countUndetermined(ctx context.Context, path string, lane int, increment float64, c *laneCounts) error {
	r, err := fastq.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	local := make(map[string]float64)
	for n := 0; r.Next(); n++ {
		if n%100_000 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		bc := r.Record().Barcode()
		if bc == "" {
			bc = emptyIndex
		}
		local[bc] += increment
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for bc, n := range local {
		c.add(lane, bc, n)
	}
	return nil
}
