package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/demuxmgr/pkg/basesmask"
	"github.com/3leaps/demuxmgr/pkg/fastq"
	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/samplesheet"
)

// PatchPCRApplication is the lab database application name of patch PCR
// libraries.
const PatchPCRApplication = "Patch PCR"

// CheckIfMiSeq succeeds for runs from a configured MiSeq instrument. With
// no instruments configured the lane count decides.
func (p *Processor) CheckIfMiSeq(_ context.Context, r *run.Run) (bool, error) {
	info, err := r.Info()
	if err != nil {
		return false, err
	}
	if len(p.cfg.MiSeqInstruments) > 0 {
		return slices.Contains(p.cfg.MiSeqInstruments, info.Instrument), nil
	}
	return basesmask.InstrumentFromLaneCount(info.LaneCount) == basesmask.MiSeq, nil
}

// CheckIfPatchPcr succeeds when a sample on the run uses the patch PCR
// application.
func (p *Processor) CheckIfPatchPcr(ctx context.Context, r *run.Run) (bool, error) {
	return p.hasApplication(ctx, r, PatchPCRApplication)
}

// CheckIfCustomPcr succeeds when a sample on the run uses the configured
// custom PCR application.
func (p *Processor) CheckIfCustomPcr(ctx context.Context, r *run.Run) (bool, error) {
	return p.hasApplication(ctx, r, p.cfg.CustomPcrApplication)
}

func (p *Processor) hasApplication(ctx context.Context, r *run.Run, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	apps, err := p.db.Applications(ctx, r.ID)
	if err != nil {
		p.log(r).Warn("application lookup failed", zap.Error(err))
		return false, nil
	}
	for _, a := range apps {
		if strings.Contains(a, name) {
			return true, nil
		}
	}
	return false, nil
}

// PatchPcrSampleSheet writes an instrument-format sheet reusing the
// preamble of the sheet the instrument left in the run folder.
func (p *Processor) PatchPcrSampleSheet(ctx context.Context, r *run.Run) (bool, error) {
	logger := p.log(r)
	path := r.SampleSheet()
	if exists(path) {
		logger.Info("sample sheet already exists", zap.String("path", path))
		return true, nil
	}
	samples, err := p.db.LaneSamples(ctx, r.ID)
	if err != nil {
		logger.Error("lane sample lookup failed", zap.Error(err))
		return false, nil
	}
	if err := samplesheet.WriteIEM(path, filepath.Join(r.Dir, samplesheet.InstrumentSheetName), samples); err != nil {
		logger.Error("cannot write sample sheet", zap.Error(err))
		return false, nil
	}
	return true, nil
}

// PatchPcrDemultiplex converts the run keeping the random n-mer of the
// second index read as a data read. Reads shorter than the n-mer read are
// kept rather than trimmed away.
func (p *Processor) PatchPcrDemultiplex(ctx context.Context, r *run.Run) (bool, error) {
	info, err := r.Info()
	if err != nil {
		return false, err
	}
	if len(info.Reads) < 3 {
		p.log(r).Error("patch pcr run needs at least three reads", zap.Int("reads", len(info.Reads)))
		return false, nil
	}
	mask := "Y*,I*,Y*"
	if len(info.Reads) == 4 {
		mask = "Y*,I*,Y*,Y*"
	}
	c := conversion{
		sheet:      r.SampleSheet(),
		output:     unalignedDir(r),
		logStem:    "bcl2fastq",
		mask:       mask,
		mismatches: 1,
		extra:      []string{"--minimum-trimmed-read-length", fmt.Sprint(info.Reads[2].NumCycles)},
	}
	return p.convert(ctx, r, c)
}

// PatchPcrPostprocess appends each read's n-mer (from the R2 file) to the
// read names of R1 and, when present, R3, producing the delivery files.
func (p *Processor) PatchPcrPostprocess(ctx context.Context, r *run.Run) (bool, error) {
	samples, err := samplesheet.ReadIEMSamples(r.SampleSheet())
	if err != nil {
		p.log(r).Error("cannot read sample sheet", zap.Error(err))
		return false, nil
	}
	r.DataFiles = nil
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := p.postprocessSample(r, s); err != nil {
			p.log(r).Error("post-processing failed", zap.String("sample", s.Sample), zap.Error(err))
			return false, nil
		}
	}
	return p.checksums(ctx, r), nil
}

func (p *Processor) postprocessSample(r *run.Run, s samplesheet.IEMSample) error {
	p.log(r).Info("post-processing sample", zap.String("sample", s.Sample))
	in := func(read int) string {
		return filepath.Join(unalignedDir(r), s.Project, fmt.Sprintf("%s_L001_R%d_001.fastq.gz", s.Sample, read))
	}
	lims, _, _ := strings.Cut(s.Sample, "_")
	out := func(end int) string {
		return filepath.Join(unalignedDir(r), fmt.Sprintf("%s_%s_1_%d.txt.gz", lims, r.ID, end))
	}

	if err := tagWithNmer(in(1), in(2), out(1)); err != nil {
		return err
	}
	r.AddDataFiles(out(1))
	if exists(in(3)) {
		if err := tagWithNmer(in(3), in(2), out(2)); err != nil {
			return err
		}
		r.AddDataFiles(out(2))
	}
	return nil
}

// tagWithNmer copies dataPath to outPath with "-<n-mer sequence>" appended
// to every read name, taking the n-mers in order from nmerPath.
func tagWithNmer(dataPath, nmerPath, outPath string) (err error) {
	data, err := fastq.Open(dataPath)
	if err != nil {
		return err
	}
	defer func() { _ = data.Close() }()
	nmers, err := fastq.Open(nmerPath)
	if err != nil {
		return err
	}
	defer func() { _ = nmers.Close() }()
	w, err := fastq.Create(outPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, w.Close()) }()

	for data.Next() {
		if !nmers.Next() {
			if err := nmers.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%s has fewer reads than %s", filepath.Base(nmerPath), filepath.Base(dataPath))
		}
		rec := data.Record()
		rec.Name += "-" + nmers.Record().Sequence
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return data.Err()
}

// PatchPcrDistribute copies the post-processed files to their request
// folders.
func (p *Processor) PatchPcrDistribute(ctx context.Context, r *run.Run) (bool, error) {
	if len(r.DataFiles) == 0 {
		files, err := filepath.Glob(filepath.Join(unalignedDir(r), "*_"+r.ID+"_1_[12].txt.gz*"))
		if err != nil {
			return false, err
		}
		r.AddDataFiles(files...)
	}
	if len(r.DataFiles) == 0 {
		p.log(r).Error("no post-processed files to distribute")
		return false, nil
	}
	return p.copyDataFiles(ctx, r)
}
