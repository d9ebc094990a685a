// Package run holds the Run entity tracked by the manager: one instrument
// output folder moving through the processing workflow.
package run

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/demuxmgr/pkg/runinfo"
	"github.com/3leaps/demuxmgr/pkg/state"
)

// Kind selects the transition table used for a run.
type Kind string

const (
	KindSingleEnd    Kind = "single-end"
	KindPairedEnd    Kind = "paired-end"
	KindPatchPCR     Kind = "patch-pcr"
	KindCustomPCR    Kind = "custom-pcr"
	KindUnclassified Kind = "unclassified"
)

// UnknownFacility is used when the core facility cannot be resolved.
const UnknownFacility = "Unknown"

// SampleSheetName is the file the manager writes into each run folder.
const SampleSheetName = "created_samplesheet.csv"

// Run is one sequencing run under processing. ID and Dir are immutable
// once created; State is advanced by the state machine.
type Run struct {
	ID    string      `json:"id" yaml:"id"`
	Dir   string      `json:"directory" yaml:"directory"`
	State state.State `json:"state" yaml:"state"`

	Kind         Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	CoreFacility string `json:"core_facility,omitempty" yaml:"core_facility,omitempty"`

	// SampleSheetPath is resolved lazily through SampleSheet.
	SampleSheetPath string `json:"-" yaml:"-"`

	// DataFiles accumulates output files produced during one pass.
	DataFiles []string `json:"-" yaml:"-"`

	// OutputDirs records per-group conversion output directories.
	OutputDirs []string `json:"-" yaml:"-"`

	info *runinfo.Info
}

// New returns a freshly discovered run in the initial state.
func New(id, dir string) *Run {
	return &Run{ID: id, Dir: dir, State: state.New, CoreFacility: UnknownFacility}
}

// SampleSheet returns the path of the generated sample sheet, caching it.
func (r *Run) SampleSheet() string {
	if r.SampleSheetPath == "" {
		r.SampleSheetPath = filepath.Join(r.Dir, SampleSheetName)
	}
	return r.SampleSheetPath
}

// Info loads and caches RunInfo.xml.
func (r *Run) Info() (*runinfo.Info, error) {
	if r.info != nil {
		return r.info, nil
	}
	info, err := runinfo.Load(r.Dir)
	if err != nil {
		return nil, err
	}
	r.info = info
	return info, nil
}

// SetInfo replaces the cached run metadata.
func (r *Run) SetInfo(info *runinfo.Info) {
	r.info = info
}

// AddDataFiles appends produced output paths.
func (r *Run) AddDataFiles(paths ...string) {
	r.DataFiles = append(r.DataFiles, paths...)
}

// FlowCellBarcode is the last underscore-separated part of the id with the
// A/B flowcell position letter removed.
func (r *Run) FlowCellBarcode() string {
	parts := strings.Split(r.ID, "_")
	barcode := parts[len(parts)-1]
	if len(barcode) > 1 && (barcode[0] == 'A' || barcode[0] == 'B') {
		barcode = barcode[1:]
	}
	return barcode
}

// SortByPriority orders runs so that those further along the workflow come
// first, breaking ties by older (lexically smaller) id.
func SortByPriority(runs []*Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		if a.State.Ordinal() != b.State.Ordinal() {
			return a.State.Ordinal() > b.State.Ordinal()
		}
		return a.ID < b.ID
	})
}
