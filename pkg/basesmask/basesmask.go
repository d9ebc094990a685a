// Package basesmask describes how a run's sequencing cycles are
// interpreted by the conversion tool. A run is characterized by four
// independent settings; the bases mask and the allowed barcode mismatches
// are pure functions of them.
package basesmask

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/demuxmgr/pkg/runinfo"
)

// ErrUnknownDemultiplexMethod is returned for unrecognized protocol names.
var ErrUnknownDemultiplexMethod = errors.New("unknown demultiplex method")

// InstrumentKind selects instrument specific converter behaviour.
type InstrumentKind int

const (
	HiSeq InstrumentKind = iota
	MiSeq
)

func (k InstrumentKind) String() string {
	if k == MiSeq {
		return "MiSeq"
	}
	return "HiSeq"
}

// InstrumentFromLaneCount maps an eight lane flowcell to HiSeq and
// everything else to MiSeq.
func InstrumentFromLaneCount(lanes int) InstrumentKind {
	if lanes == 8 {
		return HiSeq
	}
	return MiSeq
}

// PositionsFormat is the cluster positions file extension the instrument
// writes.
func PositionsFormat(k InstrumentKind) string {
	if k == MiSeq {
		return ".locs"
	}
	return ".clocs"
}

// DataReadCount is the number of data reads, single or paired end.
type DataReadCount int

const (
	SingleEnd DataReadCount = 1
	PairedEnd DataReadCount = 2
)

// IndexReadCount is the number of index reads sequenced.
type IndexReadCount int

const (
	NoIndex     IndexReadCount = 0
	SingleIndex IndexReadCount = 1
	DualIndex   IndexReadCount = 2
)

// DemultiplexMethod is how reads are assigned to samples.
type DemultiplexMethod int

const (
	SingleMismatch DemultiplexMethod = iota
	ZeroMismatch
	NoDemultiplex
	MolecularBarcode
)

// Protocol names as recorded in the lab database pipeline protocol table.
var demuxNames = map[string]DemultiplexMethod{
	"Single base mismatch":        SingleMismatch,
	"Zero base mismatch":          ZeroMismatch,
	"No demultiplexing":           NoDemultiplex,
	"Second barcode random N-mer": MolecularBarcode,
}

func (m DemultiplexMethod) String() string {
	for name, v := range demuxNames {
		if v == m {
			return name
		}
	}
	return fmt.Sprintf("demux(%d)", int(m))
}

// ParseDemultiplexMethod maps a sample sheet Recipe value to a method.
// Empty and "None" select single base mismatch.
func ParseDemultiplexMethod(name string) (DemultiplexMethod, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "None" {
		return SingleMismatch, nil
	}
	m, ok := demuxNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDemultiplexMethod, name)
	}
	return m, nil
}

// Config is the full characterization of a conversion.
type Config struct {
	Instrument InstrumentKind
	DataReads  DataReadCount
	IndexReads IndexReadCount
	Demux      DemultiplexMethod
	BarcodeA   int
	BarcodeB   int
}

func indexPart(n int) string {
	if n > 0 {
		return fmt.Sprintf("I%dn*", n)
	}
	return "n*"
}

// Mask returns the --use-bases-mask argument, e.g. "Y*,I8n*,I8n*,Y*".
func Mask(cfg Config) string {
	var data1, data2, index1, index2 string

	data1 = "Y*"
	if cfg.DataReads == PairedEnd {
		data2 = "Y*"
	}

	switch cfg.IndexReads {
	case SingleIndex:
		index1 = indexPart(cfg.BarcodeA)
	case DualIndex:
		index1 = indexPart(cfg.BarcodeA)
		index2 = indexPart(cfg.BarcodeB)
		if cfg.Demux == MolecularBarcode {
			index2 = "Y*"
		}
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{data1, index1, index2, data2} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ",")
}

// Mismatches is the number of barcode mismatches tolerated.
func Mismatches(cfg Config) int {
	switch cfg.Demux {
	case SingleMismatch, MolecularBarcode:
		return 1
	default:
		return 0
	}
}

// BarcodeLengths splits a sample sheet index length into per-read barcode
// lengths. A dual index "AAAA-CCCC" has raw length 9 and yields (4, 4).
func BarcodeLengths(rawLen int, dual bool) (a, b int) {
	if dual {
		n := (rawLen - 1) / 2
		return n, n
	}
	return rawLen, 0
}

// FromRunInfo builds a Config from run metadata and the sample sheet
// barcode characteristics.
func FromRunInfo(info *runinfo.Info, rawBarcodeLen int, dual bool, demux DemultiplexMethod) (Config, error) {
	cfg := Config{
		Instrument: InstrumentFromLaneCount(info.LaneCount),
		Demux:      demux,
	}

	switch info.DataReads() {
	case 1:
		cfg.DataReads = SingleEnd
	case 2:
		cfg.DataReads = PairedEnd
	default:
		return Config{}, fmt.Errorf("unsupported data read count %d", info.DataReads())
	}

	switch info.IndexReads() {
	case 0:
		cfg.IndexReads = NoIndex
	case 1:
		cfg.IndexReads = SingleIndex
	case 2:
		cfg.IndexReads = DualIndex
	default:
		return Config{}, fmt.Errorf("unsupported index read count %d", info.IndexReads())
	}

	cfg.BarcodeA, cfg.BarcodeB = BarcodeLengths(rawBarcodeLen, dual)
	if cfg.IndexReads == DualIndex && !dual {
		cfg.BarcodeB = 0
	}
	return cfg, nil
}
