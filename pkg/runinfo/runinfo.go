// Package runinfo reads the instrument metadata files found at the top of
// a run folder (RunInfo.xml and runParameters.xml).
package runinfo

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	RunInfoFile       = "RunInfo.xml"
	RunParametersFile = "runParameters.xml"

	// MinDataReadCycles is the cycle count at or above which a read counts
	// as a data read. Shorter reads are index or n-mer reads whatever their
	// IsIndexedRead flag says.
	MinDataReadCycles = 25

	// HiSeqV3Flowcell is the runParameters flowcell label whose bcl files are
	// compressed after conversion and decompressed on reprocess.
	HiSeqV3Flowcell = "HiSeq Flow Cell v3"
)

// Read is one sequencing read declared in RunInfo.xml.
type Read struct {
	Number        int    `xml:"Number,attr"`
	NumCycles     int    `xml:"NumCycles,attr"`
	IsIndexedRead string `xml:"IsIndexedRead,attr"`
}

// Data reports whether the read is long enough to be a data read. Run
// layout (paired or single end, index read count) is decided by this rule.
func (r Read) Data() bool {
	return r.NumCycles >= MinDataReadCycles
}

// Indexed reports the instrument's IsIndexedRead flag, falling back to the
// cycle rule when the flag is absent. Only base counting for QC uses it.
func (r Read) Indexed() bool {
	switch strings.ToUpper(strings.TrimSpace(r.IsIndexedRead)) {
	case "Y":
		return true
	case "N":
		return false
	}
	return r.NumCycles < MinDataReadCycles
}

// Info is the subset of RunInfo.xml used for classification and conversion.
type Info struct {
	RunID      string
	Flowcell   string
	Instrument string
	LaneCount  int
	Reads      []Read
}

type runInfoDoc struct {
	XMLName xml.Name `xml:"RunInfo"`
	Run     struct {
		ID         string `xml:"Id,attr"`
		Flowcell   string `xml:"Flowcell"`
		Instrument string `xml:"Instrument"`
		Reads      []Read `xml:"Reads>Read"`
		Layout     struct {
			LaneCount int `xml:"LaneCount,attr"`
		} `xml:"FlowcellLayout"`
	} `xml:"Run"`
}

// Load parses <dir>/RunInfo.xml.
func Load(dir string) (*Info, error) {
	f, err := os.Open(filepath.Join(dir, RunInfoFile))
	if err != nil {
		return nil, fmt.Errorf("open run info: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes a RunInfo.xml document.
func Parse(r io.Reader) (*Info, error) {
	var doc runInfoDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse run info: %w", err)
	}
	if len(doc.Run.Reads) == 0 {
		return nil, errors.New("parse run info: no reads declared")
	}
	return &Info{
		RunID:      doc.Run.ID,
		Flowcell:   strings.TrimSpace(doc.Run.Flowcell),
		Instrument: strings.TrimSpace(doc.Run.Instrument),
		LaneCount:  doc.Run.Layout.LaneCount,
		Reads:      doc.Run.Reads,
	}, nil
}

// NumReads is the total number of reads, data and index.
func (i *Info) NumReads() int {
	return len(i.Reads)
}

// DataReads returns the number of reads of at least MinDataReadCycles.
func (i *Info) DataReads() int {
	n := 0
	for _, r := range i.Reads {
		if r.Data() {
			n++
		}
	}
	return n
}

// IndexReads returns the number of short reads.
func (i *Info) IndexReads() int {
	return len(i.Reads) - i.DataReads()
}

// DataBases sums the cycles of every read not flagged as indexed.
func (i *Info) DataBases() int {
	n := 0
	for _, r := range i.Reads {
		if !r.Indexed() {
			n += r.NumCycles
		}
	}
	return n
}

// TransferMarker is the file the instrument writes once the last read has
// been copied off the machine.
func (i *Info) TransferMarker() string {
	return fmt.Sprintf("Basecalling_Netcopy_complete_Read%d.txt", i.NumReads())
}

// FlowcellVersion returns the text of the first Flowcell element in
// <dir>/runParameters.xml. An absent file yields an empty string.
func FlowcellVersion(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, RunParametersFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open run parameters: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("parse run parameters: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Flowcell" {
			continue
		}
		var v string
		if err := dec.DecodeElement(&v, &se); err != nil {
			return "", fmt.Errorf("parse run parameters: %w", err)
		}
		return strings.TrimSpace(v), nil
	}
}
