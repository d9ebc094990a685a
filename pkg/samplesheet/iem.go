package samplesheet

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/3leaps/demuxmgr/pkg/labdb"
)

// InstrumentSheetName is the sheet the instrument software leaves in the
// run folder. Its preamble is reused for patch PCR sheets.
const InstrumentSheetName = "SampleSheet.csv"

const iemDataHeader = "Sample_ID"

// WriteIEM writes an instrument-format sheet: the preamble of template up
// to and including its Sample_ID header, then one row per sample with the
// id, barcode and request number in columns 1, 6 and 9.
func WriteIEM(path, template string, samples []labdb.LaneSample) error {
	in, err := os.Open(template)
	if err != nil {
		return fmt.Errorf("open instrument sample sheet: %w", err)
	}
	defer func() { _ = in.Close() }()

	var b strings.Builder
	sc := bufio.NewScanner(in)
	found := false
	for sc.Scan() {
		b.WriteString(sc.Text())
		b.WriteByte('\n')
		if strings.HasPrefix(sc.Text(), iemDataHeader) {
			found = true
			break
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read instrument sample sheet: %w", err)
	}
	if !found {
		return fmt.Errorf("instrument sample sheet %s has no %s header", template, iemDataHeader)
	}

	for _, s := range samples {
		f := make([]string, 10)
		f[0] = s.SampleNumber
		f[5] = strings.TrimSpace(s.BarcodeA)
		f[8] = s.RequestNumber
		b.WriteString(strings.Join(f, ","))
		b.WriteByte('\n')
	}
	return writeAtomic(path, []byte(b.String()))
}

// IEMSample is a sample listed in an instrument-format sheet, named the way
// the conversion tool names its output (<id>_S<position>).
type IEMSample struct {
	Project string
	Sample  string
}

// ReadIEMSamples lists the samples after the Sample_ID header.
func ReadIEMSamples(path string) ([]IEMSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample sheet: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []IEMSample
	sc := bufio.NewScanner(f)
	inData := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inData {
			inData = strings.HasPrefix(line, iemDataHeader)
			continue
		}
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 9 {
			return nil, fmt.Errorf("sample sheet %s: short row %q", path, line)
		}
		out = append(out, IEMSample{
			Project: fields[8],
			Sample:  fmt.Sprintf("%s_S%d", fields[0], len(out)+1),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sample sheet: %w", err)
	}
	return out, nil
}
