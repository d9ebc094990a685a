// Package samplesheet builds, writes and reads the comma-separated sample
// sheet handed to the conversion tool.
//
// The format is deliberately naive: commas are stripped from free text
// and nothing is quoted, so a row is always split on plain commas.
package samplesheet

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/3leaps/demuxmgr/pkg/labdb"
)

// Header is the column order of a generated sheet.
var Header = []string{"FCID", "Lane", "SampleID", "SampleRef", "Index", "Description", "Control", "Recipe", "Operator", "SampleProject"}

// None marks an unknown reference genome or recipe.
const None = "None"

// DefaultOperator fills the Operator column.
const DefaultOperator = "Sandy"

// Row is one sample on one lane.
type Row struct {
	FCID          string
	Lane          int
	SampleID      string
	SampleRef     string
	Index         string
	Description   string
	Control       string
	Recipe        string
	Operator      string
	SampleProject string
}

func (r Row) fields() []string {
	return []string{r.FCID, strconv.Itoa(r.Lane), r.SampleID, r.SampleRef, r.Index,
		r.Description, r.Control, r.Recipe, r.Operator, r.SampleProject}
}

// Dual reports whether the index holds two barcodes.
func (r Row) Dual() bool {
	return strings.Contains(r.Index, "-")
}

// BuildOptions tune Build.
type BuildOptions struct {
	Operator string

	// DuplicateLane2 copies every row to lane 2. Used for rapid runs,
	// which are registered as one lane but produce two.
	DuplicateLane2 bool
}

// EraseCommas removes commas from free text.
func EraseCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

// Build converts lab database rows into sheet rows. Lanes holding a single
// sample get an empty index; two barcodes are joined with a hyphen.
func Build(samples []labdb.LaneSample, opts BuildOptions) []Row {
	operator := opts.Operator
	if operator == "" {
		operator = DefaultOperator
	}

	perLane := make(map[int]int)
	for _, s := range samples {
		perLane[s.Lane]++
	}

	rows := make([]Row, 0, len(samples))
	for _, s := range samples {
		index := strings.TrimSpace(s.BarcodeA)
		if b := strings.TrimSpace(s.BarcodeB); b != "" {
			index = index + "-" + b
		}
		if perLane[s.Lane] == 1 {
			index = ""
		}
		genome := EraseCommas(s.Genome)
		if genome == "" {
			genome = None
		}
		recipe := strings.TrimSpace(s.Protocol)
		if recipe == "" {
			recipe = None
		}
		rows = append(rows, Row{
			FCID:          s.FlowCell,
			Lane:          s.Lane,
			SampleID:      s.SampleNumber,
			SampleRef:     genome,
			Index:         index,
			Description:   EraseCommas(s.FirstName + " " + s.LastName),
			Control:       "N",
			Recipe:        recipe,
			Operator:      operator,
			SampleProject: s.RequestNumber,
		})
	}

	if opts.DuplicateLane2 {
		n := len(rows)
		for i := 0; i < n; i++ {
			dup := rows[i]
			dup.Lane = 2
			rows = append(rows, dup)
		}
	}
	return rows
}

// IsRapidRun reports whether rows register only lane 1 while the run folder
// holds intensities for lane 2.
func IsRapidRun(samples []labdb.LaneSample, runDir string) bool {
	if len(samples) == 0 {
		return false
	}
	for _, s := range samples {
		if s.Lane != 1 {
			return false
		}
	}
	info, err := os.Stat(filepath.Join(runDir, "Data", "Intensities", "L002"))
	return err == nil && info.IsDir()
}

// Write stores rows at path through a temporary file and rename, so a
// crash never leaves a truncated sheet behind.
func Write(path string, rows []Row) error {
	var b strings.Builder
	b.WriteString(strings.Join(Header, ","))
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(strings.Join(r.fields(), ","))
		b.WriteByte('\n')
	}
	return writeAtomic(path, []byte(b.String()))
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp sample sheet: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write sample sheet: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync sample sheet: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sample sheet: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod sample sheet: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename sample sheet: %w", err)
	}
	return nil
}

// Read parses a sheet written by Write, or edited by hand. The header row
// and blank lines are skipped; missing trailing columns are left empty.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample sheet: %w", err)
	}
	defer func() { _ = f.Close() }()

	var rows []Row
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "FCID") {
			continue
		}
		f := strings.Split(text, ",")
		if len(f) < 5 {
			return nil, fmt.Errorf("sample sheet %s line %d: expected at least 5 columns, got %d", path, line, len(f))
		}
		for len(f) < len(Header) {
			f = append(f, "")
		}
		lane, err := strconv.Atoi(strings.TrimSpace(f[1]))
		if err != nil {
			return nil, fmt.Errorf("sample sheet %s line %d: bad lane %q", path, line, f[1])
		}
		rows = append(rows, Row{
			FCID: f[0], Lane: lane, SampleID: f[2], SampleRef: f[3], Index: f[4],
			Description: f[5], Control: f[6], Recipe: f[7], Operator: f[8], SampleProject: strings.TrimSpace(f[9]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sample sheet: %w", err)
	}
	return rows, nil
}

// IndexLengths returns the distinct Index column lengths in first-seen
// order.
func IndexLengths(rows []Row) []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range rows {
		n := len(r.Index)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Lanes returns the sorted distinct lanes in rows.
func Lanes(rows []Row) []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range rows {
		if !seen[r.Lane] {
			seen[r.Lane] = true
			out = append(out, r.Lane)
		}
	}
	sort.Ints(out)
	return out
}

// Group is the part of a sheet sharing one index length.
type Group struct {
	IndexLength int
	Path        string
	Rows        []Row
}

// Dual reports whether the group's barcodes are dual.
func (g Group) Dual() bool {
	return len(g.Rows) > 0 && g.Rows[0].Dual()
}

var csvSuffix = regexp.MustCompile(`\.csv$`)

// GroupPath names the sub-sheet for one index length next to path.
func GroupPath(path string, indexLength int) string {
	return csvSuffix.ReplaceAllString(path, fmt.Sprintf("_%d.csv", indexLength))
}

// Split writes one sub-sheet per distinct index length and returns the
// groups in first-seen order.
func Split(path string, rows []Row) ([]Group, error) {
	if len(rows) == 0 {
		return nil, errors.New("sample sheet has no rows")
	}
	byLen := make(map[int][]Row)
	for _, r := range rows {
		byLen[len(r.Index)] = append(byLen[len(r.Index)], r)
	}

	var groups []Group
	for _, n := range IndexLengths(rows) {
		g := Group{IndexLength: n, Path: GroupPath(path, n), Rows: byLen[n]}
		if err := Write(g.Path, g.Rows); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}
