package qc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Row is one line of a lane section.
type Row struct {
	Lane      int
	Status    string
	Sample    string
	Index     string
	Reads     int64
	Share     float64
	Bases     int64
	Requester string
	Others    bool
}

// Lane is the ranked section for one lane.
type Lane struct {
	Lane   int
	Status string
	Rows   []Row
	Reads  int64
	Bases  int64
}

// Report is the result of Evaluate.
type Report struct {
	Title    string
	Messages []string
	Lanes    []Lane
	Reads    int64
	Bases    int64
}

// Problems reports whether any lane was flagged.
func (r *Report) Problems() bool {
	for _, l := range r.Lanes {
		if l.Status == StatusProblem {
			return true
		}
	}
	return false
}

type ranked struct {
	count   int64
	barcode string
	sample  string
}

func buildReport(e *Evaluator, c *laneCounts, lanes []int, messages []string) *Report {
	sorted := append([]int(nil), lanes...)
	sort.Ints(sorted)

	rep := &Report{Title: e.UnalignedDir, Messages: messages}
	for _, lane := range sorted {
		lr := rankLane(lane, c, int64(e.NumBases))
		rep.Lanes = append(rep.Lanes, lr)
		rep.Reads += lr.Reads
		rep.Bases += lr.Bases
	}
	return rep
}

func rankLane(lane int, c *laneCounts, numBases int64) Lane {
	counts := c.merged(lane)
	samples := c.samples[lane]
	expected := c.nsamples[lane]

	var total int64
	list := make([]ranked, 0, len(counts))
	for bc, n := range counts {
		cnt := int64(n)
		total += cnt
		list = append(list, ranked{count: cnt, barcode: bc, sample: samples[bc]})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].barcode > list[j].barcode
	})

	status := StatusOK
	for i := 0; i < expected && i < len(list); i++ {
		if list[i].sample == "" {
			status = StatusProblem
			break
		}
	}

	share := func(n int64) float64 {
		if total == 0 {
			return 0
		}
		return float64(n) / float64(total)
	}
	row := func(r ranked) Row {
		requester := c.requester[r.sample]
		if requester == "" {
			requester = "unknown"
		}
		name := r.sample
		if name == "" {
			name = "None"
		}
		return Row{Lane: lane, Sample: name, Index: r.barcode, Reads: r.count,
			Share: share(r.count), Bases: r.count * numBases, Requester: requester}
	}

	pending := make(map[string]bool, len(samples))
	for _, s := range samples {
		pending[s] = true
	}

	var rows []Row
	var reads, bases int64
	known, i := 0, 0
	for ; i < len(list) && known < expected; i++ {
		r := list[i]
		if float64(r.count) < float64(total)*minListedShare {
			break
		}
		rows = append(rows, row(r))
		reads += r.count
		bases += r.count * numBases
		if r.sample != "" {
			known++
			delete(pending, r.sample)
		}
	}

	// Expected samples with very few reads were not reached above.
	for j := i; j < len(list) && len(pending) > 0; j++ {
		if r := list[j]; r.sample != "" && pending[r.sample] {
			rows = append(rows, row(r))
			delete(pending, r.sample)
		}
	}
	for _, bc := range c.order[lane] {
		if s := samples[bc]; pending[s] {
			rows = append(rows, row(ranked{barcode: bc, sample: s}))
			delete(pending, s)
		}
	}

	var other int64
	for ; i < len(list); i++ {
		other += list[i].count
	}
	if share(other) > OthersThreshold {
		status = StatusProblem
	}
	rows = append(rows, Row{Lane: lane, Sample: "None", Index: "others", Reads: other,
		Share: share(other), Bases: other * numBases, Others: true})
	reads += other
	bases += other * numBases

	for k := range rows {
		rows[k].Status = status
	}
	return Lane{Lane: lane, Status: status, Rows: rows, Reads: reads, Bases: bases}
}

var columns = []string{"Lane", "Status", "Sample", "Index", "% Reads", "# Reads", "Volume", "Requester"}

// WriteTSV renders the report as tab-separated text.
func (r *Report) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Barcode Processing Summary:\t%s\n\n", r.Title)
	for _, m := range r.Messages {
		fmt.Fprintln(bw, m)
	}
	fmt.Fprintln(bw, strings.Join(columns, "\t"))

	for _, l := range r.Lanes {
		for _, row := range l.Rows {
			f := []string{strconv.Itoa(row.Lane), row.Status, row.Sample, row.Index,
				percent(row.Share), commas(row.Reads), megabases(row.Bases)}
			if !row.Others {
				f = append(f, row.Requester)
			}
			fmt.Fprintln(bw, strings.Join(f, "\t"))
		}
		fmt.Fprintln(bw, strings.Join([]string{fmt.Sprintf("Lane %d summary", l.Lane), "", "", "", "", commas(l.Reads), gigabases(l.Bases)}, "\t"))
		fmt.Fprintln(bw)
	}
	fmt.Fprintln(bw, strings.Join([]string{"Flowcell summary", "", "", "", "", commas(r.Reads), gigabases(r.Bases)}, "\t"))
	return bw.Flush()
}

// WriteFile writes the report to path.
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := r.WriteTSV(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

func percent(share float64) string {
	return fmt.Sprintf("%2.1f%%", 100*share)
}

func megabases(n int64) string {
	return fmt.Sprintf("%.2f Mb", float64(n)/1e6)
}

func gigabases(n int64) string {
	return fmt.Sprintf("%.2f Gb", float64(n)/1e9)
}

// commas formats n with thousands separators.
func commas(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, ch := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
