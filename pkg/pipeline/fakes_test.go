package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/demuxmgr/pkg/labdb"
	"github.com/3leaps/demuxmgr/pkg/notify"
	"github.com/3leaps/demuxmgr/pkg/run"
)

const testRunID = "150101_D00550_0001_AH2K3JADXX"

type fakeDB struct {
	lanes      int
	laneErr    error
	facilities []string
	samples    []labdb.LaneSample
	apps       []string
	appsErr    error
	requests   []labdb.SampleRequest
	flowcell   labdb.FlowCell
}

func (f *fakeDB) LaneChannelCount(context.Context, string) (int, error) { return f.lanes, f.laneErr }
func (f *fakeDB) CoreFacilities(context.Context, string) ([]string, error) {
	return f.facilities, nil
}
func (f *fakeDB) LaneSamples(context.Context, string) ([]labdb.LaneSample, error) {
	return f.samples, nil
}
func (f *fakeDB) Applications(context.Context, string) ([]string, error) {
	return f.apps, f.appsErr
}
func (f *fakeDB) SampleRequests(context.Context, string) ([]labdb.SampleRequest, error) {
	return f.requests, nil
}
func (f *fakeDB) FlowCell(context.Context, string) (labdb.FlowCell, error) {
	if f.flowcell.Number == "" {
		return labdb.FlowCell{}, labdb.ErrNotFound
	}
	return f.flowcell, nil
}
func (f *fakeDB) Ping(context.Context) error { return nil }

type invocation struct {
	dir  string
	name string
	args []string
}

// fakeExec records converter invocations and optionally fails them.
type fakeExec struct {
	mu    sync.Mutex
	calls []invocation
	fail  error
}

func (f *fakeExec) Run(_ context.Context, dir, name string, args []string, stdout, _ io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{dir: dir, name: name, args: args})
	_, _ = fmt.Fprintln(stdout, "converted")
	return f.fail
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

type harness struct {
	p      *Processor
	db     *fakeDB
	exec   *fakeExec
	sender *notify.LogSender
	run    *run.Run
	cfg    Config
}

func newHarness(t *testing.T, reads string) *harness {
	t.Helper()
	dir := filepath.Join(t.TempDir(), testRunID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeRunInfo(t, dir, reads, 8)

	h := &harness{
		db:     &fakeDB{lanes: 8, facilities: []string{"Genomics"}},
		exec:   &fakeExec{},
		sender: &notify.LogSender{},
	}
	h.cfg = DefaultConfig()
	h.cfg.CompressBcl = false
	h.cfg.DataRoots = map[string]string{"Genomics": filepath.Join(t.TempDir(), "repository")}
	h.cfg.Commands.Rsync = "cp"

	n := &notify.Notifier{
		Sender: h.sender,
		From:   "pipeline@example.org",
		Recipients: notify.Recipients{
			LabStaff: map[string][]string{"Genomics": {"lab@example.org"}},
			Notify:   []string{"oncall@example.org"},
			Archive:  []string{"archive@example.org"},
		},
	}
	h.p = New(h.cfg, h.db, n, WithExecutor(h.exec))
	h.run = run.New(testRunID, dir)
	h.run.CoreFacility = "Genomics"
	return h
}

// reads is a comma-separated list of cycles with an "i" suffix marking
// index reads, e.g. "101,8i,101".
func writeRunInfo(t *testing.T, dir, reads string, lanes int) {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n<RunInfo Version=\"2\">\n")
	fmt.Fprintf(&b, "  <Run Id=%q Number=\"1\">\n    <Flowcell>H2K3JADXX</Flowcell>\n    <Instrument>D00550</Instrument>\n    <Reads>\n", testRunID)
	for i, r := range strings.Split(reads, ",") {
		indexed := "N"
		if strings.HasSuffix(r, "i") {
			indexed = "Y"
			r = strings.TrimSuffix(r, "i")
		}
		fmt.Fprintf(&b, "      <Read Number=\"%d\" NumCycles=\"%s\" IsIndexedRead=\"%s\" />\n", i+1, r, indexed)
	}
	fmt.Fprintf(&b, "    </Reads>\n    <FlowcellLayout LaneCount=\"%d\" />\n  </Run>\n</RunInfo>\n", lanes)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "RunInfo.xml"), []byte(b.String()), 0o644))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func created(year int) time.Time {
	return time.Date(year, time.March, 2, 0, 0, 0, 0, time.UTC)
}

func readString(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
