package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/demuxmgr/pkg/labdb"
	"github.com/3leaps/demuxmgr/pkg/samplesheet"
)

// mixedLanes has two barcoded samples on lane 1 and a lone sample on lane
// 2, whose index is dropped.
func mixedLanes() []labdb.LaneSample {
	return []labdb.LaneSample{
		{FlowCell: "H2K3JADXX", Lane: 1, SampleNumber: "S1", BarcodeA: "AACC", FirstName: "Ada", LastName: "Lovelace", RequestNumber: "12345R1"},
		{FlowCell: "H2K3JADXX", Lane: 1, SampleNumber: "S2", BarcodeA: "GGTT", FirstName: "Ada", LastName: "Lovelace", RequestNumber: "12345R1"},
		{FlowCell: "H2K3JADXX", Lane: 2, SampleNumber: "S3", BarcodeA: "TTAA", FirstName: "Alan", LastName: "Turing", RequestNumber: "12346R"},
	}
}

func singleLength() []labdb.LaneSample {
	return []labdb.LaneSample{
		{FlowCell: "H2K3JADXX", Lane: 1, SampleNumber: "S1", BarcodeA: "AACCGGTT", RequestNumber: "12345R1"},
		{FlowCell: "H2K3JADXX", Lane: 1, SampleNumber: "S2", BarcodeA: "GGTTAACC", RequestNumber: "12345R1"},
	}
}

func TestMakeSampleSheet(t *testing.T) {
	h := newHarness(t, "101,4i,101")
	h.db.samples = mixedLanes()
	ctx := context.Background()

	ok, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)

	rows, err := samplesheet.Read(h.run.SampleSheet())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "AACC", rows[0].Index)
	assert.Equal(t, "GGTT", rows[1].Index)
	assert.Empty(t, rows[2].Index)

	first, err := os.ReadFile(h.run.SampleSheet())
	require.NoError(t, err)

	// An existing sheet is kept even when the database changes.
	h.db.samples = singleLength()
	ok, err = h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)
	second, err := os.ReadFile(h.run.SampleSheet())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMakeSampleSheetNoSamples(t *testing.T) {
	h := newHarness(t, "101,4i,101")

	ok, err := h.p.MakeSampleSheet(context.Background(), h.run)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, h.run.SampleSheet())
}

func TestCheckSingleIndexLength(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, "101,8i,101")
	h.db.samples = singleLength()
	_, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)
	ok, err := h.p.CheckSingleIndexLength(ctx, h.run)
	require.NoError(t, err)
	assert.True(t, ok)

	h = newHarness(t, "101,8i,101")
	h.db.samples = mixedLanes()
	_, err = h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)
	ok, err = h.p.CheckSingleIndexLength(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckSingleIndexLengthMissingSheet(t *testing.T) {
	h := newHarness(t, "101,8i,101")
	_, err := h.p.CheckSingleIndexLength(context.Background(), h.run)
	assert.Error(t, err)
}

func TestConvertSimple(t *testing.T) {
	h := newHarness(t, "101,8i,101")
	h.db.samples = singleLength()
	ctx := context.Background()
	_, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)

	ok, err := h.p.ConvertSimple(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, h.exec.calls, 1)
	call := h.exec.calls[0]
	assert.Equal(t, "bcl2fastq", call.name)
	assert.Equal(t, h.run.Dir, call.dir)
	assert.Equal(t, "Y*,I8n*,Y*", argValue(call.args, "--use-bases-mask"))
	assert.Equal(t, "1", argValue(call.args, "--barcode-mismatches"))
	assert.Equal(t, filepath.Join(h.run.Dir, "Unaligned"), argValue(call.args, "--output-dir"))
	assert.Equal(t, h.run.SampleSheet(), argValue(call.args, "--sample-sheet"))
	assert.Equal(t, filepath.Join(h.run.Dir, "Data", "Intensities", "BaseCalls"), argValue(call.args, "--input-dir"))

	out, err := os.ReadFile(filepath.Join(h.run.Dir, "bcl2fastq.out"))
	require.NoError(t, err)
	assert.Equal(t, "converted\n", string(out))
	assert.FileExists(t, filepath.Join(h.run.Dir, "bcl2fastq.err"))
}

func TestConvertZeroMismatch(t *testing.T) {
	h := newHarness(t, "101,8i,101")
	h.db.samples = singleLength()
	ctx := context.Background()
	_, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)

	ok, err := h.p.ConvertZeroMismatch(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, h.exec.calls, 1)
	assert.Equal(t, "0", argValue(h.exec.calls[0].args, "--barcode-mismatches"))
}

func TestConvertSimpleToolFailure(t *testing.T) {
	h := newHarness(t, "101,8i,101")
	h.db.samples = singleLength()
	h.exec.fail = errors.New("exit status 1")
	ctx := context.Background()
	_, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)

	ok, err := h.p.ConvertSimple(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConvertSimpleUnknownRecipe(t *testing.T) {
	h := newHarness(t, "101,8i,101")
	samples := singleLength()
	for i := range samples {
		samples[i].Protocol = "Interpretive dance"
	}
	h.db.samples = samples
	ctx := context.Background()
	_, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)

	ok, err := h.p.ConvertSimple(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.exec.calls)
}

func TestConvertComplex(t *testing.T) {
	h := newHarness(t, "101,4i,101")
	h.db.samples = mixedLanes()
	ctx := context.Background()
	_, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)

	ok, err := h.p.ConvertComplex(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, h.exec.calls, 2)
	assert.Equal(t, []string{
		filepath.Join(h.run.Dir, "Unaligned_4"),
		filepath.Join(h.run.Dir, "Unaligned_0"),
	}, h.run.OutputDirs)

	four := h.exec.calls[0].args
	assert.Equal(t, "Y*,I4n*,Y*", argValue(four, "--use-bases-mask"))
	assert.Equal(t, filepath.Join(h.run.Dir, "created_samplesheet_4.csv"), argValue(four, "--sample-sheet"))
	zero := h.exec.calls[1].args
	assert.Equal(t, "Y*,n*,Y*", argValue(zero, "--use-bases-mask"))
	assert.Equal(t, filepath.Join(h.run.Dir, "created_samplesheet_0.csv"), argValue(zero, "--sample-sheet"))

	rows, err := samplesheet.Read(filepath.Join(h.run.Dir, "created_samplesheet_4.csv"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.FileExists(t, filepath.Join(h.run.Dir, "bcl2fastq_4.out"))
	assert.FileExists(t, filepath.Join(h.run.Dir, "bcl2fastq_0.out"))
}

func TestConvertComplexStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t, "101,4i,101")
	h.db.samples = mixedLanes()
	h.exec.fail = errors.New("exit status 2")
	ctx := context.Background()
	_, err := h.p.MakeSampleSheet(ctx, h.run)
	require.NoError(t, err)

	ok, err := h.p.ConvertComplex(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, h.exec.calls, 1)
}

func TestCompressBcl(t *testing.T) {
	h := newHarness(t, "101,8i,101")
	h.cfg.CompressBcl = true
	h.p.cfg.CompressBcl = true
	bcl := filepath.Join(h.run.Dir, "Data", "Intensities", "BaseCalls", "L001", "C1.1", "s_1_1101.bcl")
	writeFile(t, bcl, "base calls")

	assert.True(t, h.p.compressBcl(context.Background(), h.run))
	assert.NoFileExists(t, bcl)
	assert.FileExists(t, bcl+".gz")
}

func TestGlobFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "")
	writeFile(t, filepath.Join(root, "x", "y", "b.txt"), "")
	writeFile(t, filepath.Join(root, "x", "c.control"), "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir.txt"), 0o755))

	files, err := globFiles(root, "**/*.txt", "**/*.control", "*.txt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "x", "y", "b.txt"),
		filepath.Join(root, "x", "c.control"),
	}, files)
}
