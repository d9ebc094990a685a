package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/demuxmgr/pkg/labdb"
)

const instrumentSheet = `[Header]
IEMFileVersion,4
Workflow,GenerateFASTQ

[Reads]
151
151

[Data]
Sample_ID,Sample_Name,Sample_Plate,Sample_Well,I7_Index_ID,index,I5_Index_ID,index2,Sample_Project,Description
X1,,,,,AAAAAAAA,,,P0,
`

func patchHarness(t *testing.T, reads string) *harness {
	t.Helper()
	h := newHarness(t, reads)
	writeFile(t, filepath.Join(h.run.Dir, "SampleSheet.csv"), instrumentSheet)
	h.db.apps = []string{"Patch PCR v2"}
	h.db.samples = []labdb.LaneSample{
		{Lane: 1, SampleNumber: "S1", BarcodeA: "AACCGGTT", RequestNumber: "12345R1"},
		{Lane: 1, SampleNumber: "S2", BarcodeA: "TTGGCCAA", RequestNumber: "12345R1"},
	}
	h.db.requests = []labdb.SampleRequest{
		{SampleNumber: "S1", RequestNumber: "12345R1", Created: created(2017)},
		{SampleNumber: "S2", RequestNumber: "12345R1", Created: created(2017)},
	}
	return h
}

func TestCheckIfMiSeq(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, "151,8i,10,151")
	ok, err := h.p.CheckIfMiSeq(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok, "eight lanes")

	writeRunInfo(t, h.run.Dir, "151,8i,10,151", 1)
	h.run.SetInfo(nil)
	ok, err = h.p.CheckIfMiSeq(ctx, h.run)
	require.NoError(t, err)
	assert.True(t, ok)

	h.p.cfg.MiSeqInstruments = []string{"M01234"}
	ok, err = h.p.CheckIfMiSeq(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok, "instrument not listed")

	h.p.cfg.MiSeqInstruments = []string{"M01234", "D00550"}
	ok, err = h.p.CheckIfMiSeq(ctx, h.run)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckIfApplication(t *testing.T) {
	h := newHarness(t, "151,8i,151")
	ctx := context.Background()

	ok, err := h.p.CheckIfPatchPcr(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)

	h.db.apps = []string{"RNA-Seq", "Patch PCR"}
	ok, err = h.p.CheckIfPatchPcr(ctx, h.run)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.p.CheckIfCustomPcr(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)

	h.p.cfg.CustomPcrApplication = "Kappa"
	h.db.apps = []string{"Kappa PCR"}
	ok, err = h.p.CheckIfCustomPcr(ctx, h.run)
	require.NoError(t, err)
	assert.True(t, ok)

	h.p.cfg.CustomPcrApplication = ""
	ok, err = h.p.CheckIfCustomPcr(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPatchPcrSampleSheet(t *testing.T) {
	h := patchHarness(t, "151,8i,10,151")

	ok, err := h.p.PatchPcrSampleSheet(context.Background(), h.run)
	require.NoError(t, err)
	require.True(t, ok)

	content := readString(t, h.run.SampleSheet())
	assert.True(t, strings.HasPrefix(content, "[Header]\n"))
	assert.Contains(t, content, "S1,,,,,AACCGGTT,,,12345R1,\n")
	assert.NotContains(t, content, "X1,")
}

func TestPatchPcrSampleSheetWithoutTemplate(t *testing.T) {
	h := newHarness(t, "151,8i,10,151")
	h.db.samples = []labdb.LaneSample{{Lane: 1, SampleNumber: "S1"}}

	ok, err := h.p.PatchPcrSampleSheet(context.Background(), h.run)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPatchPcrDemultiplex(t *testing.T) {
	h := patchHarness(t, "151,8i,10,151")

	ok, err := h.p.PatchPcrDemultiplex(context.Background(), h.run)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, h.exec.calls, 1)
	args := h.exec.calls[0].args
	assert.Equal(t, "Y*,I*,Y*,Y*", argValue(args, "--use-bases-mask"))
	assert.Equal(t, "1", argValue(args, "--barcode-mismatches"))
	assert.Equal(t, "10", argValue(args, "--minimum-trimmed-read-length"))
}

func TestPatchPcrDemultiplexThreeReads(t *testing.T) {
	h := patchHarness(t, "151,8i,12")

	ok, err := h.p.PatchPcrDemultiplex(context.Background(), h.run)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Y*,I*,Y*", argValue(h.exec.calls[0].args, "--use-bases-mask"))
	assert.Equal(t, "12", argValue(h.exec.calls[0].args, "--minimum-trimmed-read-length"))
}

func TestPatchPcrDemultiplexTooFewReads(t *testing.T) {
	h := patchHarness(t, "151,8i")

	ok, err := h.p.PatchPcrDemultiplex(context.Background(), h.run)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.exec.calls)
}

func writePatchOutput(t *testing.T, h *harness, sample string, reads int) {
	t.Helper()
	for read := 1; read <= reads; read++ {
		var names []string
		for i := 0; i < 2; i++ {
			names = append(names, fmt.Sprintf("@%s:%d:R%d", sample, i, read))
		}
		path := filepath.Join(h.run.Dir, "Unaligned", "12345R1", fmt.Sprintf("%s_L001_R%d_001.fastq.gz", sample, read))
		writeFastq(t, path, names...)
	}
}

func TestPatchPcrPostprocessAndDistribute(t *testing.T) {
	h := patchHarness(t, "151,8i,10,151")
	ctx := context.Background()
	_, err := h.p.PatchPcrSampleSheet(ctx, h.run)
	require.NoError(t, err)
	writePatchOutput(t, h, "S1_S1", 3)
	writePatchOutput(t, h, "S2_S2", 3)

	ok, err := h.p.PatchPcrPostprocess(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)

	unaligned := filepath.Join(h.run.Dir, "Unaligned")
	end1 := filepath.Join(unaligned, "S1_"+testRunID+"_1_1.txt.gz")
	end2 := filepath.Join(unaligned, "S1_"+testRunID+"_1_2.txt.gz")
	// writeFastq stores the record name verbatim; the n-mer read's sequence
	// is ACGT.
	assert.Equal(t, []string{"@S1_S1:0:R1-ACGT", "@S1_S1:1:R1-ACGT"}, readNames(t, end1))
	assert.Equal(t, []string{"@S1_S1:0:R3-ACGT", "@S1_S1:1:R3-ACGT"}, readNames(t, end2))
	assert.Len(t, h.run.DataFiles, 8)
	assert.FileExists(t, end1+".md5")

	// A fresh pass rediscovers the files.
	h.run.DataFiles = nil
	ok, err = h.p.PatchPcrDistribute(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, h.run.DataFiles, 8)

	delivered := filepath.Join(h.cfg.DataRoots["Genomics"], "2017", "12345R", "Fastq")
	assert.FileExists(t, filepath.Join(delivered, filepath.Base(end1)))
	assert.FileExists(t, filepath.Join(delivered, filepath.Base(end2)+".md5"))
	assert.Empty(t, h.sender.Sent())
}

func TestPatchPcrPostprocessSingleEnd(t *testing.T) {
	h := patchHarness(t, "151,8i,10")
	ctx := context.Background()
	_, err := h.p.PatchPcrSampleSheet(ctx, h.run)
	require.NoError(t, err)
	writePatchOutput(t, h, "S1_S1", 2)
	writePatchOutput(t, h, "S2_S2", 2)

	ok, err := h.p.PatchPcrPostprocess(ctx, h.run)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, h.run.DataFiles, 4)
	assert.NoFileExists(t, filepath.Join(h.run.Dir, "Unaligned", "S1_"+testRunID+"_1_2.txt.gz"))
}

func TestPatchPcrPostprocessMissingInput(t *testing.T) {
	h := patchHarness(t, "151,8i,10,151")
	ctx := context.Background()
	_, err := h.p.PatchPcrSampleSheet(ctx, h.run)
	require.NoError(t, err)
	writePatchOutput(t, h, "S1_S1", 3)

	ok, err := h.p.PatchPcrPostprocess(ctx, h.run)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTagWithNmerShortNmerFile(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "r1.fastq.gz")
	nmer := filepath.Join(dir, "r2.fastq.gz")
	writeFastq(t, data, "@a", "@b")
	writeFastq(t, nmer, "@a")

	err := tagWithNmer(data, nmer, filepath.Join(dir, "out.txt.gz"))
	assert.ErrorContains(t, err, "fewer reads")
}

func TestPatchPcrDistributeNothingToCopy(t *testing.T) {
	h := patchHarness(t, "151,8i,10,151")

	ok, err := h.p.PatchPcrDistribute(context.Background(), h.run)
	require.NoError(t, err)
	assert.False(t, ok)
}
