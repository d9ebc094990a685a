package basesmask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/demuxmgr/pkg/runinfo"
)

func TestMask(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"single end no index", Config{DataReads: SingleEnd}, "Y*"},
		{"single end single index", Config{DataReads: SingleEnd, IndexReads: SingleIndex, BarcodeA: 6}, "Y*,I6n*"},
		{"unbarcoded lane", Config{DataReads: SingleEnd, IndexReads: SingleIndex}, "Y*,n*"},
		{"paired dual", Config{DataReads: PairedEnd, IndexReads: DualIndex, BarcodeA: 8, BarcodeB: 8}, "Y*,I8n*,I8n*,Y*"},
		{"paired dual run single barcode", Config{DataReads: PairedEnd, IndexReads: DualIndex, BarcodeA: 6}, "Y*,I6n*,n*,Y*"},
		{"molecular barcode", Config{DataReads: PairedEnd, IndexReads: DualIndex, Demux: MolecularBarcode, BarcodeA: 8, BarcodeB: 8}, "Y*,I8n*,Y*,Y*"},
		{"paired no index", Config{DataReads: PairedEnd}, "Y*,Y*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.cfg))
		})
	}
}

func TestMismatches(t *testing.T) {
	assert.Equal(t, 1, Mismatches(Config{Demux: SingleMismatch}))
	assert.Equal(t, 0, Mismatches(Config{Demux: ZeroMismatch}))
	assert.Equal(t, 0, Mismatches(Config{Demux: NoDemultiplex}))
	assert.Equal(t, 1, Mismatches(Config{Demux: MolecularBarcode}))
}

func TestParseDemultiplexMethod(t *testing.T) {
	for _, name := range []string{"", "None", " None "} {
		m, err := ParseDemultiplexMethod(name)
		require.NoError(t, err)
		assert.Equal(t, SingleMismatch, m)
	}
	m, err := ParseDemultiplexMethod("Second barcode random N-mer")
	require.NoError(t, err)
	assert.Equal(t, MolecularBarcode, m)

	_, err = ParseDemultiplexMethod("RI")
	assert.ErrorIs(t, err, ErrUnknownDemultiplexMethod)
}

func TestInstrument(t *testing.T) {
	assert.Equal(t, HiSeq, InstrumentFromLaneCount(8))
	assert.Equal(t, MiSeq, InstrumentFromLaneCount(1))
	assert.Equal(t, ".clocs", PositionsFormat(HiSeq))
	assert.Equal(t, ".locs", PositionsFormat(MiSeq))
}

func TestFromRunInfo(t *testing.T) {
	doc := `<RunInfo><Run Id="r"><Reads>
<Read Number="1" NumCycles="101" IsIndexedRead="N"/>
<Read Number="2" NumCycles="8" IsIndexedRead="Y"/>
<Read Number="3" NumCycles="8" IsIndexedRead="Y"/>
<Read Number="4" NumCycles="101" IsIndexedRead="N"/>
</Reads><FlowcellLayout LaneCount="8"/></Run></RunInfo>`
	info, err := runinfo.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	cfg, err := FromRunInfo(info, len("AACCGGTT-TTGGCCAA"), true, SingleMismatch)
	require.NoError(t, err)
	assert.Equal(t, HiSeq, cfg.Instrument)
	assert.Equal(t, "Y*,I8n*,I8n*,Y*", Mask(cfg))

	cfg, err = FromRunInfo(info, 6, false, SingleMismatch)
	require.NoError(t, err)
	assert.Equal(t, "Y*,I6n*,n*,Y*", Mask(cfg))
}
