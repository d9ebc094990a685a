package labdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureSchema mirrors only the LIMS columns the queries read.
var fixtureSchema = []string{
	`CREATE TABLE corefacility (idcorefacility INTEGER PRIMARY KEY, facilityname TEXT)`,
	`CREATE TABLE flowcell (idflowcell INTEGER PRIMARY KEY, barcode TEXT, number TEXT, createdate DATETIME, idcorefacility INTEGER)`,
	`CREATE TABLE pipelineprotocol (idpipelineprotocol INTEGER PRIMARY KEY, protocol TEXT)`,
	`CREATE TABLE flowcellchannel (idflowcellchannel INTEGER PRIMARY KEY, idflowcell INTEGER, number INTEGER, filename TEXT, idpipelineprotocol INTEGER)`,
	`CREATE TABLE appuser (idappuser INTEGER PRIMARY KEY, firstname TEXT, lastname TEXT)`,
	`CREATE TABLE request (idrequest INTEGER PRIMARY KEY, number TEXT, createdate DATETIME, idappuser INTEGER)`,
	`CREATE TABLE seqlibprotocol (idseqlibprotocol INTEGER PRIMARY KEY)`,
	`CREATE TABLE application (codeapplication TEXT PRIMARY KEY, application TEXT)`,
	`CREATE TABLE seqlibprotocolapplication (idseqlibprotocol INTEGER, codeapplication TEXT)`,
	`CREATE TABLE sample (idsample INTEGER PRIMARY KEY, number TEXT, barcodesequence TEXT, barcodesequenceb TEXT, idrequest INTEGER, idseqlibprotocol INTEGER)`,
	`CREATE TABLE genomebuild (idgenomebuild INTEGER PRIMARY KEY, genomebuildname TEXT)`,
	`CREATE TABLE sequencelane (idsequencelane INTEGER PRIMARY KEY, idflowcellchannel INTEGER, idsample INTEGER, idrequest INTEGER, idgenomebuildalignto INTEGER)`,
}

const runID = "150101_D00550_0001_AH2K3JADXX"

var fixtureRows = []string{
	`INSERT INTO corefacility VALUES (1, 'Genomics Core')`,
	`INSERT INTO flowcell VALUES (10, 'H2K3JADXX', 'FC100', '2015-01-01 09:30:00', 1)`,
	`INSERT INTO pipelineprotocol VALUES (5, 'Zero base mismatch')`,
	`INSERT INTO flowcellchannel VALUES (101, 10, 1, '` + runID + `', NULL)`,
	`INSERT INTO flowcellchannel VALUES (102, 10, 2, '` + runID + `', 5)`,
	`INSERT INTO appuser VALUES (7, 'Ada', 'Lovelace, PhD')`,
	`INSERT INTO request VALUES (20, '1234R', '2014-12-15 00:00:00', 7)`,
	`INSERT INTO seqlibprotocol VALUES (3)`,
	`INSERT INTO application VALUES ('PPCR', 'Patch PCR Amplicon')`,
	`INSERT INTO seqlibprotocolapplication VALUES (3, 'PPCR')`,
	`INSERT INTO genomebuild VALUES (1, 'hg19, GRCh37')`,
	`INSERT INTO sample VALUES (1, '1234X1', 'AACC', NULL, 20, 3)`,
	`INSERT INTO sample VALUES (2, '1234X2', 'GGTT', NULL, 20, 3)`,
	`INSERT INTO sample VALUES (3, '1234X3', 'TTAA', 'CCGG', 20, 3)`,
	`INSERT INTO sequencelane VALUES (1, 101, 1, 20, 1)`,
	`INSERT INTO sequencelane VALUES (2, 101, 2, 20, NULL)`,
	`INSERT INTO sequencelane VALUES (3, 102, 3, 20, 1)`,
}

func openFixture(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range append(fixtureSchema, fixtureRows...) {
		_, err := db.db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

func TestLaneChannelCount(t *testing.T) {
	db := openFixture(t)
	n, err := db.LaneChannelCount(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.LaneChannelCount(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCoreFacilities(t *testing.T) {
	db := openFixture(t)
	names, err := db.CoreFacilities(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Genomics Core"}, names)
}

func TestLaneSamples(t *testing.T) {
	db := openFixture(t)
	rows, err := db.LaneSamples(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, LaneSample{
		FlowCell: "H2K3JADXX", Lane: 1, SampleNumber: "1234X1", Genome: "hg19, GRCh37",
		BarcodeA: "AACC", FirstName: "Ada", LastName: "Lovelace, PhD", RequestNumber: "1234R",
	}, rows[0])
	assert.Empty(t, rows[1].Genome)
	assert.Equal(t, 2, rows[2].Lane)
	assert.Equal(t, "CCGG", rows[2].BarcodeB)
	assert.Equal(t, "Zero base mismatch", rows[2].Protocol)
}

func TestApplications(t *testing.T) {
	db := openFixture(t)
	apps, err := db.Applications(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Patch PCR Amplicon"}, apps)
}

func TestSampleRequests(t *testing.T) {
	db := openFixture(t)
	reqs, err := db.SampleRequests(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, "1234X1", reqs[0].SampleNumber)
	assert.Equal(t, "1234R", reqs[0].RequestNumber)
	assert.Equal(t, 2014, reqs[0].Created.Year())
}

func TestFlowCell(t *testing.T) {
	db := openFixture(t)
	fc, err := db.FlowCell(context.Background(), "H2K3JADXX")
	require.NoError(t, err)
	assert.Equal(t, "FC100", fc.Number)
	assert.Equal(t, 2015, fc.Created.Year())

	_, err = db.FlowCell(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToTime(t *testing.T) {
	ts := time.Date(2015, 3, 4, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		in      any
		wantErr bool
	}{
		{"time", ts, false},
		{"date text", "2015-03-04", false},
		{"datetime bytes", []byte("2015-03-04 10:11:12"), false},
		{"rfc3339", "2015-03-04T10:11:12Z", false},
		{"garbage", "yesterday", true},
		{"null", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2015, got.Year())
		})
	}
}
