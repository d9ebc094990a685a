package labdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Supported driver names.
const (
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
)

// Queries use @name parameters, understood by both drivers.
const (
	laneChannelCountQuery = `SELECT COUNT(*) FROM flowcellchannel WHERE filename = @run_id`

	coreFacilitiesQuery = `SELECT DISTINCT corefacility.facilityname
FROM corefacility
JOIN flowcell ON flowcell.idcorefacility = corefacility.idcorefacility
JOIN flowcellchannel ON flowcellchannel.idflowcell = flowcell.idflowcell
WHERE flowcellchannel.filename = @run_id`

	laneSamplesQuery = `SELECT flowcell.barcode,
	flowcellchannel.number,
	sample.number,
	genomebuild.genomebuildname,
	sample.barcodesequence,
	appuser.firstname,
	appuser.lastname,
	request.number,
	sample.barcodesequenceb,
	pipelineprotocol.protocol
FROM flowcell
JOIN flowcellchannel ON flowcellchannel.idflowcell = flowcell.idflowcell
JOIN sequencelane ON sequencelane.idflowcellchannel = flowcellchannel.idflowcellchannel
JOIN sample ON sequencelane.idsample = sample.idsample
LEFT OUTER JOIN genomebuild ON sequencelane.idgenomebuildalignto = genomebuild.idgenomebuild
JOIN request ON sequencelane.idrequest = request.idrequest
JOIN appuser ON request.idappuser = appuser.idappuser
LEFT OUTER JOIN pipelineprotocol ON flowcellchannel.idpipelineprotocol = pipelineprotocol.idpipelineprotocol
WHERE flowcellchannel.filename = @run_id
ORDER BY flowcellchannel.number, sample.number`

	applicationsQuery = `SELECT DISTINCT application.application
FROM application
JOIN seqlibprotocolapplication ON application.codeapplication = seqlibprotocolapplication.codeapplication
JOIN seqlibprotocol ON seqlibprotocol.idseqlibprotocol = seqlibprotocolapplication.idseqlibprotocol
JOIN sample ON sample.idseqlibprotocol = seqlibprotocol.idseqlibprotocol
JOIN sequencelane ON sequencelane.idsample = sample.idsample
JOIN flowcellchannel ON sequencelane.idflowcellchannel = flowcellchannel.idflowcellchannel
WHERE flowcellchannel.filename = @run_id`

	sampleRequestsQuery = `SELECT DISTINCT sample.number, request.number, request.createdate
FROM flowcellchannel
JOIN sequencelane ON sequencelane.idflowcellchannel = flowcellchannel.idflowcellchannel
JOIN sample ON sample.idsample = sequencelane.idsample
JOIN request ON sample.idrequest = request.idrequest
WHERE flowcellchannel.filename = @run_id
ORDER BY sample.number`

	flowCellQuery = `SELECT number, createdate FROM flowcell WHERE barcode = @barcode`
)

// DB is a Querier backed by database/sql.
type DB struct {
	db *sql.DB
}

var _ Querier = (*DB)(nil)

// Open connects to the lab database. The connection is verified with a
// ping; the caller owns Close.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	driver = strings.TrimSpace(driver)
	if driver == "" {
		driver = DriverSQLServer
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("lab database dsn is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open lab database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping lab database: %w", err)
	}
	return &DB{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the lab database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// LaneChannelCount counts the flowcell channels registered for runID.
func (d *DB) LaneChannelCount(ctx context.Context, runID string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, laneChannelCountQuery, sql.Named("run_id", runID)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count flowcell channels for %s: %w", runID, err)
	}
	return n, nil
}

func (d *DB) CoreFacilities(ctx context.Context, runID string) ([]string, error) {
	return d.strings(ctx, "core facility", coreFacilitiesQuery, runID)
}

func (d *DB) Applications(ctx context.Context, runID string) ([]string, error) {
	return d.strings(ctx, "applications", applicationsQuery, runID)
}

func (d *DB) strings(ctx context.Context, what, query, runID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, sql.Named("run_id", runID))
	if err != nil {
		return nil, fmt.Errorf("query %s for %s: %w", what, runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s for %s: %w", what, runID, err)
	}
	return out, nil
}

func (d *DB) LaneSamples(ctx context.Context, runID string) ([]LaneSample, error) {
	rows, err := d.db.QueryContext(ctx, laneSamplesQuery, sql.Named("run_id", runID))
	if err != nil {
		return nil, fmt.Errorf("query lane samples for %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []LaneSample
	for rows.Next() {
		var s LaneSample
		var genome, barcodeA, barcodeB, first, last, protocol sql.NullString
		if err := rows.Scan(&s.FlowCell, &s.Lane, &s.SampleNumber, &genome, &barcodeA,
			&first, &last, &s.RequestNumber, &barcodeB, &protocol); err != nil {
			return nil, fmt.Errorf("scan lane sample: %w", err)
		}
		s.Genome = genome.String
		s.BarcodeA = barcodeA.String
		s.BarcodeB = barcodeB.String
		s.FirstName = first.String
		s.LastName = last.String
		s.Protocol = protocol.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query lane samples for %s: %w", runID, err)
	}
	return out, nil
}

func (d *DB) SampleRequests(ctx context.Context, runID string) ([]SampleRequest, error) {
	rows, err := d.db.QueryContext(ctx, sampleRequestsQuery, sql.Named("run_id", runID))
	if err != nil {
		return nil, fmt.Errorf("query sample requests for %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []SampleRequest
	for rows.Next() {
		var sr SampleRequest
		var created any
		if err := rows.Scan(&sr.SampleNumber, &sr.RequestNumber, &created); err != nil {
			return nil, fmt.Errorf("scan sample request: %w", err)
		}
		if sr.Created, err = toTime(created); err != nil {
			return nil, fmt.Errorf("sample %s request date: %w", sr.SampleNumber, err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query sample requests for %s: %w", runID, err)
	}
	return out, nil
}

func (d *DB) FlowCell(ctx context.Context, barcode string) (FlowCell, error) {
	rows, err := d.db.QueryContext(ctx, flowCellQuery, sql.Named("barcode", barcode))
	if err != nil {
		return FlowCell{}, fmt.Errorf("query flowcell %s: %w", barcode, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return FlowCell{}, fmt.Errorf("query flowcell %s: %w", barcode, err)
		}
		return FlowCell{}, fmt.Errorf("flowcell %s: %w", barcode, ErrNotFound)
	}
	var fc FlowCell
	var created any
	if err := rows.Scan(&fc.Number, &created); err != nil {
		return FlowCell{}, fmt.Errorf("scan flowcell %s: %w", barcode, err)
	}
	if fc.Created, err = toTime(created); err != nil {
		return FlowCell{}, fmt.Errorf("flowcell %s date: %w", barcode, err)
	}
	return fc, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toTime normalizes date columns, which SQL Server returns as time.Time
// and SQLite may return as text.
func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	case nil:
		return time.Time{}, fmt.Errorf("date is null")
	}
	return time.Time{}, fmt.Errorf("unsupported date type %T", v)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
