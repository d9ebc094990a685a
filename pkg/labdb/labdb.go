// Package labdb reads sample, lane and request metadata from the
// laboratory information management database. The manager only reads;
// schema ownership stays with the LIMS.
package labdb

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found in lab database")

// LaneSample is one sample loaded on one lane of a flowcell.
type LaneSample struct {
	FlowCell      string
	Lane          int
	SampleNumber  string
	Genome        string
	BarcodeA      string
	BarcodeB      string
	FirstName     string
	LastName      string
	RequestNumber string
	Protocol      string
}

// SampleRequest links a sample to the request that submitted it.
type SampleRequest struct {
	SampleNumber  string
	RequestNumber string
	Created       time.Time
}

// FlowCell is the LIMS record for a flowcell barcode.
type FlowCell struct {
	Number  string
	Created time.Time
}

// Querier is the read interface the pipeline depends on.
type Querier interface {
	// LaneChannelCount counts the flowcell channels registered for a run
	// folder name.
	LaneChannelCount(ctx context.Context, runID string) (int, error)

	// CoreFacilities lists the facility names owning the run's flowcell.
	CoreFacilities(ctx context.Context, runID string) ([]string, error)

	// LaneSamples returns the sample sheet source rows ordered by lane and
	// sample number.
	LaneSamples(ctx context.Context, runID string) ([]LaneSample, error)

	// Applications lists the sequencing application names of the samples
	// on the run.
	Applications(ctx context.Context, runID string) ([]string, error)

	// SampleRequests lists the distinct samples on the run with their
	// request number and creation date.
	SampleRequests(ctx context.Context, runID string) ([]SampleRequest, error)

	// FlowCell looks up a flowcell by barcode. Returns ErrNotFound when
	// absent.
	FlowCell(ctx context.Context, barcode string) (FlowCell, error)

	Ping(ctx context.Context) error
}
