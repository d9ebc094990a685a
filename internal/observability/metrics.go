package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "demuxmgr"

// Attribute keys
const (
	attrKind    = "kind"
	attrFrom    = "from"
	attrTo      = "to"
	attrHandler = "handler"
	attrResult  = "result"
)

// Metrics records workflow activity. It satisfies the state machine and
// job runner recorder interfaces and the manager's discovery hook.
type Metrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	Transitions     metric.Int64Counter
	HandlerDuration metric.Float64Histogram
	RunErrors       metric.Int64Counter
	Jobs            metric.Int64Counter
	Discoveries     metric.Int64Counter
}

var (
	metricsMu sync.Mutex

	// MetricsSystem is the process-wide instance created by InitMetrics.
	MetricsSystem *Metrics
)

// InitMetrics creates MetricsSystem once and returns it.
func InitMetrics() (*Metrics, error) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if MetricsSystem != nil {
		return MetricsSystem, nil
	}
	m, err := NewMetrics()
	if err != nil {
		return nil, err
	}
	MetricsSystem = m
	return m, nil
}

// NewMetrics creates the instruments on a private prometheus registry.
func NewMetrics() (*Metrics, error) {
	reg := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)
	m := &Metrics{registry: reg, provider: provider}

	m.Transitions, err = meter.Int64Counter(
		"demuxmgr_transitions_total",
		metric.WithDescription("State changes applied to runs"),
	)
	if err != nil {
		return nil, err
	}

	m.HandlerDuration, err = meter.Float64Histogram(
		"demuxmgr_handler_duration_seconds",
		metric.WithDescription("Handler execution time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 1, 10, 60, 300, 900, 1800, 3600, 7200, 14400),
	)
	if err != nil {
		return nil, err
	}

	m.RunErrors, err = meter.Int64Counter(
		"demuxmgr_run_errors_total",
		metric.WithDescription("Runs diverted to the error state"),
	)
	if err != nil {
		return nil, err
	}

	m.Jobs, err = meter.Int64Counter(
		"demuxmgr_jobs_total",
		metric.WithDescription("Shell jobs finished, by result"),
	)
	if err != nil {
		return nil, err
	}

	m.Discoveries, err = meter.Int64Counter(
		"demuxmgr_runs_discovered_total",
		metric.WithDescription("Run folders newly registered"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Transition records a state change.
func (m *Metrics) Transition(ctx context.Context, kind, from, to string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrFrom, from),
		attribute.String(attrTo, to),
	))
}

// HandlerDone records a handler's duration.
func (m *Metrics) HandlerDone(ctx context.Context, handler string, ok bool, elapsed time.Duration) {
	m.HandlerDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String(attrHandler, handler),
		attribute.String(attrResult, result(ok)),
	))
}

// RunError records a run entering the error state.
func (m *Metrics) RunError(ctx context.Context, kind string) {
	m.RunErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// JobFinished records a shell job exit.
func (m *Metrics) JobFinished(exitCode int, _ time.Duration) {
	m.Jobs.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(attrResult, result(exitCode == 0)),
	))
}

// RunsDiscovered records newly registered runs.
func (m *Metrics) RunsDiscovered(ctx context.Context, n int) {
	m.Discoveries.Add(ctx, int64(n))
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics for the node exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := promclient.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
