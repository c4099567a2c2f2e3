// Package observe provides application-wide observability primitives for
// listend: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all listend metrics.
const meterName = "github.com/Sumit112234/Ai-Interviewer-sub000"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DialDuration tracks how long opening a recognizer stream takes.
	DialDuration metric.Float64Histogram

	// RestartDelay tracks the backoff delay chosen for each scheduled restart.
	RestartDelay metric.Float64Histogram

	// --- Counters ---

	// Restarts counts scheduled recognizer restarts. Use with attribute:
	//   attribute.String("reason", ...)
	Restarts metric.Int64Counter

	// Finals counts final transcripts by gate outcome. Use with attribute:
	//   attribute.String("outcome", "accepted"|"rejected")
	Finals metric.Int64Counter

	// Stops counts terminal session stops. Use with attribute:
	//   attribute.String("reason", ...)
	Stops metric.Int64Counter

	// BusPublishes counts transcript bus publications. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	BusPublishes metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// RecognizerErrors counts recognizer error events. Use with attribute:
	//   attribute.String("code", ...)
	RecognizerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open recognizer streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// backoffBuckets matches the doubling restart schedule.
var backoffBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DialDuration, err = m.Float64Histogram("listend.recognizer.dial.duration",
		metric.WithDescription("Latency of opening a recognizer stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RestartDelay, err = m.Float64Histogram("listend.capture.restart.delay",
		metric.WithDescription("Backoff delay before a recognizer restart."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(backoffBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Restarts, err = m.Int64Counter("listend.capture.restarts",
		metric.WithDescription("Total scheduled recognizer restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.Finals, err = m.Int64Counter("listend.capture.finals",
		metric.WithDescription("Total final transcripts by gate outcome."),
	); err != nil {
		return nil, err
	}
	if met.Stops, err = m.Int64Counter("listend.capture.stops",
		metric.WithDescription("Total capture session stops by reason."),
	); err != nil {
		return nil, err
	}
	if met.BusPublishes, err = m.Int64Counter("listend.bus.publishes",
		metric.WithDescription("Total transcript bus publications by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("listend.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecognizerErrors, err = m.Int64Counter("listend.recognizer.errors",
		metric.WithDescription("Total recognizer error events by code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("listend.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("listend.active_streams",
		metric.WithDescription("Number of open recognizer streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("listend.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRestart records a scheduled restart and its backoff delay in seconds.
func (m *Metrics) RecordRestart(ctx context.Context, reason string, delaySeconds float64) {
	m.Restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.RestartDelay.Record(ctx, delaySeconds, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFinal records the gate outcome of one final transcript.
func (m *Metrics) RecordFinal(ctx context.Context, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.Finals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStop records a terminal session stop.
func (m *Metrics) RecordStop(ctx context.Context, reason string) {
	m.Stops.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRecognizerError records a recognizer error event.
func (m *Metrics) RecordRecognizerError(ctx context.Context, code string) {
	m.RecognizerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordBusPublish records one bus publication attempt.
func (m *Metrics) RecordBusPublish(ctx context.Context, kind, status string) {
	m.BusPublishes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
