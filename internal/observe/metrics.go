// Package observe provides application-wide observability primitives for
// Voxgate: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks end-to-end chat turn latency from the moment a
	// user message is dequeued until the reply is handed to the outbox.
	TurnDuration metric.Float64Histogram

	// STTDuration tracks the lifetime of a speech-recognition stream from
	// start to release.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks text-generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech-synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// AdapterRequests counts adapter API calls. Use with attributes:
	//   attribute.String("adapter", ...), attribute.String("status", ...)
	AdapterRequests metric.Int64Counter

	// AdapterErrors counts adapter faults. Use with attributes:
	//   attribute.String("adapter", ...), attribute.String("class", ...)
	AdapterErrors metric.Int64Counter

	// MessagesReceived counts decoded inbound frames by message type.
	MessagesReceived metric.Int64Counter

	// BreakerTransitions counts breaker state changes on provider backends.
	// Use with attributes: attribute.String("adapter", ...),
	// attribute.String("backend", ...), attribute.String("from", ...),
	// attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of live WebSocket sessions.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("voxgate.turn.duration",
		metric.WithDescription("End-to-end chat turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("voxgate.stt.duration",
		metric.WithDescription("Lifetime of a speech-recognition stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voxgate.llm.duration",
		metric.WithDescription("Latency of text generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxgate.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AdapterRequests, err = m.Int64Counter("voxgate.adapter.requests",
		metric.WithDescription("Total adapter API requests by adapter and status."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("voxgate.adapter.errors",
		metric.WithDescription("Total adapter faults by adapter and fault class."),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("voxgate.messages.received",
		metric.WithDescription("Total decoded inbound frames by message type."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxgate.breaker.transitions",
		metric.WithDescription("Total breaker state changes by adapter and backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("voxgate.active_connections",
		metric.WithDescription("Number of live WebSocket sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAdapterRequest is a convenience method that records an adapter
// request counter increment with the standard attribute set.
func (m *Metrics) RecordAdapterRequest(ctx context.Context, adapter, status string) {
	m.AdapterRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("adapter", adapter),
			attribute.String("status", status),
		),
	)
}

// RecordAdapterError is a convenience method that records an adapter fault
// counter increment.
func (m *Metrics) RecordAdapterError(ctx context.Context, adapter, class string) {
	m.AdapterErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("adapter", adapter),
			attribute.String("class", class),
		),
	)
}

// RecordBreakerTransition is a convenience method that records one breaker
// state change for a provider backend.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, adapter, backend, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("adapter", adapter),
			attribute.String("backend", backend),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordMessage is a convenience method that records a decoded inbound frame
// by message type.
func (m *Metrics) RecordMessage(ctx context.Context, msgType string) {
	m.MessagesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}
