// Package observe provides application-wide observability primitives for
// Voxscribe: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Voxscribe metrics.
const meterName = "github.com/MrWong99/voxscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks speech-to-text engine latency per flush.
	// Use with attribute.String("engine", ...).
	TranscriptionDuration metric.Float64Histogram

	// FinalizeDuration tracks end-of-session post-processing latency
	// (formatting, vocabulary replacement, persistence).
	FinalizeDuration metric.Float64Histogram

	// --- Counters ---

	// BufferFlushes counts transcription buffer flushes. Use with
	// attribute.String("reason", ...): "silence", "max_buffer", "finalize".
	BufferFlushes metric.Int64Counter

	// HelperRestarts counts native helper crash restarts.
	HelperRestarts metric.Int64Counter

	// HelperTimeouts counts helper RPC calls that hit their deadline.
	HelperTimeouts metric.Int64Counter

	// FormatterFallbacks counts sessions that fell back to the raw
	// transcript because formatting failed.
	FormatterFallbacks metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dictation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for dictation-pipeline latencies.
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
	if met.TranscriptionDuration, err = m.Float64Histogram("voxscribe.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription per flush."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("voxscribe.finalize.duration",
		metric.WithDescription("Latency of end-of-session post-processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BufferFlushes, err = m.Int64Counter("voxscribe.buffer.flushes",
		metric.WithDescription("Total transcription buffer flushes by reason."),
	); err != nil {
		return nil, err
	}
	if met.HelperRestarts, err = m.Int64Counter("voxscribe.helper.restarts",
		metric.WithDescription("Total native helper crash restarts."),
	); err != nil {
		return nil, err
	}
	if met.HelperTimeouts, err = m.Int64Counter("voxscribe.helper.timeouts",
		metric.WithDescription("Total helper RPC calls that exceeded their deadline."),
	); err != nil {
		return nil, err
	}
	if met.FormatterFallbacks, err = m.Int64Counter("voxscribe.formatter.fallbacks",
		metric.WithDescription("Total sessions that kept the raw transcript after a formatting failure."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxscribe.active_sessions",
		metric.WithDescription("Number of live dictation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxscribe.http.request.duration",
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

// RecordFlush records a buffer flush with its trigger reason.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.BufferFlushes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTranscription records one engine round trip.
func (m *Metrics) RecordTranscription(ctx context.Context, engine string, seconds float64) {
	m.TranscriptionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}
