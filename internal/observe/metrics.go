// Package observe provides application-wide observability primitives for
// Kalam: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Kalam metrics.
const meterName = "github.com/MrWong99/kalam"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Practice ---

	// Score tracks the distribution of pronunciation scores (0..100).
	Score metric.Int64Histogram

	// Utterances counts scored attempts. Use with attributes:
	//   attribute.String("grade", ...), attribute.String("scenario", ...)
	Utterances metric.Int64Counter

	// CaptureFailures counts speech captures that ended in an error. Use
	// with attribute:
	//   attribute.String("reason", ...)
	CaptureFailures metric.Int64Counter

	// --- Latency histograms per provider ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech playback latency.
	TTSDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open practice connections.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// recognition and synthesis round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// scoreBuckets split scores into the feedback bands and below.
var scoreBuckets = []float64{20, 40, 60, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Score, err = m.Int64Histogram("kalam.score",
		metric.WithDescription("Pronunciation similarity scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("kalam.utterances",
		metric.WithDescription("Total scored attempts by grade and scenario."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFailures, err = m.Int64Counter("kalam.capture.failures",
		metric.WithDescription("Total speech captures that failed, by reason."),
	); err != nil {
		return nil, err
	}

	if met.STTDuration, err = m.Float64Histogram("kalam.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("kalam.tts.duration",
		metric.WithDescription("Latency of text-to-speech playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("kalam.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("kalam.active_sessions",
		metric.WithDescription("Number of open practice connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("kalam.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance records one scored attempt: the score histogram and the
// utterance counter.
func (m *Metrics) RecordUtterance(ctx context.Context, scenario, grade string, score int) {
	m.Score.Record(ctx, int64(score), metric.WithAttributes(attribute.String("scenario", scenario)))
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("grade", grade),
			attribute.String("scenario", scenario),
		),
	)
}

// RecordCaptureFailure records a failed speech capture.
func (m *Metrics) RecordCaptureFailure(ctx context.Context, reason string) {
	m.CaptureFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
