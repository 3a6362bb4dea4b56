// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so that they can be scraped from the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// FramesCaptured counts frames delivered by the audio source.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames lost to queue overflow.
	FramesDropped metric.Int64Counter

	// QueueDepth is the frame queue length observed by the worker.
	QueueDepth metric.Int64Gauge

	// --- Segmentation ---

	// Utterances counts segmenter results. Use with attribute:
	//   attribute.String("outcome", "flushed"|"insufficient_speech"|...)
	Utterances metric.Int64Counter

	// UtteranceDuration tracks the audio length of flushed utterances.
	UtteranceDuration metric.Float64Histogram

	// PendingUtterances tracks utterances waiting for the backend.
	PendingUtterances metric.Int64UpDownCounter

	// --- Recognition ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// ProviderRequests counts backend calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend errors. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BackendState is 0 while loading, 1 when ready and 2 after failure.
	BackendState metric.Int64Gauge

	// --- Output ---

	// Transcripts counts sink results. Use with attribute:
	//   attribute.String("status", "emitted"|"empty"|"duplicate"|...)
	Transcripts metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method, matched route and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// recognition latency.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets covers utterance lengths from a short word to the
// maximum utterance length.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.FramesCaptured, err = m.Int64Counter("earshot.frames.captured",
		metric.WithDescription("Total audio frames delivered by the capture source."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("earshot.frames.dropped",
		metric.WithDescription("Total audio frames dropped on queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("earshot.queue.depth",
		metric.WithDescription("Frames waiting in the capture queue."),
	); err != nil {
		return nil, err
	}

	// Segmentation.
	if met.Utterances, err = m.Int64Counter("earshot.utterances",
		metric.WithDescription("Total segmenter results by outcome."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("earshot.utterance.duration",
		metric.WithDescription("Audio length of flushed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PendingUtterances, err = m.Int64UpDownCounter("earshot.utterances.pending",
		metric.WithDescription("Utterances waiting for the recognition backend."),
	); err != nil {
		return nil, err
	}

	// Recognition.
	if met.STTDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("earshot.provider.requests",
		metric.WithDescription("Total recognition backend requests by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total recognition backend errors by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.BackendState, err = m.Int64Gauge("earshot.backend.state",
		metric.WithDescription("Recognition backend readiness: 0 loading, 1 ready, 2 failed."),
	); err != nil {
		return nil, err
	}

	// Output.
	if met.Transcripts, err = m.Int64Counter("earshot.transcripts",
		metric.WithDescription("Total transcripts by sink status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordProviderRequest records one backend call with its status.
func (m *Metrics) RecordProviderRequest(ctx context.Context, backend, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one backend error. kind is "init" or
// "transcribe".
func (m *Metrics) RecordProviderError(ctx context.Context, backend, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records one segmenter outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTranscript records one sink outcome.
func (m *Metrics) RecordTranscript(ctx context.Context, status string) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
