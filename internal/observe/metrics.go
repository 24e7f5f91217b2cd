// Package observe provides application-wide observability primitives for
// voxloop: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the admin endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so they can be scraped from /metrics.
// [DefaultMetrics] returns a package-level instance bound to the global meter
// provider; tests should use [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxloop metrics.
const meterName = "github.com/MrWong99/voxloop"

// Utterance kinds used with [Metrics.RecordUtterance].
const (
	UtterancePartial = "partial"
	UtteranceFinal   = "final"
	UtteranceDropped = "dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// STTDuration tracks recognition latency per utterance.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency per utterance.
	TTSDuration metric.Float64Histogram

	// FramesCaptured counts frames published by the capture source.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames discarded because the frame queue was full.
	FramesDropped metric.Int64Counter

	// Utterances counts detector output. Attribute "kind": partial, final
	// or dropped.
	Utterances metric.Int64Counter

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// PlaybackItems counts finished queue items. Attribute "status": played,
	// failed, skipped or halted.
	PlaybackItems metric.Int64Counter

	// PlaybackQueueDepth tracks the number of items waiting to play.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// RetentionDeleted counts files removed by the sweep.
	RetentionDeleted metric.Int64Counter

	// RetentionErrors counts sweep failures (stat, remove, mkdir).
	RetentionErrors metric.Int64Counter

	// HTTPRequestDuration tracks admin HTTP latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("voxloop.stt.duration",
		metric.WithDescription("Latency of speech-to-text recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxloop.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesCaptured, err = m.Int64Counter("voxloop.frames.captured",
		metric.WithDescription("Audio frames published by the capture source."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxloop.frames.dropped",
		metric.WithDescription("Audio frames dropped because the frame queue was full."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxloop.utterances",
		metric.WithDescription("Detector output by kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxloop.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxloop.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackItems, err = m.Int64Counter("voxloop.playback.items",
		metric.WithDescription("Playback queue items by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("voxloop.playback.queue_depth",
		metric.WithDescription("Items waiting in the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.RetentionDeleted, err = m.Int64Counter("voxloop.retention.deleted",
		metric.WithDescription("Files deleted by the retention sweep."),
	); err != nil {
		return nil, err
	}
	if met.RetentionErrors, err = m.Int64Counter("voxloop.retention.errors",
		metric.WithDescription("Retention sweep failures."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxloop.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance counts one detector result of the given kind.
func (m *Metrics) RecordUtterance(ctx context.Context, kind string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPlayback counts one finished playback item.
func (m *Metrics) RecordPlayback(ctx context.Context, status string) {
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
