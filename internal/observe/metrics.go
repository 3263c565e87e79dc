// Package observe provides application-wide observability primitives for
// rtsp-to-wyoming: OpenTelemetry metrics, tracing, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from /metrics.
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/JunioDutra/rtsp-to-wyoming"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Audio ---

	// Frames counts frames read from the audio stream.
	Frames metric.Int64Counter

	// Utterances counts completed utterances. Use with attribute:
	//   attribute.String("cause", "silence" | "max_duration" | "window")
	Utterances metric.Int64Counter

	// UtterancesDropped counts utterances discarded because the
	// transcription worker and its queue were both busy.
	UtterancesDropped metric.Int64Counter

	// UtteranceLength tracks utterance audio length in seconds.
	UtteranceLength metric.Float64Histogram

	// --- Transcription ---

	// STTDuration tracks the time from the first audio chunk sent to the
	// transcript received.
	STTDuration metric.Float64Histogram

	// Transcriptions counts transcription attempts. Use with attribute:
	//   attribute.String("status", ...)
	Transcriptions metric.Int64Counter

	// --- Commands ---

	// CommandMatches counts transcripts checked against the command list.
	// Use with attribute:
	//   attribute.String("result", "matched" | "unmatched")
	CommandMatches metric.Int64Counter

	// Actions counts Home Assistant service calls. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	Actions metric.Int64Counter

	// ActionDuration tracks Home Assistant service call latency.
	ActionDuration metric.Float64Histogram

	// --- Stream ---

	// StreamReconnects counts stream restarts. Use with attribute:
	//   attribute.String("reason", ...)
	StreamReconnects metric.Int64Counter

	// StreamActive is 1 while an audio stream is open.
	StreamActive metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and service-call latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60,
}

// lengthBuckets defines histogram bucket boundaries (in seconds) for
// utterance audio length.
var lengthBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Frames, err = m.Int64Counter("rtsp_wyoming.audio.frames",
		metric.WithDescription("Total audio frames read from the stream."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("rtsp_wyoming.utterances",
		metric.WithDescription("Total utterances emitted by cause."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDropped, err = m.Int64Counter("rtsp_wyoming.utterances.dropped",
		metric.WithDescription("Utterances dropped while the transcription worker was busy."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("rtsp_wyoming.stt.transcriptions",
		metric.WithDescription("Total transcription attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.CommandMatches, err = m.Int64Counter("rtsp_wyoming.command.matches",
		metric.WithDescription("Transcripts checked against the command list by result."),
	); err != nil {
		return nil, err
	}
	if met.Actions, err = m.Int64Counter("rtsp_wyoming.actions",
		metric.WithDescription("Home Assistant service calls by action and status."),
	); err != nil {
		return nil, err
	}
	if met.StreamReconnects, err = m.Int64Counter("rtsp_wyoming.stream.reconnects",
		metric.WithDescription("Audio stream restarts by reason."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.UtteranceLength, err = m.Float64Histogram("rtsp_wyoming.utterance.length",
		metric.WithDescription("Audio length of emitted utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("rtsp_wyoming.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActionDuration, err = m.Float64Histogram("rtsp_wyoming.action.duration",
		metric.WithDescription("Latency of Home Assistant service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.StreamActive, err = m.Int64UpDownCounter("rtsp_wyoming.stream.active",
		metric.WithDescription("1 while an audio stream is open."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("rtsp_wyoming.http.request.duration",
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
// pointer. Panics if instrument creation fails.
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

// RecordUtterance records an emitted utterance of the given audio length.
func (m *Metrics) RecordUtterance(ctx context.Context, cause string, length time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
	m.UtteranceLength.Record(ctx, length.Seconds())
}

// RecordTranscription records one transcription attempt.
func (m *Metrics) RecordTranscription(ctx context.Context, status string, d time.Duration) {
	m.Transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordCommandMatch records whether a transcript matched a command.
func (m *Metrics) RecordCommandMatch(ctx context.Context, matched bool) {
	result := "unmatched"
	if matched {
		result = "matched"
	}
	m.CommandMatches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordAction records one Home Assistant service call.
func (m *Metrics) RecordAction(ctx context.Context, action, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	)
	m.Actions.Add(ctx, 1, attrs)
	m.ActionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordReconnect records a stream restart.
func (m *Metrics) RecordReconnect(ctx context.Context, reason string) {
	m.StreamReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
