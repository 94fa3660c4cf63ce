// Package observe provides the server's observability primitives:
// OpenTelemetry metrics and tracing, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider]; [DefaultMetrics] uses the global one.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bodul/buzzbingo"

// Metrics holds every instrument the application records.
type Metrics struct {
	// Segments counts transcription segments handed to the detector. Use
	// with attributes source (live|simulated|manual) and final (true|false).
	Segments metric.Int64Counter

	// Detections counts buzzword matches. Use with attribute custom.
	Detections metric.Int64Counter

	// Marks counts card toggles. Use with attribute marked.
	Marks metric.Int64Counter

	// Wins counts completed lines.
	Wins metric.Int64Counter

	// TranscriptionErrors counts recognizer errors. Use with attribute kind.
	TranscriptionErrors metric.Int64Counter

	// RecognizerRestarts counts automatic restarts of a live recognizer.
	RecognizerRestarts metric.Int64Counter

	// Suggestions counts AI suggestion requests. Use with attribute status.
	Suggestions metric.Int64Counter

	// SuggestDuration tracks AI suggestion latency.
	SuggestDuration metric.Float64Histogram

	ActiveSessions metric.Int64UpDownCounter
	ActiveRelays   metric.Int64UpDownCounter
	EventClients   metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Segments, err = m.Int64Counter("buzzbingo.transcript.segments",
		metric.WithDescription("Transcription segments processed by source and finality."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("buzzbingo.buzzword.detections",
		metric.WithDescription("Buzzword occurrences detected."),
	); err != nil {
		return nil, err
	}
	if met.Marks, err = m.Int64Counter("buzzbingo.card.marks",
		metric.WithDescription("Bingo card toggles by resulting state."),
	); err != nil {
		return nil, err
	}
	if met.Wins, err = m.Int64Counter("buzzbingo.card.wins",
		metric.WithDescription("Bingo wins declared."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("buzzbingo.transcript.errors",
		metric.WithDescription("Speech recognizer errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerRestarts, err = m.Int64Counter("buzzbingo.transcript.restarts",
		metric.WithDescription("Automatic restarts of a live recognizer."),
	); err != nil {
		return nil, err
	}
	if met.Suggestions, err = m.Int64Counter("buzzbingo.suggest.requests",
		metric.WithDescription("AI buzzword suggestion requests by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SuggestDuration, err = m.Float64Histogram("buzzbingo.suggest.duration",
		metric.WithDescription("Latency of AI buzzword suggestions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("buzzbingo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("buzzbingo.active_sessions",
		metric.WithDescription("Number of open game sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRelays, err = m.Int64UpDownCounter("buzzbingo.active_speech_relays",
		metric.WithDescription("Number of connected browser speech relays."),
	); err != nil {
		return nil, err
	}
	if met.EventClients, err = m.Int64UpDownCounter("buzzbingo.event_clients",
		metric.WithDescription("Number of connected event stream clients."),
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
// first call from the global meter provider. Call it after [InitProvider].
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

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment counts one segment from source.
func (m *Metrics) RecordSegment(ctx context.Context, source string, final bool) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.Bool("final", final),
		),
	)
}

// RecordDetection counts n occurrences of one buzzword.
func (m *Metrics) RecordDetection(ctx context.Context, n int, custom bool) {
	if n <= 0 {
		return
	}
	m.Detections.Add(ctx, int64(n), metric.WithAttributes(attribute.Bool("custom", custom)))
}

// RecordMark counts one card toggle and, if it completed a line, a win.
func (m *Metrics) RecordMark(ctx context.Context, marked, win bool) {
	m.Marks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("marked", marked)))
	if win {
		m.Wins.Add(ctx, 1)
	}
}

// RecordTranscriptionError counts one recognizer error of kind.
func (m *Metrics) RecordTranscriptionError(ctx context.Context, kind string) {
	m.TranscriptionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSuggestion counts one suggestion request and its latency in seconds.
func (m *Metrics) RecordSuggestion(ctx context.Context, status string, seconds float64) {
	m.Suggestions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SuggestDuration.Record(ctx, seconds)
}
