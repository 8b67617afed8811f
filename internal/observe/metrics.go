// Package observe provides observability primitives for PAG-ASA:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are scraped through
// the Prometheus exporter installed by [InitProvider]. Components receive a
// *[Metrics]; a nil *Metrics is valid and records nothing, which keeps unit
// tests free of telemetry setup. Tests that assert on metrics use
// [NewMetrics] with an sdkmetric.ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/pagasa"

// Stage names used with [Metrics.RecordStage].
const (
	StageCapture    = "capture"
	StageAnalysis   = "analysis"
	StageScript     = "script"
	StageSpeech     = "speech"
	StageLiveUpdate = "live_update"
)

// Frame outcomes used with [Metrics.RecordFrame].
const (
	FrameSent      = "sent"
	FrameDropped   = "dropped"
	FrameSendError = "send_error"
	FrameReceived  = "received"
	FrameMalformed = "malformed"
)

// Metrics holds all metric instruments for the application. The
// instruments are safe for concurrent use.
type Metrics struct {
	// CycleDuration tracks analysis cycles from start to Ready/Idle, with
	// attributes trigger and outcome.
	CycleDuration metric.Float64Histogram

	// StageDuration tracks one cycle or live-update stage, with attributes
	// stage and status.
	StageDuration metric.Float64Histogram

	// ProviderRequests counts backend calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by name and
	// target state.
	BreakerTransitions metric.Int64Counter

	// AudioFrames counts live conversation frames by outcome.
	AudioFrames metric.Int64Counter

	// LiveUpdates counts live-update iterations by status.
	LiveUpdates metric.Int64Counter

	// ActiveSessions tracks open live conversations.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks control API latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers single inference calls up to full analysis cycles
// with a large thinking budget.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CycleDuration, err = m.Float64Histogram("pagasa.cycle.duration",
		metric.WithDescription("Duration of analysis cycles by trigger and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("pagasa.stage.duration",
		metric.WithDescription("Latency of capture, analysis, script, speech and live-update stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("pagasa.provider.requests",
		metric.WithDescription("Backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("pagasa.provider.errors",
		metric.WithDescription("Backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("pagasa.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("pagasa.live.frames",
		metric.WithDescription("Live conversation audio frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LiveUpdates, err = m.Int64Counter("pagasa.live_update.runs",
		metric.WithDescription("Live-update iterations by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pagasa.live.active_sessions",
		metric.WithDescription("Number of open live conversations."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("pagasa.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] built from the global
// meter provider. Panics if instrument creation fails, which does not
// happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps an error to the "ok"/"error" attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordCycle records a finished analysis cycle.
func (m *Metrics) RecordCycle(ctx context.Context, trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("trigger", trigger),
		Attr("outcome", outcome),
	))
}

// RecordStage records the latency of one stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("stage", stage),
		Attr("status", Status(err)),
	))
}

// RecordProviderRequest counts one backend call and, on failure, one
// backend error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", Status(err)),
	))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
		))
	}
}

// RecordBreakerTransition counts a breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("breaker", name),
		Attr("state", to),
	))
}

// RecordFrame counts one live conversation frame.
func (m *Metrics) RecordFrame(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.AudioFrames.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordLiveUpdate counts one live-update iteration.
func (m *Metrics) RecordLiveUpdate(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.LiveUpdates.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
