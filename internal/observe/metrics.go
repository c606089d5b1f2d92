// Package observe provides observability primitives for voxterm: OpenTelemetry
// metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint (see [Handler]). A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxterm metrics.
const meterName = "github.com/voxterm/voxterm"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ChunksSent counts captured PCM blocks forwarded to the realtime channel.
	ChunksSent metric.Int64Counter

	// ChunksMuted counts captured PCM blocks dropped while the mute flag was set.
	ChunksMuted metric.Int64Counter

	// ChunksDropped counts captured PCM blocks dropped because no session was
	// connected or the send failed.
	ChunksDropped metric.Int64Counter

	// ChunksReceived counts synthesised PCM chunks delivered by the channel.
	ChunksReceived metric.Int64Counter

	// Interruptions counts barge-in signals received from the channel.
	Interruptions metric.Int64Counter

	// SessionErrors counts sessions that terminated with an error.
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of live realtime sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// ScheduledAudio tracks the duration of each scheduled playback chunk.
	ScheduledAudio metric.Float64Histogram

	// SessionDuration tracks how long each session lasted from connect to teardown.
	SessionDuration metric.Float64Histogram
}

// chunkBuckets covers typical synthesised chunk lengths (tens of ms to seconds).
var chunkBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// sessionBuckets covers conversation lengths from seconds to the provider's
// session cap.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ChunksSent, err = m.Int64Counter("voxterm.capture.chunks_sent",
		metric.WithDescription("Captured PCM blocks forwarded to the realtime channel."),
	); err != nil {
		return nil, err
	}
	if met.ChunksMuted, err = m.Int64Counter("voxterm.capture.chunks_muted",
		metric.WithDescription("Captured PCM blocks dropped while muted."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxterm.capture.chunks_dropped",
		metric.WithDescription("Captured PCM blocks dropped with no connected session or on send failure."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voxterm.playback.chunks_received",
		metric.WithDescription("Synthesised PCM chunks delivered by the realtime channel."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxterm.playback.interruptions",
		metric.WithDescription("Barge-in signals received from the realtime channel."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxterm.session.errors",
		metric.WithDescription("Sessions terminated by a channel error."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxterm.active_sessions",
		metric.WithDescription("Number of live realtime sessions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ScheduledAudio, err = m.Float64Histogram("voxterm.playback.scheduled_audio",
		metric.WithDescription("Duration of each scheduled playback chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(chunkBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxterm.session.duration",
		metric.WithDescription("Session length from connect to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
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
