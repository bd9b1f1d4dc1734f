// Package observe provides OpenTelemetry metrics for micstream: per-block
// pipeline counters, send latency, peer and queue gauges, and HTTP request
// timing.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so they can be scraped via
// /metrics. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all micstream metrics.
const meterName = "github.com/teslashibe/go-micstream"

// Drop reasons recorded on micstream.frames.dropped.
const (
	ReasonPoolExhausted = "pool_exhausted"
	ReasonQueueFull     = "queue_full"
	ReasonEvicted       = "evicted"
	ReasonNoPeer        = "no_peer"
	ReasonClosed        = "closed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// BlocksCaptured counts blocks read from the source.
	BlocksCaptured metric.Int64Counter

	// BlocksSilent counts blocks the energy gate classified as silence.
	BlocksSilent metric.Int64Counter

	// SourceTimeouts counts recoverable source read timeouts.
	SourceTimeouts metric.Int64Counter

	// FramesEnqueued counts frames handed to the dispatch queue.
	FramesEnqueued metric.Int64Counter

	// FramesDropped counts frames lost before reaching a peer. Use with
	// attribute.String("reason", ...), one of the Reason* constants.
	FramesDropped metric.Int64Counter

	// FramesSent counts frames delivered to the sink.
	FramesSent metric.Int64Counter

	// BytesSent counts encoded payload bytes delivered to the sink.
	BytesSent metric.Int64Counter

	// SendDuration tracks sink send latency.
	SendDuration metric.Float64Histogram

	// ActivePeers tracks connected transport peers.
	ActivePeers metric.Int64UpDownCounter

	// PipelineRuns counts pipeline starts. Use with attribute
	// attribute.String("result", ...) on exit.
	PipelineRuns metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sendBuckets defines histogram bucket boundaries (in seconds) for one
// block's send; a 16ms block must leave well inside its own duration.
var sendBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Counters.
	if met.BlocksCaptured, err = m.Int64Counter("micstream.blocks.captured",
		metric.WithDescription("Total blocks read from the audio source."),
	); err != nil {
		return nil, err
	}
	if met.BlocksSilent, err = m.Int64Counter("micstream.blocks.silent",
		metric.WithDescription("Total blocks classified as silence."),
	); err != nil {
		return nil, err
	}
	if met.SourceTimeouts, err = m.Int64Counter("micstream.source.timeouts",
		metric.WithDescription("Total recoverable source read timeouts."),
	); err != nil {
		return nil, err
	}
	if met.FramesEnqueued, err = m.Int64Counter("micstream.frames.enqueued",
		metric.WithDescription("Total active frames enqueued for dispatch."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("micstream.frames.dropped",
		metric.WithDescription("Total frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("micstream.frames.sent",
		metric.WithDescription("Total frames delivered to the transport."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("micstream.bytes.sent",
		metric.WithDescription("Total encoded payload bytes delivered to the transport."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PipelineRuns, err = m.Int64Counter("micstream.pipeline.runs",
		metric.WithDescription("Total pipeline runs by exit result."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SendDuration, err = m.Float64Histogram("micstream.send.duration",
		metric.WithDescription("Latency of one frame send."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("micstream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePeers, err = m.Int64UpDownCounter("micstream.active_peers",
		metric.WithDescription("Number of connected stream peers."),
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

// RecordDrop records one dropped frame with the given reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSend records one delivered frame of n bytes taking seconds.
func (m *Metrics) RecordSend(ctx context.Context, n int, seconds float64) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(n))
	m.SendDuration.Record(ctx, seconds)
}

// RecordPipelineRun records a finished pipeline run; result is "ok" or the
// failing role ("source", "sink").
func (m *Metrics) RecordPipelineRun(ctx context.Context, result string) {
	m.PipelineRuns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// Gauges reports instantaneous pipeline occupancy.
type Gauges struct {
	QueueDepth int64
	PoolInUse  int64
}

// ObserveGauges registers observable gauges for queue depth and pool use,
// sampled from read on every collection. Unregister the returned
// registration when the observed pipeline goes away.
func (m *Metrics) ObserveGauges(read func() Gauges) (metric.Registration, error) {
	depth, err := m.meter.Int64ObservableGauge("micstream.queue.depth",
		metric.WithDescription("Frames waiting in the dispatch queue."),
	)
	if err != nil {
		return nil, err
	}
	inUse, err := m.meter.Int64ObservableGauge("micstream.pool.in_use",
		metric.WithDescription("Frame pool slots currently held."),
	)
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		g := read()
		o.ObserveInt64(depth, g.QueueDepth)
		o.ObserveInt64(inUse, g.PoolInUse)
		return nil
	}, depth, inUse)
}
