// Package observe provides observability primitives for the bot:
// OpenTelemetry metrics with a Prometheus exporter bridge so everything can
// be scraped via the standard /metrics endpoint.
//
// Tests should use [NewMetrics] with a private [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sqrilizz/BixlandAI/internal/queue"
)

// meterName is the instrumentation scope name used for all bot metrics.
const meterName = "github.com/Sqrilizz/BixlandAI"

// latencyBuckets defines histogram bucket boundaries (in seconds). The
// generation API polls in whole seconds, so the buckets skew long.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// Metrics holds all OpenTelemetry metric instruments for the bot.
// All fields are safe for concurrent use.
type Metrics struct {
	// GenerationDuration tracks end-to-end reply generation latency.
	// Use with attribute.String("kind", "text"|"voice").
	GenerationDuration metric.Float64Histogram

	// ResponsesTotal counts delivered replies.
	// Use with attribute.String("kind", "text"|"voice").
	ResponsesTotal metric.Int64Counter

	// UtterancesTotal counts voice utterances flushed by the segmenter.
	UtterancesTotal metric.Int64Counter

	// ProviderErrors counts failed provider calls.
	// Use with attribute.String("provider", ...).
	ProviderErrors metric.Int64Counter

	// RateLimited counts replies suppressed by the daily budget.
	RateLimited metric.Int64Counter

	meter metric.Meter
}

// NewMetrics creates a fully initialised [Metrics] using the given provider.
// Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.GenerationDuration, err = m.Float64Histogram("bixland.generation.duration",
		metric.WithDescription("Latency of end-to-end reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponsesTotal, err = m.Int64Counter("bixland.responses.total",
		metric.WithDescription("Delivered replies by kind."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesTotal, err = m.Int64Counter("bixland.utterances.total",
		metric.WithDescription("Voice utterances flushed by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("bixland.provider.errors",
		metric.WithDescription("Failed provider API calls."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("bixland.ratelimit.rejections",
		metric.WithDescription("Replies suppressed by the daily budget."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterQueues exports depth and running gauges for the given queues,
// labelled by queue name.
func (m *Metrics) RegisterQueues(queues ...*queue.Queue) error {
	depth, err := m.meter.Int64ObservableGauge("bixland.queue.depth",
		metric.WithDescription("Tasks waiting in the queue."),
	)
	if err != nil {
		return err
	}
	running, err := m.meter.Int64ObservableGauge("bixland.queue.running",
		metric.WithDescription("Tasks currently executing."),
	)
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, q := range queues {
			st := q.Stats()
			attrs := metric.WithAttributes(attribute.String("queue", st.Name))
			o.ObserveInt64(depth, int64(st.Queued), attrs)
			o.ObserveInt64(running, int64(st.Running), attrs)
		}
		return nil
	}, depth, running)
	return err
}

// RegisterVoiceSessions exports a gauge of connected voice transports, read
// from count on every collection.
func (m *Metrics) RegisterVoiceSessions(count func() int) error {
	sessions, err := m.meter.Int64ObservableGauge("bixland.voice.sessions",
		metric.WithDescription("Connected voice transports."),
	)
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(sessions, int64(count()))
		return nil
	}, sessions)
	return err
}
