package polltrigger

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricPrefix = "pollgate_poll_trigger_"

// MetricsCollector records poll outcomes as OpenTelemetry instruments,
// exported through the Prometheus bridge.
type MetricsCollector struct {
	polls      metric.Int64Counter
	items      metric.Int64Counter
	errors     metric.Int64Counter
	sinkErrors metric.Int64Counter
	latency    metric.Float64Histogram

	active atomic.Int64
}

// NewMetricsCollector registers the poll instruments on provider.
func NewMetricsCollector(provider metric.MeterProvider) (*MetricsCollector, error) {
	meter := provider.Meter("pollgate")
	mc := &MetricsCollector{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&mc.polls, "polls_total", "Poll executions", "{poll}"},
		{&mc.items, "items_total", "New items returned by polls", "{item}"},
		{&mc.errors, "errors_total", "Failed polls", "{error}"},
		{&mc.sinkErrors, "sink_errors_total", "Events the sink failed to accept", "{event}"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(metricPrefix+c.name,
			metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	mc.latency, err = meter.Float64Histogram(metricPrefix+"latency_seconds",
		metric.WithDescription("Poll latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(metricPrefix+"active",
		metric.WithDescription("Scheduled poll triggers"),
		metric.WithUnit("{trigger}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(mc.active.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return mc, nil
}

// RecordPollComplete counts a poll and its latency, labelled by piece and
// outcome.
func (mc *MetricsCollector) RecordPollComplete(ctx context.Context, piece string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("piece", piece),
		attribute.String("status", status),
	)
	mc.polls.Add(ctx, 1, attrs)
	mc.latency.Record(ctx, duration.Seconds(), attrs)
}

func (mc *MetricsCollector) RecordItems(ctx context.Context, piece string, count int) {
	mc.items.Add(ctx, int64(count), metric.WithAttributes(attribute.String("piece", piece)))
}

func (mc *MetricsCollector) RecordError(ctx context.Context, piece string, errorType string) {
	mc.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("piece", piece),
		attribute.String("error_type", errorType),
	))
}

func (mc *MetricsCollector) RecordSinkError(ctx context.Context, piece string) {
	mc.sinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("piece", piece)))
}

// SetActiveTriggers sets the gauge reported at the next collection.
func (mc *MetricsCollector) SetActiveTriggers(count int) {
	mc.active.Store(int64(count))
}
