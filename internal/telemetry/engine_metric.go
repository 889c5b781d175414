package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the metric instruments recorded around every storage
// operation.
type EngineMetrics struct {
	OpsStartedCounter      metric.Int64Counter
	OpsHandledCounter      metric.Int64Counter
	OpLatencyHistogram     metric.Float64Histogram
	ActiveOpsUpDownCounter metric.Int64UpDownCounter
	KeyCountGauge          metric.Int64Gauge
}

// NewEngineMetrics creates and registers all the metrics for the engine.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	opsStartedCounter, err := meter.Int64Counter(
		"pagedb.engine.ops.started_total",
		metric.WithDescription("Total number of storage operations started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opsHandledCounter, err := meter.Int64Counter(
		"pagedb.engine.ops.handled_total",
		metric.WithDescription("Total number of storage operations completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatencyHistogram, err := meter.Float64Histogram(
		"pagedb.engine.ops.duration",
		metric.WithDescription("The latency of storage operations, including the WAL fsync."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeOpsUpDownCounter, err := meter.Int64UpDownCounter(
		"pagedb.engine.ops.active",
		metric.WithDescription("Number of operations holding or waiting for the engine lock."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	keyCountGauge, err := meter.Int64Gauge(
		"pagedb.engine.keys",
		metric.WithDescription("Number of live keys in the tree."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		OpsStartedCounter:      opsStartedCounter,
		OpsHandledCounter:      opsHandledCounter,
		OpLatencyHistogram:     opLatencyHistogram,
		ActiveOpsUpDownCounter: activeOpsUpDownCounter,
		KeyCountGauge:          keyCountGauge,
	}, nil
}
