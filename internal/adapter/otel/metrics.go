package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "worklift"

// Metrics holds all Worklift metric instruments.
type Metrics struct {
	ProcessesStarted   metric.Int64Counter
	ProcessesCompleted metric.Int64Counter
	ProcessesFailed    metric.Int64Counter
	ProcessesKilled    metric.Int64Counter
	ProcessesDropped   metric.Int64Counter
	ResetsApplied      metric.Int64Counter
	ProcessDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ProcessesStarted, err = meter.Int64Counter("worklift.processes.started",
		metric.WithDescription("Number of execution processes started"))
	if err != nil {
		return nil, err
	}

	m.ProcessesCompleted, err = meter.Int64Counter("worklift.processes.completed",
		metric.WithDescription("Number of execution processes that completed successfully"))
	if err != nil {
		return nil, err
	}

	m.ProcessesFailed, err = meter.Int64Counter("worklift.processes.failed",
		metric.WithDescription("Number of execution processes that exited non-zero"))
	if err != nil {
		return nil, err
	}

	m.ProcessesKilled, err = meter.Int64Counter("worklift.processes.killed",
		metric.WithDescription("Number of execution processes stopped by request"))
	if err != nil {
		return nil, err
	}

	m.ProcessesDropped, err = meter.Int64Counter("worklift.processes.dropped",
		metric.WithDescription("Number of execution processes soft-dropped by retries"))
	if err != nil {
		return nil, err
	}

	m.ResetsApplied, err = meter.Int64Counter("worklift.resets.applied",
		metric.WithDescription("Number of hard resets applied during retries"))
	if err != nil {
		return nil, err
	}

	m.ProcessDuration, err = meter.Float64Histogram("worklift.process.duration_seconds",
		metric.WithDescription("Execution process duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
