package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "forgeflow"

// Metrics holds all ForgeFlow metric instruments.
type Metrics struct {
	TaskTransitions metric.Int64Counter
	TasksStuck      metric.Int64Counter
	TasksRecovered  metric.Int64Counter
	StageOps        metric.Int64Counter
	CommitOps       metric.Int64Counter
	FailoverSwaps   metric.Int64Counter
	StageDuration   metric.Float64Histogram
	GitCmdDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TaskTransitions, err = meter.Int64Counter("forgeflow.tasks.transitions",
		metric.WithDescription("Number of task status transitions"))
	if err != nil {
		return nil, err
	}

	m.TasksStuck, err = meter.Int64Counter("forgeflow.tasks.stuck",
		metric.WithDescription("Number of tasks flagged stuck by the health monitor"))
	if err != nil {
		return nil, err
	}

	m.TasksRecovered, err = meter.Int64Counter("forgeflow.tasks.recovered",
		metric.WithDescription("Number of stuck tasks recovered"))
	if err != nil {
		return nil, err
	}

	m.StageOps, err = meter.Int64Counter("forgeflow.staging.stage_ops",
		metric.WithDescription("Number of stage operations"))
	if err != nil {
		return nil, err
	}

	m.CommitOps, err = meter.Int64Counter("forgeflow.staging.commit_ops",
		metric.WithDescription("Number of commit operations"))
	if err != nil {
		return nil, err
	}

	m.FailoverSwaps, err = meter.Int64Counter("forgeflow.failover.swaps",
		metric.WithDescription("Number of credential profile swaps"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("forgeflow.staging.duration_seconds",
		metric.WithDescription("Stage operation duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.GitCmdDuration, err = meter.Float64Histogram("forgeflow.git.cmd_duration_seconds",
		metric.WithDescription("Git command duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
