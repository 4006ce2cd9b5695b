package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments xrayd records during trace ingestion.
// The zero value is unusable; construct with NewMetrics. With OTEL
// disabled the global provider is a no-op and recording is free.
type Metrics struct {
	executionsStarted   metric.Int64Counter
	executionsCompleted metric.Int64Counter
	stepsRecorded       metric.Int64Counter
}

// NewMetrics creates the xrayd instrument set on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := Meter("xrayd")

	started, err := meter.Int64Counter("xray.executions.started",
		metric.WithDescription("Executions opened"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("xray.executions.completed",
		metric.WithDescription("Executions completed"))
	if err != nil {
		return nil, err
	}
	steps, err := meter.Int64Counter("xray.steps.recorded",
		metric.WithDescription("Step records persisted"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		executionsStarted:   started,
		executionsCompleted: completed,
		stepsRecorded:       steps,
	}, nil
}

// ExecutionStarted records one opened execution.
func (m *Metrics) ExecutionStarted(ctx context.Context) {
	m.executionsStarted.Add(ctx, 1)
}

// ExecutionCompleted records one completed execution.
func (m *Metrics) ExecutionCompleted(ctx context.Context) {
	m.executionsCompleted.Add(ctx, 1)
}

// StepRecorded records one persisted step, tagged with its name.
func (m *Metrics) StepRecorded(ctx context.Context, stepName string) {
	m.stepsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("step.name", stepName)))
}
