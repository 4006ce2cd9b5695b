package server

import (
	"context"
	"time"

	"github.com/ashita-ai/xray"
	"github.com/ashita-ai/xray/internal/telemetry"
)

// executionEvent is the SSE payload for execution lifecycle events.
type executionEvent struct {
	ExecutionID string     `json:"execution_id"`
	Name        string     `json:"name"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	StepCount   int        `json:"step_count"`
}

// stepEvent is the SSE payload for recorded steps.
type stepEvent struct {
	StepID   string `json:"step_id"`
	StepName string `json:"step_name"`
}

// BroadcastHooks wires session lifecycle events into the SSE broker and
// the OTEL counters. Either dependency may be nil; the corresponding
// side is skipped.
func BroadcastHooks(broker *Broker, metrics *telemetry.Metrics) (xray.ExecutionHooks, xray.StepHooks) {
	execHooks := xray.ExecutionHooks{
		OnExecutionStart: func(ctx context.Context, execution xray.Execution) error {
			if metrics != nil {
				metrics.ExecutionStarted(ctx)
			}
			if broker != nil {
				broker.Publish(EventExecutionStarted, executionEvent{
					ExecutionID: execution.ID,
					Name:        execution.Name,
					StartedAt:   execution.StartedAt,
					StepCount:   len(execution.Steps),
				})
			}
			return nil
		},
		OnExecutionComplete: func(ctx context.Context, execution xray.Execution) error {
			if metrics != nil {
				metrics.ExecutionCompleted(ctx)
			}
			if broker != nil {
				broker.Publish(EventExecutionCompleted, executionEvent{
					ExecutionID: execution.ID,
					Name:        execution.Name,
					StartedAt:   execution.StartedAt,
					CompletedAt: execution.CompletedAt,
					StepCount:   len(execution.Steps),
				})
			}
			return nil
		},
	}

	stepHooks := xray.StepHooks{
		AfterStepPersisted: func(ctx context.Context, step xray.StepRecord) error {
			if metrics != nil {
				metrics.StepRecorded(ctx, step.Name)
			}
			if broker != nil {
				broker.Publish(EventStepRecorded, stepEvent{
					StepID:   step.ID,
					StepName: step.Name,
				})
			}
			return nil
		},
	}

	return execHooks, stepHooks
}
