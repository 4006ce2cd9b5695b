package xray

import "context"

// Store is the durable persistence contract the session depends on.
// Implementations must be safe for concurrent use by independent
// sessions: AddStep targets a single execution id and never mutates
// other executions' records.
type Store interface {
	// SaveExecution upserts an execution by id, overwriting name,
	// timestamps, tags, notes and steps wholesale. It is idempotent.
	SaveExecution(ctx context.Context, execution Execution) error

	// GetExecution returns a value copy of the execution, or ErrNotFound.
	// Mutating the returned value must never affect stored state.
	GetExecution(ctx context.Context, id string) (Execution, error)

	// ListExecutions returns executions in a stable order. limit <= 0
	// means no limit; offset <= 0 means no offset.
	ListExecutions(ctx context.Context, limit, offset int) ([]Execution, error)

	// AddStep appends a step to an existing execution. It returns
	// ErrNotFound if the execution id is unknown, and is idempotent by
	// step id: re-adding a step with an id already present updates it
	// in place rather than duplicating.
	AddStep(ctx context.Context, executionID string, step StepRecord) error
}

// Counter is an optional Store capability. Callers feature-detect it
// with a type assertion and fall back to ListExecutions when absent.
type Counter interface {
	CountExecutions(ctx context.Context) (int, error)
}

// Deleter is an optional Store capability for removing executions.
// The core never deletes; deletion is an external operation performed
// by the dashboard API.
type Deleter interface {
	DeleteExecution(ctx context.Context, id string) error
	DeleteExecutions(ctx context.Context, ids []string) error
}
