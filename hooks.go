package xray

import "context"

// ExecutionHooks observes execution lifecycle events. Each slot is
// optional; a nil slot is simply not invoked. All invocations are
// best-effort: an error returned from a hook is logged by the session
// and never propagated to the caller.
type ExecutionHooks struct {
	// OnExecutionStart runs when the session is constructed.
	OnExecutionStart func(ctx context.Context, execution Execution) error

	// OnExecutionComplete runs after Complete persists the execution.
	OnExecutionComplete func(ctx context.Context, execution Execution) error

	// OnExecutionError runs when the final persistence save fails.
	OnExecutionError func(ctx context.Context, execution Execution, err error) error
}

// StepHooks observes step lifecycle events. Each slot is optional.
//
// BeforeStep is the one slot with a defined control-flow contract:
// returning false skips the step entirely (no builder, no callback,
// no persistence) and the Step call returns nil. An error from
// BeforeStep is treated like any other hook error: logged, and the
// step proceeds.
type StepHooks struct {
	BeforeStep func(ctx context.Context, name string) (bool, error)

	// AfterStepCreated runs on the built record before persistence and
	// may return a rewritten record (redaction, enrichment).
	AfterStepCreated func(ctx context.Context, step StepRecord) (StepRecord, error)

	// AfterStepPersisted is a best-effort notification after the store
	// append succeeded.
	AfterStepPersisted func(ctx context.Context, step StepRecord) error

	// OnStepError runs when building or persisting a step fails; the
	// original error is re-raised to the caller afterwards.
	OnStepError func(ctx context.Context, name string, err error)
}

// StepMiddleware transforms step builders around the caller's callback.
// Both slots are optional; each receives the current builder and returns
// the builder to use next, which may be a replacement. Middleware runs
// in registration order, the output of each stage feeding the next.
// Unlike hooks, a middleware error is fatal to the step.
type StepMiddleware struct {
	// Process runs before the caller's callback sees the builder.
	Process func(ctx context.Context, name string, b *StepBuilder) (*StepBuilder, error)

	// PostProcess runs after the callback returns, before Build.
	PostProcess func(ctx context.Context, name string, b *StepBuilder) (*StepBuilder, error)
}
