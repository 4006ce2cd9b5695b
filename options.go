package xray

import "log/slog"

type sessionOptions struct {
	store       Store
	logger      *slog.Logger
	executionID string
	tags        []string
	notes       string
	execHooks   []ExecutionHooks
	stepHooks   []StepHooks
	middleware  []StepMiddleware
}

// Option configures a Session at construction time.
type Option func(*sessionOptions)

// WithStore sets the persistence backend. Defaults to an in-process
// MemoryStore when omitted.
func WithStore(store Store) Option {
	return func(o *sessionOptions) {
		o.store = store
	}
}

// WithLogger sets the structured logger used for swallowed hook and
// persistence failures. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// WithExecutionID overrides the generated execution id. Useful for
// correlating with an external request or trace id.
func WithExecutionID(id string) Option {
	return func(o *sessionOptions) {
		o.executionID = id
	}
}

// WithTags attaches free-form tags to the execution.
func WithTags(tags ...string) Option {
	return func(o *sessionOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithNotes attaches a free-form note to the execution.
func WithNotes(notes string) Option {
	return func(o *sessionOptions) {
		o.notes = notes
	}
}

// WithExecutionHooks registers lifecycle hooks. Multiple registrations
// accumulate and run in registration order.
func WithExecutionHooks(hooks ...ExecutionHooks) Option {
	return func(o *sessionOptions) {
		o.execHooks = append(o.execHooks, hooks...)
	}
}

// WithStepHooks registers per-step hooks. Multiple registrations
// accumulate and run in registration order.
func WithStepHooks(hooks ...StepHooks) Option {
	return func(o *sessionOptions) {
		o.stepHooks = append(o.stepHooks, hooks...)
	}
}

// WithStepMiddleware registers step middleware. Process stages run in
// registration order before the step callback, PostProcess stages after.
func WithStepMiddleware(mw ...StepMiddleware) Option {
	return func(o *sessionOptions) {
		o.middleware = append(o.middleware, mw...)
	}
}
