package xray

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StepFunc receives the step builder for one Step call. The builder is
// only valid for the duration of the call.
type StepFunc func(b *StepBuilder) error

// BatchStep is one entry in a BatchSteps call.
type BatchStep struct {
	Name string
	Func StepFunc
}

// Session coordinates step creation and completion for one Execution.
// It is the sole writer to the in-memory execution record and the sole
// caller into the Store.
//
// A session moves from open to completed exactly once; after Complete,
// every Step call fails with ErrCompleted. Calls on one session are
// serialized internally, so concurrent Step calls are safe and append
// in arrival order. The documented usage pattern remains one caller
// awaiting each call before issuing the next.
type Session struct {
	mu        sync.Mutex
	execution Execution
	completed bool

	store      Store
	logger     *slog.Logger
	execHooks  []ExecutionHooks
	stepHooks  []StepHooks
	middleware []StepMiddleware
}

// NewSession creates a session for a named execution and fires the
// execution-start hooks. The execution is not persisted until the first
// Step call. The name must be non-empty.
func NewSession(ctx context.Context, name string, opts ...Option) (*Session, error) {
	if err := validateName("execution name", name); err != nil {
		return nil, err
	}

	o := sessionOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	store := o.store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	id := o.executionID
	if id == "" {
		id = newID("exec")
	}

	s := &Session{
		execution: Execution{
			ID:        id,
			Name:      name,
			StartedAt: time.Now().UTC(),
			Steps:     []StepRecord{},
			Tags:      o.tags,
			Notes:     o.notes,
		},
		store:      store,
		logger:     logger,
		execHooks:  o.execHooks,
		stepHooks:  o.stepHooks,
		middleware: o.middleware,
	}

	// Best-effort: hook failures never abort construction.
	for _, h := range s.execHooks {
		if h.OnExecutionStart == nil {
			continue
		}
		if err := h.OnExecutionStart(ctx, s.execution.clone()); err != nil {
			logger.Error("xray: execution start hook failed", "execution_id", id, "error", err)
		}
	}

	return s, nil
}

// ID returns the execution id.
func (s *Session) ID() string {
	return s.execution.ID
}

// Execution returns a read-only snapshot copy of the current execution.
func (s *Session) Execution() Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execution.clone()
}

// Step records one step: it builds a StepRecord through the middleware
// chain and the caller's callback, persists it, and appends it to the
// in-memory execution. The record is durably stored before it becomes
// visible in the in-memory view.
func (s *Session) Step(ctx context.Context, name string, fn StepFunc) error {
	if err := validateName("step name", name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed {
		return ErrCompleted
	}

	s.ensurePersisted(ctx)

	proceed := s.runBeforeStep(ctx, name)
	if !proceed {
		return nil // Skipped by hook; deliberate no-op.
	}

	step, err := s.buildStep(ctx, name, fn)
	if err != nil {
		s.fireStepError(ctx, name, err)
		return err
	}

	if err := s.persistStep(ctx, step); err != nil {
		s.fireStepError(ctx, name, err)
		return err
	}
	return nil
}

// BatchSteps records multiple steps in two phases: all records are
// built first (hooks and middleware run per entry, BeforeStep skips
// apply per entry), then persisted in order. A build failure aborts the
// whole batch with nothing persisted. A persistence failure aborts the
// remaining appends but does not roll back steps already persisted;
// the persistence phase is not atomic.
func (s *Session) BatchSteps(ctx context.Context, defs []BatchStep) error {
	for _, def := range defs {
		if err := validateName("step name", def.Name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed {
		return ErrCompleted
	}

	s.ensurePersisted(ctx)

	// Build phase.
	built := make([]StepRecord, 0, len(defs))
	for _, def := range defs {
		if !s.runBeforeStep(ctx, def.Name) {
			continue
		}
		step, err := s.buildStep(ctx, def.Name, def.Func)
		if err != nil {
			s.fireStepError(ctx, def.Name, err)
			return err
		}
		built = append(built, step)
	}

	// Persistence phase.
	for _, step := range built {
		if err := s.persistStep(ctx, step); err != nil {
			s.fireStepError(ctx, step.Name, err)
			return err
		}
	}
	return nil
}

// Complete transitions the execution to its terminal state, persists
// the full record, and fires the completion hooks. It is an idempotent
// no-op once completed.
//
// The state flips to completed even when the persistence save fails:
// the completion intent is recorded locally and the error is returned
// so the caller can retry the save out of band. This divergence between
// in-memory state and durable state is deliberate and matches the
// recorded-trace semantics (a failed save must not reopen the execution
// for more steps).
func (s *Session) Complete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed {
		return nil
	}

	now := time.Now().UTC()
	s.completed = true
	s.execution.CompletedAt = &now

	if err := s.store.SaveExecution(ctx, s.execution.clone()); err != nil {
		saveErr := fmt.Errorf("xray: save execution %s: %w", s.execution.ID, err)
		for _, h := range s.execHooks {
			if h.OnExecutionError == nil {
				continue
			}
			if hookErr := h.OnExecutionError(ctx, s.execution.clone(), saveErr); hookErr != nil {
				s.logger.Error("xray: execution error hook failed", "execution_id", s.execution.ID, "error", hookErr)
			}
		}
		s.logger.Error("xray: failed to save completed execution", "execution_id", s.execution.ID, "error", err)
		return saveErr
	}

	for _, h := range s.execHooks {
		if h.OnExecutionComplete == nil {
			continue
		}
		if err := h.OnExecutionComplete(ctx, s.execution.clone()); err != nil {
			s.logger.Error("xray: execution complete hook failed", "execution_id", s.execution.ID, "error", err)
		}
	}
	return nil
}

// ensurePersisted lazily writes the execution shell to the store before
// the first step. A failure here is logged and swallowed: capturing the
// step locally wins over strict durability of the shell, and later
// persistence paths will retry the save.
func (s *Session) ensurePersisted(ctx context.Context) {
	if len(s.execution.Steps) != 0 {
		return
	}
	shell := s.execution.clone()
	shell.CompletedAt = nil
	if err := s.store.SaveExecution(ctx, shell); err != nil {
		s.logger.Error("xray: failed to save execution shell", "execution_id", s.execution.ID, "error", err)
	}
}

// runBeforeStep runs the BeforeStep hooks in registration order and
// reports whether the step should proceed. Hook errors are logged and
// do not block the step; only an explicit false return skips it.
func (s *Session) runBeforeStep(ctx context.Context, name string) bool {
	for _, h := range s.stepHooks {
		if h.BeforeStep == nil {
			continue
		}
		proceed, err := h.BeforeStep(ctx, name)
		if err != nil {
			s.logger.Error("xray: before step hook failed", "step", name, "error", err)
			continue
		}
		if !proceed {
			return false
		}
	}
	return true
}

// buildStep runs the middleware chain and the caller's callback, then
// builds the immutable record and applies the AfterStepCreated rewrites.
func (s *Session) buildStep(ctx context.Context, name string, fn StepFunc) (StepRecord, error) {
	b, err := NewStepBuilder(name)
	if err != nil {
		return StepRecord{}, err
	}

	for _, mw := range s.middleware {
		if mw.Process == nil {
			continue
		}
		if b, err = mw.Process(ctx, name, b); err != nil {
			return StepRecord{}, fmt.Errorf("xray: step %q middleware: %w", name, err)
		}
	}

	if fn != nil {
		if err := fn(b); err != nil {
			return StepRecord{}, err
		}
	}

	for _, mw := range s.middleware {
		if mw.PostProcess == nil {
			continue
		}
		if b, err = mw.PostProcess(ctx, name, b); err != nil {
			return StepRecord{}, fmt.Errorf("xray: step %q middleware: %w", name, err)
		}
	}

	step, err := b.Build()
	if err != nil {
		return StepRecord{}, err
	}

	// Hooks may rewrite the record (redaction etc). A hook error keeps
	// the record from the previous stage rather than aborting the step.
	for _, h := range s.stepHooks {
		if h.AfterStepCreated == nil {
			continue
		}
		rewritten, err := h.AfterStepCreated(ctx, step)
		if err != nil {
			s.logger.Error("xray: after step created hook failed", "step", name, "error", err)
			continue
		}
		step = rewritten
	}
	return step, nil
}

// persistStep appends the record to the store and, only on success, to
// the in-memory execution, so a persistence failure never leaves the
// in-memory view ahead of durable state.
func (s *Session) persistStep(ctx context.Context, step StepRecord) error {
	if err := s.store.AddStep(ctx, s.execution.ID, step); err != nil {
		s.logger.Error("xray: failed to persist step", "step", step.Name, "execution_id", s.execution.ID, "error", err)
		return fmt.Errorf("xray: persist step %q: %w", step.Name, err)
	}
	s.execution.Steps = append(s.execution.Steps, step)

	for _, h := range s.stepHooks {
		if h.AfterStepPersisted == nil {
			continue
		}
		if err := h.AfterStepPersisted(ctx, step); err != nil {
			s.logger.Error("xray: after step persisted hook failed", "step", step.Name, "error", err)
		}
	}
	return nil
}

func (s *Session) fireStepError(ctx context.Context, name string, err error) {
	for _, h := range s.stepHooks {
		if h.OnStepError != nil {
			h.OnStepError(ctx, name, err)
		}
	}
}

// newID generates a process-unique id of the form
// "<prefix>_<unix-ms>_<random>". The random suffix is UUID-derived so
// ids stay unique even when a shared store backend is written to by
// multiple processes.
func newID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}
