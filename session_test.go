package xray

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps MemoryStore with injectable failures.
type flakyStore struct {
	*MemoryStore
	saveErr error
	addErr  error

	saveCalls int
	addCalls  int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore()}
}

func (f *flakyStore) SaveExecution(ctx context.Context, exec Execution) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStore.SaveExecution(ctx, exec)
}

func (f *flakyStore) AddStep(ctx context.Context, executionID string, step StepRecord) error {
	f.addCalls++
	if f.addErr != nil {
		return f.addErr
	}
	return f.MemoryStore.AddStep(ctx, executionID, step)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := NewSession(context.Background(), "test-execution", opts...)
	require.NoError(t, err)
	return s
}

func TestNewSessionValidatesName(t *testing.T) {
	_, err := NewSession(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = NewSession(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestNewSessionDefaults(t *testing.T) {
	s := newTestSession(t)

	exec := s.Execution()
	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, "test-execution", exec.Name)
	assert.False(t, exec.StartedAt.IsZero())
	assert.Nil(t, exec.CompletedAt)
	assert.Empty(t, exec.Steps)
}

func TestNewSessionWithOptions(t *testing.T) {
	s := newTestSession(t,
		WithExecutionID("exec_custom"),
		WithTags("pricing", "demo"),
		WithNotes("nightly run"),
	)

	exec := s.Execution()
	assert.Equal(t, "exec_custom", exec.ID)
	assert.Equal(t, []string{"pricing", "demo"}, exec.Tags)
	assert.Equal(t, "nightly run", exec.Notes)
}

func TestStepAppendsInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newTestSession(t, WithStore(store))

	for _, name := range []string{"fetch", "filter", "select"} {
		err := s.Step(ctx, name, func(b *StepBuilder) error {
			b.Reasoning("because " + name)
			return nil
		})
		require.NoError(t, err)
	}

	exec := s.Execution()
	require.Len(t, exec.Steps, 3)
	assert.Equal(t, "fetch", exec.Steps[0].Name)
	assert.Equal(t, "filter", exec.Steps[1].Name)
	assert.Equal(t, "select", exec.Steps[2].Name)

	stored, err := store.GetExecution(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, stored.Steps, 3)
	for i := range stored.Steps {
		assert.Equal(t, exec.Steps[i].ID, stored.Steps[i].ID)
	}
}

func TestStepValidatesName(t *testing.T) {
	s := newTestSession(t)
	err := s.Step(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestLazyShellPersistence(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	s := newTestSession(t, WithStore(store))

	// No store traffic until the first step.
	assert.Zero(t, store.saveCalls)

	require.NoError(t, s.Step(ctx, "first", nil))
	assert.Equal(t, 1, store.saveCalls)

	stored, err := store.GetExecution(ctx, s.ID())
	require.NoError(t, err)
	assert.Nil(t, stored.CompletedAt)

	// Subsequent steps do not re-save the shell.
	require.NoError(t, s.Step(ctx, "second", nil))
	assert.Equal(t, 1, store.saveCalls)
}

func TestShellSaveFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.saveErr = errors.New("disk full")
	s := newTestSession(t, WithStore(store))

	// The step itself still succeeds; only the shell save failed.
	err := s.Step(ctx, "first", nil)
	require.NoError(t, err)
	assert.Len(t, s.Execution().Steps, 1)
}

func TestStepCallbackErrorAbortsStep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newTestSession(t, WithStore(store))

	boom := errors.New("boom")
	err := s.Step(ctx, "failing", func(b *StepBuilder) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.Execution().Steps)

	stored, err := store.GetExecution(ctx, s.ID())
	require.NoError(t, err)
	assert.Empty(t, stored.Steps)
}

func TestStepPersistFailureKeepsMemoryConsistent(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	s := newTestSession(t, WithStore(store))

	store.addErr = errors.New("connection reset")
	err := s.Step(ctx, "doomed", nil)
	require.Error(t, err)

	// The failed step must not appear in the in-memory view.
	assert.Empty(t, s.Execution().Steps)
}

func TestBeforeStepSkip(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, WithStepHooks(StepHooks{
		BeforeStep: func(ctx context.Context, name string) (bool, error) {
			return name != "skipped", nil
		},
	}))

	require.NoError(t, s.Step(ctx, "kept", nil))
	require.NoError(t, s.Step(ctx, "skipped", nil))

	exec := s.Execution()
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, "kept", exec.Steps[0].Name)
}

func TestBeforeStepHookErrorDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, WithStepHooks(StepHooks{
		BeforeStep: func(ctx context.Context, name string) (bool, error) {
			return false, errors.New("hook exploded")
		},
	}))

	// An erroring hook is ignored rather than treated as a skip.
	require.NoError(t, s.Step(ctx, "survives", nil))
	assert.Len(t, s.Execution().Steps, 1)
}

func TestAfterStepCreatedRewrites(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, WithStepHooks(StepHooks{
		AfterStepCreated: func(ctx context.Context, step StepRecord) (StepRecord, error) {
			step.Reasoning = "[redacted]"
			return step, nil
		},
	}))

	require.NoError(t, s.Step(ctx, "secret", func(b *StepBuilder) error {
		b.Reasoning("contains credentials")
		return nil
	}))

	exec := s.Execution()
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, "[redacted]", exec.Steps[0].Reasoning)
}

func TestAfterStepCreatedErrorKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, WithStepHooks(StepHooks{
		AfterStepCreated: func(ctx context.Context, step StepRecord) (StepRecord, error) {
			return StepRecord{}, errors.New("rewrite failed")
		},
	}))

	require.NoError(t, s.Step(ctx, "step", func(b *StepBuilder) error {
		b.Reasoning("original")
		return nil
	}))

	exec := s.Execution()
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, "original", exec.Steps[0].Reasoning)
}

func TestMiddlewareProcessAndPostProcess(t *testing.T) {
	ctx := context.Background()
	var order []string
	s := newTestSession(t,
		WithStepMiddleware(
			StepMiddleware{
				Process: func(ctx context.Context, name string, b *StepBuilder) (*StepBuilder, error) {
					order = append(order, "pre-1")
					b.Metadata(map[string]any{"env": "test"})
					return b, nil
				},
				PostProcess: func(ctx context.Context, name string, b *StepBuilder) (*StepBuilder, error) {
					order = append(order, "post-1")
					return b, nil
				},
			},
			StepMiddleware{
				Process: func(ctx context.Context, name string, b *StepBuilder) (*StepBuilder, error) {
					order = append(order, "pre-2")
					return b, nil
				},
			},
		))

	require.NoError(t, s.Step(ctx, "observed", func(b *StepBuilder) error {
		order = append(order, "callback")
		return nil
	}))

	assert.Equal(t, []string{"pre-1", "pre-2", "callback", "post-1"}, order)
	exec := s.Execution()
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, "test", exec.Steps[0].Metadata["env"])
}

func TestMiddlewareErrorAbortsStep(t *testing.T) {
	ctx := context.Background()
	var errored string
	s := newTestSession(t,
		WithStepMiddleware(StepMiddleware{
			Process: func(ctx context.Context, name string, b *StepBuilder) (*StepBuilder, error) {
				return nil, errors.New("policy violation")
			},
		}),
		WithStepHooks(StepHooks{
			OnStepError: func(ctx context.Context, name string, err error) {
				errored = name
			},
		}))

	err := s.Step(ctx, "blocked", nil)
	require.Error(t, err)
	assert.Equal(t, "blocked", errored)
	assert.Empty(t, s.Execution().Steps)
}

func TestAfterStepPersistedObserves(t *testing.T) {
	ctx := context.Background()
	var persisted []string
	s := newTestSession(t, WithStepHooks(StepHooks{
		AfterStepPersisted: func(ctx context.Context, step StepRecord) error {
			persisted = append(persisted, step.Name)
			return nil
		},
	}))

	require.NoError(t, s.Step(ctx, "a", nil))
	require.NoError(t, s.Step(ctx, "b", nil))
	assert.Equal(t, []string{"a", "b"}, persisted)
}

func TestBatchStepsAllOrNothingBuild(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newTestSession(t, WithStore(store))

	boom := errors.New("boom")
	err := s.BatchSteps(ctx, []BatchStep{
		{Name: "one", Func: func(b *StepBuilder) error { return nil }},
		{Name: "two", Func: func(b *StepBuilder) error { return boom }},
		{Name: "three", Func: func(b *StepBuilder) error { return nil }},
	})
	require.ErrorIs(t, err, boom)

	// Build failure aborts the whole batch before any persistence.
	assert.Empty(t, s.Execution().Steps)
	stored, err := store.GetExecution(ctx, s.ID())
	require.NoError(t, err)
	assert.Empty(t, stored.Steps)
}

func TestBatchStepsPersistFailureIsPartial(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	calls := 0
	failing := &callbackStore{
		Store: inner,
		addStep: func(ctx context.Context, executionID string, step StepRecord) error {
			calls++
			if calls == 2 {
				return errors.New("write timeout")
			}
			return inner.AddStep(ctx, executionID, step)
		},
	}
	s := newTestSession(t, WithStore(failing))

	err := s.BatchSteps(ctx, []BatchStep{
		{Name: "one"},
		{Name: "two"},
		{Name: "three"},
	})
	require.Error(t, err)

	// The first step was persisted and stays; the rest were not.
	exec := s.Execution()
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, "one", exec.Steps[0].Name)
}

// callbackStore delegates to an inner Store with an AddStep override.
type callbackStore struct {
	Store
	addStep func(ctx context.Context, executionID string, step StepRecord) error
}

func (c *callbackStore) AddStep(ctx context.Context, executionID string, step StepRecord) error {
	return c.addStep(ctx, executionID, step)
}

func TestBatchStepsRespectsSkips(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, WithStepHooks(StepHooks{
		BeforeStep: func(ctx context.Context, name string) (bool, error) {
			return name != "drop-me", nil
		},
	}))

	err := s.BatchSteps(ctx, []BatchStep{
		{Name: "keep-1"},
		{Name: "drop-me"},
		{Name: "keep-2"},
	})
	require.NoError(t, err)

	exec := s.Execution()
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, "keep-1", exec.Steps[0].Name)
	assert.Equal(t, "keep-2", exec.Steps[1].Name)
}

func TestCompleteIsTerminalAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newTestSession(t, WithStore(store))

	require.NoError(t, s.Step(ctx, "only", nil))
	require.NoError(t, s.Complete(ctx))
	require.NoError(t, s.Complete(ctx))

	exec := s.Execution()
	require.NotNil(t, exec.CompletedAt)
	assert.True(t, exec.Completed())

	err := s.Step(ctx, "late", nil)
	assert.ErrorIs(t, err, ErrCompleted)

	err = s.BatchSteps(ctx, []BatchStep{{Name: "late"}})
	assert.ErrorIs(t, err, ErrCompleted)

	stored, err := store.GetExecution(ctx, s.ID())
	require.NoError(t, err)
	assert.NotNil(t, stored.CompletedAt)
}

func TestCompleteFlipsStateEvenWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	s := newTestSession(t, WithStore(store))

	require.NoError(t, s.Step(ctx, "work", nil))

	store.saveErr = errors.New("unreachable")
	err := s.Complete(ctx)
	require.Error(t, err)

	// The session is completed locally despite the failed save.
	assert.True(t, s.Execution().Completed())
	assert.ErrorIs(t, s.Step(ctx, "late", nil), ErrCompleted)

	// A second Complete is a no-op and does not retry the save.
	saves := store.saveCalls
	require.NoError(t, s.Complete(ctx))
	assert.Equal(t, saves, store.saveCalls)
}

func TestExecutionHooksFire(t *testing.T) {
	ctx := context.Background()
	var events []string
	store := newFlakyStore()

	s, err := NewSession(ctx, "hooked",
		WithLogger(quietLogger()),
		WithStore(store),
		WithExecutionHooks(ExecutionHooks{
			OnExecutionStart: func(ctx context.Context, exec Execution) error {
				events = append(events, "start:"+exec.Name)
				return nil
			},
			OnExecutionComplete: func(ctx context.Context, exec Execution) error {
				events = append(events, "complete")
				return nil
			},
			OnExecutionError: func(ctx context.Context, exec Execution, err error) error {
				events = append(events, "error")
				return nil
			},
		}))
	require.NoError(t, err)

	require.NoError(t, s.Step(ctx, "work", nil))
	require.NoError(t, s.Complete(ctx))
	assert.Equal(t, []string{"start:hooked", "complete"}, events)
}

func TestExecutionErrorHookFiresOnFailedSave(t *testing.T) {
	ctx := context.Background()
	var sawErr error
	store := newFlakyStore()

	s, err := NewSession(ctx, "hooked",
		WithLogger(quietLogger()),
		WithStore(store),
		WithExecutionHooks(ExecutionHooks{
			OnExecutionError: func(ctx context.Context, exec Execution, err error) error {
				sawErr = err
				return nil
			},
		}))
	require.NoError(t, err)

	require.NoError(t, s.Step(ctx, "work", nil))
	store.saveErr = errors.New("unreachable")
	require.Error(t, s.Complete(ctx))
	require.Error(t, sawErr)
}

func TestExecutionSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	require.NoError(t, s.Step(ctx, "step", func(b *StepBuilder) error {
		b.Metadata(map[string]any{"key": "value"})
		return nil
	}))

	snap := s.Execution()
	snap.Name = "mutated"
	snap.Steps[0] = StepRecord{Name: "swapped"}
	snap.Steps = append(snap.Steps, StepRecord{Name: "injected"})

	fresh := s.Execution()
	assert.Equal(t, "test-execution", fresh.Name)
	require.Len(t, fresh.Steps, 1)
	assert.Equal(t, "step", fresh.Steps[0].Name)
	assert.Equal(t, "value", fresh.Steps[0].Metadata["key"])
}
