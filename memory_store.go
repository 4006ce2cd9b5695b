package xray

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a volatile, goroutine-safe Store backed by a map.
// It is the default store for sessions constructed without WithStore
// and is intended for tests and development; records do not survive
// the process.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]Execution
	order      []string // insertion order for stable listing
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]Execution),
	}
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Counter = (*MemoryStore)(nil)
	_ Deleter = (*MemoryStore)(nil)
)

func (s *MemoryStore) SaveExecution(_ context.Context, execution Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[execution.ID]; !ok {
		s.order = append(s.order, execution.ID)
	}
	s.executions[execution.ID] = execution.clone()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[id]
	if !ok {
		return Execution{}, fmt.Errorf("get execution %s: %w", id, ErrNotFound)
	}
	return e.clone(), nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, limit, offset int) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order
	if offset > 0 {
		if offset >= len(ids) {
			return nil, nil
		}
		ids = ids[offset:]
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]Execution, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.executions[id].clone())
	}
	return out, nil
}

func (s *MemoryStore) AddStep(_ context.Context, executionID string, step StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("add step to execution %s: %w", executionID, ErrNotFound)
	}

	// Idempotent by step id: replace in place instead of duplicating.
	for i, existing := range e.Steps {
		if existing.ID == step.ID {
			e.Steps[i] = step
			s.executions[executionID] = e
			return nil
		}
	}

	e.Steps = append(e.Steps, step)
	s.executions[executionID] = e
	return nil
}

func (s *MemoryStore) CountExecutions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions), nil
}

func (s *MemoryStore) DeleteExecution(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) DeleteExecutions(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.deleteLocked(id)
	}
	return nil
}

func (s *MemoryStore) deleteLocked(id string) {
	if _, ok := s.executions[id]; !ok {
		return
	}
	delete(s.executions, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
