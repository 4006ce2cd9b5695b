package model

import (
	"fmt"
	"time"
)

// ExecutionStatus filters list queries by lifecycle state.
type ExecutionStatus string

const (
	StatusAny       ExecutionStatus = ""
	StatusOpen      ExecutionStatus = "open"
	StatusCompleted ExecutionStatus = "completed"
)

// ExecutionQuery defines the filter parameters for GET /api/executions.
type ExecutionQuery struct {
	Name     string          // substring match on execution name
	Tag      string          // exact match on one tag
	Status   ExecutionStatus
	From     *time.Time // StartedAt lower bound, inclusive
	To       *time.Time // StartedAt upper bound, exclusive
	MinSteps int        // minimum step count, 0 = unbounded
	MaxSteps int        // maximum step count, 0 = unbounded
	Limit    int
	Offset   int
}

// Normalize clamps pagination to sane bounds. maxPageSize caps the limit.
func (q *ExecutionQuery) Normalize(maxPageSize int) {
	if q.Limit <= 0 || q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// Validate checks filter coherence.
func (q ExecutionQuery) Validate() error {
	switch q.Status {
	case StatusAny, StatusOpen, StatusCompleted:
	default:
		return fmt.Errorf("status must be open or completed (got %q)", q.Status)
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return fmt.Errorf("time range end precedes start")
	}
	if q.MinSteps < 0 || q.MaxSteps < 0 {
		return fmt.Errorf("step count bounds must not be negative")
	}
	if q.MinSteps > 0 && q.MaxSteps > 0 && q.MaxSteps < q.MinSteps {
		return fmt.Errorf("step count range end precedes start")
	}
	return nil
}

// ExecutionSummary is the list-view projection of an execution. Step
// payloads are omitted; only counts and timing survive.
type ExecutionSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	StepCount   int        `json:"step_count"`
	Tags        []string   `json:"tags,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}
