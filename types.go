package xray

import (
	"time"
)

// Execution is one complete recorded run of a traced pipeline.
// Steps are ordered by append order; CompletedAt is nil while the
// execution is still open.
type Execution struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Steps       []StepRecord `json:"steps"`
	Tags        []string     `json:"tags,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// Completed reports whether the execution has reached its terminal state.
func (e Execution) Completed() bool {
	return e.CompletedAt != nil
}

// Duration returns the wall-clock duration of a completed execution,
// or zero if the execution is still open.
func (e Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// clone returns a value copy of the execution with its own steps slice.
// Step records are immutable once built, so a shallow copy of each
// element is sufficient.
func (e Execution) clone() Execution {
	out := e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	out.Steps = make([]StepRecord, len(e.Steps))
	copy(out.Steps, e.Steps)
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	return out
}

// StepRecord is one recorded decision point within an execution.
// It is an immutable snapshot produced by StepBuilder.Build; optional
// fields that were never captured are absent (nil), which storage
// layers must preserve as distinct from "captured as empty".
type StepRecord struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	CreatedAt   time.Time             `json:"created_at"`
	Input       any                   `json:"input,omitempty"`
	Output      any                   `json:"output,omitempty"`
	Filters     map[string]any        `json:"filters,omitempty"`
	Evaluations []CandidateEvaluation `json:"evaluations,omitempty"`
	Selection   *Selection            `json:"selection,omitempty"`
	Reasoning   string                `json:"reasoning,omitempty"`
	Metadata    map[string]any        `json:"metadata,omitempty"`
}

// Selection records the final pick made in a step.
type Selection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// FilterResult is the outcome of applying one named filter to a candidate.
type FilterResult struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// CandidateEvaluation records how one candidate item fared against a
// step's named filters. Qualified is true iff every filter passed
// (vacuously true with zero filters).
type CandidateEvaluation struct {
	ID        string                  `json:"id"`
	Label     string                  `json:"label"`
	Metrics   map[string]float64      `json:"metrics,omitempty"`
	Results   map[string]FilterResult `json:"results"`
	Qualified bool                    `json:"qualified"`
}
