package xray

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Evaluator scores one candidate item against the step's named filters.
// It returns a mapping of filter name to result; the builder derives the
// aggregate qualified verdict from it.
type Evaluator func(item any, index int) map[string]FilterResult

// metricKeys is the fixed set of candidate attributes that Evaluate
// auto-extracts into CandidateEvaluation.Metrics when present and numeric.
var metricKeys = []string{"price", "rating", "reviews", "score", "count", "value"}

// StepBuilder accumulates one step's fields and produces an immutable
// StepRecord snapshot via Build. Setters chain and perform no I/O.
// A builder is owned by the Step call that created it and is not safe
// for concurrent use.
type StepBuilder struct {
	step StepRecord
}

// NewStepBuilder creates a builder for a named step, assigning its id
// and creation timestamp immediately. The name must be non-empty.
func NewStepBuilder(name string) (*StepBuilder, error) {
	if err := validateName("step name", name); err != nil {
		return nil, err
	}
	return &StepBuilder{
		step: StepRecord{
			ID:        newID("step"),
			Name:      name,
			CreatedAt: time.Now().UTC(),
		},
	}, nil
}

// Input records the step's input payload, overwriting any previous value.
func (b *StepBuilder) Input(data any) *StepBuilder {
	b.step.Input = data
	return b
}

// Output records the step's output payload, overwriting any previous value.
func (b *StepBuilder) Output(data any) *StepBuilder {
	b.step.Output = data
	return b
}

// Filters describes the rules the step applied, overwriting any previous value.
func (b *StepBuilder) Filters(data map[string]any) *StepBuilder {
	b.step.Filters = data
	return b
}

// Reasoning adds a free-form explanation, overwriting any previous value.
func (b *StepBuilder) Reasoning(text string) *StepBuilder {
	b.step.Reasoning = text
	return b
}

// Select records the final selection from the evaluated candidates.
func (b *StepBuilder) Select(id, reason string) *StepBuilder {
	b.step.Selection = &Selection{ID: id, Reason: reason}
	return b
}

// Metadata shallow-merges data into the step's metadata. Repeated calls
// accumulate; later keys overwrite earlier ones.
func (b *StepBuilder) Metadata(data map[string]any) *StepBuilder {
	if b.step.Metadata == nil {
		b.step.Metadata = make(map[string]any, len(data))
	}
	for k, v := range data {
		b.step.Metadata[k] = v
	}
	return b
}

// Evaluate scores each item with fn and records the resulting candidate
// evaluations in item order. A candidate is qualified iff every filter
// result passed; with zero filters it is vacuously qualified.
func (b *StepBuilder) Evaluate(items []any, fn Evaluator) *StepBuilder {
	evaluations := make([]CandidateEvaluation, 0, len(items))
	for i, item := range items {
		results := fn(item, i)
		qualified := true
		for _, r := range results {
			if !r.Passed {
				qualified = false
				break
			}
		}
		evaluations = append(evaluations, CandidateEvaluation{
			ID:        newID("cand"),
			Label:     candidateLabel(item),
			Metrics:   candidateMetrics(item),
			Results:   results,
			Qualified: qualified,
		})
	}
	b.step.Evaluations = evaluations
	return b
}

// Build returns the immutable snapshot of the step. Later builder calls
// are not observable in a record that was already built.
func (b *StepBuilder) Build() (StepRecord, error) {
	if b.step.Name == "" {
		// Unreachable via NewStepBuilder; kept for zero-value misuse.
		return StepRecord{}, &ValidationError{Field: "step name", Message: "must be set before build"}
	}

	out := b.step
	if b.step.Metadata != nil {
		out.Metadata = make(map[string]any, len(b.step.Metadata))
		for k, v := range b.step.Metadata {
			out.Metadata[k] = v
		}
	}
	if b.step.Evaluations != nil {
		out.Evaluations = make([]CandidateEvaluation, len(b.step.Evaluations))
		copy(out.Evaluations, b.step.Evaluations)
	}
	return out, nil
}

// candidateLabel derives a display label for a candidate with the
// precedence: string item → itself; object → first of title, name, id,
// label; otherwise a JSON dump or the item's default string form.
func candidateLabel(item any) string {
	if s, ok := item.(string); ok {
		return s
	}
	if m := candidateFields(item); m != nil {
		for _, key := range []string{"title", "name", "id", "label"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s
			}
		}
		if data, err := json.Marshal(item); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(item)
}

// candidateMetrics extracts the fixed metric-key attributes from a
// candidate. Returns nil (absent, not empty) when no recognized numeric
// attribute is present.
func candidateMetrics(item any) map[string]float64 {
	m := candidateFields(item)
	if m == nil {
		return nil
	}
	var metrics map[string]float64
	for _, key := range metricKeys {
		v, ok := m[key]
		if !ok {
			continue
		}
		n, ok := asNumber(v)
		if !ok {
			continue
		}
		if metrics == nil {
			metrics = make(map[string]float64)
		}
		metrics[key] = n
	}
	return metrics
}

// candidateFields normalizes an object-like candidate to a field map.
// Maps are used directly; structs go through a JSON round trip so the
// evaluator sees the same shape the dashboard will.
func candidateFields(item any) map[string]any {
	if m, ok := item.(map[string]any); ok {
		return m
	}
	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
