// Package executions implements the dashboard-facing read and admin
// operations over recorded executions: listing with filters, metadata
// updates, aggregate statistics, comparison, deletion, and export.
package executions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/ashita-ai/xray"
	"github.com/ashita-ai/xray/internal/model"
)

// ErrDeleteUnsupported is returned when the configured store does not
// implement the optional deletion capability.
var ErrDeleteUnsupported = errors.New("executions: store does not support deletion")

// Service answers dashboard queries against the configured store.
// Filtering and aggregation happen service-side on top of the minimal
// Store contract, so every backend gets the same query surface.
type Service struct {
	store       xray.Store
	logger      *slog.Logger
	maxPageSize int
}

// New creates the executions service.
func New(store xray.Store, logger *slog.Logger, maxPageSize int) *Service {
	return &Service{store: store, logger: logger, maxPageSize: maxPageSize}
}

// Get returns one execution with all step payloads.
func (s *Service) Get(ctx context.Context, id string) (xray.Execution, error) {
	return s.store.GetExecution(ctx, id)
}

// Steps returns the step records of one execution in append order.
func (s *Service) Steps(ctx context.Context, id string) ([]xray.StepRecord, error) {
	execution, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return execution.Steps, nil
}

// List returns execution summaries matching the query, newest first,
// along with the total match count.
func (s *Service) List(ctx context.Context, q model.ExecutionQuery) ([]model.ExecutionSummary, int, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, fmt.Errorf("executions: %w", err)
	}
	q.Normalize(s.maxPageSize)

	matched, err := s.matching(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	total := len(matched)
	if q.Offset >= total {
		return []model.ExecutionSummary{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}

	out := make([]model.ExecutionSummary, 0, end-q.Offset)
	for _, execution := range matched[q.Offset:end] {
		out = append(out, summarize(execution))
	}
	return out, total, nil
}

// UpdateMetadata applies a partial tags/notes update and returns the
// updated execution.
func (s *Service) UpdateMetadata(ctx context.Context, id string, req model.UpdateMetadataRequest) (xray.Execution, error) {
	if err := req.Validate(); err != nil {
		return xray.Execution{}, fmt.Errorf("executions: %w", err)
	}

	execution, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return xray.Execution{}, err
	}

	if req.Tags != nil {
		execution.Tags = dedupeTags(*req.Tags)
	}
	if req.Notes != nil {
		execution.Notes = *req.Notes
	}

	if err := s.store.SaveExecution(ctx, execution); err != nil {
		return xray.Execution{}, fmt.Errorf("executions: save metadata update: %w", err)
	}
	return execution, nil
}

// Delete removes the given executions. Unknown ids are ignored.
func (s *Service) Delete(ctx context.Context, ids []string) error {
	deleter, ok := s.store.(xray.Deleter)
	if !ok {
		return ErrDeleteUnsupported
	}
	if err := deleter.DeleteExecutions(ctx, ids); err != nil {
		return fmt.Errorf("executions: delete: %w", err)
	}
	s.logger.Info("executions deleted", "count", len(ids))
	return nil
}

// Statistics aggregates every stored execution.
func (s *Service) Statistics(ctx context.Context) (model.Statistics, error) {
	all, err := s.store.ListExecutions(ctx, 0, 0)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("executions: statistics: %w", err)
	}

	stats := model.Statistics{
		TotalExecutions: len(all),
		StepNameCounts:  map[string]int{},
	}

	var durationSum float64
	for _, execution := range all {
		stats.TotalSteps += len(execution.Steps)
		for _, step := range execution.Steps {
			stats.StepNameCounts[step.Name]++
		}
		if execution.Completed() {
			stats.CompletedExecutions++
			durationSum += float64(execution.Duration().Milliseconds())
		} else {
			stats.OpenExecutions++
		}
	}
	if stats.TotalExecutions > 0 {
		stats.AvgStepsPerRun = float64(stats.TotalSteps) / float64(stats.TotalExecutions)
	}
	if stats.CompletedExecutions > 0 {
		stats.AvgDurationMS = durationSum / float64(stats.CompletedExecutions)
	}
	return stats, nil
}

// Compare diffs the step-name sets of two executions.
func (s *Service) Compare(ctx context.Context, aID, bID string) (model.ExecutionDiff, error) {
	a, err := s.store.GetExecution(ctx, aID)
	if err != nil {
		return model.ExecutionDiff{}, err
	}
	b, err := s.store.GetExecution(ctx, bID)
	if err != nil {
		return model.ExecutionDiff{}, err
	}

	aNames := stepNameSet(a)
	bNames := stepNameSet(b)

	diff := model.ExecutionDiff{
		A:           summarize(a),
		B:           summarize(b),
		CommonSteps: []string{},
		OnlyA:       []string{},
		OnlyB:       []string{},
	}
	for name := range aNames {
		if bNames[name] {
			diff.CommonSteps = append(diff.CommonSteps, name)
		} else {
			diff.OnlyA = append(diff.OnlyA, name)
		}
	}
	for name := range bNames {
		if !aNames[name] {
			diff.OnlyB = append(diff.OnlyB, name)
		}
	}
	sort.Strings(diff.CommonSteps)
	sort.Strings(diff.OnlyA)
	sort.Strings(diff.OnlyB)
	return diff, nil
}

// Export streams every matching execution as NDJSON, one full execution
// per line, newest first.
func (s *Service) Export(ctx context.Context, q model.ExecutionQuery, w io.Writer) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, fmt.Errorf("executions: %w", err)
	}

	matched, err := s.matching(ctx, q)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i, execution := range matched {
		if err := enc.Encode(execution); err != nil {
			return i, fmt.Errorf("executions: export: %w", err)
		}
	}
	return len(matched), nil
}

// matching loads and filters executions, newest first. The Store
// contract only paginates, so filters run service-side.
func (s *Service) matching(ctx context.Context, q model.ExecutionQuery) ([]xray.Execution, error) {
	all, err := s.store.ListExecutions(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("executions: list: %w", err)
	}

	matched := all[:0:0]
	for _, execution := range all {
		if !matches(execution, q) {
			continue
		}
		matched = append(matched, execution)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return matched, nil
}

func matches(execution xray.Execution, q model.ExecutionQuery) bool {
	if q.Name != "" && !strings.Contains(strings.ToLower(execution.Name), strings.ToLower(q.Name)) {
		return false
	}
	if q.Tag != "" {
		found := false
		for _, tag := range execution.Tags {
			if tag == q.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	switch q.Status {
	case model.StatusOpen:
		if execution.Completed() {
			return false
		}
	case model.StatusCompleted:
		if !execution.Completed() {
			return false
		}
	}
	if q.From != nil && execution.StartedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && !execution.StartedAt.Before(*q.To) {
		return false
	}
	if q.MinSteps > 0 && len(execution.Steps) < q.MinSteps {
		return false
	}
	if q.MaxSteps > 0 && len(execution.Steps) > q.MaxSteps {
		return false
	}
	return true
}

func summarize(execution xray.Execution) model.ExecutionSummary {
	return model.ExecutionSummary{
		ID:          execution.ID,
		Name:        execution.Name,
		StartedAt:   execution.StartedAt,
		CompletedAt: execution.CompletedAt,
		DurationMS:  execution.Duration().Milliseconds(),
		StepCount:   len(execution.Steps),
		Tags:        execution.Tags,
		Notes:       execution.Notes,
	}
}

// dedupeTags drops repeated tags, keeping first-seen order.
func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := tags[:0:0]
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func stepNameSet(execution xray.Execution) map[string]bool {
	set := make(map[string]bool, len(execution.Steps))
	for _, step := range execution.Steps {
		set[step.Name] = true
	}
	return set
}
