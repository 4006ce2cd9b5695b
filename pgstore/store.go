// Package pgstore provides a PostgreSQL-backed xray.Store on pgx.
//
// It manages connection pooling via pgxpool and a simple forward-only
// migration runner for the embedded schema files.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/xray"
)

// Store persists executions and steps in Postgres. Step records are
// JSONB blobs in append order, so the absent-versus-empty distinction
// of optional step fields survives a round trip.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ xray.Store   = (*Store)(nil)
	_ xray.Counter = (*Store)(nil)
	_ xray.Deleter = (*Store)(nil)
)

// New creates a Store with a connection pool. dsn may point to
// PgBouncer or directly to Postgres.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveExecution upserts the execution and replaces its steps wholesale.
func (s *Store) SaveExecution(ctx context.Context, execution xray.Execution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, name, started_at, completed_at, tags, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			tags = EXCLUDED.tags,
			notes = EXCLUDED.notes`,
		execution.ID, execution.Name, execution.StartedAt, execution.CompletedAt,
		execution.Tags, execution.Notes,
	)
	if err != nil {
		return fmt.Errorf("pgstore: upsert execution: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM steps WHERE execution_id = $1`, execution.ID); err != nil {
		return fmt.Errorf("pgstore: clear steps: %w", err)
	}
	for i, step := range execution.Steps {
		data, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("pgstore: encode step %s: %w", step.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO steps (id, execution_id, position, data) VALUES ($1, $2, $3, $4)`,
			step.ID, execution.ID, i, data,
		)
		if err != nil {
			return fmt.Errorf("pgstore: insert step %s: %w", step.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

// GetExecution loads one execution with its steps in append order.
func (s *Store) GetExecution(ctx context.Context, id string) (xray.Execution, error) {
	var execution xray.Execution
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, started_at, completed_at, tags, notes
		FROM executions WHERE id = $1`, id,
	).Scan(&execution.ID, &execution.Name, &execution.StartedAt, &execution.CompletedAt,
		&execution.Tags, &execution.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return xray.Execution{}, fmt.Errorf("pgstore: get execution %s: %w", id, xray.ErrNotFound)
		}
		return xray.Execution{}, fmt.Errorf("pgstore: get execution %s: %w", id, err)
	}

	steps, err := s.loadSteps(ctx, id)
	if err != nil {
		return xray.Execution{}, err
	}
	execution.Steps = steps
	return execution, nil
}

// ListExecutions returns executions ordered by start time descending.
func (s *Store) ListExecutions(ctx context.Context, limit, offset int) ([]xray.Execution, error) {
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, name, started_at, completed_at, tags, notes
		FROM executions
		ORDER BY started_at DESC, id
		OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list executions: %w", err)
	}
	defer rows.Close()

	var out []xray.Execution
	for rows.Next() {
		var execution xray.Execution
		if err := rows.Scan(&execution.ID, &execution.Name, &execution.StartedAt,
			&execution.CompletedAt, &execution.Tags, &execution.Notes); err != nil {
			return nil, fmt.Errorf("pgstore: scan execution: %w", err)
		}
		out = append(out, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list executions: %w", err)
	}

	for i := range out {
		steps, err := s.loadSteps(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Steps = steps
	}
	return out, nil
}

// AddStep appends a step, or updates it in place when the step id is
// already present.
func (s *Store) AddStep(ctx context.Context, executionID string, step xray.StepRecord) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("pgstore: encode step %s: %w", step.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM executions WHERE id = $1`, executionID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("pgstore: add step to execution %s: %w", executionID, xray.ErrNotFound)
		}
		return fmt.Errorf("pgstore: add step: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO steps (id, execution_id, position, data)
		VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM steps WHERE execution_id = $2), $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		step.ID, executionID, data)
	if err != nil {
		return fmt.Errorf("pgstore: upsert step: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

// CountExecutions implements xray.Counter.
func (s *Store) CountExecutions(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgstore: count executions: %w", err)
	}
	return n, nil
}

// DeleteExecution implements xray.Deleter. Deleting an unknown id is a no-op.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	return s.DeleteExecutions(ctx, []string{id})
}

// DeleteExecutions removes executions; their steps go with them via
// the foreign key cascade.
func (s *Store) DeleteExecutions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("pgstore: delete executions: %w", err)
	}
	return nil
}

func (s *Store) loadSteps(ctx context.Context, executionID string) ([]xray.StepRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM steps WHERE execution_id = $1 ORDER BY position`, executionID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load steps of %s: %w", executionID, err)
	}
	defer rows.Close()

	steps := []xray.StepRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("pgstore: scan step: %w", err)
		}
		var step xray.StepRecord
		if err := json.Unmarshal(data, &step); err != nil {
			return nil, fmt.Errorf("pgstore: decode step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load steps of %s: %w", executionID, err)
	}
	return steps, nil
}
