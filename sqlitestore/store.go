// Package sqlitestore provides a SQLite-backed xray.Store.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/xray"
)

// Store persists executions and steps in two SQLite tables. Execution
// rows hold the shell fields; step records are stored as JSON blobs in
// append order, so the absent-versus-empty distinction of optional
// step fields survives a round trip.
type Store struct {
	db *sql.DB
}

var (
	_ xray.Store   = (*Store)(nil)
	_ xray.Counter = (*Store)(nil)
	_ xray.Deleter = (*Store)(nil)
)

// New initializes the required schema in the given database and
// returns a new Store.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	return s, nil
}

// Ping verifies the database connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			tags TEXT,
			notes TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			data BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_steps_execution ON steps(execution_id, position);`,
	)
	return err
}

// SaveExecution upserts the execution and replaces its steps wholesale.
func (s *Store) SaveExecution(ctx context.Context, execution xray.Execution) error {
	tags, err := encodeTags(execution.Tags)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (id, name, started_at, completed_at, tags, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			tags = excluded.tags,
			notes = excluded.notes`,
		execution.ID,
		execution.Name,
		execution.StartedAt.UTC().Format(time.RFC3339Nano),
		encodeTime(execution.CompletedAt),
		tags,
		execution.Notes,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert execution: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE execution_id = ?`, execution.ID); err != nil {
		return fmt.Errorf("sqlitestore: clear steps: %w", err)
	}
	for i, step := range execution.Steps {
		data, err := json.Marshal(step)
		if err != nil {
			return fmt.Errorf("sqlitestore: encode step %s: %w", step.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO steps (id, execution_id, position, data) VALUES (?, ?, ?, ?)`,
			step.ID, execution.ID, i, data,
		)
		if err != nil {
			return fmt.Errorf("sqlitestore: insert step %s: %w", step.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// GetExecution loads one execution with its steps in append order.
func (s *Store) GetExecution(ctx context.Context, id string) (xray.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, started_at, completed_at, tags, notes
		FROM executions WHERE id = ?`, id)

	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return xray.Execution{}, fmt.Errorf("sqlitestore: get execution %s: %w", id, xray.ErrNotFound)
	}
	if err != nil {
		return xray.Execution{}, fmt.Errorf("sqlitestore: get execution %s: %w", id, err)
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
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited.
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, started_at, completed_at, tags, notes
		FROM executions
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list executions: %w", err)
	}
	defer rows.Close()

	var out []xray.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan execution: %w", err)
		}
		out = append(out, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: list executions: %w", err)
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
		return fmt.Errorf("sqlitestore: encode step %s: %w", step.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE id = ?`, executionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("sqlitestore: add step to execution %s: %w", executionID, xray.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqlitestore: add step: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE steps SET data = ? WHERE id = ? AND execution_id = ?`,
		data, step.ID, executionID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update step: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: update step: %w", err)
	}
	if affected == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO steps (id, execution_id, position, data)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM steps WHERE execution_id = ?), ?)`,
			step.ID, executionID, executionID, data)
		if err != nil {
			return fmt.Errorf("sqlitestore: insert step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// CountExecutions implements xray.Counter.
func (s *Store) CountExecutions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count executions: %w", err)
	}
	return n, nil
}

// DeleteExecution implements xray.Deleter. Deleting an unknown id is a no-op.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	return s.DeleteExecutions(ctx, []string{id})
}

// DeleteExecutions removes executions and their steps.
func (s *Store) DeleteExecutions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, id := range ids {
		// Explicit step delete keeps the store correct even when the
		// connection runs without foreign_keys=on.
		if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE execution_id = ?`, id); err != nil {
			return fmt.Errorf("sqlitestore: delete steps of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlitestore: delete execution %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

func (s *Store) loadSteps(ctx context.Context, executionID string) ([]xray.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM steps WHERE execution_id = ? ORDER BY position`, executionID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load steps of %s: %w", executionID, err)
	}
	defer rows.Close()

	steps := []xray.StepRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan step: %w", err)
		}
		var step xray.StepRecord
		if err := json.Unmarshal(data, &step); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: load steps of %s: %w", executionID, err)
	}
	return steps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (xray.Execution, error) {
	var (
		execution   xray.Execution
		startedAt   string
		completedAt sql.NullString
		encodedTags sql.NullString
	)
	if err := row.Scan(&execution.ID, &execution.Name, &startedAt, &completedAt, &encodedTags, &execution.Notes); err != nil {
		return xray.Execution{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return xray.Execution{}, fmt.Errorf("parse started_at: %w", err)
	}
	execution.StartedAt = t

	if completedAt.Valid && completedAt.String != "" {
		c, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return xray.Execution{}, fmt.Errorf("parse completed_at: %w", err)
		}
		execution.CompletedAt = &c
	}

	if encodedTags.Valid && encodedTags.String != "" {
		if err := json.Unmarshal([]byte(encodedTags.String), &execution.Tags); err != nil {
			return xray.Execution{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return execution, nil
}

func encodeTags(tags []string) (any, error) {
	if tags == nil {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func encodeTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
