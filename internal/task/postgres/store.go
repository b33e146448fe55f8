// Package postgres implements task.Repository on PostgreSQL using pgx.
// State reconciliation is a single conditional UPDATE so the callback
// handler and the poller can race on the same row without extra locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/videotask-api/internal/task"
)

// Schema creates the task table and the partial index used by the poller.
const Schema = `
CREATE TABLE IF NOT EXISTS generation_tasks (
    id              TEXT PRIMARY KEY,
    provider        TEXT        NOT NULL,
    model           TEXT        NOT NULL,
    state           TEXT        NOT NULL,
    result_urls     TEXT[]      NOT NULL DEFAULT '{}',
    archived_urls   TEXT[]      NOT NULL DEFAULT '{}',
    fail_code       TEXT        NOT NULL DEFAULT '',
    fail_message    TEXT        NOT NULL DEFAULT '',
    credits         INTEGER     NOT NULL,
    request         JSONB,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    last_checked_at TIMESTAMPTZ NOT NULL,
    completed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS generation_tasks_active_idx
    ON generation_tasks (last_checked_at)
    WHERE state IN ('pending', 'processing');
`

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Compile-time check that Store implements task.Repository.
var _ task.Repository = (*Store)(nil)

// Store is a PostgreSQL-backed task repository.
type Store struct {
	db DB
}

// NewStore creates a store on top of a pool or transaction.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// NewPool initializes a pgx connection pool for the given DSN.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect database: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Save inserts or replaces a task row.
func (s *Store) Save(ctx context.Context, t *task.Task) error {
	c := t.Clone()
	query := `
INSERT INTO generation_tasks (id, provider, model, state, result_urls, archived_urls, fail_code, fail_message,
                              credits, request, created_at, updated_at, last_checked_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    provider = EXCLUDED.provider,
    model = EXCLUDED.model,
    state = EXCLUDED.state,
    result_urls = EXCLUDED.result_urls,
    archived_urls = EXCLUDED.archived_urls,
    fail_code = EXCLUDED.fail_code,
    fail_message = EXCLUDED.fail_message,
    credits = EXCLUDED.credits,
    request = EXCLUDED.request,
    updated_at = EXCLUDED.updated_at,
    last_checked_at = EXCLUDED.last_checked_at,
    completed_at = EXCLUDED.completed_at;
`
	_, err := s.db.Exec(ctx, query,
		c.ID,
		c.Provider,
		c.Model,
		string(c.State),
		nonNil(c.ResultURLs),
		nonNil(c.ArchivedURLs),
		c.FailCode,
		c.FailMessage,
		c.Credits,
		nullableBytes(c.Request),
		c.CreatedAt,
		c.UpdatedAt,
		c.LastCheckedAt,
		nullableTime(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: save task %s: %w", c.ID, err)
	}
	return nil
}

// FindByID fetches a task by its provider task id.
func (s *Store) FindByID(ctx context.Context, id string) (*task.Task, error) {
	query := `
SELECT id, provider, model, state, result_urls, archived_urls, fail_code, fail_message,
       credits, request, created_at, updated_at, last_checked_at, completed_at
FROM generation_tasks
WHERE id = $1;
`
	t, err := scanTask(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, task.ErrTaskNotFound
		}
		return nil, fmt.Errorf("postgres: find task %s: %w", id, err)
	}
	return t, nil
}

// CompareAndSetState applies u only when the stored state is in task.AllowedFrom(u.State).
func (s *Store) CompareAndSetState(ctx context.Context, id string, u task.Update) (bool, error) {
	from := task.AllowedFrom(u.State)
	if len(from) == 0 {
		return false, s.ensureExists(ctx, id)
	}

	n := u.Normalize()
	now := time.Now().UTC()
	var completedAt *time.Time
	if n.State.IsTerminal() {
		completedAt = &now
	}
	expected := make([]string, len(from))
	for i, st := range from {
		expected[i] = string(st)
	}

	query := `
UPDATE generation_tasks
SET state = $2,
    result_urls = $3,
    fail_code = $4,
    fail_message = $5,
    updated_at = $6,
    completed_at = COALESCE($7, completed_at)
WHERE id = $1
  AND state = ANY($8);
`
	tag, err := s.db.Exec(ctx, query, id, string(n.State), nonNil(n.ResultURLs), n.FailCode, n.FailMessage, now, completedAt, expected)
	if err != nil {
		return false, fmt.Errorf("postgres: update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.ensureExists(ctx, id)
}

// Touch sets last_checked_at.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE generation_tasks SET last_checked_at = $2 WHERE id = $1;`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: touch task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// AttachArchive records mirrored result locations.
func (s *Store) AttachArchive(ctx context.Context, id string, urls []string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE generation_tasks SET archived_urls = $2, updated_at = NOW() WHERE id = $1;`,
		id, nonNil(urls))
	if err != nil {
		return fmt.Errorf("postgres: attach archive %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// ListActive returns non-terminal tasks last checked before olderThan.
func (s *Store) ListActive(ctx context.Context, olderThan time.Time, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, provider, model, state, result_urls, archived_urls, fail_code, fail_message,
       credits, request, created_at, updated_at, last_checked_at, completed_at
FROM generation_tasks
WHERE state IN ('pending', 'processing')
  AND last_checked_at < $1
ORDER BY last_checked_at ASC
LIMIT $2;
`
	rows, err := s.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active tasks: %w", err)
	}
	defer rows.Close()

	var result []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active tasks: %w", err)
	}
	return result, nil
}

func (s *Store) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM generation_tasks WHERE id = $1);`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check task %s: %w", id, err)
	}
	if !exists {
		return task.ErrTaskNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t           task.Task
		state       string
		request     []byte
		completedAt *time.Time
	)
	if err := row.Scan(
		&t.ID,
		&t.Provider,
		&t.Model,
		&state,
		&t.ResultURLs,
		&t.ArchivedURLs,
		&t.FailCode,
		&t.FailMessage,
		&t.Credits,
		&request,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.LastCheckedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	t.State = task.State(state)
	t.Request = request
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	if len(t.ResultURLs) == 0 {
		t.ResultURLs = nil
	}
	if len(t.ArchivedURLs) == 0 {
		t.ArchivedURLs = nil
	}
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
