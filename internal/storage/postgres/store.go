package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/missionctl/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL implementation of storage.Store.
type Store struct {
	Pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be empty to use DATABASE_URL env.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	s := &Store{Pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}

// Migrate runs pending migrations (only those not already in schema_version).
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return fmt.Errorf("reading schema_version: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := storage.ParseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		err = pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("applying migration %d: %w", version, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, version); err != nil {
				return fmt.Errorf("recording migration %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn in a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		return fn(pgTx{q: tx})
	})
}

type pgTx struct {
	q querier
}

func placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// --- Tasks ---

const taskColumns = `id, title, description, status, priority, assignee, created_at, updated_at`

func scanTask(r pgx.Row) (storage.Task, error) {
	var t storage.Task
	err := r.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Assignee, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func getTask(ctx context.Context, q querier, id string) (storage.Task, error) {
	t, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Task{}, err
	}
	return t, nil
}

func (tx pgTx) GetTask(ctx context.Context, id string) (storage.Task, error) {
	return getTask(ctx, tx.q, id)
}

func (tx pgTx) InsertTask(ctx context.Context, t storage.Task) error {
	_, err := tx.q.Exec(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.Assignee, t.CreatedAt, t.UpdatedAt)
	return err
}

func (tx pgTx) PatchTask(ctx context.Context, id string, p storage.TaskPatch) error {
	sets, args := storage.PatchAssignments(p, placeholder)
	args = append(args, id)
	tag, err := tx.q.Exec(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = `+placeholder(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context) ([]storage.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY updated_at DESC`)
}

func (s *Store) ListTasksUpdatedSince(ctx context.Context, since int64) ([]storage.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE updated_at >= $1 ORDER BY updated_at DESC`, since)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]storage.Task, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTaskDetail(ctx context.Context, id string) (storage.TaskDetail, error) {
	t, err := getTask(ctx, s.Pool, id)
	if err != nil {
		return storage.TaskDetail{}, err
	}
	detail := storage.TaskDetail{Task: t, Comments: []storage.Comment{}, Deliverables: []storage.Deliverable{}}

	rows, err := s.Pool.Query(ctx, `
SELECT id, task_id, agent, content, type, created_at
FROM comments WHERE task_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return storage.TaskDetail{}, err
	}
	for rows.Next() {
		var c storage.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Agent, &c.Content, &c.Type, &c.CreatedAt); err != nil {
			rows.Close()
			return storage.TaskDetail{}, err
		}
		detail.Comments = append(detail.Comments, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storage.TaskDetail{}, err
	}

	deliverables, err := s.queryDeliverables(ctx, `
SELECT id, title, content, type, task_id, agent, created_at
FROM deliverables WHERE task_id = $1 ORDER BY created_at DESC`, id)
	if err != nil {
		return storage.TaskDetail{}, err
	}
	detail.Deliverables = append(detail.Deliverables, deliverables...)
	return detail, nil
}

// --- Agents ---

func (tx pgTx) GetAgentByName(ctx context.Context, name string) (storage.Agent, error) {
	var a storage.Agent
	err := tx.q.QueryRow(ctx, `SELECT id, name, role, status, last_seen_at FROM agents WHERE name = $1`, name).
		Scan(&a.ID, &a.Name, &a.Role, &a.Status, &a.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Agent{}, storage.ErrNotFound
	}
	return a, err
}

func (tx pgTx) InsertAgentIfAbsent(ctx context.Context, a storage.Agent) (bool, error) {
	tag, err := tx.q.Exec(ctx, `
INSERT INTO agents (id, name, role, status, last_seen_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name) DO NOTHING`,
		a.ID, a.Name, a.Role, string(a.Status), a.LastSeenAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (tx pgTx) PatchAgentStatus(ctx context.Context, name string, status storage.AgentStatus, seenAt int64) error {
	tag, err := tx.q.Exec(ctx, `UPDATE agents SET status = $1, last_seen_at = $2 WHERE name = $3`, string(status), seenAt, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context) ([]storage.Agent, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, role, status, last_seen_at FROM agents ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Agent
	for rows.Next() {
		var a storage.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.Status, &a.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Activities, chat, comments, deliverables ---

func (tx pgTx) InsertActivity(ctx context.Context, a storage.Activity) error {
	_, err := tx.q.Exec(ctx, `
INSERT INTO activities (id, type, agent, task_id, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, string(a.Type), a.Agent, a.TaskID, a.Message, a.CreatedAt)
	return err
}

func (tx pgTx) InsertChatMessage(ctx context.Context, m storage.ChatMessage) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO chat_messages (id, agent, content, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Agent, m.Content, m.CreatedAt)
	return err
}

func (tx pgTx) InsertDeliverable(ctx context.Context, d storage.Deliverable) error {
	_, err := tx.q.Exec(ctx, `
INSERT INTO deliverables (id, title, content, type, task_id, agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Title, d.Content, string(d.Type), d.TaskID, d.Agent, d.CreatedAt)
	return err
}

func (tx pgTx) InsertComment(ctx context.Context, c storage.Comment) error {
	_, err := tx.q.Exec(ctx, `
INSERT INTO comments (id, task_id, agent, content, type, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.TaskID, c.Agent, c.Content, string(c.Type), c.CreatedAt)
	return err
}

func (s *Store) ListActivities(ctx context.Context, limit int) ([]storage.Activity, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, type, agent, task_id, message, created_at
FROM activities ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Activity
	for rows.Next() {
		var a storage.Activity
		if err := rows.Scan(&a.ID, &a.Type, &a.Agent, &a.TaskID, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListChatMessages(ctx context.Context, limit int) ([]storage.ChatMessage, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, agent, content, created_at
FROM chat_messages ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.ChatMessage
	for rows.Next() {
		var m storage.ChatMessage
		if err := rows.Scan(&m.ID, &m.Agent, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListDeliverables(ctx context.Context) ([]storage.Deliverable, error) {
	return s.queryDeliverables(ctx, `
SELECT id, title, content, type, task_id, agent, created_at
FROM deliverables ORDER BY created_at DESC`)
}

func (s *Store) queryDeliverables(ctx context.Context, query string, args ...any) ([]storage.Deliverable, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Deliverable
	for rows.Next() {
		var d storage.Deliverable
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Type, &d.TaskID, &d.Agent, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	return storage.ComputeStats(tasks, agents), nil
}

// --- Jobs ---

func (s *Store) EnqueueJob(ctx context.Context, job storage.Job) error {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', 0, $4, $5, $6, $6)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now)
	return err
}

// ClaimNextJob locks the oldest runnable job with SKIP LOCKED so several
// workers can share one queue.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var j storage.Job
	var lastError *string
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
SELECT id, type, payload_json, attempts, max_attempts, run_after, created_at
FROM jobs
WHERE status = 'pending' AND run_after <= $1 AND type = ANY($2)
ORDER BY run_after ASC, created_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`, now, types).Scan(
			&j.ID, &j.Type, &j.PayloadJSON, &j.Attempts, &j.MaxAttempts, &j.RunAfter, &j.CreatedAt)
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx, `UPDATE jobs SET status = 'running', updated_at = $1 WHERE id = $2 RETURNING last_error`, now, j.ID).
			Scan(&lastError)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	j.Status = "running"
	j.UpdatedAt = now
	if lastError != nil {
		j.LastError = *lastError
	}
	return &j, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE jobs SET status = 'completed', updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRow(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&attempts, &maxAttempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		attempts++
		if attempts >= maxAttempts {
			_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'failed', attempts = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
				attempts, errMsg, now, id)
		} else {
			_, err = tx.Exec(ctx, `UPDATE jobs SET status = 'pending', attempts = $1, last_error = $2, run_after = $3, updated_at = $4 WHERE id = $5`,
				attempts, errMsg, now.Add(storage.JobBackoff(attempts)), now, id)
		}
		return err
	})
}
