package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS test_tasks (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	llm_provider TEXT NOT NULL,
	llm_model TEXT NOT NULL,
	params TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	error_message TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_test_tasks_created ON test_tasks (created_at DESC);

CREATE TABLE IF NOT EXISTS generated_features (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL REFERENCES test_tasks(id),
	feature_type TEXT NOT NULL,
	feature_content TEXT NOT NULL,
	file_path TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE (task_id, feature_type)
);

CREATE TABLE IF NOT EXISTS execution_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	log_level TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_logs_task ON execution_logs (task_id, id);

CREATE TABLE IF NOT EXISTS dom_analysis (
	task_id TEXT PRIMARY KEY REFERENCES test_tasks(id),
	page_structure TEXT NOT NULL,
	hover_elements TEXT NOT NULL,
	popup_elements TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

const taskColumns = `id, url, llm_provider, llm_model, params, status, progress, current_step,
	COALESCE(error_message, ''), created_at, started_at, completed_at`

// SQLite is a task.Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ task.Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// One connection serializes writers and keeps every reader on a
	// committed snapshot.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateTask(ctx context.Context, t *task.Task) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO test_tasks
		(id, url, llm_provider, llm_model, params, status, progress, current_step, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.URL, t.LLMProvider, t.LLMModel, string(params), string(t.Status), t.Progress, t.CurrentStep,
		t.CreatedAt.UnixNano())
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var (
		t                  task.Task
		params, status     string
		created            int64
		started, completed sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.URL, &t.LLMProvider, &t.LLMModel, &params, &status, &t.Progress,
		&t.CurrentStep, &t.ErrorMessage, &created, &started, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
		return nil, fmt.Errorf("decode params for %s: %w", t.ID, err)
	}
	t.Status = task.Status(status)
	t.CreatedAt = time.Unix(0, created)
	t.StartedAt = nullTime(started)
	t.CompletedAt = nullTime(completed)
	return &t, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(0, v.Int64)
	return &ts
}

func (s *SQLite) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM test_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLite) ListTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM test_tasks
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

// Unfinished returns pending and running tasks, oldest first.
func (s *SQLite) Unfinished(ctx context.Context) ([]*task.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM test_tasks
		WHERE status IN ('pending', 'running') ORDER BY created_at, rowid`)
}

func (s *SQLite) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) MarkRunning(ctx context.Context, id, step string, at time.Time) (bool, error) {
	return affected(s.db.ExecContext(ctx, `UPDATE test_tasks
		SET status = 'running', current_step = ?, started_at = ?
		WHERE id = ? AND status = 'pending'`,
		step, at.UnixNano(), id))
}

func (s *SQLite) AdvanceProgress(ctx context.Context, id string, progress int, step string) (bool, error) {
	return affected(s.db.ExecContext(ctx, `UPDATE test_tasks
		SET status = 'running', progress = ?, current_step = ?
		WHERE id = ? AND status = 'running' AND progress <= ?`,
		progress, step, id, progress))
}

func (s *SQLite) Finish(ctx context.Context, id string, outcome task.Outcome, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var ok bool
	switch outcome.Status {
	case task.StatusCompleted:
		ok, err = affected(tx.ExecContext(ctx, `UPDATE test_tasks
			SET status = 'completed', progress = 100, error_message = NULL, completed_at = ?,
				current_step = COALESCE(NULLIF(?, ''), current_step)
			WHERE id = ? AND status = 'running'`,
			at.UnixNano(), outcome.Step, id))
	case task.StatusFailed:
		ok, err = affected(tx.ExecContext(ctx, `UPDATE test_tasks
			SET status = 'failed', error_message = ?, completed_at = ?,
				current_step = COALESCE(NULLIF(?, ''), current_step)
			WHERE id = ? AND status = 'running'`,
			outcome.Error, at.UnixNano(), outcome.Step, id))
	default:
		return false, fmt.Errorf("status %q is not terminal", outcome.Status)
	}
	if err != nil || !ok {
		return false, err
	}

	for _, f := range outcome.Features {
		if _, err := tx.ExecContext(ctx, `INSERT INTO generated_features
			(task_id, feature_type, feature_content, file_path, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			id, string(f.Kind), f.Content, f.FilePath, f.CreatedAt.UnixNano()); err != nil {
			return false, fmt.Errorf("insert %s feature: %w", f.Kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLite) Features(ctx context.Context, id string) ([]task.Feature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, feature_type, feature_content,
		COALESCE(file_path, ''), created_at
		FROM generated_features WHERE task_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []task.Feature
	for rows.Next() {
		var (
			f       task.Feature
			kind    string
			created int64
		)
		if err := rows.Scan(&f.TaskID, &kind, &f.Content, &f.FilePath, &created); err != nil {
			return nil, err
		}
		f.Kind = task.FeatureKind(kind)
		f.CreatedAt = time.Unix(0, created)
		features = append(features, f)
	}
	return features, rows.Err()
}

func (s *SQLite) AppendLog(ctx context.Context, entry *task.LogEntry) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO execution_logs (task_id, log_level, message, created_at)
		VALUES (?, ?, ?, ?)`,
		entry.TaskID, string(entry.Level), entry.Message, entry.CreatedAt.UnixNano())
	if err != nil {
		return err
	}
	entry.Seq, _ = res.LastInsertId()
	return nil
}

func (s *SQLite) Logs(ctx context.Context, id string) ([]task.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, log_level, message, created_at
		FROM execution_logs WHERE task_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []task.LogEntry
	for rows.Next() {
		var (
			e       task.LogEntry
			level   string
			created int64
		)
		if err := rows.Scan(&e.Seq, &e.TaskID, &level, &e.Message, &created); err != nil {
			return nil, err
		}
		e.Level = task.LogLevel(level)
		e.CreatedAt = time.Unix(0, created)
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

func (s *SQLite) SaveAnalysis(ctx context.Context, a *task.Analysis) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dom_analysis
		(task_id, page_structure, hover_elements, popup_elements, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			page_structure = excluded.page_structure,
			hover_elements = excluded.hover_elements,
			popup_elements = excluded.popup_elements,
			created_at = excluded.created_at`,
		a.TaskID, rawOrNull(a.PageStructure), rawOrNull(a.HoverElements), rawOrNull(a.PopupElements),
		a.CreatedAt.UnixNano())
	return err
}

func rawOrNull(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func (s *SQLite) Analysis(ctx context.Context, id string) (*task.Analysis, error) {
	var (
		a                  task.Analysis
		page, hover, popup string
		created            int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT task_id, page_structure, hover_elements, popup_elements, created_at
		FROM dom_analysis WHERE task_id = ?`, id).Scan(&a.TaskID, &page, &hover, &popup, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no analysis recorded for %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	a.PageStructure = json.RawMessage(page)
	a.HoverElements = json.RawMessage(hover)
	a.PopupElements = json.RawMessage(popup)
	a.CreatedAt = time.Unix(0, created)
	return &a, nil
}
