// Package history provides SQLite-based persistence of task lifecycles.
// A Recorder subscribes to the event bus and writes task and event rows;
// past runs survive process restarts and feed summary queries.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mwald/cadenza/internal/bus"
)

// Store wraps an SQLite database holding task history.
type Store struct {
	conn *sql.DB
	path string
}

// DefaultPath returns the project-local history database path.
func DefaultPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".cadenza", "history.db")
}

// Open opens the history database at path, creating parent directories
// and the schema as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT,
			message TEXT,
			submitted_at DATETIME,
			settled_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			type TEXT NOT NULL,
			step_index INTEGER,
			step TEXT,
			progress INTEGER,
			error_kind TEXT,
			message TEXT,
			occurred_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
	`)
	if err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Record writes one lifecycle event and updates the task row.
func (s *Store) Record(event bus.Event) error {
	_, err := s.conn.Exec(`
		INSERT INTO events (task_id, type, step_index, step, progress, error_kind, message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.TaskID, string(event.Type), event.StepIndex, event.Step,
		event.Progress, string(event.ErrorKind), event.Message, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	switch event.Type {
	case bus.EventSubmitted:
		_, err = s.conn.Exec(`
			INSERT INTO tasks (id, agent_id, status, submitted_at)
			VALUES (?, ?, 'pending', ?)
			ON CONFLICT(id) DO NOTHING`,
			event.TaskID, event.AgentID, event.Timestamp)
	case bus.EventStarted:
		_, err = s.conn.Exec(
			`UPDATE tasks SET status = 'running' WHERE id = ?`, event.TaskID)
	case bus.EventProgress:
		_, err = s.conn.Exec(
			`UPDATE tasks SET progress = ? WHERE id = ? AND progress < ?`,
			event.Progress, event.TaskID, event.Progress)
	case bus.EventCompleted:
		_, err = s.conn.Exec(`
			UPDATE tasks SET status = 'completed', progress = 100, settled_at = ? WHERE id = ?`,
			event.Timestamp, event.TaskID)
	case bus.EventFailed:
		_, err = s.conn.Exec(`
			UPDATE tasks SET status = 'failed', error_kind = ?, message = ?, settled_at = ? WHERE id = ?`,
			string(event.ErrorKind), event.Message, event.Timestamp, event.TaskID)
	case bus.EventCancelled:
		_, err = s.conn.Exec(`
			UPDATE tasks SET status = 'cancelled', settled_at = ? WHERE id = ?`,
			event.Timestamp, event.TaskID)
	}
	if err != nil {
		return fmt.Errorf("update task row: %w", err)
	}
	return nil
}

// TaskRecord is one persisted task.
type TaskRecord struct {
	ID          string
	AgentID     string
	Status      string
	Progress    int
	ErrorKind   string
	Message     string
	SubmittedAt time.Time
	SettledAt   time.Time
}

// Task returns the persisted record for one task.
func (s *Store) Task(taskID string) (*TaskRecord, error) {
	row := s.conn.QueryRow(`
		SELECT id, agent_id, status, progress,
		       COALESCE(error_kind, ''), COALESCE(message, ''),
		       COALESCE(submitted_at, ''), COALESCE(settled_at, '')
		FROM tasks WHERE id = ?`, taskID)

	var rec TaskRecord
	var submitted, settled string
	if err := row.Scan(&rec.ID, &rec.AgentID, &rec.Status, &rec.Progress,
		&rec.ErrorKind, &rec.Message, &submitted, &settled); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no history for task %s", taskID)
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	rec.SubmittedAt = parseTime(submitted)
	rec.SettledAt = parseTime(settled)
	return &rec, nil
}

// EventCount returns the number of recorded events for one task.
func (s *Store) EventCount(taskID string) (int, error) {
	var n int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM events WHERE task_id = ?`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Summary aggregates all persisted tasks.
type Summary struct {
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
	AvgDuration time.Duration
}

// Summarize reports counts by terminal status and the mean settled
// duration across settled tasks.
func (s *Store) Summarize() (*Summary, error) {
	var sum Summary
	err := s.conn.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(CASE WHEN settled_at IS NOT NULL
		           THEN (julianday(settled_at) - julianday(submitted_at)) * 86400.0 END), 0)
		FROM tasks`).Scan(&sum.Total, &sum.Completed, &sum.Failed, &sum.Cancelled, &avgSecondsScanner{&sum.AvgDuration})
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}
	return &sum, nil
}

// avgSecondsScanner scans a float seconds column into a Duration.
type avgSecondsScanner struct {
	d *time.Duration
}

func (a *avgSecondsScanner) Scan(src any) error {
	switch v := src.(type) {
	case float64:
		*a.d = time.Duration(v * float64(time.Second))
	case int64:
		*a.d = time.Duration(v) * time.Second
	case nil:
		*a.d = 0
	default:
		return fmt.Errorf("unexpected avg duration type %T", src)
	}
	return nil
}

// parseTime parses the timestamp formats SQLite hands back.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
