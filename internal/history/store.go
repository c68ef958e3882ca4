// Package history records every task the relay loop dispatches.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Task statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	// StatusAbandoned marks tasks left running by a process that died.
	StatusAbandoned = "abandoned"
)

// DBFile is the database file name inside the history directory.
const DBFile = "nbpilot.db"

// Store persists task records in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is one dispatched task.
type Entry struct {
	ID          string
	RequestID   string
	Text        string
	Source      string
	Status      string
	Result      string
	Error       string
	DurationMs  int64
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Stats counts tasks per status.
type Stats struct {
	Total     int
	Completed int
	Failed    int
	Running   int
	Abandoned int
}

// NewStore opens (creating if needed) the history database in dataPath.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataPath, DBFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dataPath}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			text TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			duration_ms INTEGER DEFAULT 0,
			started_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_started ON tasks(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Path returns the directory holding the database.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Start records a task as running and returns its entry.
func (s *Store) Start(requestID, text, source string) (*Entry, error) {
	e := &Entry{
		ID:        uuid.New().String(),
		RequestID: requestID,
		Text:      text,
		Source:    source,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, request_id, text, source, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.RequestID, e.Text, e.Source, e.Status, e.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record task: %w", err)
	}
	return e, nil
}

// Finish marks a task completed with result, or failed when taskErr is set.
func (s *Store) Finish(id, result string, taskErr error) error {
	e, err := s.Get(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	status := StatusCompleted
	var errMsg string
	if taskErr != nil {
		status = StatusFailed
		errMsg = taskErr.Error()
	}

	_, err = s.db.Exec(`
		UPDATE tasks SET status = ?, result = ?, error = ?, duration_ms = ?, completed_at = ?
		WHERE id = ?
	`, status, result, errMsg, now.Sub(e.StartedAt).Milliseconds(), now, id)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	return nil
}

// Get returns one task. It returns sql.ErrNoRows if it does not exist.
func (s *Store) Get(id string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT id, request_id, text, source, status, COALESCE(result, ''), COALESCE(error, ''),
			duration_ms, started_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	return scanEntry(row)
}

// Recent returns up to limit tasks, newest first.
func (s *Store) Recent(limit int) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, request_id, text, source, status, COALESCE(result, ''), COALESCE(error, ''),
			duration_ms, started_at, completed_at
		FROM tasks ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AbandonRunning marks tasks still running from an earlier process as
// abandoned and returns how many were changed.
func (s *Store) AbandonRunning() (int, error) {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, error = ? WHERE status = ?`,
		StatusAbandoned, "process exited before the task finished", StatusRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats counts tasks by status.
func (s *Store) Stats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch status {
		case StatusCompleted:
			stats.Completed = n
		case StatusFailed:
			stats.Failed = n
		case StatusRunning:
			stats.Running = n
		case StatusAbandoned:
			stats.Abandoned = n
		}
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var completedAt sql.NullTime
	err := row.Scan(&e.ID, &e.RequestID, &e.Text, &e.Source, &e.Status, &e.Result, &e.Error,
		&e.DurationMs, &e.StartedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}
