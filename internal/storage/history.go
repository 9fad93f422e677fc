// Package storage records solve attempts in a local history log. The log
// is append-only: each attempt writes exactly one row, successful or not,
// so failures stay inspectable after the fact.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/valpere/captchafill/internal/config"
)

// Attempt is one recorded solve attempt.
type Attempt struct {
	ID          int64
	PageURL     string
	ImageSource string
	Solution    string
	Status      string
	Error       string
	DurationMS  int64
	CreatedAt   time.Time
}

// Attempt status values.
const (
	StatusSolved           = "solved"
	StatusDetectionFailed  = "detection_failed"
	StatusExtractionFailed = "extraction_failed"
	StatusConfigError      = "config_error"
	StatusRemoteError      = "remote_error"
	StatusBrowserError     = "browser_error"
)

// Store persists solve attempts.
type Store interface {
	Record(ctx context.Context, attempt *Attempt) error
	Recent(ctx context.Context, limit int) ([]Attempt, error)
	Close() error
}

// NewStore opens the history store selected by the configuration.
func NewStore(cfg *config.HistoryConfig) (Store, error) {
	if cfg == nil {
		return NopStore{}, nil
	}

	switch cfg.Backend {
	case "", "sqlite":
		return newSQLiteStore(cfg)
	case "postgres":
		return newPostgresStore(cfg)
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
}

// NopStore discards all attempts.
type NopStore struct{}

func (NopStore) Record(ctx context.Context, attempt *Attempt) error { return nil }
func (NopStore) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	return nil, nil
}
func (NopStore) Close() error { return nil }

// sqlStore implements Store over database/sql for both backends; only the
// DDL and placeholder style differ.
type sqlStore struct {
	db       *sql.DB
	table    string
	postgres bool
}

func newSQLiteStore(cfg *config.HistoryConfig) (*sqlStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite history requires a database path")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite history: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &sqlStore{db: db, table: cfg.Table}
	if err := s.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(cfg *config.HistoryConfig) (*sqlStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres history requires a connection string")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres history: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &sqlStore{db: db, table: cfg.Table, postgres: true}
	if err := s.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ensureTable creates the attempt log table when it does not exist.
func (s *sqlStore) ensureTable() error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.postgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s,
		page_url TEXT NOT NULL DEFAULT '',
		image_source TEXT NOT NULL DEFAULT '',
		solution TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`, s.table, idColumn)

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create history table: %w", err)
	}
	return nil
}

// Record appends one attempt to the log.
func (s *sqlStore) Record(ctx context.Context, attempt *Attempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt cannot be nil")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(page_url, image_source, solution, status, error, duration_ms, created_at)
		VALUES (%s)`, s.table, s.placeholders(7))

	_, err := s.db.ExecContext(ctx, query,
		attempt.PageURL, attempt.ImageSource, attempt.Solution,
		attempt.Status, attempt.Error, attempt.DurationMS, attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// Recent returns the newest attempts, most recent first.
func (s *sqlStore) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`SELECT id, page_url, image_source, solution, status,
		error, duration_ms, created_at
		FROM %s ORDER BY id DESC LIMIT %d`, s.table, limit)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.PageURL, &a.ImageSource, &a.Solution,
			&a.Status, &a.Error, &a.DurationMS, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}

	return attempts, nil
}

// Close releases the underlying database handle.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// placeholders renders n SQL placeholders in the backend's style.
func (s *sqlStore) placeholders(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		if s.postgres {
			out += fmt.Sprintf("$%d", i)
		} else {
			out += "?"
		}
	}
	return out
}
