// Package journal keeps a SQLite record of the requests a driver sends,
// each with the curl command that reproduces it.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one journaled request.
type Entry struct {
	ID           string
	Method       string
	API          string
	Curl         string
	Status       int
	ResponseType string
	Error        string
	Duration     time.Duration
	CreatedAt    time.Time
}

// Store is a SQLite backed journal.
type Store struct {
	db *sql.DB
}

// New opens the journal at dbPath, creating the schema when needed.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			api TEXT NOT NULL,
			curl TEXT NOT NULL,
			status INTEGER NOT NULL,
			response_type TEXT,
			error TEXT,
			duration_ns INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record saves e, replacing any entry with the same id.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var responseType, errMsg sql.NullString
	if e.ResponseType != "" {
		responseType = sql.NullString{String: e.ResponseType, Valid: true}
	}
	if e.Error != "" {
		errMsg = sql.NullString{String: e.Error, Valid: true}
	}

	query := `INSERT OR REPLACE INTO exchanges (
		id, method, api, curl, status, response_type, error, duration_ns, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Method, e.API, e.Curl, e.Status, responseType, errMsg, int64(e.Duration), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, method, api, curl, status, response_type, error, duration_ns, created_at FROM exchanges`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e            Entry
		responseType sql.NullString
		errMsg       sql.NullString
		durationNS   int64
	)
	if err := row.Scan(&e.ID, &e.Method, &e.API, &e.Curl, &e.Status, &responseType, &errMsg, &durationNS, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ResponseType = responseType.String
	e.Error = errMsg.String
	e.Duration = time.Duration(durationNS)
	return &e, nil
}

// Get returns the entry recorded for a request id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	query := selectColumns + ` ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
