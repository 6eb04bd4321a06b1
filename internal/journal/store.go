// Package journal persists gratitude and "steady thing" entries in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lyra/internal/domain"
)

var (
	ErrEmptyText = errors.New("journal entry text is empty")
	ErrNotFound  = errors.New("journal entry not found")
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	date       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_created_at ON entries(created_at);
`

// Store is a SQLite-backed journal.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

type Option func(*Store)

// WithClock overrides the time source used for entry dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides entry ID generation.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Open opens (creating if needed) the journal database at path with WAL
// journaling and a 5 second busy timeout.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	s := &Store{db: db, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores text under today's local date.
func (s *Store) Add(ctx context.Context, text string) (domain.JournalEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.JournalEntry{}, ErrEmptyText
	}

	now := s.now()
	entry := domain.JournalEntry{
		ID:        s.newID(),
		Text:      text,
		Date:      now.Format(dateLayout),
		CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, text, date, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.Text, entry.Date, now.UnixNano(),
	)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	return entry, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns every entry, newest first.
func (s *Store) List(ctx context.Context) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, date, created_at FROM entries ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.JournalEntry{}
	for rows.Next() {
		var (
			entry   domain.JournalEntry
			created int64
		)
		if err := rows.Scan(&entry.ID, &entry.Text, &entry.Date, &created); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.CreatedAt = time.Unix(0, created)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return entries, nil
}
