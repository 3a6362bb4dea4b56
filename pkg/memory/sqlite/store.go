// Package sqlite provides a [memory.SessionStore] in a local SQLite file via
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/earshot/pkg/memory"
)

const ddl = `
CREATE TABLE IF NOT EXISTS session_entries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    backend      TEXT    NOT NULL DEFAULT '',
    text         TEXT    NOT NULL,
    raw_text     TEXT    NOT NULL DEFAULT '',
    timestamp_ns INTEGER NOT NULL,
    offset_ns    INTEGER NOT NULL DEFAULT 0,
    duration_ns  INTEGER NOT NULL DEFAULT 0,
    latency_ns   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_session_entries_session_id ON session_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_session_entries_timestamp ON session_entries(timestamp_ns);
`

var _ memory.SessionStore = (*Store)(nil)

// Store is a SQLite-backed [memory.SessionStore].
type Store struct {
	db *sql.DB
}

// Open creates the parent directory of path if needed, opens the database in
// WAL mode and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteEntry implements [memory.SessionStore].
func (s *Store) WriteEntry(ctx context.Context, entry memory.TranscriptEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_entries
		    (session_id, seq, backend, text, raw_text, timestamp_ns, offset_ns, duration_ns, latency_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		int64(entry.Seq),
		entry.Backend,
		entry.Text,
		entry.RawText,
		ts.UnixNano(),
		entry.Offset.Nanoseconds(),
		entry.Duration.Nanoseconds(),
		entry.Latency.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: write entry: %w", err)
	}
	return nil
}

// GetRecent implements [memory.SessionStore].
func (s *Store) GetRecent(ctx context.Context, limit int) ([]memory.TranscriptEntry, error) {
	return s.Search(ctx, memory.SearchOpts{Limit: limit})
}

// Search implements [memory.SessionStore].
func (s *Store) Search(ctx context.Context, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	var (
		conditions = []string{"1 = 1"}
		args       []any
	)
	if opts.Query != "" {
		conditions = append(conditions, "instr(lower(text), lower(?)) > 0")
		args = append(args, opts.Query)
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp_ns > ?")
		args = append(args, opts.After.UnixNano())
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp_ns < ?")
		args = append(args, opts.Before.UnixNano())
	}
	args = append(args, memory.ClampLimit(opts.Limit))

	q := `SELECT session_id, seq, backend, text, raw_text, timestamp_ns, offset_ns, duration_ns, latency_ns
		FROM session_entries
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search: %w", err)
	}
	defer rows.Close()

	entries := []memory.TranscriptEntry{}
	for rows.Next() {
		var (
			e                                  memory.TranscriptEntry
			seq, ts, offset, duration, latency int64
		)
		if err := rows.Scan(&e.SessionID, &seq, &e.Backend, &e.Text, &e.RawText, &ts, &offset, &duration, &latency); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		e.Seq = uint64(seq)
		e.Timestamp = time.Unix(0, ts)
		e.Offset = time.Duration(offset)
		e.Duration = time.Duration(duration)
		e.Latency = time.Duration(latency)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: rows: %w", err)
	}
	memory.Reverse(entries)
	return entries, nil
}
