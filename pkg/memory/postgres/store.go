// Package postgres provides a PostgreSQL-backed [memory.SessionStore].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.WriteEntry(ctx, entry)
//	recent, _ := store.GetRecent(ctx, 20)
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/pkg/memory"
)

var _ memory.SessionStore = (*Store)(nil)

// Store is a [memory.SessionStore] backed by a session_entries table. All
// operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WriteEntry implements [memory.SessionStore].
func (s *Store) WriteEntry(ctx context.Context, entry memory.TranscriptEntry) error {
	const q = `
		INSERT INTO session_entries
		    (session_id, seq, backend, text, raw_text, timestamp, offset_ns, duration_ns, latency_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		int64(entry.Seq),
		entry.Backend,
		entry.Text,
		entry.RawText,
		ts,
		entry.Offset.Nanoseconds(),
		entry.Duration.Nanoseconds(),
		entry.Latency.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: write entry: %w", err)
	}
	return nil
}

// GetRecent implements [memory.SessionStore].
func (s *Store) GetRecent(ctx context.Context, limit int) ([]memory.TranscriptEntry, error) {
	return s.Search(ctx, memory.SearchOpts{Limit: limit})
}

// Search implements [memory.SessionStore].
func (s *Store) Search(ctx context.Context, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if opts.Query != "" {
		conditions = append(conditions, "strpos(lower(text), lower("+next(opts.Query)+")) > 0")
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}

	q := "SELECT session_id, seq, backend, text, raw_text, timestamp, offset_ns, duration_ns, latency_ns\n" +
		"FROM   session_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY id DESC\n" +
		"LIMIT  " + next(memory.ClampLimit(opts.Limit))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	memory.Reverse(entries)
	return entries, nil
}

// collectEntries scans pgx rows into a slice of TranscriptEntry values.
func collectEntries(rows pgx.Rows) ([]memory.TranscriptEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TranscriptEntry, error) {
		var (
			e          memory.TranscriptEntry
			seq        int64
			offsetNS   int64
			durationNS int64
			latencyNS  int64
		)
		if err := row.Scan(
			&e.SessionID,
			&seq,
			&e.Backend,
			&e.Text,
			&e.RawText,
			&e.Timestamp,
			&offsetNS,
			&durationNS,
			&latencyNS,
		); err != nil {
			return memory.TranscriptEntry{}, err
		}
		e.Seq = uint64(seq)
		e.Offset = time.Duration(offsetNS)
		e.Duration = time.Duration(durationNS)
		e.Latency = time.Duration(latencyNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.TranscriptEntry{}
	}
	return entries, nil
}
