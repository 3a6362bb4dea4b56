// Package memory defines the transcript history log.
//
// Every emitted transcript can be appended to a [SessionStore]. The log is
// write-mostly: the pipeline appends, and the HTTP API reads the most recent
// entries or searches by substring.
//
// Two implementations ship with earshot:
//
//   - memory/sqlite: a local file via modernc.org/sqlite, no cgo required.
//   - memory/postgres: a shared PostgreSQL database via pgx.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// DefaultLimit caps reads when the caller passes a non-positive limit.
const DefaultLimit = 50

// MaxLimit is the largest limit an implementation honours.
const MaxLimit = 1000

// SearchOpts configures a substring search over the history log. All non-zero
// fields are applied as AND conditions.
type SearchOpts struct {
	// Query is matched case-insensitively as a substring of the text.
	// An empty string matches every entry.
	Query string

	// SessionID restricts the search to a single session.
	// An empty string searches across all sessions.
	SessionID string

	// After filters entries recorded after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	// A zero Time disables the upper bound.
	Before time.Time

	// Limit caps the number of results returned. Non-positive values use
	// [DefaultLimit].
	Limit int
}

// SessionStore is the append-only transcript log.
type SessionStore interface {
	// WriteEntry appends entry to the log.
	WriteEntry(ctx context.Context, entry TranscriptEntry) error

	// GetRecent returns up to limit of the newest entries, oldest first.
	GetRecent(ctx context.Context, limit int) ([]TranscriptEntry, error)

	// Search returns entries matching opts, oldest first. When more than
	// opts.Limit entries match, the newest are returned.
	Search(ctx context.Context, opts SearchOpts) ([]TranscriptEntry, error)

	// Close releases the underlying connections.
	Close() error
}

// ClampLimit maps limit onto [1, MaxLimit], substituting [DefaultLimit] for
// non-positive values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Reverse reverses entries in place. Implementations query newest first so
// that LIMIT keeps the newest rows, then reverse into chronological order.
func Reverse(entries []TranscriptEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
