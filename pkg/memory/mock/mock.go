// Package mock provides an in-memory test double for [memory.SessionStore].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use.
//
// Typical usage:
//
//	store := &mock.SessionStore{}
//	// inject store into the system under test …
//	if got := store.CallCount("WriteEntry"); got != 1 {
//	    t.Errorf("expected 1 WriteEntry call, got %d", got)
//	}
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SessionStore is a configurable test double for [memory.SessionStore].
// Written entries are kept and served back by GetRecent and Search unless an
// error field is set.
type SessionStore struct {
	mu sync.Mutex

	calls   []Call
	entries []memory.TranscriptEntry

	// WriteEntryErr is returned by [SessionStore.WriteEntry] when non-nil.
	// The entry is not recorded.
	WriteEntryErr error

	// GetRecentErr is returned by [SessionStore.GetRecent] when non-nil.
	GetRecentErr error

	// SearchErr is returned by [SessionStore.Search] when non-nil.
	SearchErr error

	// CloseErr is returned by [SessionStore.Close].
	CloseErr error
}

var _ memory.SessionStore = (*SessionStore)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Entries returns a copy of every successfully written entry.
func (m *SessionStore) Entries() []memory.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.TranscriptEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// WriteEntry implements [memory.SessionStore].
func (m *SessionStore) WriteEntry(_ context.Context, entry memory.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteEntry", Args: []any{entry}})
	if m.WriteEntryErr != nil {
		return m.WriteEntryErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

// GetRecent implements [memory.SessionStore].
func (m *SessionStore) GetRecent(_ context.Context, limit int) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetRecent", Args: []any{limit}})
	if m.GetRecentErr != nil {
		return nil, m.GetRecentErr
	}
	return m.searchLocked(memory.SearchOpts{Limit: limit}), nil
}

// Search implements [memory.SessionStore].
func (m *SessionStore) Search(_ context.Context, opts memory.SearchOpts) ([]memory.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{opts}})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.searchLocked(opts), nil
}

func (m *SessionStore) searchLocked(opts memory.SearchOpts) []memory.TranscriptEntry {
	limit := memory.ClampLimit(opts.Limit)
	q := strings.ToLower(opts.Query)
	out := []memory.TranscriptEntry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if q != "" && !strings.Contains(strings.ToLower(e.Text), q) {
			continue
		}
		if opts.SessionID != "" && e.SessionID != opts.SessionID {
			continue
		}
		if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
			continue
		}
		if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
			continue
		}
		out = append(out, e)
	}
	memory.Reverse(out)
	return out
}

// Close implements [memory.SessionStore].
func (m *SessionStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	return m.CloseErr
}
