package publish

import (
	"context"
	"fmt"

	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/pkg/memory"
)

// History appends every transcript to a [memory.SessionStore] under a fixed
// session ID.
type History struct {
	store     memory.SessionStore
	sessionID string
}

var _ transcript.Publisher = (*History)(nil)

// NewHistory returns a History writing to store. sessionID groups the
// entries of one process run.
func NewHistory(store memory.SessionStore, sessionID string) *History {
	return &History{store: store, sessionID: sessionID}
}

// Publish implements [transcript.Publisher].
func (h *History) Publish(ctx context.Context, t transcript.Transcript) error {
	err := h.store.WriteEntry(ctx, memory.TranscriptEntry{
		SessionID: h.sessionID,
		Seq:       t.Seq,
		Backend:   t.Backend,
		Text:      t.Text,
		RawText:   t.Raw,
		Timestamp: t.Time,
		Offset:    t.Offset,
		Duration:  t.Duration,
		Latency:   t.Latency,
	})
	if err != nil {
		return fmt.Errorf("publish: history: %w", err)
	}
	return nil
}
