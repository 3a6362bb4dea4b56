package memory

import "time"

// TranscriptEntry is one emitted transcript as recorded in the history log.
type TranscriptEntry struct {
	// SessionID identifies the process run that produced the entry.
	SessionID string

	// Seq is the utterance sequence number within the session.
	Seq uint64

	// Backend is the registry name of the recognition backend.
	Backend string

	// Text is the (possibly corrected) transcript text.
	Text string

	// RawText is the original uncorrected backend output. Preserved for debugging.
	RawText string

	// Timestamp is when this entry was emitted.
	Timestamp time.Time

	// Offset is the capture offset of the utterance's first frame.
	Offset time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration

	// Latency is how long the backend took to transcribe the utterance.
	Latency time.Duration
}
