// Package transcript owns the output end of the pipeline: vocabulary
// correction, suppression of empty, short and repeated transcripts, the
// stdout line writer and fan-out to additional publishers.
package transcript

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
)

// Transcript is one emitted recognition result.
type Transcript struct {
	// Seq is the utterance sequence number assigned by the segmenter.
	Seq uint64

	// Text is the final text after trimming and vocabulary correction.
	Text string

	// Raw is the backend's text before correction.
	Raw string

	// Backend is the registry name of the recognition backend.
	Backend string

	// Offset is the capture offset of the utterance's first frame.
	Offset time.Duration

	// Duration is the utterance's audio length.
	Duration time.Duration

	// Latency is the wall time spent in the backend's Transcribe call.
	Latency time.Duration

	// Time is when the transcript was emitted.
	Time time.Time
}

// MarshalJSON encodes durations as integer milliseconds.
func (t Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Seq        uint64    `json:"seq"`
		Text       string    `json:"text"`
		Raw        string    `json:"raw,omitempty"`
		Backend    string    `json:"backend"`
		OffsetMs   int64     `json:"offset_ms"`
		DurationMs int64     `json:"duration_ms"`
		LatencyMs  int64     `json:"latency_ms"`
		Time       time.Time `json:"time"`
	}{
		Seq:        t.Seq,
		Text:       t.Text,
		Raw:        t.Raw,
		Backend:    t.Backend,
		OffsetMs:   t.Offset.Milliseconds(),
		DurationMs: t.Duration.Milliseconds(),
		LatencyMs:  t.Latency.Milliseconds(),
		Time:       t.Time,
	})
}

// Publisher receives every emitted transcript after it was written to the
// primary output. Implementations must not block for long; the sink calls
// them inline on the segmentation worker.
type Publisher interface {
	Publish(ctx context.Context, t Transcript) error
}

// Corrector rewrites transcript text, typically fixing misrecognised
// vocabulary. [phonetic.Matcher] implements it.
type Corrector interface {
	Correct(text string) (string, []phonetic.Correction)
}

var _ Corrector = (*phonetic.Matcher)(nil)
