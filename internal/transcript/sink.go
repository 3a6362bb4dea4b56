package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// DefaultMinLength is the shortest transcript, in characters, that is
// emitted by default. Shorter recognitions are almost always noise.
const DefaultMinLength = 3

// SuppressReason says why a transcript was not emitted.
type SuppressReason string

const (
	SuppressEmpty     SuppressReason = "empty"
	SuppressTooShort  SuppressReason = "too_short"
	SuppressDuplicate SuppressReason = "duplicate"
	SuppressSimilar   SuppressReason = "similar"
)

// SinkOption configures a [Sink].
type SinkOption func(*Sink)

// WithMinLength sets the minimum transcript length in characters. Zero
// disables the check.
func WithMinLength(n int) SinkOption {
	return func(s *Sink) { s.minLength = max(n, 0) }
}

// WithSimilarity suppresses transcripts whose Jaro-Winkler similarity to the
// previous one reaches threshold. Zero keeps exact-equality suppression only.
func WithSimilarity(threshold float64) SinkOption {
	return func(s *Sink) { s.similarity = threshold }
}

// WithCorrector applies c to every transcript before the suppression checks.
func WithCorrector(c Corrector) SinkOption {
	return func(s *Sink) { s.corrector = c }
}

// WithPublishers adds publishers that receive every emitted transcript.
func WithPublishers(p ...Publisher) SinkOption {
	return func(s *Sink) { s.publishers = append(s.publishers, p...) }
}

// WithSuppressHook registers fn to be called for every suppressed transcript.
func WithSuppressHook(fn func(SuppressReason)) SinkOption {
	return func(s *Sink) { s.onSuppress = fn }
}

// WithEmitHook registers fn to be called for every emitted transcript.
func WithEmitHook(fn func(Transcript)) SinkOption {
	return func(s *Sink) { s.onEmit = fn }
}

// WithErrorHook registers fn to be called from [Sink.ReportError].
func WithErrorHook(fn func(error)) SinkOption {
	return func(s *Sink) { s.onError = fn }
}

// Sink writes one line per transcript to its output and forwards it to the
// configured publishers. It suppresses empty text, text shorter than the
// minimum length and text equal to the last emitted transcript.
//
// The last transcript is updated only after a successful write, so a failed
// write never suppresses a later identical transcript.
//
// All methods are safe for concurrent use.
type Sink struct {
	out        io.Writer
	onSuppress func(SuppressReason)
	onEmit     func(Transcript)
	onError    func(error)

	mu         sync.Mutex
	last       string
	minLength  int
	similarity float64
	corrector  Corrector
	publishers []Publisher
}

// NewSink returns a Sink writing to out.
func NewSink(out io.Writer, opts ...SinkOption) *Sink {
	s := &Sink{out: out, minLength: DefaultMinLength}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Emit trims, corrects and filters t. It returns true when the transcript was
// written. A non-nil error with true means one or more publishers failed
// after the line was written.
func (s *Sink) Emit(ctx context.Context, t Transcript) (bool, error) {
	text := strings.TrimSpace(t.Text)
	if t.Raw == "" {
		t.Raw = text
	}
	s.mu.Lock()
	corrector := s.corrector
	s.mu.Unlock()
	if corrector != nil && text != "" {
		corrected, fixes := corrector.Correct(text)
		for _, f := range fixes {
			slog.Debug("vocabulary correction", "original", f.Original, "corrected", f.Corrected, "confidence", f.Confidence)
		}
		text = corrected
	}
	t.Text = text

	s.mu.Lock()
	if reason, ok := s.suppressLocked(text); ok {
		s.mu.Unlock()
		slog.Debug("transcript suppressed", "reason", reason, "seq", t.Seq, "text", text)
		if s.onSuppress != nil {
			s.onSuppress(reason)
		}
		return false, nil
	}
	if _, err := fmt.Fprintln(s.out, text); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("transcript: write: %w", err)
	}
	s.last = text
	pubs := s.publishers
	s.mu.Unlock()

	if t.Time.IsZero() {
		t.Time = time.Now()
	}
	if s.onEmit != nil {
		s.onEmit(t)
	}

	var errs []error
	for _, p := range pubs {
		if err := p.Publish(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

func (s *Sink) suppressLocked(text string) (SuppressReason, bool) {
	switch {
	case text == "":
		return SuppressEmpty, true
	case s.minLength > 0 && utf8.RuneCountInString(text) < s.minLength:
		return SuppressTooShort, true
	case text == s.last:
		return SuppressDuplicate, true
	case s.similarity > 0 && s.last != "" &&
		matchr.JaroWinkler(strings.ToLower(text), strings.ToLower(s.last), false) >= s.similarity:
		return SuppressSimilar, true
	}
	return "", false
}

// ReportError records a dropped utterance. Errors never reach the primary
// output; they are logged and passed to the error hook.
func (s *Sink) ReportError(err error) {
	if err == nil {
		return
	}
	slog.Warn("utterance dropped", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// Last returns the last emitted transcript text.
func (s *Sink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// SetMinLength changes the minimum length at runtime.
func (s *Sink) SetMinLength(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minLength = max(n, 0)
}

// SetSimilarity changes the similarity threshold at runtime.
func (s *Sink) SetSimilarity(threshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.similarity = threshold
}

// SetCorrector replaces the vocabulary corrector at runtime. nil disables
// correction.
func (s *Sink) SetCorrector(c Corrector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrector = c
}

// AddPublishers attaches publishers at runtime. They receive transcripts
// emitted after the call returns.
func (s *Sink) AddPublishers(p ...Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers[:len(s.publishers):len(s.publishers)], p...)
}
