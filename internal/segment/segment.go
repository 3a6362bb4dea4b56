// Package segment turns a stream of classified audio frames into utterances.
//
// [Segmenter] is a two-phase hysteresis state machine. In Idle it drops
// non-speech frames; the first speech frame opens an utterance. While
// Accumulating every frame is buffered, and the utterance is flushed once it
// has seen at least MinSpeech worth of speech frames and the most recent
// MinSilence worth of frames were all non-speech.
//
// The speech count is cumulative over the whole utterance rather than a run
// of consecutive speech frames, so short bursts separated by brief pauses add
// up. The silence count resets on every speech frame.
//
// A Segmenter is owned by a single goroutine and is not safe for concurrent
// use.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrInvalidConfig is returned by [New] when a threshold is shorter than one
// frame.
var ErrInvalidConfig = errors.New("segment: invalid config")

// Phase is the segmenter's state machine phase.
type Phase int

const (
	// Idle holds no audio and waits for the first speech frame.
	Idle Phase = iota

	// Accumulating buffers every frame of an open utterance.
	Accumulating
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DiscardReason says why buffered frames were dropped without a flush.
type DiscardReason string

const (
	// InsufficientSpeech: the silence window elapsed before the speech floor
	// was reached.
	InsufficientSpeech DiscardReason = "insufficient_speech"

	// TooLong: the maximum utterance length was reached without enough speech.
	TooLong DiscardReason = "too_long"

	// Reset: the buffer was dropped by an explicit Reset, typically at shutdown.
	Reset DiscardReason = "reset"
)

// Config holds the segmenter thresholds as durations. Each is converted to a
// frame count by flooring division by FrameDuration.
type Config struct {
	FrameDuration time.Duration
	MinSpeech     time.Duration
	MinSilence    time.Duration

	// MaxUtterance caps the buffered length. Zero means unlimited.
	MaxUtterance time.Duration
}

// Thresholds are the frame-count equivalents of a [Config].
type Thresholds struct {
	MinSpeechFrames  int
	MinSilenceFrames int

	// MaxFrames is 0 when the utterance length is unlimited.
	MaxFrames int
}

// Thresholds converts c to frame counts. MinSpeech and MinSilence must each
// cover at least one frame; MaxUtterance, when set, must cover at least
// MinSpeech plus MinSilence so a valid utterance can complete.
func (c Config) Thresholds() (Thresholds, error) {
	if c.FrameDuration <= 0 {
		return Thresholds{}, fmt.Errorf("%w: frame duration must be positive, got %v", ErrInvalidConfig, c.FrameDuration)
	}
	t := Thresholds{
		MinSpeechFrames:  int(c.MinSpeech / c.FrameDuration),
		MinSilenceFrames: int(c.MinSilence / c.FrameDuration),
	}
	var errs []error
	if t.MinSpeechFrames < 1 {
		errs = append(errs, fmt.Errorf("%w: min speech %v is shorter than one %v frame", ErrInvalidConfig, c.MinSpeech, c.FrameDuration))
	}
	if t.MinSilenceFrames < 1 {
		errs = append(errs, fmt.Errorf("%w: min silence %v is shorter than one %v frame", ErrInvalidConfig, c.MinSilence, c.FrameDuration))
	}
	if c.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("%w: max utterance must be >= 0, got %v", ErrInvalidConfig, c.MaxUtterance))
	}
	if c.MaxUtterance > 0 {
		t.MaxFrames = int(c.MaxUtterance / c.FrameDuration)
		if t.MaxFrames < t.MinSpeechFrames+t.MinSilenceFrames {
			errs = append(errs, fmt.Errorf("%w: max utterance %v is shorter than min speech plus min silence", ErrInvalidConfig, c.MaxUtterance))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

// State is a snapshot of the segmenter's internals.
type State struct {
	Phase      Phase
	Buffered   int
	SpeechRun  int
	SilenceRun int
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithDiscardHook registers fn to be called whenever buffered frames are
// dropped without a flush.
func WithDiscardHook(fn func(reason DiscardReason, frames int)) Option {
	return func(s *Segmenter) { s.onDiscard = fn }
}

// Segmenter is the VAD hysteresis state machine. The zero value is not
// usable; construct with [New].
type Segmenter struct {
	th        Thresholds
	frameDur  time.Duration
	onDiscard func(DiscardReason, int)

	phase      Phase
	buffer     []audio.Frame
	speechRun  int
	silenceRun int
	next       uint64
}

// New returns an Idle Segmenter for cfg.
func New(cfg Config, opts ...Option) (*Segmenter, error) {
	th, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}
	s := &Segmenter{th: th, frameDur: cfg.FrameDuration}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Thresholds returns the frame-count thresholds in effect.
func (s *Segmenter) Thresholds() Thresholds { return s.th }

// Push feeds one frame with its speech decision. It returns the completed
// utterance and true when this frame closed one.
func (s *Segmenter) Push(f audio.Frame, speech bool) (Utterance, bool) {
	if s.phase == Idle {
		if !speech {
			return Utterance{}, false
		}
		s.phase = Accumulating
		s.buffer = []audio.Frame{f}
		s.speechRun = 1
		s.silenceRun = 0
		return s.evaluate()
	}

	s.buffer = append(s.buffer, f)
	if speech {
		s.speechRun++
		s.silenceRun = 0
	} else {
		s.silenceRun++
	}
	return s.evaluate()
}

func (s *Segmenter) evaluate() (Utterance, bool) {
	enoughSpeech := s.speechRun >= s.th.MinSpeechFrames
	switch {
	case enoughSpeech && s.silenceRun >= s.th.MinSilenceFrames:
		return s.flush(), true
	case s.silenceRun >= s.th.MinSilenceFrames:
		s.discard(InsufficientSpeech)
	case s.th.MaxFrames > 0 && len(s.buffer) >= s.th.MaxFrames:
		if enoughSpeech {
			return s.flush(), true
		}
		s.discard(TooLong)
	}
	return Utterance{}, false
}

func (s *Segmenter) flush() Utterance {
	u := Utterance{
		Seq:          s.next,
		Frames:       s.buffer,
		SpeechFrames: s.speechRun,
		FrameDur:     s.frameDur,
	}
	s.next++
	s.buffer = nil
	s.toIdle()
	return u
}

func (s *Segmenter) discard(reason DiscardReason) int {
	n := len(s.buffer)
	s.buffer = nil
	s.toIdle()
	if n > 0 && s.onDiscard != nil {
		s.onDiscard(reason, n)
	}
	return n
}

func (s *Segmenter) toIdle() {
	s.phase = Idle
	s.speechRun = 0
	s.silenceRun = 0
}

// Reset drops any partially accumulated utterance and returns to Idle. It
// returns the number of frames dropped.
func (s *Segmenter) Reset() int {
	return s.discard(Reset)
}

// Phase returns the current phase.
func (s *Segmenter) Phase() Phase { return s.phase }

// State returns a snapshot of the current state.
func (s *Segmenter) State() State {
	return State{
		Phase:      s.phase,
		Buffered:   len(s.buffer),
		SpeechRun:  s.speechRun,
		SilenceRun: s.silenceRun,
	}
}
