// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (WebRTC VAD via libfvad, or a
// plain energy gate) and surfaces it as a stateful, per-stream session. Each
// session maintains its own internal state so that the detector's smoothing
// history never leaks between streams.
//
// VAD is synchronous: IsSpeech returns immediately with a binary decision, which
// makes it suitable for the segmentation worker that calls it once per frame.
//
// A single SessionHandle must not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by IsSpeech when the frame length does not match the
// session's configured sample rate and frame size.
var ErrFrameSize = errors.New("vad: unexpected frame size")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to IsSpeech. Common values: 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. WebRTC
	// VAD only accepts 10, 20 or 30 ms.
	FrameSizeMs int

	// Mode is the WebRTC aggressiveness, 0 (least) to 3 (most aggressive
	// about filtering non-speech). Ignored by engines without a mode.
	Mode int

	// EnergyThreshold is the RMS level, in int16 units, at or above which the
	// energy engine classifies a frame as speech.
	EnergyThreshold float64
}

// SamplesPerFrame returns the number of samples one frame carries.
func (c Config) SamplesPerFrame() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// CheckFrame returns a wrapped [ErrFrameSize] when frame does not carry
// exactly SamplesPerFrame samples.
func (c Config) CheckFrame(frame []int16) error {
	if want := c.SamplesPerFrame(); len(frame) != want {
		return fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), want)
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine.
type SessionHandle interface {
	// IsSpeech classifies one frame of mono int16 PCM. The frame must match the
	// SampleRate and FrameSizeMs configured when the session was created.
	//
	// Called synchronously in the segmentation loop; it must not block.
	IsSpeech(frame []int16) (bool, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported sample
	// rate or frame size).
	NewSession(cfg Config) (SessionHandle, error)
}
