// Package audio defines the capture-side primitives of the earshot pipeline:
// the [Frame] unit produced by a [Source], the [FrameQueue] that hands frames
// from the realtime capture callback to the segmentation worker, and PCM
// helpers shared by VAD and recognition backends.
//
// All audio is signed 16-bit mono PCM at a single, fixed sample rate chosen
// at startup. Nothing in this package resamples or renegotiates formats at
// runtime.
package audio

import (
	"errors"
	"time"
)

const (
	// DefaultSampleRate is the capture rate in Hz used when none is configured.
	DefaultSampleRate = 16000

	// DefaultFrameDuration is the capture block length used when none is configured.
	DefaultFrameDuration = 30 * time.Millisecond
)

// ErrNoInputDevice is returned by [Source.Start] when no device advertises
// at least one input channel.
var ErrNoInputDevice = errors.New("audio: no input device found")

// Frame is one fixed-duration block of mono int16 PCM samples. A Frame is
// immutable once produced: the capture callback copies the driver buffer
// into a fresh slice before delivery.
type Frame struct {
	// Samples holds the PCM samples. len(Samples) is constant for a given
	// sample rate and frame duration.
	Samples []int16

	// Seq is the capture sequence number, starting at 0 for the first frame
	// delivered after Start.
	Seq uint64

	// Offset is the capture time of the first sample relative to Start.
	Offset time.Duration
}

// Format describes the fixed capture format of a stream.
type Format struct {
	SampleRate    int
	FrameDuration time.Duration
}

// SamplesPerFrame returns the number of samples in one frame of f.
// Returns 0 when either field is non-positive.
func (f Format) SamplesPerFrame() int {
	if f.SampleRate <= 0 || f.FrameDuration <= 0 {
		return 0
	}
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

// Duration returns the audio length covered by n samples at f.SampleRate.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Source is a live audio input. Implementations deliver frames from a
// realtime context: deliver must return quickly and must not block.
type Source interface {
	// Start opens the input device and begins delivering frames. It returns
	// [ErrNoInputDevice] when no input-capable device exists.
	Start(deliver func(Frame)) error

	// Stop releases the device. Calling Stop more than once, or before
	// Start, is safe and returns nil.
	Stop() error
}
