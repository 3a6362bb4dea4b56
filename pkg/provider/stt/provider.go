// Package stt defines the Backend interface for Speech-to-Text recognizers.
//
// A Backend wraps a batch recognizer (a local whisper.cpp model, a
// whisper-server over HTTP, an OpenAI-compatible transcription endpoint, or an
// external command) and exposes a uniform utterance-at-a-time interface: the
// caller hands over one complete utterance as float32 samples normalised to
// [-1.0, 1.0) and receives its text.
//
// Initialize may take seconds (model load, warm-up, reachability probe) and is
// always run off the realtime path; see [Readiness] for how the pipeline
// observes its outcome. Transcribe calls are serialised by the caller, so
// implementations need not support concurrent transcription.
package stt

import (
	"context"
	"fmt"
)

// Backend is the abstraction over any recognition backend.
type Backend interface {
	// Name returns the registry name of the backend (e.g. "whisper-native").
	Name() string

	// Initialize prepares the backend for transcription. It may block for a
	// long time and should honour ctx cancellation where the underlying
	// library allows it.
	Initialize(ctx context.Context) error

	// Transcribe returns the text recognised in samples, which hold mono audio
	// at the pipeline's sample rate. An empty string means nothing was
	// recognised and is not an error.
	Transcribe(ctx context.Context, samples []float32) (string, error)

	// Close releases the backend's resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// AssetChecker is implemented by backends that need files on disk. The
// lifecycle controller validates every returned path before opening the
// audio device.
type AssetChecker interface {
	AssetPaths() []string
}

// InitError reports that a backend failed to initialise.
type InitError struct {
	Backend string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("stt: initialise backend %q: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// TranscriptionError reports that a single utterance could not be
// transcribed. The utterance is dropped; the pipeline continues.
type TranscriptionError struct {
	Backend string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("stt: backend %q: transcribe: %v", e.Backend, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
