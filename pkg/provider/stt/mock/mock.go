// Package mock provides test doubles for the stt package interfaces.
//
// Use Backend to control initialisation timing and transcription results and
// to inspect which utterances were submitted.
//
// Example:
//
//	gate := make(chan struct{})
//	b := &mock.Backend{InitGate: gate, Texts: []string{"hello", "world"}}
//	// ... utterances produced now stay queued ...
//	close(gate) // Initialize returns, queued utterances are transcribed
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Backend.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe.
	Samples []float32
}

// Backend is a mock implementation of stt.Backend.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name. Defaults to "mock".
	BackendName string

	// InitGate, if non-nil, makes Initialize block until it is closed or ctx
	// is done.
	InitGate <-chan struct{}

	// InitErr, if non-nil, is returned by Initialize.
	InitErr error

	// Texts are returned by successive Transcribe calls. Once exhausted,
	// Transcribe returns "".
	Texts []string

	// TranscribeFunc, if set, overrides Texts.
	TranscribeFunc func(ctx context.Context, samples []float32) (string, error)

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// Assets is returned by AssetPaths.
	Assets []string

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// InitializeCallCount is the number of times Initialize was called.
	InitializeCallCount int

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var (
	_ stt.Backend      = (*Backend)(nil)
	_ stt.AssetChecker = (*Backend)(nil)
)

// Name implements stt.Backend.
func (b *Backend) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BackendName == "" {
		return "mock"
	}
	return b.BackendName
}

// Initialize records the call, waits on InitGate and returns InitErr.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	b.InitializeCallCount++
	gate := b.InitGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.InitErr
}

// Transcribe records the call and returns the next scripted result.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (string, error) {
	b.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	i := len(b.TranscribeCalls)
	b.TranscribeCalls = append(b.TranscribeCalls, TranscribeCall{Samples: cp})
	fn := b.TranscribeFunc
	err := b.TranscribeErr
	var text string
	if i < len(b.Texts) {
		text = b.Texts[i]
	}
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// AssetPaths implements stt.AssetChecker.
func (b *Backend) AssetPaths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Assets
}

// Close records the call and returns CloseErr.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCallCount++
	return b.CloseErr
}

// Calls returns a snapshot of the recorded Transcribe calls.
func (b *Backend) Calls() []TranscribeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TranscribeCall(nil), b.TranscribeCalls...)
}

// InitializeCount returns InitializeCallCount under the mock's lock.
func (b *Backend) InitializeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.InitializeCallCount
}
