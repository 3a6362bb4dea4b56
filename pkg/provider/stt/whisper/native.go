// This file contains the Native backend implemented on the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// NativeName is the registry name of the Native backend.
const NativeName = "whisper-native"

var (
	_ stt.Backend      = (*Native)(nil)
	_ stt.AssetChecker = (*Native)(nil)
)

// Native implements stt.Backend using whisper.cpp Go bindings (CGO). The
// model is loaded in Initialize, warmed up on one second of silence so the
// first real utterance does not pay the allocation cost, and reused for every
// utterance.
type Native struct {
	modelPath  string
	language   string
	sampleRate int
	warmUp     bool

	mu    sync.Mutex
	model whisperlib.Model
}

// NativeOption is a functional option for configuring a Native backend.
type NativeOption func(*Native)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *Native) { p.language = lang }
}

// WithNativeSampleRate sets the audio sample rate in Hz used for the warm-up
// buffer. whisper.cpp itself requires 16 kHz input. Defaults to 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *Native) { p.sampleRate = rate }
}

// WithNativeWarmUp toggles the warm-up inference in Initialize. Enabled by
// default.
func WithNativeWarmUp(on bool) NativeOption {
	return func(p *Native) { p.warmUp = on }
}

// NewNative returns a Native backend for the model at modelPath. The model is
// not loaded until Initialize.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &Native{
		modelPath:  modelPath,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		warmUp:     true,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Backend.
func (p *Native) Name() string { return NativeName }

// AssetPaths implements stt.AssetChecker.
func (p *Native) AssetPaths() []string { return []string{p.modelPath} }

// Initialize loads the model and runs the warm-up inference. The bindings
// offer no cancellation, so ctx is only checked between the two steps.
func (p *Native) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	model, err := whisperlib.New(p.modelPath)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", p.modelPath, err)
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
	slog.Debug("whisper model loaded", "path", p.modelPath, "elapsed", time.Since(start))

	if !p.warmUp {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start = time.Now()
	if _, err := p.Transcribe(ctx, make([]float32, p.sampleRate)); err != nil {
		return fmt.Errorf("whisper: warm-up: %w", err)
	}
	slog.Debug("whisper warm-up done", "elapsed", time.Since(start))
	return nil
}

// Transcribe runs whisper.cpp inference on samples using a fresh context and
// returns the concatenated segment text.
func (p *Native) Transcribe(_ context.Context, samples []float32) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return "", errors.New("whisper: model not loaded")
	}

	// A context is not thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the whisper model.
func (p *Native) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}
