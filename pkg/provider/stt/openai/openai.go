// Package openai provides a recognition backend for the OpenAI audio
// transcription API and compatible servers (e.g. faster-whisper-server,
// LocalAI) reached through WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	// Name is the registry name of the OpenAI backend.
	Name = "openai"

	// DefaultModel is the transcription model used when none is configured.
	DefaultModel = "whisper-1"
)

var _ stt.Backend = (*Backend)(nil)

// config holds optional configuration for the backend.
type config struct {
	baseURL    string
	language   string
	prompt     string
	sampleRate int
	timeout    time.Duration
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 input language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt sets a prompt that biases recognition, typically a list of
// proper nouns.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithSampleRate sets the rate written into the uploaded WAV header.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) { c.sampleRate = rate }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Backend implements stt.Backend using the OpenAI audio transcription API.
type Backend struct {
	client oai.Client
	model  string
	cfg    config
}

// New constructs a Backend. An empty apiKey is allowed only together with
// WithBaseURL, for self-hosted servers that do not authenticate. If model is
// empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	cfg := config{sampleRate: audio.DefaultSampleRate}
	for _, o := range opts {
		o(&cfg)
	}
	if apiKey == "" && cfg.baseURL == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	// Utterances are never retried; a failed one is dropped.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Backend{client: oai.NewClient(reqOpts...), model: model, cfg: cfg}, nil
}

// Name implements stt.Backend.
func (b *Backend) Name() string { return Name }

// Model returns the configured model identifier.
func (b *Backend) Model() string { return b.model }

// Initialize is a no-op: the API is stateless and credentials are only
// verified by the first request.
func (b *Backend) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// Transcribe uploads samples as a WAV file and returns the recognised text.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (string, error) {
	name, err := audio.WAVTempFile("", audio.FromFloat32(samples), b.cfg.sampleRate)
	if err != nil {
		return "", fmt.Errorf("openai stt: %w", err)
	}
	defer os.Remove(name)

	f, err := os.Open(name)
	if err != nil {
		return "", fmt.Errorf("openai stt: open wav: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:  f,
		Model: oai.AudioModel(b.model),
	}
	if b.cfg.language != "" {
		params.Language = param.NewOpt(b.cfg.language)
	}
	if b.cfg.prompt != "" {
		params.Prompt = param.NewOpt(b.cfg.prompt)
	}

	resp, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
