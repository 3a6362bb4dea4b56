// Package whisper provides whisper.cpp-backed recognition backends.
//
// Server talks to a running whisper-server binary, which exposes a REST API
// at POST /inference: each utterance is encoded as a WAV file and submitted
// as a multipart upload. Native links whisper.cpp directly through its CGO
// bindings and keeps the model in process.
//
// Usage:
//
//	b, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	if err := b.Initialize(ctx); err != nil { ... }
//	text, err := b.Transcribe(ctx, samples)
package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	// Name is the registry name of the Server backend.
	Name = "whisper"

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

var _ stt.Backend = (*Server)(nil)

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Server) { p.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Server) { p.language = lang }
}

// WithSampleRate sets the sample rate written into the WAV header. It must
// match the pipeline's capture rate. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Server) { p.sampleRate = rate }
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Server) { p.httpClient = c }
}

// Server implements stt.Backend backed by a whisper.cpp HTTP server.
type Server struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a Server that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Backend.
func (p *Server) Name() string { return Name }

// Initialize probes the server root. Any HTTP response below 500 counts as
// reachable; the model is owned by the server process.
func (p *Server) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisper: create probe request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: probe %s: %w", p.serverURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("whisper: probe %s: HTTP %d", p.serverURL, resp.StatusCode)
	}
	return nil
}

// Transcribe encodes samples as WAV and POSTs them to the /inference endpoint
// as multipart/form-data.
func (p *Server) Transcribe(ctx context.Context, samples []float32) (string, error) {
	name, err := audio.WAVTempFile("", audio.FromFloat32(samples), p.sampleRate)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	defer os.Remove(name)

	wav, err := os.Open(name)
	if err != nil {
		return "", fmt.Errorf("whisper: open wav: %w", err)
	}
	defer wav.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(p.writeForm(mw, wav))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// writeForm streams the multipart body: the WAV file plus optional hints.
func (p *Server) writeForm(mw *multipart.Writer, wav io.Reader) error {
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, wav); err != nil {
		return fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	return mw.Close()
}

// Close is a no-op; the server owns the model.
func (p *Server) Close() error { return nil }
