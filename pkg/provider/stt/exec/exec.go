// Package exec implements a recognition backend that shells out to an
// external command once per utterance.
//
// The command receives the utterance as a 16-bit mono WAV file and must print
// a single JSON object to stdout:
//
//	{"text": "recognised words", "confidence": 0.93}
//
// The invocation is the configured command line followed by
// "--audio <wav>", plus "--model <path>" and "--language <code>" when set.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Name is the registry name of the exec backend.
const Name = "exec"

var (
	_ stt.Backend      = (*Backend)(nil)
	_ stt.AssetChecker = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithModelPath passes --model to the command and registers the path as an
// asset that must exist at startup.
func WithModelPath(path string) Option {
	return func(b *Backend) { b.modelPath = path }
}

// WithLanguage passes --language to the command.
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithSampleRate sets the rate written into the WAV header. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(b *Backend) { b.sampleRate = rate }
}

// WithTempDir sets where utterance WAV files are written. Defaults to the OS
// temp dir.
func WithTempDir(dir string) Option {
	return func(b *Backend) { b.tempDir = dir }
}

// Backend runs an external recognizer command.
type Backend struct {
	cmd        []string
	modelPath  string
	language   string
	sampleRate int
	tempDir    string
}

type result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// New parses command with shell quoting rules and returns a Backend.
func New(command string, opts ...Option) (*Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("exec: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("exec: command is empty")
	}
	b := &Backend{cmd: args, sampleRate: audio.DefaultSampleRate}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name implements stt.Backend.
func (b *Backend) Name() string { return Name }

// AssetPaths implements stt.AssetChecker.
func (b *Backend) AssetPaths() []string {
	if b.modelPath == "" {
		return nil
	}
	return []string{b.modelPath}
}

// Initialize checks that the command resolves to an executable.
func (b *Backend) Initialize(context.Context) error {
	path, err := osexec.LookPath(b.cmd[0])
	if err != nil {
		return fmt.Errorf("exec: resolve %q: %w", b.cmd[0], err)
	}
	slog.Debug("exec recognizer resolved", "path", path)
	return nil
}

// Transcribe writes samples to a temporary WAV file, runs the command on it
// and decodes its JSON output.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (string, error) {
	name, err := audio.WAVTempFile(b.tempDir, audio.FromFloat32(samples), b.sampleRate)
	if err != nil {
		return "", fmt.Errorf("exec: %w", err)
	}
	defer os.Remove(name)

	args := append([]string{}, b.cmd[1:]...)
	args = append(args, "--audio", name)
	if b.modelPath != "" {
		args = append(args, "--model", b.modelPath)
	}
	if b.language != "" {
		args = append(args, "--language", b.language)
	}

	command := osexec.CommandContext(ctx, b.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("exec: command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp result
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("exec: decode response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
