package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNative_InitializeInvalidPath(t *testing.T) {
	p, err := whisper.NewNative("/nonexistent/path/to/model.bin")
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()
	if err := p.Initialize(context.Background()); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_AssetPaths(t *testing.T) {
	p, err := whisper.NewNative("/models/ggml-base.en.bin")
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	got := p.AssetPaths()
	if len(got) != 1 || got[0] != "/models/ggml-base.en.bin" {
		t.Errorf("AssetPaths = %v", got)
	}
	if p.Name() != whisper.NativeName {
		t.Errorf("Name = %q, want %q", p.Name(), whisper.NativeName)
	}
}

func TestNative_TranscribeBeforeInitialize(t *testing.T) {
	p, _ := whisper.NewNative("/models/ggml-base.en.bin")
	if _, err := p.Transcribe(context.Background(), make([]float32, 16000)); err == nil {
		t.Fatal("expected error before Initialize")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close before Initialize: %v", err)
	}
}

func TestNative_SilenceYieldsLittleText(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]float32, 32000)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}
