package app_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: app.ExitOK},
		{name: "no device", err: &app.StartupError{Stage: "audio", Err: audio.ErrNoInputDevice}, want: app.ExitNoDevice},
		{name: "bare no device", err: audio.ErrNoInputDevice, want: app.ExitNoDevice},
		{name: "backend init", err: &stt.InitError{Backend: "whisper", Err: errors.New("oom")}, want: app.ExitBackendInit},
		{name: "wrapped backend init", err: fmt.Errorf("run: %w", &stt.InitError{Backend: "x"}), want: app.ExitBackendInit},
		{name: "missing asset", err: &app.StartupError{Stage: "assets", Resource: "/m.bin", Err: app.ErrMissingAsset}, want: app.ExitStartup},
		{name: "other", err: errors.New("config: parse"), want: app.ExitStartup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := app.ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStartupError(t *testing.T) {
	t.Parallel()

	err := &app.StartupError{Stage: "assets", Resource: "/models/base.bin", Err: app.ErrMissingAsset}
	if got, want := err.Error(), `app: startup assets "/models/base.bin": app: missing asset`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, app.ErrMissingAsset) {
		t.Error("StartupError does not unwrap to its cause")
	}

	bare := &app.StartupError{Stage: "segmenter", Err: errors.New("bad")}
	if got, want := bare.Error(), "app: startup segmenter: bad"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
