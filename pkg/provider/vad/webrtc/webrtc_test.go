package webrtc_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/webrtc"
)

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"frame 25ms", vad.Config{SampleRate: 16000, FrameSizeMs: 25}},
		{"mode 4", vad.Config{SampleRate: 16000, FrameSizeMs: 30, Mode: 4}},
		{"mode -1", vad.Config{SampleRate: 16000, FrameSizeMs: 30, Mode: -1}},
		{"rate 11025", vad.Config{SampleRate: 11025, FrameSizeMs: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := webrtc.New().NewSession(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSession_SilenceIsNotSpeech(t *testing.T) {
	t.Parallel()
	sess, err := webrtc.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Mode: 3})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	for i := range 10 {
		speech, err := sess.IsSpeech(make([]int16, 480))
		if err != nil {
			t.Fatalf("IsSpeech frame %d: %v", i, err)
		}
		if speech {
			t.Fatalf("digital silence classified as speech at frame %d", i)
		}
	}
	sess.Reset()
	if _, err := sess.IsSpeech(make([]int16, 480)); err != nil {
		t.Fatalf("IsSpeech after Reset: %v", err)
	}
}

func TestSession_WrongFrameSize(t *testing.T) {
	t.Parallel()
	sess, err := webrtc.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()
	if _, err := sess.IsSpeech(make([]int16, 480)); !errors.Is(err, vad.ErrFrameSize) {
		t.Fatalf("err = %v, want ErrFrameSize", err)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	t.Parallel()
	sess, err := webrtc.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 10})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.IsSpeech(make([]int16, 160)); !errors.Is(err, webrtc.ErrSessionClosed) {
		t.Fatalf("IsSpeech after Close: err = %v, want ErrSessionClosed", err)
	}
}
