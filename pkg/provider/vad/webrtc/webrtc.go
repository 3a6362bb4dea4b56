// Package webrtc implements a [vad.Engine] backed by libfvad, the standalone
// extraction of the WebRTC voice activity detector, via
// github.com/josharian/fvad.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/josharian/fvad"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Engine creates libfvad sessions.
type Engine struct{}

var _ vad.Engine = Engine{}

// ErrSessionClosed is returned by IsSpeech after Close.
var ErrSessionClosed = errors.New("webrtc: session closed")

// New returns a WebRTC Engine.
func New() Engine { return Engine{} }

// NewSession implements [vad.Engine]. libfvad accepts 8, 16, 32 and 48 kHz
// with 10, 20 or 30 ms frames and modes 0 through 3.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("webrtc: frame size must be 10, 20 or 30 ms, got %d", cfg.FrameSizeMs)
	}
	if cfg.Mode < 0 || cfg.Mode > 3 {
		return nil, fmt.Errorf("webrtc: mode must be 0-3, got %d", cfg.Mode)
	}

	d, err := newDetector(cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, det: d}, nil
}

func newDetector(cfg vad.Config) (*fvad.Detector, error) {
	d := fvad.NewDetector()
	if err := d.SetSampleRate(cfg.SampleRate); err != nil {
		d.Close()
		return nil, fmt.Errorf("webrtc: set sample rate %d: %w", cfg.SampleRate, err)
	}
	if err := d.SetMode(cfg.Mode); err != nil {
		d.Close()
		return nil, fmt.Errorf("webrtc: set mode %d: %w", cfg.Mode, err)
	}
	return d, nil
}

type session struct {
	cfg vad.Config

	mu     sync.Mutex
	det    *fvad.Detector
	closed bool
}

func (s *session) IsSpeech(frame []int16) (bool, error) {
	if err := s.cfg.CheckFrame(frame); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSessionClosed
	}
	active, err := s.det.Process(frame)
	if err != nil {
		return false, fmt.Errorf("webrtc: process: %w", err)
	}
	return active, nil
}

// Reset swaps in a fresh detector, dropping the smoothing history.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	d, err := newDetector(s.cfg)
	if err != nil {
		return
	}
	s.det.Close()
	s.det = d
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.det.Close()
	return nil
}
