// Package energy implements a [vad.Engine] that gates on frame RMS energy.
//
// It needs no native library and is the fallback when libfvad is unavailable,
// and the engine of choice for deterministic tests.
package energy

import (
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultThreshold is the RMS level used when Config.EnergyThreshold is zero.
const DefaultThreshold = 300.0

// Engine creates energy-gate sessions.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an energy Engine.
func New() Engine { return Engine{} }

// NewSession implements [vad.Engine].
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid config: sample rate %d, frame %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}
	if cfg.EnergyThreshold < 0 {
		return nil, fmt.Errorf("energy: threshold must be >= 0, got %v", cfg.EnergyThreshold)
	}
	if cfg.EnergyThreshold == 0 {
		cfg.EnergyThreshold = DefaultThreshold
	}
	return &session{cfg: cfg}, nil
}

type session struct {
	cfg vad.Config
}

func (s *session) IsSpeech(frame []int16) (bool, error) {
	if err := s.cfg.CheckFrame(frame); err != nil {
		return false, err
	}
	return audio.RMS(frame) >= s.cfg.EnergyThreshold, nil
}

func (s *session) Reset() {}

func (s *session) Close() error { return nil }
