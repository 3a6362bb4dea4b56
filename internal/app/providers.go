package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/portaudio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Providers holds the pipeline's pluggable parts. main.go populates it via
// the config registry; tests fill it with mocks.
type Providers struct {
	Source  audio.Source
	VAD     vad.Engine
	Backend stt.Backend
}

// BuildProviders instantiates the capture source, VAD engine and backend
// named in cfg.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	engine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, err
	}
	backend, err := BuildBackend(cfg.Backend, reg)
	if err != nil {
		return nil, err
	}
	src := portaudio.New(cfg.Audio.Format(), portaudio.WithDeviceIndex(cfg.Audio.DeviceIndex))
	return &Providers{Source: src, VAD: engine, Backend: backend}, nil
}

// BuildBackend creates the primary backend and its fallbacks and wraps them
// in a [resilience.Backend] so that a failing backend is cut off by its
// circuit breaker instead of stalling every utterance.
func BuildBackend(cfg config.BackendConfig, reg *config.Registry) (stt.Backend, error) {
	primary, err := reg.CreateBackend(cfg.ProviderEntry)
	if err != nil {
		return nil, err
	}
	slog.Info("backend created", "name", cfg.Name, "model", cfg.Model)

	rb := resilience.NewBackend(primary, resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
		HalfOpenMax:  cfg.CircuitBreaker.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("backend circuit breaker state change", "backend", name, "from", from, "to", to)
		},
	})
	for i, entry := range cfg.Fallbacks {
		fb, err := reg.CreateBackend(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		rb.AddFallback(fb)
		slog.Info("fallback backend created", "name", entry.Name, "model", entry.Model)
	}
	return rb, nil
}
