package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// BackendFactory constructs a recognition backend from its config entry.
// It must not block; slow work belongs in [stt.Backend.Initialize].
type BackendFactory func(ProviderEntry) (stt.Backend, error)

// VADFactory constructs a voice activity detector.
type VADFactory func(VADConfig) (vad.Engine, error)

// Registry maps names to backend and VAD constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	backend map[string]BackendFactory
	vad     map[string]VADFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		backend: make(map[string]BackendFactory),
		vad:     make(map[string]VADFactory),
	}
}

// RegisterBackend registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateBackend instantiates the backend registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateBackend(entry ProviderEntry) (stt.Backend, error) {
	r.mu.RLock()
	factory, ok := r.backend[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend/%q", ErrProviderNotRegistered, entry.Name)
	}
	b, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create backend %q: %w", entry.Name, err)
	}
	return b, nil
}

// CreateVAD instantiates the VAD engine registered under cfg.Name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Name)
	}
	e, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create vad %q: %w", cfg.Name, err)
	}
	return e, nil
}

// BackendNames returns the registered backend names in sorted order.
func (r *Registry) BackendNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backend))
	for name := range r.backend {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
