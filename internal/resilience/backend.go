package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Backend implements [stt.Backend] on top of a primary backend and optional
// fallbacks, each guarded by its own circuit breaker. With no fallbacks it is
// simply a breaker around the primary.
type Backend struct {
	primary stt.Backend
	group   *FallbackGroup[stt.Backend]
}

var (
	_ stt.Backend      = (*Backend)(nil)
	_ stt.AssetChecker = (*Backend)(nil)
)

// NewBackend wraps primary. The breaker's name is the backend's Name.
func NewBackend(primary stt.Backend, cfg CircuitBreakerConfig) *Backend {
	return &Backend{
		primary: primary,
		group:   NewFallbackGroup(primary, primary.Name(), FallbackConfig{CircuitBreaker: cfg}),
	}
}

// AddFallback registers fallback to be tried when the primary fails or its breaker
// is open.
func (b *Backend) AddFallback(fallback stt.Backend) {
	b.group.AddFallback(fallback.Name(), fallback)
}

// Name reports the primary's name.
func (b *Backend) Name() string { return b.primary.Name() }

// Breaker returns the circuit breaker guarding the named backend.
func (b *Backend) Breaker(name string) *CircuitBreaker { return b.group.Breaker(name) }

// Initialize initialises every backend concurrently. Backends that fail are
// excluded from transcription. It returns an error only if none succeeded.
func (b *Backend) Initialize(ctx context.Context) error {
	type entry struct {
		name string
		be   stt.Backend
	}
	var entries []entry
	b.group.Each(func(name string, be stt.Backend) {
		entries = append(entries, entry{name, be})
	})

	errs := make([]error, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			errs[i] = e.be.Initialize(ctx)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for i, e := range entries {
		if errs[i] != nil {
			b.group.SetEnabled(e.name, false)
			if len(entries) > 1 {
				slog.Warn("backend failed to initialise, excluded", "backend", e.name, "error", errs[i])
			}
			errs[i] = fmt.Errorf("%s: %w", e.name, errs[i])
			continue
		}
		ok++
	}
	if ok == 0 {
		if len(errs) == 1 {
			return errors.Unwrap(errs[0])
		}
		return errors.Join(errs...)
	}
	return nil
}

// Transcribe implements [stt.Backend]. When every breaker is open the error
// wraps [ErrCircuitOpen].
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (string, error) {
	return ExecuteWithResult(b.group, func(be stt.Backend) (string, error) {
		return be.Transcribe(ctx, samples)
	})
}

// AssetPaths returns the asset paths of every wrapped backend.
func (b *Backend) AssetPaths() []string {
	var paths []string
	b.group.Each(func(_ string, be stt.Backend) {
		if ac, ok := be.(stt.AssetChecker); ok {
			paths = append(paths, ac.AssetPaths()...)
		}
	})
	return paths
}

// Close closes every wrapped backend once.
func (b *Backend) Close() error {
	var errs []error
	b.group.Each(func(name string, be stt.Backend) {
		if err := be.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}
