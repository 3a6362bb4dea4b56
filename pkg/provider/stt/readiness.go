package stt

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the initialisation state of a backend.
type State int32

const (
	// Loading is the initial state, held until Initialize returns.
	Loading State = iota

	// Ready means Initialize succeeded and Transcribe may be called.
	Ready

	// Failed means Initialize returned an error. The state is terminal.
	Failed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Readiness publishes the outcome of a backend's asynchronous initialisation.
// It starts in [Loading] and transitions exactly once, to [Ready] or
// [Failed]; later transitions are ignored. Done is closed on that transition,
// so consumers can select on it instead of polling.
//
// All methods are safe for concurrent use.
type Readiness struct {
	state atomic.Int32
	once  sync.Once
	done  chan struct{}
	err   error
}

// NewReadiness returns a Readiness in the [Loading] state.
func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// MarkReady transitions to [Ready]. It reports whether this call performed
// the transition.
func (r *Readiness) MarkReady() bool {
	return r.settle(Ready, nil)
}

// MarkFailed transitions to [Failed] with err. It reports whether this call
// performed the transition.
func (r *Readiness) MarkFailed(err error) bool {
	return r.settle(Failed, err)
}

func (r *Readiness) settle(s State, err error) bool {
	changed := false
	r.once.Do(func() {
		r.err = err
		r.state.Store(int32(s))
		close(r.done)
		changed = true
	})
	return changed
}

// State returns the current state.
func (r *Readiness) State() State {
	return State(r.state.Load())
}

// Done returns a channel that is closed once the state leaves [Loading].
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Err returns the initialisation error once the state is [Failed], and nil
// otherwise. A caller that has observed [Failed] through State always gets
// the error, even if Done is not closed yet.
func (r *Readiness) Err() error {
	// err is written before the state store in settle.
	if r.State() != Failed {
		return nil
	}
	return r.err
}

// Wait blocks until the state leaves [Loading] or ctx is done. It returns the
// settled state and, for [Failed], the initialisation error. When ctx ends
// first it returns [Loading] and ctx.Err().
func (r *Readiness) Wait(ctx context.Context) (State, error) {
	select {
	case <-r.done:
		return r.State(), r.err
	case <-ctx.Done():
		return Loading, ctx.Err()
	}
}
