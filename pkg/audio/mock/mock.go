// Package mock provides a scripted [audio.Source] for unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and exposes exported fields that the test
// sets to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: mock.Frames(480, 0, 0, 1000, 1000)}
//	err := src.Start(func(f audio.Frame) { q.Push(f) })
//	<-src.Done()
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. On Start it delivers
// Frames in order from a background goroutine, pacing them by Interval.
type Source struct {
	mu sync.Mutex

	// Frames are delivered in order after Start. Seq and Offset are assigned
	// by the mock.
	Frames []audio.Frame

	// Interval is the delay between deliveries. Zero delivers back-to-back.
	Interval time.Duration

	// FrameDuration is used to compute Offset. Defaults to
	// [audio.DefaultFrameDuration].
	FrameDuration time.Duration

	// StartErr is returned by Start. When set, nothing is delivered.
	StartErr error

	// StopErr is returned by Stop.
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	stop    chan struct{}
	done    chan struct{}
	running bool
}

var _ audio.Source = (*Source)(nil)

// Start implements [audio.Source].
func (s *Source) Start(deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	frames := append([]audio.Frame(nil), s.Frames...)
	interval := s.Interval
	dur := s.FrameDuration
	if dur <= 0 {
		dur = audio.DefaultFrameDuration
	}
	stop, done := s.stop, s.done

	go func() {
		defer close(done)
		for i, f := range frames {
			if interval > 0 {
				select {
				case <-stop:
					return
				case <-time.After(interval):
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
			f.Seq = uint64(i)
			f.Offset = time.Duration(i) * dur
			deliver(f)
		}
	}()
	return nil
}

// Stop implements [audio.Source]. It waits for the delivery goroutine to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	running := s.running
	s.running = false
	stop, done := s.stop, s.done
	err := s.StopErr
	s.mu.Unlock()

	if running {
		close(stop)
		<-done
	}
	return err
}

// Done returns a channel closed once every scripted frame has been delivered
// or the source was stopped. It returns nil before Start.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Frames builds frames of n samples each, one per amplitude. Every sample in
// a frame is set to the given amplitude, which makes energy-based
// classification deterministic.
func Frames(n int, amplitudes ...int16) []audio.Frame {
	out := make([]audio.Frame, len(amplitudes))
	for i, a := range amplitudes {
		samples := make([]int16, n)
		for j := range samples {
			samples[j] = a
		}
		out[i] = audio.Frame{Samples: samples}
	}
	return out
}
