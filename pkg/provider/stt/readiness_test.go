package stt_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

func TestReadiness_StartsLoading(t *testing.T) {
	t.Parallel()
	r := stt.NewReadiness()
	if got := r.State(); got != stt.Loading {
		t.Fatalf("State = %v, want loading", got)
	}
	select {
	case <-r.Done():
		t.Fatal("Done closed before any transition")
	default:
	}
	if r.Err() != nil {
		t.Errorf("Err = %v while loading", r.Err())
	}
}

func TestReadiness_TransitionsOnce(t *testing.T) {
	t.Parallel()
	r := stt.NewReadiness()
	if !r.MarkReady() {
		t.Fatal("first MarkReady reported no transition")
	}
	if r.MarkFailed(errors.New("late")) {
		t.Fatal("MarkFailed after Ready reported a transition")
	}
	if r.MarkReady() {
		t.Fatal("second MarkReady reported a transition")
	}
	if got := r.State(); got != stt.Ready {
		t.Errorf("State = %v, want ready", got)
	}
	if r.Err() != nil {
		t.Errorf("Err = %v, want nil", r.Err())
	}
}

func TestReadiness_Failed(t *testing.T) {
	t.Parallel()
	r := stt.NewReadiness()
	boom := errors.New("model corrupt")
	r.MarkFailed(boom)

	st, err := r.Wait(context.Background())
	if st != stt.Failed {
		t.Errorf("Wait state = %v, want failed", st)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Wait err = %v, want %v", err, boom)
	}
	if !errors.Is(r.Err(), boom) {
		t.Errorf("Err = %v, want %v", r.Err(), boom)
	}
}

func TestReadiness_WaitHonoursContext(t *testing.T) {
	t.Parallel()
	r := stt.NewReadiness()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := r.Wait(ctx)
	if st != stt.Loading {
		t.Errorf("state = %v, want loading", st)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestReadiness_ConcurrentSettle(t *testing.T) {
	t.Parallel()
	r := stt.NewReadiness()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var won bool
			if i%2 == 0 {
				won = r.MarkReady()
			} else {
				won = r.MarkFailed(errors.New("x"))
			}
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("%d goroutines won the transition, want 1", winners)
	}
	<-r.Done()
	if r.State() == stt.Loading {
		t.Fatal("state still loading after settle")
	}
}

func TestReadiness_ErrVisibleOnceFailedObserved(t *testing.T) {
	t.Parallel()
	boom := errors.New("out of memory")
	for range 200 {
		r := stt.NewReadiness()
		go r.MarkFailed(boom)
		for r.State() != stt.Failed {
			runtime.Gosched()
		}
		// No wait on Done: the worker reads Err straight after State.
		if !errors.Is(r.Err(), boom) {
			t.Fatalf("Err = %v right after observing failed, want %v", r.Err(), boom)
		}
	}
}

func TestErrors_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")

	var initErr error = &stt.InitError{Backend: "whisper", Err: cause}
	if !errors.Is(initErr, cause) {
		t.Error("InitError does not unwrap to its cause")
	}
	var ie *stt.InitError
	if !errors.As(initErr, &ie) || ie.Backend != "whisper" {
		t.Error("errors.As failed for InitError")
	}

	var txErr error = &stt.TranscriptionError{Backend: "openai", Err: cause}
	if !errors.Is(txErr, cause) {
		t.Error("TranscriptionError does not unwrap to its cause")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for st, want := range map[stt.State]string{
		stt.Loading: "loading", stt.Ready: "ready", stt.Failed: "failed", stt.State(9): "unknown",
	} {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}
