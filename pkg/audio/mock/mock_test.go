package mock_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mock"
)

func TestSource_DeliversInOrder(t *testing.T) {
	t.Parallel()
	src := &mock.Source{Frames: mock.Frames(4, 0, 100, 200)}

	var (
		mu  sync.Mutex
		got []audio.Frame
	)
	if err := src.Start(func(f audio.Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-src.Done()
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	for i, f := range got {
		if f.Seq != uint64(i) {
			t.Errorf("frame %d: Seq = %d", i, f.Seq)
		}
		if f.Offset != audio.DefaultFrameDuration*time.Duration(i) {
			t.Errorf("frame %d: Offset = %v", i, f.Offset)
		}
		if f.Samples[0] != int16(i*100) {
			t.Errorf("frame %d: amplitude = %d", i, f.Samples[0])
		}
	}
}

func TestSource_StartErr(t *testing.T) {
	t.Parallel()
	want := errors.New("no device")
	src := &mock.Source{StartErr: want}
	if err := src.Start(func(audio.Frame) {}); !errors.Is(err, want) {
		t.Fatalf("Start err = %v, want %v", err, want)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if src.CallCountStart != 1 || src.CallCountStop != 1 {
		t.Errorf("call counts = %d/%d, want 1/1", src.CallCountStart, src.CallCountStop)
	}
}
