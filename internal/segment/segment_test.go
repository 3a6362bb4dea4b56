package segment_test

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
)

// cfg20 gives MinSpeechFrames = 10 and MinSilenceFrames = 15 with 20 ms frames.
var cfg20 = segment.Config{
	FrameDuration: 20 * time.Millisecond,
	MinSpeech:     200 * time.Millisecond,
	MinSilence:    300 * time.Millisecond,
}

func mustNew(t *testing.T, cfg segment.Config, opts ...segment.Option) *segment.Segmenter {
	t.Helper()
	s, err := segment.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// feed pushes decisions as frames with consecutive Seq numbers starting at
// *seq and returns every utterance produced.
func feed(s *segment.Segmenter, seq *uint64, decisions ...bool) []segment.Utterance {
	var out []segment.Utterance
	for _, d := range decisions {
		f := audio.Frame{Samples: []int16{int16(*seq)}, Seq: *seq}
		*seq++
		if u, ok := s.Push(f, d); ok {
			out = append(out, u)
		}
	}
	return out
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]bool) []bool {
	var out []bool
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestThresholds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     segment.Config
		want    segment.Thresholds
		wantErr bool
	}{
		{"20ms frames", cfg20, segment.Thresholds{MinSpeechFrames: 10, MinSilenceFrames: 15}, false},
		{
			"30ms frames floor",
			segment.Config{FrameDuration: 30 * time.Millisecond, MinSpeech: 400 * time.Millisecond, MinSilence: 600 * time.Millisecond},
			segment.Thresholds{MinSpeechFrames: 13, MinSilenceFrames: 20},
			false,
		},
		{
			"max utterance",
			segment.Config{FrameDuration: 30 * time.Millisecond, MinSpeech: 400 * time.Millisecond, MinSilence: 600 * time.Millisecond, MaxUtterance: 30 * time.Second},
			segment.Thresholds{MinSpeechFrames: 13, MinSilenceFrames: 20, MaxFrames: 1000},
			false,
		},
		{"speech below one frame", segment.Config{FrameDuration: 30 * time.Millisecond, MinSpeech: 20 * time.Millisecond, MinSilence: time.Second}, segment.Thresholds{}, true},
		{"silence below one frame", segment.Config{FrameDuration: 30 * time.Millisecond, MinSpeech: time.Second, MinSilence: 0}, segment.Thresholds{}, true},
		{"zero frame", segment.Config{MinSpeech: time.Second, MinSilence: time.Second}, segment.Thresholds{}, true},
		{"max too short", segment.Config{FrameDuration: 20 * time.Millisecond, MinSpeech: 200 * time.Millisecond, MinSilence: 300 * time.Millisecond, MaxUtterance: 400 * time.Millisecond}, segment.Thresholds{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Thresholds()
			if tt.wantErr {
				if !errors.Is(err, segment.ErrInvalidConfig) {
					t.Fatalf("err = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Thresholds = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSegmenter_InsufficientSpeechIsDiscarded(t *testing.T) {
	t.Parallel()
	var (
		reasons []segment.DiscardReason
		dropped int
	)
	s := mustNew(t, cfg20, segment.WithDiscardHook(func(r segment.DiscardReason, n int) {
		reasons = append(reasons, r)
		dropped += n
	}))

	var seq uint64
	got := feed(s, &seq, concat(repeat(true, 9), repeat(false, 20))...)
	if len(got) != 0 {
		t.Fatalf("got %d utterances, want 0", len(got))
	}
	if s.Phase() != segment.Idle {
		t.Fatalf("phase = %v, want idle", s.Phase())
	}
	if len(reasons) != 1 || reasons[0] != segment.InsufficientSpeech {
		t.Fatalf("discard reasons = %v, want [insufficient_speech]", reasons)
	}
	// 9 speech + 15 silence were buffered when the silence window closed.
	if dropped != 24 {
		t.Errorf("dropped = %d, want 24", dropped)
	}
}

// A completed silence window closes the buffer even without enough speech,
// so short speech bursts separated by pauses never merge into one utterance.
func TestSegmenter_SilenceWindowSeparatesShortBursts(t *testing.T) {
	t.Parallel()
	var sizes []int
	s := mustNew(t, cfg20, segment.WithDiscardHook(func(r segment.DiscardReason, n int) {
		if r != segment.InsufficientSpeech {
			t.Errorf("discard reason = %v, want insufficient_speech", r)
		}
		sizes = append(sizes, n)
	}))

	var seq uint64
	got := feed(s, &seq, concat(repeat(true, 9), repeat(false, 15), repeat(true, 1), repeat(false, 15))...)
	if len(got) != 0 {
		t.Fatalf("got %d utterances, want 0", len(got))
	}
	if len(sizes) != 2 || sizes[0] != 24 || sizes[1] != 16 {
		t.Fatalf("discarded buffers = %v, want [24 16]", sizes)
	}
	if st := s.State(); st.Phase != segment.Idle || st.Buffered != 0 {
		t.Errorf("state = %+v, want idle and empty", st)
	}
}

func TestSegmenter_FlushesExactUtterance(t *testing.T) {
	t.Parallel()
	s := mustNew(t, cfg20)
	var seq uint64
	got := feed(s, &seq, concat(repeat(true, 10), repeat(false, 15))...)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	u := got[0]
	if u.Len() != 25 {
		t.Fatalf("utterance has %d frames, want 25", u.Len())
	}
	for i, f := range u.Frames {
		if f.Seq != uint64(i) {
			t.Fatalf("frame %d has seq %d: order not preserved", i, f.Seq)
		}
	}
	if u.SpeechFrames != 10 {
		t.Errorf("SpeechFrames = %d, want 10", u.SpeechFrames)
	}
	if u.Duration() != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", u.Duration())
	}
	if s.Phase() != segment.Idle {
		t.Errorf("phase after flush = %v, want idle", s.Phase())
	}
}

func TestSegmenter_LeadingSilenceDropped(t *testing.T) {
	t.Parallel()
	s := mustNew(t, cfg20)
	var seq uint64
	got := feed(s, &seq, concat(repeat(false, 50), repeat(true, 10), repeat(false, 15))...)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	if first := got[0].Frames[0].Seq; first != 50 {
		t.Errorf("utterance starts at seq %d, want 50", first)
	}
}

func TestSegmenter_SpeechRunIsCumulative(t *testing.T) {
	t.Parallel()
	s := mustNew(t, cfg20)
	var seq uint64
	// Five bursts of two speech frames separated by short pauses reach the
	// ten-frame floor together.
	var decisions []bool
	for range 5 {
		decisions = append(decisions, concat(repeat(true, 2), repeat(false, 3))...)
	}
	decisions = append(decisions, repeat(false, 12)...)
	got := feed(s, &seq, decisions...)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	if got[0].SpeechFrames != 10 {
		t.Errorf("SpeechFrames = %d, want 10", got[0].SpeechFrames)
	}
}

func TestSegmenter_SilenceRunResetsOnSpeech(t *testing.T) {
	t.Parallel()
	s := mustNew(t, cfg20)
	var seq uint64
	got := feed(s, &seq, concat(repeat(true, 10), repeat(false, 14), repeat(true, 1), repeat(false, 14))...)
	if len(got) != 0 {
		t.Fatalf("flushed early: %d utterances", len(got))
	}
	st := s.State()
	if st.Phase != segment.Accumulating || st.SpeechRun != 11 || st.SilenceRun != 14 {
		t.Fatalf("state = %+v", st)
	}
	got = feed(s, &seq, false)
	if len(got) != 1 || got[0].Len() != 40 {
		t.Fatalf("want one 40-frame utterance, got %v", len(got))
	}
}

func TestSegmenter_ConsecutiveUtterances(t *testing.T) {
	t.Parallel()
	s := mustNew(t, cfg20)
	var seq uint64
	one := concat(repeat(true, 12), repeat(false, 15))
	got := feed(s, &seq, concat(one, one, one)...)
	if len(got) != 3 {
		t.Fatalf("got %d utterances, want 3", len(got))
	}
	for i, u := range got {
		if u.Seq != uint64(i) {
			t.Errorf("utterance %d has Seq %d", i, u.Seq)
		}
		if u.Len() != 27 {
			t.Errorf("utterance %d has %d frames, want 27", i, u.Len())
		}
	}
}

func TestSegmenter_MaxUtterance(t *testing.T) {
	t.Parallel()
	cfg := cfg20
	cfg.MaxUtterance = time.Second // 50 frames

	t.Run("flushes long speech", func(t *testing.T) {
		s := mustNew(t, cfg)
		var seq uint64
		got := feed(s, &seq, repeat(true, 120)...)
		if len(got) != 2 {
			t.Fatalf("got %d utterances, want 2", len(got))
		}
		for _, u := range got {
			if u.Len() != 50 {
				t.Errorf("utterance has %d frames, want 50", u.Len())
			}
		}
		if st := s.State(); st.Buffered != 20 {
			t.Errorf("buffered = %d, want 20", st.Buffered)
		}
	})

	t.Run("discards sparse speech", func(t *testing.T) {
		var reasons []segment.DiscardReason
		s := mustNew(t, cfg, segment.WithDiscardHook(func(r segment.DiscardReason, _ int) {
			reasons = append(reasons, r)
		}))
		var seq uint64
		// One speech frame every 10 frames never reaches 15 silence frames
		// nor 10 speech frames within 50 frames.
		var d []bool
		for range 6 {
			d = append(d, concat(repeat(true, 1), repeat(false, 9))...)
		}
		if got := feed(s, &seq, d...); len(got) != 0 {
			t.Fatalf("got %d utterances, want 0", len(got))
		}
		if len(reasons) == 0 || reasons[0] != segment.TooLong {
			t.Errorf("reasons = %v, want too_long first", reasons)
		}
	})
}

func TestSegmenter_ResetDiscardsPartialBuffer(t *testing.T) {
	t.Parallel()
	var reason segment.DiscardReason
	s := mustNew(t, cfg20, segment.WithDiscardHook(func(r segment.DiscardReason, _ int) { reason = r }))
	var seq uint64
	feed(s, &seq, concat(repeat(true, 12), repeat(false, 3))...)

	if n := s.Reset(); n != 15 {
		t.Fatalf("Reset dropped %d frames, want 15", n)
	}
	if reason != segment.Reset {
		t.Errorf("reason = %q, want reset", reason)
	}
	if st := s.State(); st != (segment.State{Phase: segment.Idle}) {
		t.Errorf("state after Reset = %+v", st)
	}
	if n := s.Reset(); n != 0 {
		t.Errorf("second Reset dropped %d frames", n)
	}
}

// TestSegmenter_NoStuckState checks on random decision streams that the
// segmenter is Idle with an empty buffer exactly when it should be, and is
// Idle after every flush.
func TestSegmenter_NoStuckState(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(1, 2))
	for trial := range 200 {
		cfg := cfg20
		if trial%2 == 1 {
			cfg.MaxUtterance = time.Duration(25+r.IntN(50)) * cfg.FrameDuration
		}
		s := mustNew(t, cfg)
		if s.Phase() != segment.Idle {
			t.Fatal("new segmenter is not idle")
		}
		pSpeech := r.Float64()
		var seq uint64
		for range 2000 {
			speech := r.Float64() < pSpeech
			_, flushed := s.Push(audio.Frame{Seq: seq}, speech)
			seq++
			st := s.State()
			if flushed && st.Phase != segment.Idle {
				t.Fatalf("trial %d: phase %v after flush", trial, st.Phase)
			}
			idleShape := st.Buffered == 0 && st.SpeechRun == 0 && st.SilenceRun == 0
			if (st.Phase == segment.Idle) != idleShape {
				t.Fatalf("trial %d: inconsistent state %+v", trial, st)
			}
			if st.Phase == segment.Accumulating && st.Buffered != 0 && st.SilenceRun >= s.Thresholds().MinSilenceFrames {
				t.Fatalf("trial %d: silence window passed without flush or discard: %+v", trial, st)
			}
		}
	}
}

func TestUtterance_Samples(t *testing.T) {
	t.Parallel()
	u := segment.Utterance{Frames: []audio.Frame{
		{Samples: []int16{16384, -16384}},
		{Samples: []int16{0}},
	}}
	got := u.Samples()
	want := []float32{0.5, -0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if u.Offset() != 0 {
		t.Errorf("Offset = %v", u.Offset())
	}
}
