package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// work is the segmentation worker. It is the only goroutine that touches the
// VAD session, the segmenter and the pending list.
//
// Each iteration pops at most one frame, waiting up to the poll timeout,
// and transcribes at most one pending utterance once the backend is ready.
// Utterances therefore reach the backend in the order they were flushed.
// Cancellation is observed at the top of every iteration, so the worker
// exits within one poll timeout plus any in-flight transcription.
func (a *App) work(ctx context.Context) error {
	var pending []segment.Utterance
	for {
		if ctx.Err() != nil {
			a.discard(pending)
			return nil
		}
		if a.ready.State() == stt.Failed {
			a.discard(pending)
			return a.ready.Err()
		}

		f, ok := a.queue.Pop(ctx, a.pollFor)
		switch {
		case ok:
			a.metrics.QueueDepth.Record(ctx, int64(a.queue.Len()))
			if u, flushed := a.seg.Push(f, a.classify(f)); flushed {
				a.enqueue(ctx, u)
				pending = append(pending, u)
			}
		case a.queue.Closed():
			// Capture was stopped underneath us and the queue is drained.
			a.discard(pending)
			return nil
		}

		if len(pending) > 0 && a.ready.State() == stt.Ready && ctx.Err() == nil {
			u := pending[0]
			pending[0] = segment.Utterance{}
			pending = pending[1:]
			a.pending.Add(-1)
			a.metrics.PendingUtterances.Add(ctx, -1)
			a.transcribe(ctx, u)
		}
	}
}

// classify runs the VAD on f. A classification error counts as silence so a
// single bad frame cannot wedge an open utterance.
func (a *App) classify(f audio.Frame) bool {
	speech, err := a.vad.IsSpeech(f.Samples)
	if err != nil {
		slog.Warn("vad classification failed, treating frame as silence", "seq", f.Seq, "err", err)
		return false
	}
	return speech
}

func (a *App) enqueue(ctx context.Context, u segment.Utterance) {
	a.pending.Add(1)
	a.metrics.PendingUtterances.Add(ctx, 1)
	a.metrics.RecordUtterance(ctx, "flushed")
	a.metrics.UtteranceDuration.Record(ctx, u.Duration().Seconds())
	slog.Debug("utterance flushed",
		"seq", u.Seq,
		"frames", u.Len(),
		"speech_frames", u.SpeechFrames,
		"offset", u.Offset(),
		"state", a.ready.State(),
	)

	if a.dumpDir != "" {
		path := filepath.Join(a.dumpDir, fmt.Sprintf("utterance-%06d.wav", u.Seq))
		if err := audio.WriteWAVFile(path, u.PCM(), a.format.SampleRate); err != nil {
			slog.Warn("utterance dump failed", "path", path, "err", err)
		}
	}
}

// discard drops the partial buffer and every queued utterance at shutdown.
func (a *App) discard(pending []segment.Utterance) {
	frames := a.seg.Reset()
	if n := len(pending); n > 0 {
		a.pending.Add(-int64(n))
		a.metrics.PendingUtterances.Add(context.Background(), -int64(n))
		for range n {
			a.metrics.RecordUtterance(context.Background(), "abandoned")
		}
	}
	if frames > 0 || len(pending) > 0 {
		slog.Info("worker stopped with unprocessed audio", "buffered_frames", frames, "pending_utterances", len(pending))
	}
}

// transcribe runs one utterance through the backend and hands the result to
// the sink. Failures drop the utterance.
func (a *App) transcribe(ctx context.Context, u segment.Utterance) {
	name := a.providers.Backend.Name()
	ctx, span := observe.StartTranscribeSpan(ctx, name, u.Seq, u.Duration())

	start := time.Now()
	text, err := a.providers.Backend.Transcribe(ctx, u.Samples())
	latency := time.Since(start)
	observe.EndSpan(span, err)
	a.metrics.STTDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("backend", name)))

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the call; the utterance is abandoned, not failed.
			return
		}
		kind := "transcribe"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			kind = "circuit_open"
		}
		a.metrics.RecordProviderRequest(ctx, name, "error")
		a.metrics.RecordProviderError(ctx, name, kind)
		a.sink.ReportError(&stt.TranscriptionError{Backend: name, Err: err})
		return
	}
	a.metrics.RecordProviderRequest(ctx, name, "ok")

	emitted, err := a.sink.Emit(ctx, transcript.Transcript{
		Seq:      u.Seq,
		Text:     text,
		Backend:  name,
		Offset:   u.Offset(),
		Duration: u.Duration(),
		Latency:  latency,
		Time:     time.Now(),
	})
	if err != nil {
		observe.Logger(ctx).Warn("transcript output failed", "seq", u.Seq, "emitted", emitted, "err", err)
	}
}
