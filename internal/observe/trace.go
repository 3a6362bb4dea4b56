package observe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for recognition spans.
const (
	AttrBackend          = attribute.Key("stt.backend")
	AttrUtteranceSeq     = attribute.Key("utterance.seq")
	AttrUtteranceAudioMs = attribute.Key("utterance.audio_ms")
)

// tracerName is the instrumentation scope name for the earshot tracer.
const tracerName = "github.com/MrWong99/earshot"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTranscribeSpan starts the span covering one backend call for the
// utterance with the given sequence number and audio length.
func StartTranscribeSpan(ctx context.Context, backend string, seq uint64, audio time.Duration) (context.Context, trace.Span) {
	return StartSpan(ctx, "stt.transcribe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrBackend.String(backend),
			AttrUtteranceSeq.Int64(int64(seq)),
			AttrUtteranceAudioMs.Int64(audio.Milliseconds()),
		),
	)
}

// EndSpan records err on span, if any, and ends it. A context cancellation
// means the call was abandoned at shutdown; it is recorded as an event
// without marking the span as failed.
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.AddEvent("canceled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
