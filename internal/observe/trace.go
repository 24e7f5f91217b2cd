package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxloop"

// Span attribute keys shared by the pipeline stages.
const (
	UtteranceIDKey   = attribute.Key("voxloop.utterance.id")
	UtteranceKindKey = attribute.Key("voxloop.utterance.kind")
	ProviderKey      = attribute.Key("voxloop.provider")
	ClipPathKey      = attribute.Key("voxloop.clip.path")
)

// Tracer returns the voxloop tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. When ctx carries an utterance ID
// (see [WithUtterance]) the span is tagged with it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := UtteranceID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(UtteranceIDKey.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// Fail marks span as failed with err. A nil err is ignored.
func Fail(span trace.Span, err error, msg string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

type utteranceKey struct{}

// WithUtterance tags ctx with the utterance being processed so spans and
// log lines derived from it carry the ID.
func WithUtterance(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, utteranceKey{}, id)
}

// UtteranceID returns the ID stored by [WithUtterance], or "".
func UtteranceID(ctx context.Context) string {
	id, _ := ctx.Value(utteranceKey{}).(string)
	return id
}

// CorrelationID is the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default enriched with whatever ctx knows: the trace
// and span IDs of a valid span and the utterance ID.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := UtteranceID(ctx); id != "" {
		attrs = append(attrs, slog.String("utterance_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
