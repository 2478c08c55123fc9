package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/speakwise/pkg/types"
)

const tracerName = "github.com/MrWong99/speakwise"

// attrErrorKind carries the [types.Kind] of a failed operation on spans.
const attrErrorKind = attribute.Key("speakwise.error.kind")

// Tracer returns the speakwise tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it, usually through
// [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan tags span with the kind of err and ends it. Cancelled and
// superseded work is tagged but keeps an unset status; every other failure
// marks the span as an error.
func EndSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	kind := types.KindOf(err)
	span.SetAttributes(attrErrorKind.String(string(kind)))
	if expected(kind) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func expected(k types.Kind) bool {
	return k == types.KindCanceled || k == types.KindSuperseded
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It is the identifier echoed to HTTP clients.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
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
