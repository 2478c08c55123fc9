package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/speakwise/pkg/types"
)

// exchange is the per-request state shared between [Middleware] and the
// handlers below it.
type exchange struct {
	http.ResponseWriter
	status int
	wrote  bool
	kind   types.Kind
}

func (x *exchange) WriteHeader(code int) {
	if x.wrote {
		return
	}
	x.wrote = true
	x.status = code
	x.ResponseWriter.WriteHeader(code)
}

func (x *exchange) Write(p []byte) (int, error) {
	if !x.wrote {
		x.WriteHeader(http.StatusOK)
	}
	return x.ResponseWriter.Write(p)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (x *exchange) Unwrap() http.ResponseWriter { return x.ResponseWriter }

type exchangeKey struct{}

// NoteError records the kind of err as the outcome of the request in ctx.
// Middleware puts it on the request's span, duration metric and log line.
// Outside [Middleware] it does nothing.
func NoteError(ctx context.Context, err error) {
	if x, ok := ctx.Value(exchangeKey{}).(*exchange); ok && err != nil {
		x.kind = types.KindOf(err)
	}
}

// quietRoutes are polled by orchestrators and scrapers; their completion
// lines are logged at debug level.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// Middleware serves each request inside a server span that continues any W3C
// trace context and echoes the trace ID as X-Correlation-ID.
//
// Spans, the duration metric and the completion log are labelled with the
// matched ServeMux pattern rather than the raw path, plus the error kind a
// handler reported through [NoteError].
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			x := &exchange{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(context.WithValue(ctx, exchangeKey{}, x))
			next.ServeHTTP(x, r)

			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			span.SetName("HTTP " + route)
			span.SetAttributes(semconv.HTTPResponseStatusCode(x.status))
			if x.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(x.status))
			}

			attrs := []attribute.KeyValue{
				attribute.String("method", r.Method),
				attribute.String("path", route),
				attribute.String("status", strconv.Itoa(x.status)),
			}
			if x.kind != "" {
				span.SetAttributes(attrErrorKind.String(string(x.kind)))
				attrs = append(attrs, attribute.String("kind", string(x.kind)))
			}
			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

			level := slog.LevelInfo
			switch {
			case x.status >= http.StatusInternalServerError:
				level = slog.LevelWarn
			case quietRoutes[route]:
				level = slog.LevelDebug
			}
			logAttrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", x.status),
				slog.Duration("duration", duration),
			}
			if x.kind != "" {
				logAttrs = append(logAttrs, slog.String("kind", string(x.kind)))
			}
			Logger(ctx).LogAttrs(ctx, level, "request completed", logAttrs...)
		})
	}
}
