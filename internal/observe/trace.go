package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all Colloquy spans.
const tracerName = "github.com/colloquyhq/colloquy"

// Tracer returns the Colloquy tracer from the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span under the Colloquy tracer. Conversation turn loops
// and the HTTP middleware are the two span roots in this server; the caller
// owns span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID, or "" outside any span. It is
// the value surfaced to clients in the X-Correlation-ID header, which makes
// trace IDs the join key between a client report and the server logs.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default slog logger annotated with trace_id and span_id
// when ctx carries an active span. Turn-loop logging goes through this so
// every line of a conversation's lifetime shares one trace ID.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
