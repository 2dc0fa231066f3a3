package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseRecorder captures the status code written by the downstream handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so http.ResponseController can reach
// Hijacker/Flusher through the wrapper. The websocket endpoint is served
// behind this middleware and needs the upgrade to work.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware instruments the conversation lifecycle API and the websocket
// endpoint: it continues any incoming W3C trace context, opens a server span,
// stamps X-Correlation-ID from the trace ID, and records request latency.
//
// Spans and latency samples are labeled with the matched route pattern
// (e.g. "/api/conversations/{id}/start"), not the raw URL path, so one
// conversation per request does not become one metric series per request. The
// conversation ID, when the route carries one, goes on the span instead.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method)),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			// The mux fills in Pattern and path values while serving, so the
			// route-shaped labels are only known afterwards.
			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			span.SetName("HTTP " + r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.URLPath(r.URL.Path),
				semconv.HTTPResponseStatusCode(rec.status),
			)
			conversationID := r.PathValue("id")
			if conversationID != "" {
				span.SetAttributes(attribute.String("conversation.id", conversationID))
			}

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
				),
			)

			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
			}
			if conversationID != "" {
				attrs = append(attrs, slog.String("conversation", conversationID))
			}
			slog.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
		})
	}
}
