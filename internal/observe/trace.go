package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every span listend starts.
const tracerName = "github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"

// Span names shared by the packages that trace a capture session.
const (
	// SpanSession covers one client connection from accept to close.
	SpanSession = "listen.session"
	// SpanDial covers one recognizer stream dial.
	SpanDial = "capture.dial"
)

// Tracer returns the listend tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the listend tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID in ctx as lowercase hex, or "" when ctx
// carries no valid span. Clients quote it when reporting a session.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns base annotated with the trace and span IDs in ctx. A nil
// base means slog.Default(). Without a span in ctx, base is returned as is.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
