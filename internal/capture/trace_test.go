package capture

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// useRecordingTracer installs a synchronous in-memory tracer as the global
// provider for the duration of the test. Tests using it must not run in
// parallel.
func useRecordingTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return tp, exp
}

func dialSpans(exp *tracetest.InMemoryExporter) tracetest.SpanStubs {
	var out tracetest.SpanStubs
	for _, s := range exp.GetSpans() {
		if s.Name == observe.SpanDial {
			out = append(out, s)
		}
	}
	return out
}

func TestEngine_DialSpanJoinsSessionTrace(t *testing.T) {
	tp, exp := useRecordingTracer(t)
	ctx, parent := tp.Tracer("test").Start(t.Context(), observe.SpanSession)
	defer parent.End()

	h := newHarness(t, WithTraceParent(ctx))
	h.start()
	s := h.activate(1)
	s.Fail(stt.ErrorNoSpeech)
	h.waitState(StateRestarting)
	h.clk.Advance(defaultBaseDelay)
	h.activate(2)

	spans := dialSpans(exp)
	if len(spans) != 2 {
		t.Fatalf("dial spans = %d, want one per attempt", len(spans))
	}
	for i, sp := range spans {
		if sp.SpanContext.TraceID() != parent.SpanContext().TraceID() {
			t.Errorf("dial %d: trace ID %s, want the session trace", i+1, sp.SpanContext.TraceID())
		}
		if sp.Parent.SpanID() != parent.SpanContext().SpanID() {
			t.Errorf("dial %d: parent %s, want the session span", i+1, sp.Parent.SpanID())
		}
		if sp.Status.Code == codes.Error {
			t.Errorf("dial %d: status %v, want ok", i+1, sp.Status)
		}
	}
	var attempts []int64
	for _, sp := range spans {
		for _, kv := range sp.Attributes {
			if kv.Key == "attempt" {
				attempts = append(attempts, kv.Value.AsInt64())
			}
		}
	}
	if len(attempts) != 2 || attempts[0] >= attempts[1] {
		t.Errorf("attempt attributes = %v, want two increasing values", attempts)
	}
}

func TestEngine_DialSpanRecordsFailure(t *testing.T) {
	_, exp := useRecordingTracer(t)

	h := newHarness(t)
	h.p.StartStreamErr = errors.New("connection refused")
	h.start()
	h.waitState(StateStopped)

	spans := dialSpans(exp)
	if len(spans) != 1 {
		t.Fatalf("dial spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "connection refused" {
		t.Errorf("status = %+v, want error with the dial cause", spans[0].Status)
	}
	if spans[0].Parent.IsValid() {
		t.Error("dial without a trace parent should start a root span")
	}
	if len(spans[0].Events) == 0 {
		t.Error("dial error not recorded on the span")
	}
}
