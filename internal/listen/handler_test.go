package listen

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/session"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
	sttmock "github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt/mock"
)

type testServer struct {
	url      string
	provider *sttmock.Provider
	sessions *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	log := slog.New(slog.DiscardHandler)
	provider := &sttmock.Provider{}
	mgr := session.NewManager(provider, session.WithMetrics(metrics), session.WithLogger(log))

	mux := http.NewServeMux()
	New(mgr, WithLogger(log)).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Shutdown(context.Background())
	})
	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen",
		provider: provider,
		sessions: mgr,
	}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(t.Context(), s.url+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func command(t *testing.T, c *websocket.Conn, cmd string) {
	t.Helper()
	if err := c.Write(t.Context(), websocket.MessageText, []byte(cmd)); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

// expect reads events until one satisfies match. Voice activity and other
// non-matching events are skipped.
func expect(t *testing.T, c *websocket.Conn, desc string, match func(Event) bool) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	for {
		var ev Event
		if err := wsjson.Read(ctx, c, &ev); err != nil {
			t.Fatalf("waiting for %s: %v", desc, err)
		}
		if match(ev) {
			return ev
		}
	}
}

func ofType(typ string) func(Event) bool {
	return func(ev Event) bool { return ev.Type == typ }
}

func inState(state string) func(Event) bool {
	return func(ev Event) bool {
		return ev.Type == TypeStatus && ev.Status != nil && ev.Status.State == state
	}
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// startActive sends start and confirms the recognizer stream.
func startActive(t *testing.T, s *testServer, c *websocket.Conn) *sttmock.Session {
	t.Helper()
	command(t, c, `{"type":"start"}`)
	expect(t, c, "starting", inState("starting"))
	waitUntil(t, "recognizer dial", func() bool { return s.provider.CallCount() == 1 })
	rec := s.provider.Last()
	rec.Start()
	expect(t, c, "active", inState("active"))
	return rec
}

func TestHandler_TranscriptFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.dial(t, "")

	ready := expect(t, c, "ready", ofType(TypeReady))
	if ready.SessionID == "" || ready.SampleRate != 16000 {
		t.Fatalf("ready = %+v", ready)
	}
	if _, ok := s.sessions.Get(ready.SessionID); !ok {
		t.Fatalf("session %q not registered", ready.SessionID)
	}
	expect(t, c, "idle status", inState("idle"))

	rec := startActive(t, s, c)
	rec.Partial("what is a goroutine")
	if ev := expect(t, c, "interim", ofType(TypeInterim)); ev.Text != "what is a goroutine" {
		t.Errorf("interim text = %q", ev.Text)
	}
	rec.Final("what is a goroutine", 0.42)
	rec.Final("a goroutine is a lightweight thread", 0.9)
	ev := expect(t, c, "final", ofType(TypeFinal))
	if ev.Text != "a goroutine is a lightweight thread" || ev.Confidence == nil || *ev.Confidence != 0.9 {
		t.Errorf("final = %+v", ev)
	}

	command(t, c, `{"type":"stop"}`)
	st := expect(t, c, "stopped status", inState("stopped"))
	if st.Status.Listening {
		t.Error("listening after stop")
	}
}

func TestHandler_RecognizerFailureReportsStop(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.dial(t, "")

	rec := startActive(t, s, c)
	rec.Fail(stt.ErrorNotAllowed)

	ev := expect(t, c, "stopped", ofType(TypeStopped))
	if ev.Reason != "fatal" || ev.Code != "not-allowed" || ev.Message == "" {
		t.Errorf("stopped = %+v", ev)
	}
	st := expect(t, c, "stopped status", inState("stopped"))
	if st.Status.LastErrorCode != "not-allowed" {
		t.Errorf("last_error_code = %q", st.Status.LastErrorCode)
	}
}

func TestHandler_GatesRejectStart(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.dial(t, "")
	expect(t, c, "ready", ofType(TypeReady))

	command(t, c, `{"type":"gates","mic_enabled":false}`)
	expect(t, c, "gates status", ofType(TypeStatus))
	command(t, c, `{"type":"start"}`)
	if ev := expect(t, c, "error", ofType(TypeError)); ev.Code != "mic-disabled" {
		t.Errorf("error = %+v, want mic-disabled", ev)
	}

	command(t, c, `{"type":"gates","mic_enabled":true,"session_active":false}`)
	expect(t, c, "gates status", ofType(TypeStatus))
	command(t, c, `{"type":"start"}`)
	if ev := expect(t, c, "error", ofType(TypeError)); ev.Code != "session-inactive" {
		t.Errorf("error = %+v, want session-inactive", ev)
	}
	if n := s.provider.CallCount(); n != 0 {
		t.Errorf("recognizer dials = %d, want 0", n)
	}
}

func TestHandler_InvalidCommands(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.dial(t, "")
	expect(t, c, "ready", ofType(TypeReady))

	command(t, c, `{not json`)
	if ev := expect(t, c, "error", ofType(TypeError)); !strings.Contains(ev.Message, "invalid command") {
		t.Errorf("error = %+v", ev)
	}
	command(t, c, `{"type":"rewind"}`)
	if ev := expect(t, c, "error", ofType(TypeError)); !strings.Contains(ev.Message, "rewind") {
		t.Errorf("error = %+v", ev)
	}
}

func TestHandler_ConvertsClientAudio(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.dial(t, "?sample_rate=48000&channels=2")

	rec := startActive(t, s, c)

	// 20 ms of 48 kHz stereo becomes 20 ms of 16 kHz mono.
	pcm := make([]byte, 48000/50*2*2)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i], pcm[i+1] = 0x00, 0x40
	}
	if err := c.Write(t.Context(), websocket.MessageBinary, pcm); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	waitUntil(t, "audio forwarded", func() bool { return rec.AudioChunks() > 0 })
	if got := len(rec.LastChunk()); got != 16000/50*2 {
		t.Errorf("forwarded chunk = %d bytes, want %d", got, 16000/50*2)
	}
	if ev := expect(t, c, "voice activity", ofType(TypeVoiceActivity)); ev.Level == nil {
		t.Errorf("voice_activity without level: %+v", ev)
	}
}

func TestHandler_BadFormatRejected(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	for _, q := range []string{"?sample_rate=abc", "?sample_rate=100", "?channels=6"} {
		_, resp, err := websocket.Dial(t.Context(), s.url+q, nil)
		if err == nil {
			t.Errorf("%s: expected dial error", q)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: response = %v, want 400", q, resp)
		}
	}
}

func TestHandler_DisconnectClosesSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	c := s.dial(t, "")

	rec := startActive(t, s, c)
	if err := c.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}

	waitUntil(t, "session removed", func() bool { return s.sessions.Len() == 0 })
	waitUntil(t, "recognizer closed", func() bool { return rec.Closes() > 0 })
}

func TestHandler_SessionTrace(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	named := func(name string) tracetest.SpanStubs {
		var out tracetest.SpanStubs
		for _, s := range exp.GetSpans() {
			if s.Name == name {
				out = append(out, s)
			}
		}
		return out
	}

	s := newTestServer(t)
	c := s.dial(t, "")
	ready := expect(t, c, "ready", ofType(TypeReady))
	if len(ready.TraceID) != 32 {
		t.Fatalf("ready trace_id = %q, want a trace ID", ready.TraceID)
	}

	command(t, c, `{"type":"start"}`)
	waitUntil(t, "dial span", func() bool { return len(named(observe.SpanDial)) == 1 })
	if got := named(observe.SpanDial)[0].SpanContext.TraceID().String(); got != ready.TraceID {
		t.Errorf("dial trace = %s, want the session trace %s", got, ready.TraceID)
	}

	if err := c.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitUntil(t, "session span", func() bool { return len(named(observe.SpanSession)) == 1 })
	sp := named(observe.SpanSession)[0]
	if sp.SpanContext.TraceID().String() != ready.TraceID {
		t.Errorf("session span trace = %s, want %s", sp.SpanContext.TraceID(), ready.TraceID)
	}
	var sessionID string
	for _, kv := range sp.Attributes {
		if kv.Key == "session_id" {
			sessionID = kv.Value.AsString()
		}
	}
	if sessionID != ready.SessionID {
		t.Errorf("session span session_id = %q, want %q", sessionID, ready.SessionID)
	}
}
