package session_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/capture"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/session"
	audiomock "github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio/mock"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
	sttmock "github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt/mock"
)

// fakePublisher records published events.
type fakePublisher struct {
	mu      sync.Mutex
	finals  []string
	stopped []capture.StopReason
	ids     []string
	got     chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{got: make(chan struct{}, 16)}
}

func (p *fakePublisher) PublishFinal(_ context.Context, id, text string, _ float64) {
	p.mu.Lock()
	p.finals = append(p.finals, text)
	p.ids = append(p.ids, id)
	p.mu.Unlock()
	p.got <- struct{}{}
}

func (p *fakePublisher) PublishStopped(_ context.Context, id string, reason capture.StopReason, _ error) {
	p.mu.Lock()
	p.stopped = append(p.stopped, reason)
	p.ids = append(p.ids, id)
	p.mu.Unlock()
	p.got <- struct{}{}
}

func (p *fakePublisher) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.got:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher was not called")
	}
}

func newManager(t *testing.T, provider stt.Provider, opts ...session.Option) (*session.Manager, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	m, err := observe.NewMetrics(metric.NewMeterProvider(metric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]session.Option{
		session.WithMetrics(m),
		session.WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)
	mgr := session.NewManager(provider, opts...)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	return mgr, reader
}

func activeSessions(t *testing.T, reader *metric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(t.Context(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "listend.active_sessions" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func source() *audiomock.Source {
	return &audiomock.Source{Capture: audiomock.NewCapture(16000)}
}

func TestManager_OpenGetClose(t *testing.T) {
	t.Parallel()
	mgr, reader := newManager(t, &sttmock.Provider{})

	s, err := mgr.Open(t.Context(), session.OpenRequest{Source: source(), RemoteAddr: "10.0.0.1:5000"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.ID() == "" {
		t.Fatal("session ID should not be empty")
	}
	if got, ok := mgr.Get(s.ID()); !ok || got != s {
		t.Fatalf("Get(%q) = %v, %v", s.ID(), got, ok)
	}
	if st := s.Engine().Status(); st.State != capture.StateIdle {
		t.Errorf("new engine state = %v, want idle", st.State)
	}
	if info := s.Info(); info.RemoteAddr != "10.0.0.1:5000" || info.StartedAt.IsZero() {
		t.Errorf("Info() = %+v", info)
	}
	if n := activeSessions(t, reader); n != 1 {
		t.Errorf("active sessions = %d, want 1", n)
	}

	if err := mgr.Close(t.Context(), s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := mgr.Get(s.ID()); ok {
		t.Error("session still present after Close")
	}
	if err := mgr.Close(t.Context(), s.ID()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second Close err = %v, want ErrNotFound", err)
	}
	if n := activeSessions(t, reader); n != 0 {
		t.Errorf("active sessions = %d, want 0", n)
	}
	if err := s.Engine().Start(t.Context()); !errors.Is(err, capture.ErrClosed) {
		t.Errorf("Start after Close err = %v, want ErrClosed", err)
	}
}

func TestManager_UniqueIDs(t *testing.T) {
	t.Parallel()
	mgr, _ := newManager(t, &sttmock.Provider{})

	seen := make(map[string]bool)
	for range 5 {
		s, err := mgr.Open(t.Context(), session.OpenRequest{Source: source()})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if seen[s.ID()] {
			t.Fatalf("duplicate session ID %q", s.ID())
		}
		seen[s.ID()] = true
	}
	if mgr.Len() != 5 {
		t.Errorf("Len() = %d, want 5", mgr.Len())
	}
	if got := len(mgr.List()); got != 5 {
		t.Errorf("len(List()) = %d, want 5", got)
	}
}

func TestManager_OpenErrors(t *testing.T) {
	t.Parallel()

	t.Run("no provider", func(t *testing.T) {
		t.Parallel()
		mgr, _ := newManager(t, nil)
		if _, err := mgr.Open(t.Context(), session.OpenRequest{Source: source()}); !errors.Is(err, session.ErrNoProvider) {
			t.Errorf("err = %v, want ErrNoProvider", err)
		}
	})

	t.Run("no source", func(t *testing.T) {
		t.Parallel()
		mgr, _ := newManager(t, &sttmock.Provider{})
		if _, err := mgr.Open(t.Context(), session.OpenRequest{}); err == nil {
			t.Error("expected error for missing source")
		}
	})

	t.Run("after shutdown", func(t *testing.T) {
		t.Parallel()
		mgr, _ := newManager(t, &sttmock.Provider{})
		if err := mgr.Shutdown(t.Context()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		if _, err := mgr.Open(t.Context(), session.OpenRequest{Source: source()}); !errors.Is(err, session.ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	})
}

func TestManager_ShutdownClosesAll(t *testing.T) {
	t.Parallel()
	mgr, reader := newManager(t, &sttmock.Provider{})

	var sessions []*session.Session
	for range 3 {
		s, err := mgr.Open(t.Context(), session.OpenRequest{Source: source()})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		sessions = append(sessions, s)
	}

	if err := mgr.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := mgr.Shutdown(t.Context()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if mgr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", mgr.Len())
	}
	for _, s := range sessions {
		if err := s.Engine().Start(t.Context()); !errors.Is(err, capture.ErrClosed) {
			t.Errorf("session %s: Start err = %v, want ErrClosed", s.ID(), err)
		}
	}
	if n := activeSessions(t, reader); n != 0 {
		t.Errorf("active sessions = %d, want 0", n)
	}
}

func TestManager_ConfigSourceConsultedPerOpen(t *testing.T) {
	t.Parallel()
	calls := 0
	mgr, _ := newManager(t, &sttmock.Provider{}, session.WithConfigSource(func() capture.Config {
		calls++
		return capture.DefaultConfig()
	}))
	for range 2 {
		if _, err := mgr.Open(t.Context(), session.OpenRequest{Source: source()}); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("config source called %d times, want 2", calls)
	}
}

func TestManager_PublishesFinalsAndStops(t *testing.T) {
	t.Parallel()
	provider := &sttmock.Provider{}
	started := provider.Started()
	pub := newFakePublisher()
	mgr, _ := newManager(t, provider, session.WithPublisher(pub))

	var (
		mu          sync.Mutex
		localFinals []string
	)
	s, err := mgr.Open(t.Context(), session.OpenRequest{
		Source: source(),
		Callbacks: capture.Callbacks{
			OnFinalTranscript: func(text string, _ float64) {
				mu.Lock()
				localFinals = append(localFinals, text)
				mu.Unlock()
			},
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Engine().Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer stream was not opened")
	}

	rec := provider.Last()
	rec.Start()
	rec.Final("tell me about yourself", 0.93)
	pub.wait(t)

	rec.Fail(stt.ErrorNotAllowed)
	pub.wait(t)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.finals) != 1 || pub.finals[0] != "tell me about yourself" {
		t.Errorf("published finals = %v", pub.finals)
	}
	if len(pub.stopped) != 1 || pub.stopped[0] != capture.StopFatal {
		t.Errorf("published stops = %v, want [fatal]", pub.stopped)
	}
	for _, id := range pub.ids {
		if id != s.ID() {
			t.Errorf("published session ID %q, want %q", id, s.ID())
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(localFinals) != 1 {
		t.Errorf("caller callback saw %d finals, want 1", len(localFinals))
	}
}
