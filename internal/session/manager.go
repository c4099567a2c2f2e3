// Package session tracks the live capture sessions of a listend process.
//
// A [Manager] creates one [capture.Engine] per connected client, keys it by a
// random UUID, and closes every engine on shutdown. When a [Publisher] is
// configured, accepted finals and terminal stops are forwarded to it tagged
// with the session ID.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/capture"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

var (
	// ErrClosed is returned by [Manager.Open] after [Manager.Shutdown].
	ErrClosed = errors.New("session: manager closed")

	// ErrNotFound is returned when no session has the requested ID.
	ErrNotFound = errors.New("session: not found")

	// ErrNoProvider is returned by [Manager.Open] when no recognizer is
	// configured.
	ErrNoProvider = errors.New("session: no speech recognizer configured")
)

// Publisher receives transcript events for out-of-process consumers.
// Calls are made on the engine goroutine and must not block.
type Publisher interface {
	PublishFinal(ctx context.Context, sessionID, text string, confidence float64)
	PublishStopped(ctx context.Context, sessionID string, reason capture.StopReason, err error)
}

// Info holds metadata about a session.
type Info struct {
	// ID is the session's UUID.
	ID string

	// RemoteAddr identifies the client that opened the session.
	RemoteAddr string

	// StartedAt is when the session was opened.
	StartedAt time.Time

	// Status is the engine's latest snapshot.
	Status capture.Status
}

// Session is one client's capture engine.
type Session struct {
	id         string
	remoteAddr string
	startedAt  time.Time
	engine     *capture.Engine
}

// ID returns the session's UUID.
func (s *Session) ID() string { return s.id }

// Engine returns the session's capture engine.
func (s *Session) Engine() *capture.Engine { return s.engine }

// Info returns a metadata snapshot.
func (s *Session) Info() Info {
	return Info{
		ID:         s.id,
		RemoteAddr: s.remoteAddr,
		StartedAt:  s.startedAt,
		Status:     s.engine.Status(),
	}
}

// OpenRequest describes a session to open.
type OpenRequest struct {
	// Source delivers the client's audio.
	Source audio.Source

	// Callbacks receive the engine's events. The manager wraps them to
	// forward finals and stops to the Publisher.
	Callbacks capture.Callbacks

	// Gates are the client's start preconditions.
	Gates capture.Gates

	// RemoteAddr is recorded for diagnostics.
	RemoteAddr string
}

// Option configures a [Manager].
type Option func(*Manager)

// WithConfigSource sets the function that yields the engine tuning for new
// sessions. It is consulted on every Open so hot-reloaded settings apply to
// sessions opened afterwards.
func WithConfigSource(f func() capture.Config) Option {
	return func(m *Manager) { m.configFn = f }
}

// WithPublisher forwards finals and stops to p.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithEngineOptions appends options passed to every engine.
func WithEngineOptions(opts ...capture.Option) Option {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// Manager owns the capture sessions of the process.
// All exported methods are safe for concurrent use.
type Manager struct {
	provider   stt.Provider
	configFn   func() capture.Config
	pub        Publisher
	metrics    *observe.Metrics
	log        *slog.Logger
	engineOpts []capture.Option
	newID      func() string

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a Manager whose sessions recognize speech with provider.
// provider may be nil, in which case Open fails with [ErrNoProvider].
func NewManager(provider stt.Provider, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		configFn: capture.DefaultConfig,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Open creates a session and its engine. The engine starts idle.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if m.provider == nil {
		return nil, ErrNoProvider
	}
	if req.Source == nil {
		return nil, errors.New("session: open: audio source is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	id := m.newID()
	log := m.log.With("session_id", id)
	cb := m.wrapCallbacks(id, req.Callbacks)

	opts := make([]capture.Option, 0, len(m.engineOpts)+4)
	opts = append(opts,
		capture.WithConfig(m.configFn()),
		capture.WithGates(req.Gates),
		capture.WithLogger(log),
		capture.WithMetrics(m.metrics),
		capture.WithTraceParent(ctx),
	)
	opts = append(opts, m.engineOpts...)

	s := &Session{
		id:         id,
		remoteAddr: req.RemoteAddr,
		startedAt:  time.Now().UTC(),
		engine:     capture.New(m.provider, req.Source, cb, opts...),
	}
	m.sessions[id] = s
	m.metrics.ActiveSessions.Add(ctx, 1)

	log.Info("session opened", "remote_addr", req.RemoteAddr, "active", len(m.sessions))
	return s, nil
}

// wrapCallbacks forwards finals and stops to the publisher after the
// caller's own callbacks ran.
func (m *Manager) wrapCallbacks(id string, cb capture.Callbacks) capture.Callbacks {
	if m.pub == nil {
		return cb
	}
	pub := m.pub
	final, stopped := cb.OnFinalTranscript, cb.OnStopped
	cb.OnFinalTranscript = func(text string, confidence float64) {
		if final != nil {
			final(text, confidence)
		}
		pub.PublishFinal(context.Background(), id, text, confidence)
	}
	cb.OnStopped = func(reason capture.StopReason, err error) {
		if stopped != nil {
			stopped(reason, err)
		}
		pub.PublishStopped(context.Background(), id, reason, err)
	}
	return cb
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close removes the session and releases its engine.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.release(ctx, s)
}

func (m *Manager) release(ctx context.Context, s *Session) error {
	err := s.engine.Close()
	m.metrics.ActiveSessions.Add(ctx, -1)
	m.log.Info("session closed", "session_id", s.id, "duration", time.Since(s.startedAt).Round(time.Millisecond))
	return err
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns a snapshot of every open session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		if c := a.startedAt.Compare(b.startedAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	out := make([]Info, len(sessions))
	for i, s := range sessions {
		out[i] = s.Info()
	}
	return out
}

// Shutdown closes every session and rejects further Opens. It returns the
// joined engine close errors. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := m.release(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
		}
	}
	if len(sessions) > 0 {
		m.log.Info("session manager shut down", "closed", len(sessions))
	}
	return errors.Join(errs...)
}
