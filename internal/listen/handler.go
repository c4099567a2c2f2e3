// Package listen serves the /v1/listen WebSocket endpoint. A browser client
// streams microphone PCM as binary messages and controls its capture session
// with JSON commands; transcripts, voice activity and status come back as
// JSON events.
package listen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/capture"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/session"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
)

const (
	// maxMessageBytes bounds one client message (about 1 s of 48 kHz stereo).
	maxMessageBytes = 256 << 10

	outboxSize   = 256
	writeTimeout = 5 * time.Second
)

// Option configures a [Handler].
type Option func(*Handler)

// WithAllowedOrigins sets the host patterns accepted for cross-origin
// connections.
func WithAllowedOrigins(patterns []string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithSampleRate sets the sample rate of the mono PCM delivered to the
// recognizer. Defaults to 16 kHz.
func WithSampleRate(rate int) Option {
	return func(h *Handler) { h.target.SampleRate = rate }
}

// WithClientChannels sets the channel count assumed for clients that do not
// pass the channels query parameter. Defaults to 1.
func WithClientChannels(n int) Option {
	return func(h *Handler) { h.clientChannels = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// Handler upgrades requests to WebSocket capture sessions.
type Handler struct {
	sessions *session.Manager
	origins  []string
	target   audio.Format
	log      *slog.Logger

	clientChannels int
}

// New creates a Handler that opens its sessions on m.
func New(m *session.Manager, opts ...Option) *Handler {
	h := &Handler{
		sessions: m,
		target:   audio.Format{SampleRate: 16000, Channels: 1},
		log:      slog.Default(),

		clientChannels: 1,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the listen route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /v1/listen", h)
}

// ServeHTTP implements [http.Handler]. The query parameters sample_rate and
// channels describe the client's PCM format; they default to the recognizer
// sample rate and the configured client channel count.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientFmt, err := h.clientFormat(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("listen: websocket accept", "err", err, "remote_addr", r.RemoteAddr)
		return
	}
	c.SetReadLimit(maxMessageBytes)

	// The request context ends when the handler returns; the connection
	// gets its own lifetime.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	ctx, span := observe.StartSpan(ctx, observe.SpanSession,
		trace.WithAttributes(attribute.String("remote_addr", r.RemoteAddr)))
	defer span.End()

	conn := &conn{
		ws:     c,
		log:    observe.Logger(ctx, h.log).With("remote_addr", r.RemoteAddr),
		source: newClientSource(clientFmt, h.target),
		out:    make(chan Event, outboxSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	conn.mic.Store(true)
	conn.active.Store(true)

	sess, err := h.sessions.Open(ctx, session.OpenRequest{
		Source:     conn.source,
		Callbacks:  conn.callbacks(),
		Gates:      capture.Gates{MicEnabled: conn.mic.Load, SessionActive: conn.active.Load},
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		conn.log.Error("listen: open session", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open session")
		_ = c.Close(websocket.StatusTryAgainLater, "capture unavailable")
		return
	}
	conn.engine = sess.Engine()
	conn.log = conn.log.With("session_id", sess.ID())
	span.SetAttributes(attribute.String("session_id", sess.ID()))

	go conn.writeLoop(ctx)
	conn.send(Event{
		Type:       TypeReady,
		SessionID:  sess.ID(),
		SampleRate: h.target.SampleRate,
		TraceID:    observe.CorrelationID(ctx),
	})
	conn.send(statusEvent(conn.engine.Status()))

	err = conn.readLoop(ctx)

	conn.source.disconnect()
	if cerr := h.sessions.Close(context.WithoutCancel(ctx), sess.ID()); cerr != nil {
		conn.log.Warn("listen: close session", "err", cerr)
	}
	conn.finish()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		conn.log.Info("listen: client disconnected", "dropped_frames", conn.source.droppedFrames())
	case errors.Is(err, context.Canceled):
		conn.log.Warn("listen: connection closed by server")
	default:
		conn.log.Warn("listen: connection ended", "err", err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) clientFormat(r *http.Request) (audio.Format, error) {
	f := audio.Format{SampleRate: h.target.SampleRate, Channels: h.clientChannels}
	q := r.URL.Query()
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 8000 || n > 192000 {
			return f, fmt.Errorf("invalid sample_rate %q", v)
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 1 && n != 2) {
			return f, fmt.Errorf("invalid channels %q", v)
		}
		f.Channels = n
	}
	return f, nil
}

// conn is one client connection.
type conn struct {
	ws     *websocket.Conn
	log    *slog.Logger
	source *clientSource
	engine *capture.Engine
	mic    atomic.Bool
	active atomic.Bool

	out      chan Event
	done     chan struct{}
	finished atomic.Bool
	cancel   context.CancelFunc
}

// callbacks forward engine output to the client. They run on the engine
// goroutine and never block.
func (c *conn) callbacks() capture.Callbacks {
	return capture.Callbacks{
		OnInterimTranscript: func(text string) {
			c.send(Event{Type: TypeInterim, Text: text})
		},
		OnFinalTranscript: func(text string, confidence float64) {
			c.send(Event{Type: TypeFinal, Text: text, Confidence: &confidence})
		},
		OnVoiceActivity: func(level int) {
			c.send(Event{Type: TypeVoiceActivity, Level: &level})
		},
		OnStopped: func(reason capture.StopReason, err error) {
			c.send(stoppedEvent(reason, err))
		},
		OnStatus: func(st capture.Status) {
			c.send(statusEvent(st))
		},
	}
}

// send queues ev for the client. A client that falls behind by a full
// outbox is disconnected.
func (c *conn) send(ev Event) {
	if c.finished.Load() {
		return
	}
	select {
	case c.out <- ev:
	case <-c.done:
	default:
		c.log.Warn("listen: client too slow, closing")
		c.cancel()
	}
}

// finish stops the writer and drops later events.
func (c *conn) finish() {
	if c.finished.CompareAndSwap(false, true) {
		close(c.done)
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case ev := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, ev)
			cancel()
			if err != nil {
				c.log.Debug("listen: write failed", "err", err)
				c.cancel()
				return
			}
		}
	}
}

// readLoop handles client messages until the connection fails.
func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			c.source.push(data)
		case websocket.MessageText:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				c.send(Event{Type: TypeError, Message: "invalid command: " + err.Error()})
				continue
			}
			c.handle(ctx, cmd)
		}
	}
}

func (c *conn) handle(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case TypeStart:
		if err := c.engine.Start(ctx); err != nil {
			c.log.Info("listen: start rejected", "err", err)
			c.send(errorEvent(err))
		}
	case TypeStop:
		if err := c.engine.Stop(ctx); err != nil {
			c.send(errorEvent(err))
		}
	case TypeGates:
		if cmd.MicEnabled != nil {
			c.mic.Store(*cmd.MicEnabled)
		}
		if cmd.SessionActive != nil {
			c.active.Store(*cmd.SessionActive)
		}
		c.log.Debug("listen: gates updated", "mic_enabled", c.mic.Load(), "session_active", c.active.Load())
		c.send(statusEvent(c.engine.Status()))
	default:
		c.send(Event{Type: TypeError, Message: fmt.Sprintf("unknown command type %q", cmd.Type)})
	}
}
