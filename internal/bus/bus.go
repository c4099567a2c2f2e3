// Package bus publishes capture events to NATS so other services (scoring,
// note taking, archival) can follow an interview without holding the
// WebSocket.
//
// Subjects are "<prefix>.<session_id>.final" for accepted final transcripts
// and "<prefix>.<session_id>.stopped" for terminal stops. Payloads are JSON.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/capture"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/config"
	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
)

// Defaults applied by [Connect].
const (
	DefaultSubjectPrefix  = "listend"
	DefaultClientName     = "listend"
	DefaultConnectTimeout = 5 * time.Second

	flushTimeout = 2 * time.Second
)

// FinalEvent is the payload of a final subject.
type FinalEvent struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// StoppedEvent is the payload of a stopped subject.
type StoppedEvent struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher wraps a NATS connection. A nil *Publisher is valid and drops
// every event.
type Publisher struct {
	conn    *nats.Conn
	prefix  string
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
}

// Connect dials the NATS server named in cfg.
func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger, m *observe.Metrics) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("bus: no NATS url configured")
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	name := cfg.Name
	if name == "" {
		name = DefaultClientName
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = max(time.Until(dl), time.Millisecond)
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("bus: disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("bus: reconnected to NATS", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to nats: %w", err)
	}

	log.Info("bus: connected to NATS", "url", conn.ConnectedUrlRedacted(), "subject_prefix", prefix)
	return &Publisher{
		conn:    conn,
		prefix:  prefix,
		log:     log,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Subject returns the subject for kind ("final" or "stopped") in a session.
func (p *Publisher) Subject(sessionID, kind string) string {
	return p.prefix + "." + sessionID + "." + kind
}

// PublishFinal publishes an accepted final transcript.
func (p *Publisher) PublishFinal(ctx context.Context, sessionID, text string, confidence float64) {
	if p == nil {
		return
	}
	p.publish(ctx, "final", sessionID, FinalEvent{
		SessionID:  sessionID,
		Text:       text,
		Confidence: confidence,
		At:         p.now().UTC(),
	})
}

// PublishStopped publishes a terminal stop. Recognizer failures carry their
// error code and user-facing message.
func (p *Publisher) PublishStopped(ctx context.Context, sessionID string, reason capture.StopReason, err error) {
	if p == nil {
		return
	}
	ev := StoppedEvent{
		SessionID: sessionID,
		Reason:    string(reason),
		At:        p.now().UTC(),
	}
	var cerr *capture.Error
	if errors.As(err, &cerr) {
		ev.Code = string(cerr.Code)
		ev.Message = cerr.Message
	} else if err != nil {
		ev.Message = err.Error()
	}
	p.publish(ctx, "stopped", sessionID, ev)
}

func (p *Publisher) publish(ctx context.Context, kind, sessionID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Error("bus: marshal event", "kind", kind, "err", err)
		p.metrics.RecordBusPublish(ctx, kind, "error")
		return
	}
	subject := p.Subject(sessionID, kind)
	// Publish buffers in the client and does not wait on the server.
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn("bus: publish failed", "subject", subject, "err", err)
		p.metrics.RecordBusPublish(ctx, kind, "error")
		return
	}
	p.metrics.RecordBusPublish(ctx, kind, "ok")
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Check is a readiness check.
func (p *Publisher) Check(context.Context) error {
	if !p.Healthy() {
		return errors.New("bus: not connected to NATS")
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.log.Info("bus: closing NATS connection")
	if err := p.conn.FlushTimeout(flushTimeout); err != nil {
		p.log.Warn("bus: flush before close", "err", err)
	}
	p.conn.Close()
}
