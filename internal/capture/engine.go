// Package capture implements the continuous speech-capture engine: it keeps
// one microphone session listening across recognizer failures, turns raw
// recognizer events into a confidence-gated transcript, and derives a voice
// activity signal from the audio amplitude.
//
// Each [Engine] runs a single goroutine that owns all session state. Caller
// commands, recognizer events, amplitude samples and timer fires are posted
// to that goroutine as messages and handled one at a time. Timers carry the
// generation or sequence number they were armed with, so a fire that lost a
// race with Stop or with a rearm is discarded rather than acted upon.
//
// Callbacks run on the engine goroutine. They must return promptly and must
// not call back into the engine synchronously.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// Default engine tuning.
const (
	DefaultConfidenceThreshold = 0.7
	DefaultSpeechThreshold     = 0.1
	DefaultSilenceTimeout      = 5 * time.Second
	DefaultSampleInterval      = 25 * time.Millisecond
	DefaultStopDrainTimeout    = 1 * time.Second
)

// Config tunes one engine. Zero fields take their defaults.
type Config struct {
	// ConfidenceThreshold is the minimum confidence of a delivered final.
	ConfidenceThreshold float64

	// SpeechThreshold is the amplitude above which a sample counts as speech.
	SpeechThreshold float64

	// SilenceTimeout is how long after the last activity an utterance with
	// pending interim text is considered finished.
	SilenceTimeout time.Duration

	// SampleInterval is the amplitude sampling cadence.
	SampleInterval time.Duration

	// StopDrainTimeout bounds how long a silence stop waits for the
	// recognizer to flush its last results.
	StopDrainTimeout time.Duration

	Restart RestartPolicy

	// Stream holds the recognition hints. Sample rate and channel count are
	// taken from the audio capture.
	Stream stt.StreamConfig
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.StopDrainTimeout <= 0 {
		c.StopDrainTimeout = DefaultStopDrainTimeout
	}
	c.Restart = c.Restart.withDefaults()
	return c
}

// Callbacks receive the engine's output. Any field may be nil.
type Callbacks struct {
	// OnInterimTranscript receives every partial result. An empty string
	// means there is no current interim text.
	OnInterimTranscript func(text string)

	// OnFinalTranscript receives finals whose confidence passed the gate.
	OnFinalTranscript func(text string, confidence float64)

	// OnVoiceActivity receives the voice level (0..MaxVoiceLevel) of every
	// amplitude sample.
	OnVoiceActivity func(level int)

	// OnStopped is called once when the session stops on its own. err is a
	// *Error for failures and nil for silence, natural end, or closed gates.
	// It is not called for Stop.
	OnStopped func(reason StopReason, err error)

	// OnStatus receives the new snapshot whenever the state, the listening
	// flag, the restart count, or the last error changes.
	OnStatus func(Status)
}

// Gates are caller-owned preconditions checked before a start or restart.
// A nil func counts as open.
type Gates struct {
	MicEnabled    func() bool
	SessionActive func() bool
}

func (g Gates) mic() bool     { return g.MicEnabled == nil || g.MicEnabled() }
func (g Gates) session() bool { return g.SessionActive == nil || g.SessionActive() }

// State is the lifecycle state of the capture session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateRestarting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopReason says why a session ended.
type StopReason string

const (
	StopCaller  StopReason = "caller"
	StopFatal   StopReason = "fatal"
	StopBudget  StopReason = "budget"
	StopEnded   StopReason = "ended"
	StopSilence StopReason = "silence"
	StopGated   StopReason = "gated"
	StopClosed  StopReason = "closed"
)

// Status is an immutable snapshot of the engine.
type Status struct {
	State State

	// Active is true while a recognizer stream is confirmed running.
	Active bool

	// Listening is true while the caller wants input and the session has
	// not stopped.
	Listening bool

	// LastError is the error that ended the most recent session, if any.
	LastError error

	RestartAttempts int
	SpeechDetected  bool
	VoiceLevel      int
	Interim         string
}

// Option configures an [Engine].
type Option func(*Engine)

// WithConfig sets the engine tuning.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithGates sets the start preconditions.
func WithGates(g Gates) Option {
	return func(e *Engine) { e.gates = g }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTraceParent parents the engine's spans on the span in ctx. Only the
// span context is kept; cancelling ctx does not affect the engine.
func WithTraceParent(ctx context.Context) Option {
	return func(e *Engine) { e.parent = trace.SpanContextFromContext(ctx) }
}

// Engine is one continuous speech-capture session.
type Engine struct {
	provider stt.Provider
	source   audio.Source
	cb       Callbacks
	gates    Gates
	cfg      Config
	clock    Clock
	log      *slog.Logger
	metrics  *observe.Metrics
	parent   trace.SpanContext

	ctx    context.Context
	cancel context.CancelFunc

	inbox     chan message
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	status    atomic.Pointer[Status]

	// Everything below is owned by the loop goroutine.
	sess     session
	act      *activity
	gate     *gate
	capture  audio.Capture
	mon      *monitor
	monID    uint64
	stream   stt.SessionHandle
	attempt  uint64
	abort    context.CancelFunc
	drain    Timer
	drainSeq uint64
	lastErr  error
}

// New creates an engine and starts its loop. The engine is idle until
// [Engine.Start] is called. Call [Engine.Close] to release it.
func New(provider stt.Provider, source audio.Source, cb Callbacks, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		source:   source,
		cb:       cb,
		clock:    SystemClock{},
		inbox:    make(chan message, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.cfg = e.cfg.withDefaults()
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.ctx, e.cancel = context.WithCancel(trace.ContextWithSpanContext(context.Background(), e.parent))

	e.gate = &gate{
		threshold: e.cfg.ConfidenceThreshold,
		onInterim: func(text string) {
			if e.cb.OnInterimTranscript != nil {
				e.cb.OnInterimTranscript(text)
			}
		},
		onFinal: func(text string, confidence float64) {
			if e.cb.OnFinalTranscript != nil {
				e.cb.OnFinalTranscript(text, confidence)
			}
		},
	}
	e.act = newActivity(e.clock, e.cfg.SpeechThreshold, e.cfg.SilenceTimeout, func(seq uint64) {
		e.post(silenceFired{seq: seq})
	})
	e.publish()

	go e.run()
	return e
}

// Start begins listening. It is a no-op while a session is already starting,
// active or restarting. It returns ErrMicDisabled or ErrSessionInactive when
// a gate is closed and ErrClosed after Close.
func (e *Engine) Start(ctx context.Context) error {
	return e.call(ctx, func(reply chan error) message { return startCmd{reply: reply} })
}

// Stop ends the session, cancels every pending timer and closes the
// recognizer and the audio capture. No callback fires after Stop returns.
// Stop on an idle engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	return e.call(ctx, func(reply chan error) message { return stopCmd{reply: reply} })
}

// Status returns the latest snapshot.
func (e *Engine) Status() Status {
	return *e.status.Load()
}

// Close stops the session and terminates the engine loop. It is safe to
// call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done
		e.cancel()
	})
	return nil
}

func (e *Engine) call(ctx context.Context, mk func(chan error) message) error {
	reply := make(chan error, 1)
	select {
	case e.inbox <- mk(reply):
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers a message from a timer, monitor or stream goroutine.
func (e *Engine) post(m message) {
	select {
	case e.inbox <- m:
	case <-e.done:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			e.shutdown(StopClosed)
			e.publish()
			return
		case m := <-e.inbox:
			e.dispatch(m)
			e.publish()
		}
	}
}

// publish stores a fresh snapshot and reports lifecycle changes to
// OnStatus. Level and interim changes alone are not reported.
func (e *Engine) publish() {
	st := &Status{
		State:           e.sess.state,
		Active:          e.sess.state == StateActive,
		Listening:       e.sess.wantListen,
		LastError:       e.lastErr,
		RestartAttempts: e.sess.restartAttempts,
		SpeechDetected:  e.act.speechDetected,
		VoiceLevel:      e.act.level,
		Interim:         e.gate.interim,
	}
	prev := e.status.Swap(st)
	if prev != nil && e.cb.OnStatus != nil && lifecycleChanged(prev, st) {
		e.cb.OnStatus(*st)
	}
}

func lifecycleChanged(a, b *Status) bool {
	return a.State != b.State ||
		a.Listening != b.Listening ||
		a.RestartAttempts != b.RestartAttempts ||
		a.LastError != b.LastError
}

// ---- messages ----

type message interface{ isMessage() }

type startCmd struct{ reply chan error }

type stopCmd struct{ reply chan error }

// barrier replies once every earlier message has been handled.
type barrier struct{ reply chan error }

type sampleTaken struct {
	monitor   uint64
	amplitude float64
}

type audioLost struct{ monitor uint64 }

type attemptOpened struct {
	attempt uint64
	capture audio.Capture
	stream  stt.SessionHandle
	err     error
}

type streamEvent struct {
	attempt uint64
	ev      stt.Event
}

type restartFired struct{ generation uint64 }

type silenceFired struct{ seq uint64 }

type drainFired struct{ seq uint64 }

func (startCmd) isMessage()      {}
func (stopCmd) isMessage()       {}
func (barrier) isMessage()       {}
func (sampleTaken) isMessage()   {}
func (audioLost) isMessage()     {}
func (attemptOpened) isMessage() {}
func (streamEvent) isMessage()   {}
func (restartFired) isMessage()  {}
func (silenceFired) isMessage()  {}
func (drainFired) isMessage()    {}

func (e *Engine) dispatch(m message) {
	switch m := m.(type) {
	case startCmd:
		err := e.handleStart()
		e.publish()
		m.reply <- err
	case stopCmd:
		e.handleStop()
		e.publish()
		m.reply <- nil
	case barrier:
		m.reply <- nil
	case sampleTaken:
		e.handleSample(m)
	case audioLost:
		e.handleAudioLost(m)
	case attemptOpened:
		e.handleOpened(m)
	case streamEvent:
		e.handleEvent(m)
	case restartFired:
		e.handleRestartFired(m)
	case silenceFired:
		e.handleSilence(m)
	case drainFired:
		if m.seq == e.drainSeq && e.sess.state == StateStopping {
			e.log.Debug("capture: drain timed out")
			e.terminate(StopSilence, nil)
		}
	}
}
