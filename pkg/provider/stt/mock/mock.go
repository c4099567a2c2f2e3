// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify how often and with which StreamConfig streams are
// opened. Use Session to script the event sequence a recognizer emits and to
// inspect which audio chunks were delivered.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess := p.Last()
//	sess.Emit(stt.Event{Kind: stt.EventStarted})
//	sess.Fail(stt.ErrorNoSpeech)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Queue holds sessions handed out by StartStream in order. When it is
	// empty, StartStream creates a new default Session.
	Queue []*Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions records every session handed out, in order.
	Sessions []*Session

	// started is signalled (non-blocking) on every StartStream call.
	started chan struct{}
}

// StartStream records the call and returns the next session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	var s *Session
	if len(p.Queue) > 0 {
		s = p.Queue[0]
		p.Queue = p.Queue[1:]
	} else {
		s = NewSession()
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Started returns a channel that receives a value on every StartStream call.
// Sends never block; a slow reader may miss signals but CallCount stays exact.
func (p *Provider) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 16)
	}
	return p.started
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Calls returns a copy of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

// Last returns the most recently handed out session, or nil. Thread-safe.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.Sessions = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// errClosed is returned by SendAudio after Close.
var errClosed = errors.New("mock: session closed")

// Session is a mock implementation of stt.SessionHandle. The test scripts the
// event sequence with Emit, End, and Fail.
type Session struct {
	mu sync.Mutex

	events   chan stt.Event
	finished bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioGate, if non-nil, makes SendAudio wait until it is closed,
	// like a recognizer applying backpressure.
	SendAudioGate chan struct{}

	// FlushOnClose keeps the event stream open after Close so the test can
	// script the flushed results and the terminal event. Otherwise Close
	// ends the stream.
	FlushOnClose bool

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan stt.Event, 64)}
}

// Emit delivers ev on the event channel. Terminal events close the channel.
// Emitting after the stream finished is a no-op.
func (s *Session) Emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.events <- ev
	if ev.Kind.Terminal() {
		s.finished = true
		close(s.events)
	}
}

// Start emits EventStarted.
func (s *Session) Start() { s.Emit(stt.Event{Kind: stt.EventStarted}) }

// Partial emits an interim transcript.
func (s *Session) Partial(text string) {
	s.Emit(stt.Event{Kind: stt.EventPartial, Transcript: stt.Transcript{Text: text}})
}

// Final emits a committed transcript.
func (s *Session) Final(text string, confidence float64) {
	s.Emit(stt.Event{Kind: stt.EventFinal, Transcript: stt.Transcript{Text: text, IsFinal: true, Confidence: confidence}})
}

// End emits EventEnded and closes the channel.
func (s *Session) End() { s.Emit(stt.Event{Kind: stt.EventEnded}) }

// Fail emits EventError with code and closes the channel.
func (s *Session) Fail(code stt.ErrorCode) { s.Emit(stt.Event{Kind: stt.EventError, Code: code}) }

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	if s.SendAudioGate != nil {
		<-s.SendAudioGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCallCount > 0 {
		return errClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Events implements stt.SessionHandle.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Close records the call and closes the event channel unless a terminal
// event was already emitted or FlushOnClose is set.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.FlushOnClose && !s.finished {
		s.finished = true
		close(s.events)
	}
	return nil
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// AudioChunks returns the number of SendAudio calls. Thread-safe.
func (s *Session) AudioChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)

// LastChunk returns a copy of the most recent SendAudio chunk, or nil.
// Thread-safe.
func (s *Session) LastChunk() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SendAudioCalls) == 0 {
		return nil
	}
	return append([]byte(nil), s.SendAudioCalls[len(s.SendAudioCalls)-1]...)
}
