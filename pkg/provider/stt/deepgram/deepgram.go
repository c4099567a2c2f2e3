// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Deepgram keeps a stream open for as long as audio flows, so the recognizer
// lifecycle events are synthesized locally: EventStarted once the socket is
// up, EventError(no-speech) when no words were recognized within the
// configured no-speech timeout, EventEnded when the server closes the stream
// normally, and EventError(network) on any other read failure.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint       = "wss://api.deepgram.com/v1/listen"
	defaultModel           = "nova-3"
	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultNoSpeechTimeout = 8 * time.Second
	closeGrace             = 3 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithNoSpeechTimeout sets how long a stream may run without recognizing any
// words before it is terminated with stt.ErrorNoSpeech. Zero disables it.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.noSpeechTimeout = d
	}
}

// WithEndpoint overrides the streaming endpoint URL. Useful for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey          string
	endpoint        string
	model           string
	language        string
	sampleRate      int
	noSpeechTimeout time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:          apiKey,
		endpoint:        deepgramEndpoint,
		model:           defaultModel,
		language:        defaultLanguage,
		sampleRate:      defaultSampleRate,
		noSpeechTimeout: defaultNoSpeechTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Language, and cfg.Keywords.
//
// Cancelling ctx after StartStream returns aborts the stream with
// stt.ErrorAborted.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		events: make(chan stt.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	sess.emit(stt.Event{Kind: stt.EventStarted})
	if p.noSpeechTimeout > 0 {
		sess.noSpeech = time.AfterFunc(p.noSpeechTimeout, sess.timeoutNoSpeech)
	}

	sess.wg.Add(1)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

var errSessionClosed = errors.New("deepgram: session is closed")

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	events chan stt.Event
	audio  chan []byte

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	noSpeech *time.Timer

	// mu guards the events channel against send-after-close.
	mu       sync.Mutex
	finished bool
	heard    bool
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Events returns the session's event channel.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close asks Deepgram to flush pending audio. Final results for audio already
// sent keep arriving on Events until the server closes the socket, which is
// reported as EventEnded. If the server does not close within closeGrace the
// socket is torn down locally.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.stopNoSpeech()
		s.wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			s.conn.CloseNow()
			return
		}
		time.AfterFunc(closeGrace, func() {
			_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		})
	})
	return nil
}

func (s *session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) stopNoSpeech() {
	if s.noSpeech != nil {
		s.noSpeech.Stop()
	}
}

// timeoutNoSpeech fires when no words were recognized in time.
func (s *session) timeoutNoSpeech() {
	s.mu.Lock()
	heard := s.heard
	s.mu.Unlock()
	if heard {
		return
	}
	s.finish(stt.Event{Kind: stt.EventError, Code: stt.ErrorNoSpeech})
	s.closeOnce.Do(func() { close(s.done) })
	_ = s.conn.Close(websocket.StatusNormalClosure, "no speech")
}

// emit delivers a non-terminal event unless the stream already finished.
func (s *session) emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if ev.Transcript.Text != "" {
		s.heard = true
	}
	s.events <- ev
}

// finish delivers the terminal event and closes the channel. Only the first
// call has any effect.
func (s *session) finish(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.events <- ev
	close(s.events)
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain queued audio so the flush covers everything sent.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and translates them into
// stream events until the socket closes.
func (s *session) readLoop(ctx context.Context) {
	defer s.stopNoSpeech()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.finish(s.terminalFor(ctx, err))
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if t.Text != "" {
			s.stopNoSpeech()
		}

		kind := stt.EventPartial
		if t.IsFinal {
			kind = stt.EventFinal
		}
		s.emit(stt.Event{Kind: kind, Transcript: t})
	}
}

// terminalFor maps a read failure to the terminal stream event.
func (s *session) terminalFor(ctx context.Context, err error) stt.Event {
	switch {
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		return stt.Event{Kind: stt.EventEnded}
	case ctx.Err() != nil:
		return stt.Event{Kind: stt.EventError, Code: stt.ErrorAborted, Err: ctx.Err()}
	case s.closing():
		return stt.Event{Kind: stt.EventEnded}
	case websocket.CloseStatus(err) == websocket.StatusPolicyViolation:
		return stt.Event{Kind: stt.EventError, Code: stt.ErrorServiceNotAllowed, Err: err}
	default:
		return stt.Event{Kind: stt.EventError, Code: stt.ErrorNetwork, Err: err}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}

	return stt.Transcript{
		Text:       strings.TrimSpace(alt.Transcript),
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Timestamp:  seconds(resp.Start),
		Duration:   seconds(resp.Duration),
	}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
