// Package whisper provides an STT provider backed by a local whisper.cpp
// server (the whisper-server binary and its POST /inference endpoint).
//
// whisper.cpp transcribes whole clips, so the provider simulates a stream:
// it buffers incoming PCM, segments utterances with an energy detector, and
// posts each finished utterance as one inference request. Every committed
// utterance is delivered as an EventPartial followed by an EventFinal with
// the same text. whisper.cpp reports no utterance confidence, so finals carry
// confidence 1.
//
// Lifecycle events are synthesized locally: EventStarted as soon as the
// stream opens, EventError(no-speech) when no utterance was committed within
// the no-speech timeout, EventEnded after Close has flushed the last
// utterance, EventError(network) when an inference request fails, and
// EventError(aborted) when the stream context is cancelled.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceThreshold(500*time.Millisecond),
//	)
//	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	h.SendAudio(pcm)
//	for ev := range h.Events() { ... }
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed: whisper.cpp expects 16-bit signed PCM.
	bitsPerSample = 16

	// defaultSpeechLevel is the normalized RMS level (see audio.Level) at or
	// above which a chunk counts as speech. About 300 in int16 units.
	defaultSpeechLevel = 0.01

	defaultLanguage         = "en"
	defaultSampleRate       = 16000
	defaultSilenceThreshold = 500 * time.Millisecond
	defaultMaxUtterance     = 10 * time.Second
	defaultNoSpeechTimeout  = 8 * time.Second
	defaultRequestTimeout   = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

var errSessionClosed = errors.New("whisper: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en"). When empty the server uses the model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent with each request when the
// StreamConfig does not name one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the sample rate assumed when the StreamConfig does not
// carry one. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilenceThreshold sets how much trailing silence ends an utterance.
// Shorter values respond faster but may split sentences. Defaults to 500 ms.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) {
		p.silenceThreshold = d
	}
}

// WithMaxUtterance caps how much continuous speech is buffered before an
// utterance is flushed regardless of silence. Defaults to 10 s.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) {
		p.maxUtterance = d
	}
}

// WithSpeechLevel sets the normalized RMS level at or above which audio
// counts as speech. Defaults to 0.01.
func WithSpeechLevel(level float64) Option {
	return func(p *Provider) {
		p.speechLevel = level
	}
}

// WithNoSpeechTimeout sets how long a stream may run without committing an
// utterance before it ends with stt.ErrorNoSpeech. The timer is held off
// while speech is being buffered. Zero disables it. Defaults to 8 s.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.noSpeechTimeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// Each stream keeps its own buffer and goroutine.
type Provider struct {
	serverURL        string
	model            string
	language         string
	sampleRate       int
	silenceThreshold time.Duration
	maxUtterance     time.Duration
	speechLevel      float64
	noSpeechTimeout  time.Duration
	httpClient       *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL (e.g.
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:        strings.TrimRight(serverURL, "/"),
		language:         defaultLanguage,
		sampleRate:       defaultSampleRate,
		silenceThreshold: defaultSilenceThreshold,
		maxUtterance:     defaultMaxUtterance,
		speechLevel:      defaultSpeechLevel,
		noSpeechTimeout:  defaultNoSpeechTimeout,
		httpClient:       &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a simulated stream. No request is made until the first
// utterance is flushed, so the only failure is an already cancelled ctx.
// Cancelling ctx later aborts the stream with stt.ErrorAborted.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	s := &session{
		p:        p,
		language: p.language,
		format:   audio.Format{SampleRate: p.sampleRate, Channels: 1},
		events:   make(chan stt.Event, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	if cfg.Language != "" {
		s.language = cfg.Language
	}
	if cfg.SampleRate > 0 {
		s.format.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		s.format.Channels = cfg.Channels
	}

	s.emit(stt.Event{Kind: stt.EventStarted})
	go s.processLoop(ctx)
	return s, nil
}

// ---- session ----

// session is one simulated stream. Buffer and segmentation state is owned by
// processLoop.
type session struct {
	p        *Provider
	language string
	format   audio.Format

	events chan stt.Event
	audio  chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// mu guards the events channel against send-after-close.
	mu       sync.Mutex
	finished bool
}

// SendAudio queues a chunk of 16-bit little-endian PCM in the stream's
// format. Calling SendAudio after Close returns an error.
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

// Close stops accepting audio. Speech still buffered is transcribed and
// delivered before EventEnded. Close does not wait for that flush.
func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// emit delivers a non-terminal event unless the stream already finished.
func (s *session) emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
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

// utterance accumulates the PCM of the speech segment being recorded.
type utterance struct {
	pcm     []byte
	speech  bool
	silence time.Duration
	start   time.Duration
}

func (u *utterance) reset() { *u = utterance{} }

// processLoop segments the audio, posts finished utterances and emits the
// resulting events until the stream ends.
func (s *session) processLoop(ctx context.Context) {
	var noSpeech <-chan time.Time
	if s.p.noSpeechTimeout > 0 {
		t := time.NewTimer(s.p.noSpeechTimeout)
		defer t.Stop()
		noSpeech = t.C
	}

	var (
		cur     utterance
		elapsed time.Duration // stream position of the next chunk
	)
	maxBytes := int(s.p.maxUtterance.Seconds() * float64(s.bytesPerSecond()))

	// flush transcribes the current utterance. It reports false when the
	// stream ended because the request failed.
	flush := func(ctx context.Context) bool {
		u := cur
		cur.reset()
		if !u.speech {
			return true
		}
		text, err := s.infer(ctx, u.pcm)
		if err != nil {
			s.finish(s.terminalFor(ctx, err))
			return false
		}
		if text == "" {
			return true
		}
		noSpeech = nil
		t := stt.Transcript{
			Text:      text,
			Timestamp: u.start,
			Duration:  s.duration(len(u.pcm)),
		}
		s.emit(stt.Event{Kind: stt.EventPartial, Transcript: t})
		t.IsFinal = true
		t.Confidence = 1
		s.emit(stt.Event{Kind: stt.EventFinal, Transcript: t})
		return true
	}

	// record appends chunk to the utterance and reports whether it is due
	// for a flush. Leading silence is discarded.
	record := func(chunk []byte) bool {
		d := s.duration(len(chunk))
		pos := elapsed
		elapsed += d
		if audio.Level(chunk) < s.p.speechLevel {
			if !cur.speech {
				return false
			}
			cur.silence += d
			cur.pcm = append(cur.pcm, chunk...)
			return cur.silence >= s.p.silenceThreshold
		}
		if !cur.speech {
			cur.speech = true
			cur.start = pos
		}
		cur.silence = 0
		cur.pcm = append(cur.pcm, chunk...)
		return maxBytes > 0 && len(cur.pcm) >= maxBytes
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(stt.Event{Kind: stt.EventError, Code: stt.ErrorAborted, Err: ctx.Err()})
			return

		case <-s.done:
			fc, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRequestTimeout)
			defer cancel()
			// Audio queued before Close belongs to the flush.
		drain:
			for {
				select {
				case chunk := <-s.audio:
					if record(chunk) && !flush(fc) {
						return
					}
				default:
					break drain
				}
			}
			if flush(fc) {
				s.finish(stt.Event{Kind: stt.EventEnded})
			}
			return

		case <-noSpeech:
			if cur.speech {
				// Look again once the utterance being recorded is flushed.
				noSpeech = time.After(s.p.noSpeechTimeout)
				continue
			}
			s.finish(stt.Event{Kind: stt.EventError, Code: stt.ErrorNoSpeech})
			s.closeOnce.Do(func() { close(s.done) })
			return

		case chunk := <-s.audio:
			if record(chunk) && !flush(ctx) {
				return
			}
		}
	}
}

// terminalFor maps a failed inference request to the terminal event.
func (s *session) terminalFor(ctx context.Context, err error) stt.Event {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return stt.Event{Kind: stt.EventError, Code: stt.ErrorAborted, Err: err}
	}
	return stt.Event{Kind: stt.EventError, Code: stt.ErrorNetwork, Err: err}
}

func (s *session) bytesPerSecond() int {
	return s.format.SampleRate * s.format.Channels * bitsPerSample / 8
}

func (s *session) duration(n int) time.Duration {
	bps := s.bytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// inferResponse is the JSON body returned by POST /inference.
type inferResponse struct {
	Text string `json:"text"`
}

// infer posts pcm as a WAV upload to the /inference endpoint and returns the
// trimmed transcription.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, s.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"language":        s.language,
		"model":           s.p.model,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// encodeWAV wraps 16-bit little-endian PCM in a RIFF/WAV container.
func encodeWAV(pcm []byte, f audio.Format) []byte {
	blockAlign := f.Channels * bitsPerSample / 8
	byteRate := f.SampleRate * blockAlign

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM header size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // linear PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
