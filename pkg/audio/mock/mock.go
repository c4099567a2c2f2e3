// Package mock provides in-memory mock implementations of [audio.Source] and
// [audio.Capture] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(16000)
//	src := &mock.Source{Capture: capture}
//	c, err := src.Open(ctx)
//	capture.FramesCh <- audio.AudioFrame{Data: pcm}
package mock

import (
	"context"
	"sync"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Tests own FramesCh:
// they send frames into it and close it to simulate a lost device.
type Capture struct {
	mu sync.Mutex

	// FramesCh is returned by Frames.
	FramesCh chan audio.AudioFrame

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// CloseErr is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewCapture returns a Capture with a buffered frame channel delivering mono
// audio at sampleRate.
func NewCapture(sampleRate int) *Capture {
	return &Capture{
		FramesCh:     make(chan audio.AudioFrame, 64),
		FormatResult: audio.Format{SampleRate: sampleRate, Channels: 1},
	}
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.FramesCh }

// Format implements [audio.Capture].
func (c *Capture) Format() audio.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.FormatResult
}

// Close implements [audio.Capture]. It records the call but does not close
// FramesCh; the test decides when the channel ends.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return c.CloseErr
}

// Closes returns CloseCallCount. Thread-safe.
func (c *Capture) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCallCount
}

var _ audio.Capture = (*Capture)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Capture is returned by Open. When nil, Open returns a fresh
	// [NewCapture](16000) each call.
	Capture audio.Capture

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCallCount is the number of times Open was called.
	OpenCallCount int
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCallCount++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Capture != nil {
		return s.Capture, nil
	}
	return NewCapture(16000), nil
}

// Opens returns OpenCallCount. Thread-safe.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenCallCount
}

var _ audio.Source = (*Source)(nil)
