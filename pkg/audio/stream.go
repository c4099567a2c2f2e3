package audio

import "sync"

// Stream is a push-fed [Capture]. A transport that receives audio from
// elsewhere (a WebSocket client, a test) calls Push for every frame. End
// signals that the producer went away, which consumers observe as a closed
// Frames channel without a preceding Close.
//
// Push never blocks: when the buffer is full the frame is dropped and Push
// reports false. Stream is safe for concurrent use.
type Stream struct {
	format Format
	frames chan AudioFrame

	mu     sync.Mutex
	closed bool
}

// Compile-time interface assertion.
var _ Capture = (*Stream)(nil)

// NewStream returns an open Stream delivering frames in format, buffering at
// most buffer frames. A non-positive buffer defaults to 64.
func NewStream(format Format, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{
		format: format,
		frames: make(chan AudioFrame, buffer),
	}
}

// Push enqueues frame. Returns false if the stream is closed or the buffer is
// full.
func (s *Stream) Push(frame AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// End closes the frame channel on behalf of the producer. It is equivalent to
// Close; the distinction exists only at the call site.
func (s *Stream) End() { _ = s.Close() }

// Frames implements [Capture].
func (s *Stream) Frames() <-chan AudioFrame { return s.frames }

// Format implements [Capture].
func (s *Stream) Format() Format { return s.format }

// Close implements [Capture].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether the stream has been closed or ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
