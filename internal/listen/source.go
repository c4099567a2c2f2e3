package listen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
)

// clientSource is the audio device of one WebSocket client. Each Open
// returns a fresh stream; binary messages from the client are converted to
// the recognizer format and pushed into the stream that is currently open.
// When the client goes away the open stream ends, which the engine sees as a
// lost device.
type clientSource struct {
	client audio.Format
	conv   *audio.FormatConverter

	mu      sync.Mutex
	current *audio.Stream
	gone    bool
	dropped int
	offset  int64 // bytes received, for frame timestamps
}

var _ audio.Source = (*clientSource)(nil)

func newClientSource(client, target audio.Format) *clientSource {
	return &clientSource{
		client: client,
		conv:   &audio.FormatConverter{Target: target},
	}
}

// Open implements [audio.Source].
func (s *clientSource) Open(_ context.Context) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return nil, fmt.Errorf("listen: client disconnected: %w", audio.ErrDeviceUnavailable)
	}
	if s.current != nil {
		s.current.End()
	}
	s.current = audio.NewStream(audio.Format{SampleRate: s.conv.Target.SampleRate, Channels: 1}, 0)
	return s.current, nil
}

// push converts one client message and delivers it to the open stream.
// Audio received while no stream is open is discarded.
func (s *clientSource) push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bytesPerSecond := int64(s.client.SampleRate * s.client.Channels * 2)
	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.client.SampleRate,
		Channels:   s.client.Channels,
	}
	if bytesPerSecond > 0 {
		frame.Timestamp = durationOf(s.offset, bytesPerSecond)
	}
	s.offset += int64(len(pcm))

	if s.current == nil || s.current.Closed() {
		return
	}
	out := s.conv.Convert(frame)
	if out.Data == nil {
		return
	}
	if !s.current.Push(out) {
		s.dropped++
	}
}

// disconnect ends the open stream and fails later Opens.
func (s *clientSource) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone = true
	if s.current != nil {
		s.current.End()
	}
}

// droppedFrames reports frames lost to a full stream buffer.
func (s *clientSource) droppedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func durationOf(n, bytesPerSecond int64) time.Duration {
	return time.Duration(n * int64(time.Second) / bytesPerSecond)
}
