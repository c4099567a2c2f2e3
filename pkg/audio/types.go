package audio

import "time"

// AudioFrame is one chunk of captured audio.
type AudioFrame struct {
	// Data is little-endian signed 16-bit PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT, 48000 for browser capture).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
