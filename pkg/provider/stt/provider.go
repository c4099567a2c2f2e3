// Package stt defines the Provider interface for streaming speech recognizers.
//
// A recognizer is treated as a black box: once a stream is opened it accepts
// raw PCM audio and emits a sequence of [Event] values: one EventStarted,
// any number of EventPartial and EventFinal results, and exactly one terminal
// event (EventError or EventEnded) after which the channel closes.
// Callers can only start, feed, and close a stream and react to its events;
// they cannot query the recognizer's internal state.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// recognition stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider pick its default.
	Language string

	// Keywords is a list of vocabulary hints (candidate names, technologies
	// from a resume) that increase recognition probability for uncommon words.
	Keywords []KeywordBoost
}

// SessionHandle represents one open recognition stream.
//
// Callers must call Close when the stream is no longer needed. Close asks the
// recognizer to flush: final results for audio already sent may still arrive
// on Events before the terminal event. All methods must be safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio matching StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the stream's event channel. It is closed after the
	// terminal event has been delivered.
	Events() <-chan Event

	// Close terminates the stream and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming recognizer backend.
type Provider interface {
	// StartStream opens a new recognition stream. The returned handle is ready
	// to accept audio immediately; EventStarted is delivered once the backend
	// has confirmed the stream.
	//
	// Returns an error if the stream cannot be established (authentication
	// failure, network failure, ctx cancelled).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
