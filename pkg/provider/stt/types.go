package stt

import (
	"fmt"
	"time"
)

// Transcript represents one recognition result.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a committed result or an interim guess.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0).
	Confidence float64

	// Words contains per-word detail when available. May be nil.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from recognizers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Kubernetes").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// EventKind enumerates recognizer stream events.
type EventKind int

const (
	// EventStarted is delivered once the backend has begun recognizing.
	EventStarted EventKind = iota

	// EventPartial carries an interim, replaceable transcript.
	EventPartial

	// EventFinal carries a committed transcript with a confidence score.
	EventFinal

	// EventError is a terminal event carrying an [ErrorCode].
	EventError

	// EventEnded is a terminal event: the backend finished without error.
	EventEnded
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether k ends a stream.
func (k EventKind) Terminal() bool {
	return k == EventError || k == EventEnded
}

// ErrorCode classifies a recognizer failure. The values follow the error
// vocabulary of browser speech recognition so that front ends can share
// message tables.
type ErrorCode string

const (
	ErrorNoSpeech           ErrorCode = "no-speech"
	ErrorAborted            ErrorCode = "aborted"
	ErrorAudioCapture       ErrorCode = "audio-capture"
	ErrorNetwork            ErrorCode = "network"
	ErrorNotAllowed         ErrorCode = "not-allowed"
	ErrorServiceNotAllowed  ErrorCode = "service-not-allowed"
	ErrorLanguageNotSupport ErrorCode = "language-not-supported"
)

// Event is a single item on a [SessionHandle] event channel.
type Event struct {
	// Kind identifies the event.
	Kind EventKind

	// Transcript is set for EventPartial and EventFinal.
	Transcript Transcript

	// Code is set for EventError.
	Code ErrorCode

	// Err optionally carries the underlying cause of an EventError.
	Err error
}

// String renders the event for logs.
func (e Event) String() string {
	switch e.Kind {
	case EventPartial, EventFinal:
		return fmt.Sprintf("%s(%q, %.2f)", e.Kind, e.Transcript.Text, e.Transcript.Confidence)
	case EventError:
		return fmt.Sprintf("error(%s)", e.Code)
	default:
		return e.Kind.String()
	}
}
