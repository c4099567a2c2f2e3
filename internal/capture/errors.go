package capture

import (
	"errors"
	"fmt"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// Sentinel errors returned by [Engine.Start].
var (
	// ErrMicDisabled is returned when the microphone gate is closed.
	ErrMicDisabled = errors.New("capture: microphone is disabled")

	// ErrSessionInactive is returned when the session gate is closed.
	ErrSessionInactive = errors.New("capture: session is not active")

	// ErrClosed is returned after the engine has been closed.
	ErrClosed = errors.New("capture: engine closed")
)

// Class groups recognizer error codes by how the engine reacts to them.
type Class int

const (
	// ClassFatal errors stop the session without a restart.
	ClassFatal Class = iota

	// ClassNoSpeech errors are retried under the no-speech budget.
	ClassNoSpeech

	// ClassOther covers every unrecognised code; retried under the smaller
	// error budget.
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassNoSpeech:
		return "no-speech"
	default:
		return "other"
	}
}

// Classify maps a recognizer error code to its [Class].
func Classify(code stt.ErrorCode) Class {
	switch code {
	case stt.ErrorNotAllowed, stt.ErrorServiceNotAllowed, stt.ErrorAudioCapture,
		stt.ErrorNetwork, stt.ErrorAborted:
		return ClassFatal
	case stt.ErrorNoSpeech:
		return ClassNoSpeech
	default:
		return ClassOther
	}
}

// Error is the terminal error of a capture session. Message is suitable for
// showing to the end user.
type Error struct {
	Code    stt.ErrorCode
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("capture: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an [Error] with the user-facing message for code.
func newError(code stt.ErrorCode, cause error) *Error {
	return &Error{Code: code, Message: Message(code), Err: cause}
}

// Message returns the user-facing message for a recognizer error code.
func Message(code stt.ErrorCode) string {
	switch code {
	case stt.ErrorNotAllowed:
		return "Microphone access was denied. Please allow microphone access and try again."
	case stt.ErrorServiceNotAllowed:
		return "Speech recognition is not allowed in this environment."
	case stt.ErrorAudioCapture:
		return "No microphone was found. Please check your audio device."
	case stt.ErrorNetwork:
		return "Network error during speech recognition. Please check your connection."
	case stt.ErrorAborted:
		return "Speech recognition was aborted."
	case stt.ErrorNoSpeech:
		return "No speech detected. Please try again."
	default:
		return fmt.Sprintf("Speech recognition error: %s.", code)
	}
}
