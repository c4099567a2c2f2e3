package listen

import (
	"errors"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/capture"
)

// Client-to-server control message types. Audio travels as binary
// little-endian 16-bit PCM messages.
const (
	TypeStart = "start"
	TypeStop  = "stop"
	TypeGates = "gates"
)

// Server-to-client event types.
const (
	TypeReady         = "ready"
	TypeInterim       = "interim"
	TypeFinal         = "final"
	TypeVoiceActivity = "voice_activity"
	TypeStatus        = "status"
	TypeStopped       = "stopped"
	TypeError         = "error"
)

// Command is a control message sent by the client.
type Command struct {
	Type string `json:"type"`

	// MicEnabled and SessionActive are read for "gates" commands. An
	// omitted field leaves that gate unchanged.
	MicEnabled    *bool `json:"mic_enabled,omitempty"`
	SessionActive *bool `json:"session_active,omitempty"`
}

// Event is a message sent to the client. Only the fields relevant to Type
// are set.
type Event struct {
	Type string `json:"type"`

	SessionID  string `json:"session_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	// TraceID correlates the session with server logs and traces.
	TraceID string `json:"trace_id,omitempty"`

	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Level      *int     `json:"level,omitempty"`

	Status *StatusPayload `json:"status,omitempty"`

	Reason  string `json:"reason,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusPayload mirrors [capture.Status].
type StatusPayload struct {
	State           string `json:"state"`
	Active          bool   `json:"active"`
	Listening       bool   `json:"listening"`
	RestartAttempts int    `json:"restart_attempts"`
	SpeechDetected  bool   `json:"speech_detected"`
	LastErrorCode   string `json:"last_error_code,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

func statusEvent(st capture.Status) Event {
	p := &StatusPayload{
		State:           st.State.String(),
		Active:          st.Active,
		Listening:       st.Listening,
		RestartAttempts: st.RestartAttempts,
		SpeechDetected:  st.SpeechDetected,
	}
	if st.LastError != nil {
		p.LastErrorCode, p.LastError = errorFields(st.LastError)
	}
	return Event{Type: TypeStatus, Status: p}
}

func stoppedEvent(reason capture.StopReason, err error) Event {
	ev := Event{Type: TypeStopped, Reason: string(reason)}
	if err != nil {
		ev.Code, ev.Message = errorFields(err)
	}
	return ev
}

func errorEvent(err error) Event {
	code, msg := errorFields(err)
	return Event{Type: TypeError, Code: code, Message: msg}
}

// errorFields returns the client-facing code and message of err.
func errorFields(err error) (code, message string) {
	var ce *capture.Error
	switch {
	case errors.As(err, &ce):
		return string(ce.Code), ce.Message
	case errors.Is(err, capture.ErrMicDisabled):
		return "mic-disabled", "Microphone is disabled."
	case errors.Is(err, capture.ErrSessionInactive):
		return "session-inactive", "The interview session is not active."
	}
	return "", err.Error()
}
