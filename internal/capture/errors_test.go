package capture

import (
	"errors"
	"strings"
	"testing"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code stt.ErrorCode
		want Class
	}{
		{stt.ErrorNotAllowed, ClassFatal},
		{stt.ErrorServiceNotAllowed, ClassFatal},
		{stt.ErrorAudioCapture, ClassFatal},
		{stt.ErrorNetwork, ClassFatal},
		{stt.ErrorAborted, ClassFatal},
		{stt.ErrorNoSpeech, ClassNoSpeech},
		{stt.ErrorLanguageNotSupport, ClassOther},
		{"bad-grammar", ClassOther},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			if got := Classify(tc.code); got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestError(t *testing.T) {
	t.Parallel()
	cause := errors.New("dial tcp: refused")
	err := newError(stt.ErrorNetwork, cause)

	if !errors.Is(err, cause) {
		t.Error("Error does not unwrap to its cause")
	}
	var ce *Error
	if !errors.As(error(err), &ce) || ce.Code != stt.ErrorNetwork {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !strings.Contains(err.Error(), "network") {
		t.Errorf("Error() = %q, want code in message", err.Error())
	}
	if got := Message(stt.ErrorNoSpeech); got != "No speech detected. Please try again." {
		t.Errorf("no-speech message = %q", got)
	}
	if got := Message("bad-grammar"); !strings.Contains(got, "bad-grammar") {
		t.Errorf("unknown code message = %q, want code", got)
	}
}
