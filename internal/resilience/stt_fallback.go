package resilience

import (
	"context"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// recognizer backends. Each backend has its own circuit breaker. Failover
// happens only while opening a stream; once a session is handed out its
// errors belong to the capture engine.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// When m is non-nil every stream attempt is counted per backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, m *observe.Metrics) *STTFallback {
	if m != nil {
		next := cfg.OnAttempt
		cfg.OnAttempt = func(name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.RecordProviderRequest(context.Background(), name, "stt", status)
			if next != nil {
				next(name, err)
			}
		}
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus {
	return f.group.Status()
}

// StartStream opens a streaming transcription session against the first healthy
// provider.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
