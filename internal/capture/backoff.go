package capture

import "time"

// Default restart policy values.
const (
	defaultBaseDelay           = 500 * time.Millisecond
	defaultMaxDelay            = 4 * time.Second
	defaultNoSpeechMaxAttempts = 3
	defaultErrorMaxAttempts    = 2
	defaultErrorMinInterval    = 2 * time.Second
	defaultEndedMinInterval    = 1 * time.Second
)

// RestartPolicy bounds how often and how quickly a failed recognition
// attempt is retried.
type RestartPolicy struct {
	// BaseDelay is the delay before the first restart. Doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the restart delay.
	MaxDelay time.Duration

	// NoSpeechMaxAttempts is the restart budget for no-speech errors.
	NoSpeechMaxAttempts int

	// ErrorMaxAttempts is the restart budget for unclassified errors.
	ErrorMaxAttempts int

	// ErrorMinInterval is the minimum time since the previous restart
	// before a recognizer error may trigger another one.
	ErrorMinInterval time.Duration

	// EndedMinInterval is the minimum time since the previous restart
	// before a natural end may trigger another one.
	EndedMinInterval time.Duration
}

// DefaultRestartPolicy returns the policy used when none is configured.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		BaseDelay:           defaultBaseDelay,
		MaxDelay:            defaultMaxDelay,
		NoSpeechMaxAttempts: defaultNoSpeechMaxAttempts,
		ErrorMaxAttempts:    defaultErrorMaxAttempts,
		ErrorMinInterval:    defaultErrorMinInterval,
		EndedMinInterval:    defaultEndedMinInterval,
	}
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	d := DefaultRestartPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.NoSpeechMaxAttempts <= 0 {
		p.NoSpeechMaxAttempts = d.NoSpeechMaxAttempts
	}
	if p.ErrorMaxAttempts <= 0 {
		p.ErrorMaxAttempts = d.ErrorMaxAttempts
	}
	if p.ErrorMinInterval <= 0 {
		p.ErrorMinInterval = d.ErrorMinInterval
	}
	if p.EndedMinInterval <= 0 {
		p.EndedMinInterval = d.EndedMinInterval
	}
	return p
}

// Delay returns the wait before restart number attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RestartPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// budget returns the attempt cap for a retryable error class.
func (p RestartPolicy) budget(c Class) int {
	if c == ClassNoSpeech {
		return p.NoSpeechMaxAttempts
	}
	return p.ErrorMaxAttempts
}

// allows reports whether a restart may be scheduled at now given the number
// of restarts so far and the time of the previous one.
func allows(attempts, maxAttempts int, last, now time.Time, minInterval time.Duration) bool {
	if maxAttempts >= 0 && attempts >= maxAttempts {
		return false
	}
	return last.IsZero() || now.Sub(last) >= minInterval
}
