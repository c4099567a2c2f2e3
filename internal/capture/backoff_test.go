package capture

import (
	"testing"
	"time"
)

func TestRestartPolicy_Delay(t *testing.T) {
	t.Parallel()
	p := DefaultRestartPolicy()

	want := []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		4000 * time.Millisecond,
		4000 * time.Millisecond,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := p.Delay(0); got != 500*time.Millisecond {
		t.Errorf("Delay(0) = %v, want base delay", got)
	}
	if got := p.Delay(64); got != 4*time.Second {
		t.Errorf("Delay(64) = %v, want cap", got)
	}
}

func TestRestartPolicy_Defaults(t *testing.T) {
	t.Parallel()
	p := RestartPolicy{BaseDelay: 250 * time.Millisecond}.withDefaults()
	if p.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay overwritten: %v", p.BaseDelay)
	}
	if p.MaxDelay != 4*time.Second {
		t.Errorf("MaxDelay = %v, want 4s", p.MaxDelay)
	}
	if p.NoSpeechMaxAttempts != 3 || p.ErrorMaxAttempts != 2 {
		t.Errorf("budgets = %d/%d, want 3/2", p.NoSpeechMaxAttempts, p.ErrorMaxAttempts)
	}
	if p.ErrorMinInterval != 2*time.Second || p.EndedMinInterval != time.Second {
		t.Errorf("intervals = %v/%v, want 2s/1s", p.ErrorMinInterval, p.EndedMinInterval)
	}
}

func TestAllows(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		attempts    int
		max         int
		last        time.Time
		minInterval time.Duration
		want        bool
	}{
		{"first restart", 0, 3, time.Time{}, 2 * time.Second, true},
		{"within budget and interval", 2, 3, now.Add(-2 * time.Second), 2 * time.Second, true},
		{"budget exhausted", 3, 3, now.Add(-time.Minute), 2 * time.Second, false},
		{"too soon", 1, 3, now.Add(-1999 * time.Millisecond), 2 * time.Second, false},
		{"uncapped", 50, -1, now.Add(-time.Second), time.Second, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := allows(tc.attempts, tc.max, tc.last, now, tc.minInterval); got != tc.want {
				t.Errorf("allows = %v, want %v", got, tc.want)
			}
		})
	}
}
