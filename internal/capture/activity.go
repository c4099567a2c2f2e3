package capture

import (
	"math"
	"time"
)

// MaxVoiceLevel is the highest voice activity level reported to callers.
const MaxVoiceLevel = 5

// VoiceLevel quantizes a normalized amplitude to the 0..MaxVoiceLevel scale.
func VoiceLevel(amplitude float64) int {
	return int(math.Floor(min(max(amplitude, 0)*10, MaxVoiceLevel)))
}

// activity turns amplitude samples and interim text into the speech-detected
// flag and owns the silence timer. It is confined to the engine loop.
type activity struct {
	clock     Clock
	threshold float64
	timeout   time.Duration

	// fire is called from the timer goroutine with the sequence number the
	// timer was armed with.
	fire func(seq uint64)

	amplitude      float64
	level          int
	speechDetected bool
	lastActivityAt time.Time

	seq   uint64
	timer Timer
}

func newActivity(clock Clock, threshold float64, timeout time.Duration, fire func(uint64)) *activity {
	return &activity{clock: clock, threshold: threshold, timeout: timeout, fire: fire}
}

// sample records one amplitude sample and returns its voice level. Samples
// above the speech threshold count as activity.
func (a *activity) sample(amplitude float64) int {
	a.amplitude = amplitude
	a.level = VoiceLevel(amplitude)
	if amplitude > a.threshold {
		a.touch()
	}
	return a.level
}

// interim counts an interim transcript as activity.
func (a *activity) interim() {
	a.touch()
}

func (a *activity) touch() {
	a.speechDetected = true
	a.lastActivityAt = a.clock.Now()
	a.rearm()
}

// rearm replaces any pending silence timer with one due timeout from now.
func (a *activity) rearm() {
	a.cancel()
	seq := a.seq
	a.timer = a.clock.AfterFunc(a.timeout, func() { a.fire(seq) })
}

// cancel stops the pending silence timer. A fire that already raced past
// Stop carries an outdated sequence number and is ignored by expire.
func (a *activity) cancel() {
	a.seq++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// expire handles a timer fire. It reports false for stale fires.
func (a *activity) expire(seq uint64) bool {
	if seq != a.seq || a.timer == nil {
		return false
	}
	a.timer = nil
	a.speechDetected = false
	return true
}

// reset cancels the timer and clears all activity state.
func (a *activity) reset() {
	a.cancel()
	a.amplitude = 0
	a.level = 0
	a.speechDetected = false
	a.lastActivityAt = time.Time{}
}
