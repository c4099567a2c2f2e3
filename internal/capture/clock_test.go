package capture

import (
	"slices"
	"sync"
	"time"
)

// fakeClock is a manually advanced [Clock]. Timer callbacks run on the
// goroutine calling Advance, in due order.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

type fakeTimer struct {
	c       *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeTicker struct {
	c       *fakeClock
	d       time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.c.mu.Lock()
	t.stopped = true
	t.c.mu.Unlock()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: c, d: d, next: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward by d, firing every timer and tick that falls
// due on the way.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.nextTimerLocked(target)
		if next == nil {
			break
		}
		c.tickLocked(next.when)
		c.now = next.when
		next.fired = true
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.tickLocked(target)
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) nextTimerLocked(limit time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired || t.when.After(limit) {
			continue
		}
		if next == nil || t.when.Before(next.when) {
			next = t
		}
	}
	return next
}

func (c *fakeClock) tickLocked(limit time.Time) {
	for _, t := range c.tickers {
		for !t.stopped && !t.next.After(limit) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.d)
		}
	}
}

// pending returns the delays until every live timer, soonest first.
func (c *fakeClock) pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		out = append(out, t.when.Sub(c.now))
	}
	slices.Sort(out)
	return out
}
