// Package resilience provides circuit breaker and recognizer failover primitives.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops listend from hammering a recognizer backend that keeps refusing
// connections. [FallbackGroup] composes several backends, each behind its own
// breaker, so a failing primary is bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen is the trial state entered after the reset timeout. A limited
	// number of calls are allowed through; if they succeed the breaker closes,
	// otherwise it re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trial calls required in the
	// half-open state before the breaker closes. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker.
	// Default: every error except context cancellation and deadline expiry,
	// which say nothing about the backend's health.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked.
	OnStateChange func(name string, from, to State)

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// Logger receives transition logs. Default: slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time
	log           *slog.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = isBackendFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		log:           cfg.Logger.With("breaker", cfg.Name),
		state:         StateClosed,
	}
}

func isBackendFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax trial calls are in flight.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var transition func()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		transition = cb.setState(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}

	err := fn()

	cb.mu.Lock()
	switch {
	case err == nil:
		transition = cb.recordSuccess(inHalfOpen)
	case cb.isFailure(err):
		transition = cb.recordFailure(inHalfOpen)
	default:
		transition = cb.releaseTrial(inHalfOpen)
	}
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}
	return err
}

// setState switches state and returns the notification to run once cb.mu
// is released. Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.log.Warn("circuit breaker opened", "from", from.String(), "consecutive_failures", cb.consecutiveFail)
	default:
		cb.log.Info("circuit breaker state change", "from", from.String(), "to", to.String())
	}
	if cb.onStateChange == nil {
		return nil
	}
	name, hook := cb.name, cb.onStateChange
	return func() { hook(name, from, to) }
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) func() {
	cb.lastFailure = cb.now()

	if inHalfOpen {
		// Any failed trial re-opens.
		cb.consecutiveFail = cb.maxFailures
		return cb.setState(StateOpen)
	}

	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		return cb.setState(StateOpen)
	}
	return nil
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) func() {
	if !inHalfOpen {
		cb.consecutiveFail = 0
		return nil
	}
	if cb.state != StateHalfOpen {
		// A concurrent trial already re-opened the breaker.
		return nil
	}
	cb.halfOpenOK++
	if cb.halfOpenOK < cb.halfOpenMax {
		return nil
	}
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	return cb.setState(StateClosed)
}

// releaseTrial returns a trial slot consumed by a call whose error did not
// count as a failure. Must be called with cb.mu held.
func (cb *CircuitBreaker) releaseTrial(inHalfOpen bool) func() {
	if inHalfOpen && cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
	return nil
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all failure
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	transition := cb.setState(StateClosed)
	cb.mu.Unlock()
	cb.log.Info("circuit breaker manually reset")
	if transition != nil {
		transition()
	}
}
