// Package resilience guards the recognition and synthesis back-ends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a back-end which keeps failing. [FallbackGroup] puts a
// breaker in front of each configured back-end and walks them in order, so a
// dead primary is bypassed in favour of the next healthy one. [STTFallback]
// and [TTSFallback] adapt groups to the recognizer and synthesizer
// interfaces.
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

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while a back-end is
// being skipped.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probes through. One failed probe
	// reopens; HalfOpenMax successful probes close.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// package defaults.
type CircuitBreakerConfig struct {
	// Name labels the back-end in logs ("whisper", "coqui", ...).
	Name string

	// MaxFailures is the run of consecutive failures that opens the circuit.
	MaxFailures int

	// ResetTimeout is the cool-down before probes are allowed.
	ResetTimeout time.Duration

	// HalfOpenMax bounds concurrent probes and is also the number of
	// successes needed to close again.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock.
	Now func() time.Time
}

// countsAsFailure reports whether err should trip the breaker. A caller
// giving up (context cancelled or expired) says nothing about the back-end.
func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreaker tracks the health of one back-end.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu       sync.Mutex
	state    State
	openedAt time.Time
	// failures is the current run of consecutive failures while closed.
	failures int
	// probes counts admitted half-open calls, probeWins the successful ones.
	probes    int
	probeWins int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = DefaultMaxFailures
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = DefaultResetTimeout
	}
	if cb.halfOpenMax <= 0 {
		cb.halfOpenMax = DefaultHalfOpenMax
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

// Execute calls fn unless the circuit is open or the half-open probe budget
// is used up, in which case it returns [ErrCircuitOpen] without calling fn.
// Context cancellation returned by fn is passed through and not counted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	err = fn()
	cb.release(probe, err)
	return err
}

// acquire decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		changed = cb.setLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// release accounts for the outcome of a call admitted by acquire.
func (cb *CircuitBreaker) release(probe bool, err error) {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	failed := countsAsFailure(err)
	switch {
	case probe && cb.state != StateHalfOpen:
		// A sibling probe already decided the outcome.
	case probe && failed:
		cb.openedAt = cb.now()
		changed = cb.setLocked(StateOpen)
	case probe && err == nil:
		cb.probeWins++
		if cb.probeWins >= cb.halfOpenMax {
			changed = cb.setLocked(StateClosed)
		}
	case probe:
		// Abandoned probe: give the slot back.
		cb.probes--
	case failed:
		cb.failures++
		if cb.failures >= cb.maxFailures && cb.state == StateClosed {
			cb.openedAt = cb.now()
			changed = cb.setLocked(StateOpen)
		}
	case err == nil:
		cb.failures = 0
	}
}

// setLocked moves to next, clears the counters and returns the notification
// to run once the lock is released. Must be called with cb.mu held.
func (cb *CircuitBreaker) setLocked(next State) func() {
	prev := cb.state
	cb.state = next
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	if prev == next {
		return nil
	}

	failures := cb.maxFailures
	return func() {
		switch next {
		case StateOpen:
			slog.Warn("circuit opened", "backend", cb.name, "from", prev.String(), "failures", failures)
		default:
			slog.Info("circuit state changed", "backend", cb.name, "from", prev.String(), "to", next.String())
		}
		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, prev, next)
		}
	}
}

// State returns the current state. An open circuit whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.setLocked(StateClosed)
	cb.mu.Unlock()
	if changed != nil {
		changed()
	}
}
