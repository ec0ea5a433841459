// Package reliability wraps outbound agent and provider calls with
// per-key circuit breaking, fallback routing, and recovery strategies.
package reliability

import (
	"time"
)

// State is the circuit breaker state for one key.
type State string

const (
	// StateClosed allows calls to pass through.
	StateClosed State = "closed"
	// StateOpen short-circuits calls until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen allows exactly one trial call.
	StateHalfOpen State = "half-open"
)

// historyCap bounds the per-key timestamp history used for health metrics.
const historyCap = 100

// breaker holds the circuit state for a single key.
// All mutation happens under the owning Manager's mutex; the manager is
// the single writer for every key.
type breaker struct {
	state               State
	consecutiveFailures int
	lastFailure         time.Time
	openedAt            time.Time
	trialInFlight       bool

	// Timestamp history for MTBF/MTTR derivation.
	failureTimes  []time.Time
	successTimes  []time.Time
	recoveryTimes []time.Duration
}

func newBreaker() *breaker {
	return &breaker{state: StateClosed}
}

// allow reports whether a call may proceed right now, transitioning
// open breakers to half-open once the cooldown has elapsed.
// Returns the remaining cooldown when the call is rejected.
func (b *breaker) allow(now time.Time, cooldown time.Duration) (bool, time.Duration) {
	switch b.state {
	case StateClosed:
		return true, 0
	case StateOpen:
		elapsed := now.Sub(b.lastFailure)
		if elapsed >= cooldown {
			b.state = StateHalfOpen
			b.trialInFlight = true
			return true, 0
		}
		return false, cooldown - elapsed
	case StateHalfOpen:
		// Only one trial call at a time.
		if b.trialInFlight {
			return false, cooldown
		}
		b.trialInFlight = true
		return true, 0
	default:
		return true, 0
	}
}

// recordSuccess resets the failure count and closes the breaker.
func (b *breaker) recordSuccess(now time.Time) {
	b.consecutiveFailures = 0
	b.trialInFlight = false

	if b.state == StateHalfOpen || b.state == StateOpen {
		if !b.openedAt.IsZero() {
			b.recoveryTimes = appendBounded(b.recoveryTimes, now.Sub(b.openedAt))
			b.openedAt = time.Time{}
		}
	}
	b.state = StateClosed

	b.successTimes = appendBounded(b.successTimes, now)
}

// recordFailure increments the consecutive failure count and opens the
// breaker when the threshold is reached. A failed half-open trial reopens
// immediately and restarts the cooldown.
func (b *breaker) recordFailure(now time.Time, threshold int) {
	b.consecutiveFailures++
	b.lastFailure = now
	b.failureTimes = appendBounded(b.failureTimes, now)

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.state = StateOpen
		b.openedAt = now
		return
	}

	if b.consecutiveFailures >= threshold {
		if b.state != StateOpen {
			b.state = StateOpen
			b.openedAt = now
		}
	}
}

// appendBounded appends keeping at most historyCap entries.
func appendBounded[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > historyCap {
		s = s[len(s)-historyCap:]
	}
	return s
}

// Snapshot is a read-only view of one breaker's state.
type Snapshot struct {
	// Key is the provider/agent identifier.
	Key string
	// State is the current circuit state.
	State State
	// ConsecutiveFailures is the failure count since the last success.
	ConsecutiveFailures int
	// LastFailure is when the most recent failure was recorded.
	LastFailure time.Time
	// Threshold is the configured consecutive-failure limit.
	Threshold int
	// Cooldown is the configured open-state wait.
	Cooldown time.Duration
}
