package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // dials allowed
	StateOpen                  // dials rejected
	StateHalfOpen              // one probe in flight
)

// CircuitBreaker counts consecutive dial failures against one upstream.
type CircuitBreaker struct {
	mutex        sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probing      bool
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
}

// New returns a closed breaker that opens after threshold consecutive
// failures and stays open for resetTimeout.
func New(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Enabled reports whether the breaker ever rejects anything.
func (cb *CircuitBreaker) Enabled() bool {
	return cb.threshold > 0
}

// Allow reports whether a dial may go ahead. After the reset timeout an open
// breaker lets exactly one probe through and turns half-open.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.Enabled() {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// RecordFailure counts a failed dial. A failed probe reopens the breaker
// straight away.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.Enabled() {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.probing = false

	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.state = StateClosed
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Failures returns the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}
