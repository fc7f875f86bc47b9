package resilience

import (
	"sync"
	"time"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// Closed means calls pass through normally.
	Closed BreakerState = iota
	// Open means calls fail fast without invocation.
	Open
	// HalfOpen means exactly one trial call is permitted.
	HalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerStats holds counters for monitoring.
type BreakerStats struct {
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	TotalFailures    int64     `json:"total_failures"`
	TotalSuccesses   int64     `json:"total_successes"`
	StateChanges     int64     `json:"state_changes"`
	LastTransition   time.Time `json:"last_transition"`
}

// CircuitBreaker guards one external dependency. State transitions happen
// atomically under a single mutex: Allow reserves the half-open trial slot
// in the same critical section that performs the Open -> HalfOpen
// transition, so concurrent callers can never share a trial.
type CircuitBreaker struct {
	name   string
	logger logging.Logger

	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	lastTransition   time.Time
	trialInFlight    bool
	failureThreshold int
	resetTimeout     time.Duration
	stats            BreakerStats
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(name string, failureThreshold int, resetTimeout time.Duration, logger logging.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		logger:           logger.WithComponent("circuit_breaker").WithDependency(name),
		state:            Closed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		lastTransition:   time.Now(),
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. In HalfOpen only the caller
// that won the trial slot is admitted; everyone else is denied until the
// trial resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true

	case Open:
		if cb.now().Sub(cb.lastTransition) >= cb.resetTimeout {
			cb.transitionLocked(HalfOpen)
			cb.trialInFlight = true
			return true
		}
		return false

	case HalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalSuccesses++

	switch cb.state {
	case Closed:
		cb.failureCount = 0
	case HalfOpen:
		cb.trialInFlight = false
		cb.failureCount = 0
		cb.transitionLocked(Closed)
	}
}

// RecordFailure notes a failed call. A timeout counts the same as any
// other failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalFailures++

	switch cb.state {
	case Closed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionLocked(Open)
		}
	case HalfOpen:
		cb.trialInFlight = false
		cb.failureCount++
		cb.transitionLocked(Open)
	}
}

// RecordNonCounting notes a call that completed without implicating the
// dependency, such as a validation rejection. The dependency answered, so
// a half-open trial resolves to Closed instead of leaving the trial slot
// reserved forever. In Closed the failure streak is left untouched.
func (cb *CircuitBreaker) RecordNonCounting() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == HalfOpen {
		cb.trialInFlight = false
		cb.failureCount = 0
		cb.transitionLocked(Closed)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state.String()
	s.ConsecutiveFails = cb.failureCount
	s.LastTransition = cb.lastTransition
	return s
}

// Reset forces the breaker back to Closed. Operator escape hatch.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.trialInFlight = false
	cb.transitionLocked(Closed)
}

// transitionLocked changes state. Caller must hold the mutex.
func (cb *CircuitBreaker) transitionLocked(next BreakerState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.lastTransition = cb.now()
	cb.stats.StateChanges++

	cb.logger.WithFields(map[string]interface{}{
		"old_state":     prev.String(),
		"new_state":     next.String(),
		"failure_count": cb.failureCount,
	}).Info("circuit breaker state changed")
}
