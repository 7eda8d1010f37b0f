// breaker.go - Circuit breaker guarding calls to the object store.
//
// After a run of consecutive infrastructure failures the breaker opens and
// calls fail fast with ErrUnavailable until the cool-down elapses; one probe
// call is then let through to decide whether to close again.
package storage

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the current state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures uint32
	timeout     time.Duration
	log         *zap.Logger
	now         func() time.Time

	// OnStateChange, when set, is called with the new state after every
	// transition. It runs with the breaker lock held and must not call back
	// into the breaker.
	OnStateChange func(CircuitState)

	state           CircuitState
	failures        uint32
	lastFailureTime time.Time
	probing         bool
}

// NewCircuitBreaker creates a closed breaker that opens after maxFailures
// consecutive failures and stays open for timeout.
func NewCircuitBreaker(maxFailures uint32, timeout time.Duration, log *zap.Logger) *CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		log:         log,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Execute runs fn unless the circuit is open. isFailure decides which
// returned errors count against the circuit; expected domain errors such as
// a missing object must not trip it.
func (cb *CircuitBreaker) Execute(fn func() error, isFailure func(error) bool) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err != nil && isFailure(err))
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
			return ErrUnavailable
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrUnavailable
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) after(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if !failed {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.setState(StateClosed)
			cb.log.Info("circuit_breaker_closed", zap.String("reason", "recovery_successful"))
		}
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != StateOpen {
			cb.setState(StateOpen)
			cb.log.Warn("circuit_breaker_opened",
				zap.Uint32("failures", cb.failures),
				zap.Uint32("max_failures", cb.maxFailures),
				zap.Duration("timeout", cb.timeout))
		}
	}
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	if cb.OnStateChange != nil {
		cb.OnStateChange(s)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
