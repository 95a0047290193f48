package resilience

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the circuit mode for one named downstream operation.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards one named downstream operation. It starts CLOSED,
// opens once consecutive transient failures cross the threshold, fails fast
// while OPEN, and probes with a bounded number of trial calls after the
// cool-down. All transitions happen under the mutex since consumer workers
// and HTTP handlers share the same breaker.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker builds a CLOSED breaker for the named operation.
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Allow reports whether a call may go downstream right now. While OPEN it
// fails immediately until the cool-down elapses, then admits a limited
// number of HALF_OPEN trial calls.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.Cooldown {
			return &DownstreamUnreachableError{
				Name: cb.name,
				Err:  fmt.Errorf("circuit is open"),
			}
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMax {
			return &DownstreamUnreachableError{
				Name: cb.name,
				Err:  fmt.Errorf("circuit is half-open and trial budget is in use"),
			}
		}
		cb.halfOpenInFlight++
		return nil
	}
	return nil
}

// OnSuccess records a successful downstream call.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
	cb.halfOpenInFlight = 0
}

// OnClientError records a call the downstream answered but rejected. The
// dependency is demonstrably alive, so the failure counter resets, but a
// half-open trial slot is returned rather than counted as a successful
// probe: only a real success closes the circuit.
func (cb *CircuitBreaker) OnClientError() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// OnFailure records a transient downstream failure and opens the circuit
// when the failure threshold is crossed. A failed HALF_OPEN trial reopens
// the circuit and restarts the cool-down.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
		cb.halfOpenInFlight = 0
		return
	}

	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold {
		cb.transition(StateOpen)
		cb.openedAt = time.Now()
	}
}

// State returns the current circuit mode.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	log.Printf("Circuit [%s] transition: %s -> %s", cb.name, cb.state, to)
	cb.state = to
}
