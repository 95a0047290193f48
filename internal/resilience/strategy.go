// Package resilience wraps synchronous downstream calls with bounded retry
// and circuit-breaker protection. Each named operation owns an independent
// circuit and retry budget; the state lives for the life of the process.
package resilience

import (
	"errors"
	"log"
	"sync"
	"time"
)

// Config holds the retry and circuit-breaker settings shared by every
// operation registered in one Registry.
type Config struct {
	MaxAttempts      int
	Backoff          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	HalfOpenMax      int
}

// Registry keeps one CircuitBreaker per named operation.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry builds an empty registry; breakers are created on first use.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the circuit for the named operation, creating it CLOSED
// on first use.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.cfg)
		r.breakers[name] = cb
	}
	return cb
}

// Execute runs work under the named operation's retry budget and circuit
// breaker. Transient failures are retried with exponential backoff until the
// attempt budget runs out; client failures are re-raised immediately as
// DownstreamRejectedError. When the circuit is open or retries are exhausted
// the caller gets a DownstreamUnreachableError wrapping the last cause.
func Execute[T any](r *Registry, name string, work func() (T, error)) (T, error) {
	var zero T
	cb := r.Breaker(name)

	backoff := r.cfg.Backoff
	for attempt := 1; ; attempt++ {
		if err := cb.Allow(); err != nil {
			log.Printf("Call [%s] short-circuited: %v", name, err)
			return zero, err
		}

		log.Printf("Call [%s] attempt %d/%d", name, attempt, r.cfg.MaxAttempts)
		result, err := work()
		if err == nil {
			cb.OnSuccess()
			return result, nil
		}

		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			// The downstream is healthy but rejected the request; this
			// neither trips the breaker nor earns a retry.
			cb.OnClientError()
			return zero, &DownstreamRejectedError{Name: name, Err: clientErr.Err}
		}

		cb.OnFailure()
		if attempt >= r.cfg.MaxAttempts {
			log.Printf("Call [%s] retry budget exhausted after %d attempts: %v", name, attempt, err)
			return zero, &DownstreamUnreachableError{Name: name, Err: err}
		}

		log.Printf("Call [%s] attempt %d failed, retrying in %s: %v", name, attempt, backoff, err)
		time.Sleep(backoff)
		backoff *= 2
	}
}
