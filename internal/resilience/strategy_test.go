package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxAttempts:      3,
		Backoff:          time.Millisecond,
		FailureThreshold: 5,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
}

func transientFailure() error {
	return &TransientError{Err: fmt.Errorf("connection refused")}
}

func TestExecuteReturnsResultOnFirstAttempt(t *testing.T) {
	registry := NewRegistry(testConfig())
	calls := 0

	result, err := Execute(registry, "USER_SERVICE", func() (string, error) {
		calls++
		return "user-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "user-1", result)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesTransientFailuresThenSucceeds(t *testing.T) {
	registry := NewRegistry(testConfig())
	calls := 0

	result, err := Execute(registry, "USER_SERVICE", func() (string, error) {
		calls++
		if calls <= 2 {
			return "", transientFailure()
		}
		return "user-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "user-1", result)
	assert.Equal(t, 3, calls, "two transient failures should cost exactly two retries")
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	registry := NewRegistry(testConfig())
	calls := 0

	_, err := Execute(registry, "USER_SERVICE", func() (string, error) {
		calls++
		return "", transientFailure()
	})

	var unreachable *DownstreamUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "USER_SERVICE", unreachable.Name)
	assert.Equal(t, 3, calls)
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	registry := NewRegistry(testConfig())
	calls := 0

	_, err := Execute(registry, "USER_SERVICE", func() (string, error) {
		calls++
		return "", &ClientError{Err: fmt.Errorf("user service returned status 404")}
	})

	var rejected *DownstreamRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 1, calls, "client errors must be re-raised immediately")
}

func TestCircuitOpensAfterFailureThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	registry := NewRegistry(cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		_, err := Execute(registry, "USER_SERVICE", func() (string, error) {
			return "", transientFailure()
		})
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, registry.Breaker("USER_SERVICE").State())

	// While open, calls fail fast without reaching the work unit.
	calls := 0
	_, err := Execute(registry, "USER_SERVICE", func() (string, error) {
		calls++
		return "", nil
	})
	var unreachable *DownstreamUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, 0, calls)
}

func TestCircuitClosesAfterSuccessfulTrialCall(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.Cooldown = 10 * time.Millisecond
	registry := NewRegistry(cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		Execute(registry, "USER_SERVICE", func() (string, error) {
			return "", transientFailure()
		})
	}
	require.Equal(t, StateOpen, registry.Breaker("USER_SERVICE").State())

	time.Sleep(cfg.Cooldown + 5*time.Millisecond)

	result, err := Execute(registry, "USER_SERVICE", func() (string, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, registry.Breaker("USER_SERVICE").State())
}

func TestCircuitReopensOnFailedTrialCall(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.Cooldown = 10 * time.Millisecond
	registry := NewRegistry(cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		Execute(registry, "USER_SERVICE", func() (string, error) {
			return "", transientFailure()
		})
	}

	time.Sleep(cfg.Cooldown + 5*time.Millisecond)

	_, err := Execute(registry, "USER_SERVICE", func() (string, error) {
		return "", transientFailure()
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, registry.Breaker("USER_SERVICE").State())
}

func TestNamedOperationsHaveIndependentCircuits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	registry := NewRegistry(cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		Execute(registry, "USER_SERVICE", func() (string, error) {
			return "", transientFailure()
		})
	}
	require.Equal(t, StateOpen, registry.Breaker("USER_SERVICE").State())

	result, err := Execute(registry, "PRODUCT_SERVICE", func() (string, error) {
		return "product-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "product-1", result)
	assert.Equal(t, StateClosed, registry.Breaker("PRODUCT_SERVICE").State())
}

func TestHalfOpenLimitsTrialCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Millisecond
	breaker := NewCircuitBreaker("USER_SERVICE", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		breaker.OnFailure()
	}
	require.Equal(t, StateOpen, breaker.State())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, breaker.Allow(), "first trial call passes after cool-down")
	assert.Equal(t, StateHalfOpen, breaker.State())

	err := breaker.Allow()
	var unreachable *DownstreamUnreachableError
	assert.ErrorAs(t, err, &unreachable, "second trial exceeds the half-open budget")
}

func TestClientErrorInHalfOpenFreesTrialSlotWithoutClosing(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Millisecond
	breaker := NewCircuitBreaker("USER_SERVICE", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		breaker.OnFailure()
	}
	require.Equal(t, StateOpen, breaker.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, breaker.Allow())
	require.Equal(t, StateHalfOpen, breaker.State())

	// A 4xx answer proves the downstream is alive but is not a successful
	// probe: the circuit stays half-open and the trial slot is returned.
	breaker.OnClientError()

	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, breaker.Allow(), "the trial slot must be available again")
}

func TestClientErrorDoesNotTripCircuit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	registry := NewRegistry(cfg)

	for i := 0; i < cfg.FailureThreshold*2; i++ {
		Execute(registry, "USER_SERVICE", func() (string, error) {
			return "", &ClientError{Err: errors.New("bad request")}
		})
	}

	assert.Equal(t, StateClosed, registry.Breaker("USER_SERVICE").State())
}
