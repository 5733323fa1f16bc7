package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	err1 := cb.Call(func() error { return errors.New("boom") })
	assert.Error(t, err1)
	assert.Equal(t, StateClosed, cb.GetState())

	err2 := cb.Call(func() error { return errors.New("boom") })
	assert.Error(t, err2)
	assert.Equal(t, StateOpen, cb.GetState())

	err3 := cb.Call(func() error { t.Fatal("fn should not run while circuit is open"); return nil })
	assert.ErrorIs(t, err3, ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1})

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1})

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(30 * time.Millisecond)

	err := cb.Call(func() error { return errors.New("still broken") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerHalfOpenRejectsBeyondMaxCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 5, Timeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go cb.Call(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := cb.Call(func() error { t.Fatal("fn should not run past the half-open call cap"); return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestCircuitBreakerResetReturnsToClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())

	metrics := cb.GetMetrics()
	assert.Equal(t, 0, metrics.Failures)
}

func TestCircuitBreakerGetMetricsReflectsCounts(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "email", FailureThreshold: 10})
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))

	metrics := cb.GetMetrics()
	assert.Equal(t, "email", metrics.Name)
	assert.Equal(t, 1, metrics.Failures)
	assert.Equal(t, 1, metrics.Successes)
}

func TestCircuitBreakerManagerIsolatesPerTaskType(t *testing.T) {
	cbm := NewCircuitBreakerManager(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	emailBreaker := cbm.Get("email")
	require.Error(t, emailBreaker.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, emailBreaker.GetState())

	smsBreaker := cbm.Get("sms")
	assert.Equal(t, StateClosed, smsBreaker.GetState())
	assert.NoError(t, smsBreaker.Call(func() error { return nil }))
}

func TestCircuitBreakerManagerGetIsIdempotentPerKey(t *testing.T) {
	cbm := NewCircuitBreakerManager(CircuitBreakerConfig{FailureThreshold: 1})
	assert.Same(t, cbm.Get("email"), cbm.Get("email"))
}

func TestCircuitBreakerManagerGetAllReturnsEveryBreaker(t *testing.T) {
	cbm := NewCircuitBreakerManager(CircuitBreakerConfig{FailureThreshold: 1})
	cbm.Get("email")
	cbm.Get("sms")

	all := cbm.GetAll()
	assert.Len(t, all, 2)
	assert.Contains(t, all, "email")
	assert.Contains(t, all, "sms")
}
