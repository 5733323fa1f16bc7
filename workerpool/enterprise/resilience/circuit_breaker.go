// Package resilience provides the rate limiting, circuit breaking,
// retry and resource-throttling components a Pool wires up when its
// Config carries the matching sub-config.
package resilience

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitState is one of closed, open or half-open.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// CircuitBreaker trips open after FailureThreshold consecutive
// failures, then probes with at most HalfOpenMaxCalls concurrent
// calls once Timeout has elapsed, closing again after
// SuccessThreshold consecutive successes in that probe.
type CircuitBreaker struct {
	name             string
	state            atomic.Value // CircuitState
	failures         atomic.Int32
	successes        atomic.Int32
	consecutiveFails atomic.Int32
	lastFailTime     atomic.Value // time.Time

	failureThreshold int
	successThreshold int
	timeout          time.Duration
	halfOpenMaxCalls int
	halfOpenCalls    atomic.Int32

	onStateChange func(from, to CircuitState)
	mu            sync.Mutex
}

type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
	OnStateChange    func(from, to CircuitState)
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		timeout:          config.Timeout,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		onStateChange:    config.OnStateChange,
	}
	cb.state.Store(StateClosed)
	cb.lastFailTime.Store(time.Time{})
	return cb
}

// Call runs fn with circuit breaker protection. It returns
// ErrCircuitOpen or ErrTooManyRequests without calling fn at all when
// the breaker is tripped or its half-open probe slots are full.
func (cb *CircuitBreaker) Call(fn func() error) error {
	switch cb.getState() {
	case StateOpen:
		lastFail := cb.lastFailTime.Load().(time.Time)
		if !lastFail.IsZero() && time.Since(lastFail) > cb.timeout {
			cb.setState(StateHalfOpen)
			return cb.Call(fn)
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.halfOpenCalls.Load() >= int32(cb.halfOpenMaxCalls) {
			return ErrTooManyRequests
		}
		cb.halfOpenCalls.Add(1)
		defer cb.halfOpenCalls.Add(-1)

		if err := fn(); err != nil {
			cb.recordFailure()
			cb.setState(StateOpen)
			return err
		}
		cb.recordSuccess()
		if cb.successes.Load() >= int32(cb.successThreshold) {
			cb.setState(StateClosed)
		}
		return nil

	default: // StateClosed
		if err := fn(); err != nil {
			cb.recordFailure()
			if cb.consecutiveFails.Load() >= int32(cb.failureThreshold) {
				cb.setState(StateOpen)
			}
			return err
		}
		cb.recordSuccess()
		return nil
	}
}

func (cb *CircuitBreaker) getState() CircuitState {
	return cb.state.Load().(CircuitState)
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state.Load().(CircuitState)
	if oldState == newState {
		return
	}
	cb.state.Store(newState)

	switch newState {
	case StateClosed, StateHalfOpen:
		cb.consecutiveFails.Store(0)
		cb.successes.Store(0)
		cb.halfOpenCalls.Store(0)
	case StateOpen:
		cb.successes.Store(0)
		cb.lastFailTime.Store(time.Now())
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures.Add(1)
	cb.consecutiveFails.Add(1)
	cb.successes.Store(0)
	cb.lastFailTime.Store(time.Now())
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.successes.Add(1)
	cb.consecutiveFails.Store(0)
}

func (cb *CircuitBreaker) GetState() CircuitState {
	return cb.getState()
}

func (cb *CircuitBreaker) GetMetrics() CircuitBreakerMetrics {
	return CircuitBreakerMetrics{
		Name:             cb.name,
		State:            string(cb.getState()),
		Failures:         int(cb.failures.Load()),
		Successes:        int(cb.successes.Load()),
		ConsecutiveFails: int(cb.consecutiveFails.Load()),
	}
}

type CircuitBreakerMetrics struct {
	Name             string
	State            string
	Failures         int
	Successes        int
	ConsecutiveFails int
}

func (cb *CircuitBreaker) Reset() {
	cb.setState(StateClosed)
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.consecutiveFails.Store(0)
}

// CircuitBreakerManager hands out one CircuitBreaker per task type,
// so a pool running several distinct kinds of task can trip on one
// kind's failures without rejecting the others.
type CircuitBreakerManager struct {
	breakers sync.Map // map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{config: config}
}

func (cbm *CircuitBreakerManager) Get(taskType string) *CircuitBreaker {
	cbI, _ := cbm.breakers.LoadOrStore(taskType, NewCircuitBreaker(CircuitBreakerConfig{
		Name:             taskType,
		FailureThreshold: cbm.config.FailureThreshold,
		SuccessThreshold: cbm.config.SuccessThreshold,
		Timeout:          cbm.config.Timeout,
		HalfOpenMaxCalls: cbm.config.HalfOpenMaxCalls,
		OnStateChange:    cbm.config.OnStateChange,
	}))
	return cbI.(*CircuitBreaker)
}

func (cbm *CircuitBreakerManager) GetAll() map[string]*CircuitBreaker {
	result := make(map[string]*CircuitBreaker)
	cbm.breakers.Range(func(key, value interface{}) bool {
		result[key.(string)] = value.(*CircuitBreaker)
		return true
	})
	return result
}
