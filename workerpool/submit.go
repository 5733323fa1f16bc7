package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/tohafrit/worker-pool/workerpool/enterprise/multitenancy"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/observability"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/persistence"
)

// Submit runs fn on the pool and reports its outcome through the
// returned error: nil on success, the task's own error on failure, a
// *TaskError wrapping a recovered panic, or ErrPoolClosed if the pool
// has begun shutting down. Unlike Schedule, Submit blocks until fn has
// actually run.
func (p *Pool) Submit(fn func() error) error {
	return p.SubmitWithContext(context.Background(), fn)
}

// SubmitAs is Submit, but evaluates the circuit breaker keyed by
// taskType instead of the default breaker, so callers running several
// distinct kinds of task can trip on one kind's failures without
// affecting the others.
func (p *Pool) SubmitAs(taskType string, fn func() error) error {
	resultCh := make(chan error, 1)

	p.Schedule(func(outcome Outcome) {
		resultCh <- p.runEnrichedTaskAs(taskType, outcome, fn)
	})

	return <-resultCh
}

// SubmitWithContext is Submit, but returns ctx.Err() immediately if
// ctx is canceled before fn runs. It does not cancel fn once started;
// the pool has no way to preempt a running task body.
func (p *Pool) SubmitWithContext(ctx context.Context, fn func() error) error {
	resultCh := make(chan error, 1)

	p.Schedule(func(outcome Outcome) {
		resultCh <- p.runEnrichedTask(outcome, fn)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}

// TrySubmit is Submit, but returns ErrQueueFull without blocking if
// the pool's rate limiter (Config.RateLimit) denies admission. With
// no rate limiter configured it always admits, same as Submit.
func (p *Pool) TrySubmit(fn func() error) error {
	if !p.enterprise.rateLimiter.Allow() {
		return ErrQueueFull
	}
	return p.Submit(fn)
}

// SubmitWithTimeout is Submit, but returns ErrTimeout if fn has not
// completed within timeout.
func (p *Pool) SubmitWithTimeout(fn func() error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := p.SubmitWithContext(ctx, fn)
	if err == context.DeadlineExceeded {
		return ErrTimeout
	}
	return err
}

// SubmitWithPriority is Submit with a Priority label attached for
// metrics/logging; FIFO delivery order is unaffected, matching
// Schedule's own priority handling.
func (p *Pool) SubmitWithPriority(fn func() error, priority Priority) error {
	resultCh := make(chan error, 1)

	p.scheduleWithPriority(func(outcome Outcome) {
		resultCh <- p.runEnrichedTask(outcome, fn)
	}, priority)

	return <-resultCh
}

// SubmitWithTenant is Submit gated by Config.MultiTenancy: it checks
// and reserves tenantID's queue-size quota before delegating to
// Schedule, records per-tenant stats either way, and (when
// Config.Cost is enabled) bills the task's wall-clock duration
// against the tenant's running cost.
func (p *Pool) SubmitWithTenant(ctx context.Context, tenantID string, fn func() error) error {
	tc := multitenancy.NewTaskContext(ctx, tenantID)
	tc.RequestID = uuid.NewString()

	if p.enterprise.tenantManager != nil {
		ok, err := p.enterprise.tenantManager.CheckQuota(tenantID)
		if err != nil {
			return err
		}
		if !ok {
			p.enterprise.tenantManager.RecordTaskRejected(tenantID)
			return multitenancy.ErrQuotaExceeded
		}
		defer p.enterprise.tenantManager.ReleaseQuota(tenantID)
		p.enterprise.tenantManager.RecordTaskSubmitted(tenantID)
	}

	started := time.Now()
	err := p.SubmitWithContext(tc.Context, fn)
	duration := time.Since(started)

	if p.enterprise.tenantManager != nil {
		if err != nil {
			p.enterprise.tenantManager.RecordTaskRejected(tenantID)
		} else {
			p.enterprise.tenantManager.RecordTaskCompleted(tenantID, duration.Milliseconds(), 0)
		}
	}
	if p.enterprise.costTracker != nil {
		p.enterprise.costTracker.RecordTaskCost(tc.RequestID, tenantID, duration.Milliseconds(), 0, duration)
	}

	return err
}

// runEnrichedTask adapts an error-returning task body onto the
// circuit breaker / retryer the pool was configured with, and
// recovers a panic into a *TaskError instead of letting it propagate
// out of the worker goroutine that runTask already protects.
func (p *Pool) runEnrichedTask(outcome Outcome, fn func() error) error {
	return p.runEnrichedTaskAs("default", outcome, fn)
}

func (p *Pool) runEnrichedTaskAs(taskType string, outcome Outcome, fn func() error) (taskErr error) {
	taskID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			taskErr = &TaskError{TaskID: taskID, Err: fmt.Errorf("%v", r), Stack: string(debug.Stack())}
			p.routeToDeadLetterIfPersistent(taskID, taskErr)
		}
	}()

	if outcome == OutcomeShutdownInProgress {
		err := ErrPoolClosed
		p.routeToDeadLetterIfPersistent(taskID, err)
		return err
	}

	run := fn
	if p.enterprise.circuitBreakers != nil {
		breaker := p.enterprise.circuitBreakers.Get(taskType)
		run = func() error { return breaker.Call(fn) }
	}

	var err error
	if p.enterprise.retryer != nil {
		err = p.enterprise.retryer.Do(context.Background(), run)
	} else {
		err = run()
	}

	if err != nil {
		p.routeToDeadLetterIfPersistent(taskID, err)
	}
	return err
}

// routeToDeadLetterIfPersistent records a failed enrichment-surface
// task (an error, a recovered panic, or a shutdown rejection) to the
// DLQ, when persistence is enabled, as an audit trail for failures
// that are otherwise reported only to the caller.
func (p *Pool) routeToDeadLetterIfPersistent(taskID string, cause error) {
	if p.enterprise.dlq == nil {
		return
	}
	entry := &persistence.DLQEntry{
		TaskID:       taskID,
		FailedAt:     time.Now(),
		FailureCount: 1,
		Errors:       []string{cause.Error()},
	}
	if err := p.enterprise.dlq.Push(context.Background(), entry); err != nil {
		p.enterprise.logger.Error("failed to push task to dead-letter queue",
			observability.Field{Key: "task_id", Value: taskID},
			observability.Field{Key: "error", Value: err.Error()})
	}
}
