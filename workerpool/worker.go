package workerpool

import (
	"strconv"
	"time"

	"github.com/tohafrit/worker-pool/workerpool/enterprise/observability"
)

// workerHandle is this library's stand-in for a joinable OS thread
// handle: an identity plus a channel that closes when the underlying
// goroutine has returned.
type workerHandle struct {
	id   uint64
	name string
	done chan struct{}
}

// spawnWorkerLocked starts a new worker goroutine and records its
// handle in p.liveWorkers. Must be called with p.mu held; the caller
// is responsible for anything that depends on the new worker being
// visible (e.g. re-checking backlog) after it returns.
func (p *Pool) spawnWorkerLocked() *workerHandle {
	id := p.nextWorkerID
	p.nextWorkerID++

	name := p.config.ThreadNamePrefix + "-" + strconv.FormatUint(id, 10)
	h := &workerHandle{id: id, name: name, done: make(chan struct{})}
	p.liveWorkers[id] = h
	p.numIdleThreads++

	if p.config.OnCreateThread != nil {
		p.config.OnCreateThread(name)
	}

	go p.runWorker(h)
	return h
}

// runWorker is the worker consume loop: wait for a task or a
// shutdown signal, run whatever was dequeued, and self-retire once
// idle for longer than MaxIdleThreadAge (but never below MinThreads).
func (p *Pool) runWorker(h *workerHandle) {
	defer close(h.done)

	for {
		p.mu.Lock()

		for len(p.queue) == 0 && !p.state.isShuttingDown() {
			if p.idleRetirementDeadlineLocked(h) {
				p.retireWorkerLocked(h)
				p.mu.Unlock()
				return
			}
			// A single background ticker (started in Startup)
			// periodically broadcasts workAvailable so idle workers
			// re-check their retirement deadline without each of
			// them owning a private timer.
			p.workAvailable.Wait()
		}

		if len(p.queue) == 0 {
			// Shutting down and nothing left to drain: retire like
			// any other worker, the lifecycle transition out of
			// running already happened under this same lock.
			p.retireWorkerLocked(h)
			p.mu.Unlock()
			return
		}

		task := p.dequeueLocked()
		p.numIdleThreads--
		p.lastFullUtilizationDate = time.Now()
		p.mu.Unlock()

		// A task that made it into the queue always runs as OutcomeOK,
		// whether dequeued during normal operation or while draining a
		// shutdown backlog; OutcomeShutdownInProgress is reserved for
		// tasks rejected inline at Schedule, before ever reaching p.queue.
		p.runTask(task, OutcomeOK)

		p.mu.Lock()
		p.numIdleThreads++
		if len(p.queue) == 0 && p.numIdleThreads == len(p.liveWorkers) {
			p.poolIsIdle.Broadcast()
		}
		p.mu.Unlock()
	}
}

// idleRetirementDeadlineLocked reports whether h is both above
// MinThreads and has been idle (no full-utilization event) for longer
// than MaxIdleThreadAge. Called with p.mu held.
func (p *Pool) idleRetirementDeadlineLocked(h *workerHandle) bool {
	if p.config.MaxIdleThreadAge <= 0 {
		return false
	}
	if len(p.liveWorkers) <= p.config.MinThreads {
		return false
	}
	return time.Since(p.lastFullUtilizationDate) >= p.config.MaxIdleThreadAge
}

// retireWorkerLocked removes h from the live set and parks it in
// retiredWorkers for Join to reap later. Called with p.mu held.
func (p *Pool) retireWorkerLocked(h *workerHandle) {
	delete(p.liveWorkers, h.id)
	p.numIdleThreads--
	p.retiredWorkers = append(p.retiredWorkers, h)
	if len(p.liveWorkers) == 0 && len(p.queue) == 0 {
		p.poolIsIdle.Broadcast()
	}
}

// dequeueLocked pops the oldest queued task. Called with p.mu held.
func (p *Pool) dequeueLocked() *queuedTask {
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t
}

// runTask invokes the caller's function outside of any lock, with
// panic recovery so a misbehaving task can never take down a worker
// goroutine (and, by extension, never take down the pool).
func (p *Pool) runTask(t *queuedTask, outcome Outcome) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.enterprise.metrics.RecordTaskPanic()
			p.enterprise.health.RecordPanic()
			p.enterprise.stats.recordPanic()
			p.enterprise.logger.Error("task panicked",
				observability.Field{Key: "panic", Value: r},
			)
			return
		}
		duration := time.Since(started)
		if outcome == OutcomeShutdownInProgress {
			p.enterprise.stats.recordRejection()
		}
		p.enterprise.stats.recordCompletion(duration)
		p.enterprise.metrics.RecordTaskCompleted(outcome.String(), duration.Seconds(), started.Sub(t.queuedAt).Seconds())
		p.enterprise.health.RecordTaskCompletion()
	}()
	t.fn(outcome)
}
