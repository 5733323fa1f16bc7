package workerpool

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tohafrit/worker-pool/workerpool/enterprise/observability"
)

// Field re-exports observability.Field so callers of OnCreateThread /
// OnJoinRetiredThread-adjacent logging never need to import the
// enterprise/observability package directly just to build one.
type Field = observability.Field

var poolNameCounter atomic.Int64

// Pool is a dynamically-sized worker pool. Workers grow in response
// to backlog, up to MaxThreads, and shrink back down once idle for
// longer than MaxIdleThreadAge, never below MinThreads.
//
// A Pool moves through a single monotonic lifecycle:
// preStart -> running -> joinRequired -> joining -> shutdownComplete.
// Startup, Shutdown and Join are called in that order, Startup and
// Join exactly once; calling any of them out of turn is a programmer
// error and panics with a *FatalError rather than silently misbehaving.
// A repeated Shutdown is the one exception: it is a no-op.
type Pool struct {
	mu            sync.Mutex
	stateChange   *sync.Cond // broadcast on every lifecycleState transition
	workAvailable *sync.Cond // broadcast when the queue gains work or shutdown begins
	poolIsIdle    *sync.Cond // broadcast whenever no task is queued and no worker is busy

	config Config
	state  lifecycleState

	queue []*queuedTask

	liveWorkers             map[uint64]*workerHandle
	retiredWorkers          []*workerHandle
	nextWorkerID            uint64
	numIdleThreads          int
	lastFullUtilizationDate time.Time

	enterprise *enterpriseComponents
}

// NewPool validates config and constructs a Pool in the preStart
// state. The pool does not spawn any workers until Startup is called.
func NewPool(config Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.PoolName == "" {
		config.PoolName = "workerpool-" + strconv.FormatInt(poolNameCounter.Add(1), 10)
	}
	if config.ThreadNamePrefix == "" {
		config.ThreadNamePrefix = config.PoolName + "-worker"
	}

	p := &Pool{
		config:       config,
		state:        preStart,
		liveWorkers:  make(map[uint64]*workerHandle),
		nextWorkerID: 1,
	}
	p.stateChange = sync.NewCond(&p.mu)
	p.workAvailable = sync.NewCond(&p.mu)
	p.poolIsIdle = sync.NewCond(&p.mu)
	p.lastFullUtilizationDate = time.Now()

	p.enterprise = newEnterpriseComponents(config)

	return p, nil
}

// transitionLocked advances the lifecycle state, fatal-aborting if the
// requested edge isn't legal. Must be called with p.mu held.
func (p *Pool) transitionLocked(next lifecycleState) {
	if !p.state.canTransition(next) {
		p.fatalfLocked(fatalIllegalTransition, "illegal lifecycle transition %s -> %s", p.state, next)
	}
	p.state = next
}

// fatalfLocked logs through the configured observability.Logger and
// panics with a *FatalError. The pool's mutex may be held or not; the
// logger call never touches p.mu itself, so this is safe either way.
func (p *Pool) fatalfLocked(event fatalEvent, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.enterprise != nil && p.enterprise.logger != nil {
		p.enterprise.logger.Error("workerpool: fatal invariant violation",
			observability.Field{Key: "event", Value: int(event)},
			observability.Field{Key: "pool", Value: p.config.PoolName},
			observability.Field{Key: "message", Value: msg},
		)
	}
	panicFatal(event, msg)
}

// Startup transitions the pool from preStart to running and spawns
// min(MaxThreads, max(MinThreads, len(queue))) workers, so a backlog
// built up by Schedule calls made before Startup is covered immediately
// rather than waiting for the next Schedule call to notice it. Calling
// Startup more than once is a programmer error.
func (p *Pool) Startup() {
	p.mu.Lock()
	if p.state != preStart {
		defer p.mu.Unlock()
		p.fatalfLocked(fatalDoubleStartup, "Startup called while pool is %s, want preStart", p.state)
	}

	p.transitionLocked(running)
	numToStart := p.config.MinThreads
	if backlog := len(p.queue); backlog > numToStart {
		numToStart = backlog
	}
	if maxThreads := p.config.effectiveMaxThreads(); numToStart > maxThreads {
		numToStart = maxThreads
	}
	for i := 0; i < numToStart; i++ {
		p.spawnWorkerLocked()
	}
	p.stateChange.Broadcast()
	p.mu.Unlock()

	if p.config.MaxIdleThreadAge > 0 {
		go p.runIdleReaper()
	}

	p.enterprise.health.MarkStarted()
	p.enterprise.stats.markStarted()
	p.startDashboardIfConfigured()

	if p.enterprise.alertManager != nil {
		p.enterprise.alertManager.SetProvider(p)
		p.enterprise.alertManager.Start()
	}
}

// runIdleReaper periodically wakes idle workers so each can re-check
// its own retirement deadline against lastFullUtilizationDate, without
// every worker needing a private timer. It exits once the pool leaves
// the running state.
func (p *Pool) runIdleReaper() {
	interval := p.config.MaxIdleThreadAge / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.state != running {
			p.mu.Unlock()
			return
		}
		p.workAvailable.Broadcast()
		p.mu.Unlock()
	}
}

// Schedule hands fn to the pool. If the pool can accept more work, fn
// is queued and a worker eventually calls it with OutcomeOK. If the
// pool has begun shutting down, fn runs immediately, on the caller's
// own goroutine, with OutcomeShutdownInProgress, so callers can always
// rely on fn running exactly once.
//
// Schedule never blocks waiting for a worker; it only blocks for as
// long as it takes to acquire the pool's internal mutex.
func (p *Pool) Schedule(fn func(Outcome)) {
	p.scheduleWithPriority(fn, PriorityNormal)
}

func (p *Pool) scheduleWithPriority(fn func(Outcome), priority Priority) {
	p.mu.Lock()

	if p.state.isShuttingDown() {
		p.mu.Unlock()
		p.enterprise.metrics.RecordTaskRejected("shutdown")
		p.recordShutdownRejectionToDeadLetter()
		t := &queuedTask{fn: fn, priority: priority, queuedAt: time.Now()}
		p.runTask(t, OutcomeShutdownInProgress)
		return
	}
	t := &queuedTask{fn: fn, priority: priority, queuedAt: time.Now()}
	p.queue = append(p.queue, t)
	p.enterprise.metrics.RecordTaskSubmitted(priorityLabel(priority))

	if p.state == preStart {
		// No worker exists yet to dequeue this; Startup will size its
		// initial worker count off the backlog this leaves behind.
		p.enterprise.metrics.SetQueueSize(len(p.queue))
		p.mu.Unlock()
		return
	}

	backlog := len(p.queue)
	idle := p.numIdleThreads
	live := len(p.liveWorkers)
	maxThreads := p.config.effectiveMaxThreads()

	if idle == 0 {
		p.lastFullUtilizationDate = time.Now()
	}
	throttled := p.enterprise.resourceMonitor != nil && p.enterprise.resourceMonitor.IsThrottled()
	if backlog > idle && live < maxThreads && !throttled {
		p.spawnWorkerLocked()
	}

	p.enterprise.metrics.SetQueueSize(len(p.queue))
	p.enterprise.health.UpdateMetrics(len(p.queue), len(p.liveWorkers))

	p.workAvailable.Broadcast()
	p.mu.Unlock()
}

func priorityLabel(pr Priority) string {
	switch pr {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// WaitForIdle blocks until the queue is empty and every live worker
// is idle. It returns immediately if the pool has no live workers and
// an empty queue, which is always true before Startup and can recur
// after Startup if MinThreads is 0 and the backlog has just drained.
func (p *Pool) WaitForIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) != 0 || p.numIdleThreads != len(p.liveWorkers) {
		p.poolIsIdle.Wait()
	}
}
