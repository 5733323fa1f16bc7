package workerpool

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of a pool's activity.
type Stats struct {
	LiveThreads    int           // current worker goroutines, idle or busy
	IdleThreads    int           // of LiveThreads, how many are idle right now
	QueuedTasks    int           // tasks waiting for a worker
	CompletedTasks int64         // total tasks that finished running (ok or panicked)
	RejectedTasks  int64         // total tasks run inline with OutcomeShutdownInProgress
	TaskPanics     int64         // total tasks that panicked
	AverageLatency time.Duration // mean task execution time, across CompletedTasks
	Uptime         time.Duration // time since Startup
}

// statsCollector tracks the counters that aren't already implicit in
// Pool's own locked fields (live/idle worker counts, queue length).
type statsCollector struct {
	completedTasks atomic.Int64
	rejectedTasks  atomic.Int64
	taskPanics     atomic.Int64
	totalLatencyNs atomic.Int64
	startedAt      atomic.Value // time.Time, set once by Startup
}

func newStatsCollector() *statsCollector {
	return &statsCollector{}
}

func (s *statsCollector) markStarted() {
	s.startedAt.Store(time.Now())
}

func (s *statsCollector) recordCompletion(d time.Duration) {
	s.completedTasks.Add(1)
	s.totalLatencyNs.Add(int64(d))
}

func (s *statsCollector) recordPanic() {
	s.taskPanics.Add(1)
	s.completedTasks.Add(1)
}

func (s *statsCollector) recordRejection() {
	s.rejectedTasks.Add(1)
}

func (s *statsCollector) snapshot() (completed, rejected, panics int64, avgLatency, uptime time.Duration) {
	completed = s.completedTasks.Load()
	rejected = s.rejectedTasks.Load()
	panics = s.taskPanics.Load()
	if completed > 0 {
		avgLatency = time.Duration(s.totalLatencyNs.Load() / completed)
	}
	if t, ok := s.startedAt.Load().(time.Time); ok {
		uptime = time.Since(t)
	}
	return
}

// Stats returns a snapshot of the pool's current activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	live := len(p.liveWorkers)
	idle := p.numIdleThreads
	queued := len(p.queue)
	p.mu.Unlock()

	completed, rejected, panics, avgLatency, uptime := p.enterprise.stats.snapshot()

	return Stats{
		LiveThreads:    live,
		IdleThreads:    idle,
		QueuedTasks:    queued,
		CompletedTasks: completed,
		RejectedTasks:  rejected,
		TaskPanics:     panics,
		AverageLatency: avgLatency,
		Uptime:         uptime,
	}
}

// GetMetrics satisfies dashboard.MetricsProvider, so the dashboard
// server can poll a Pool directly without workerpool importing the
// dashboard package.
func (p *Pool) GetMetrics() interface{} {
	return p.Stats()
}
