package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthStatus is the aggregate health of a pool.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthChecker provides Kubernetes-style liveness/readiness/startup
// probes for a pool. It is driven entirely from the pool's own
// bookkeeping (Startup, Shutdown, task completions/panics, queue and
// worker-count snapshots) so it never needs its own lock on pool state.
type HealthChecker struct {
	isAlive       atomic.Bool
	isReady       atomic.Bool
	isStarted     atomic.Bool
	panicCount    atomic.Int64
	totalTasks    atomic.Int64
	queueSize     atomic.Int32
	queueCapacity int32
	activeWorkers atomic.Int32
	startTime     time.Time
}

type HealthCheck struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func NewHealthChecker(queueCapacity int) *HealthChecker {
	hc := &HealthChecker{
		queueCapacity: int32(queueCapacity),
		startTime:     time.Now(),
	}
	hc.isAlive.Store(true)
	return hc
}

// MarkStarted records that Startup() has returned; Readiness becomes
// reachable from here on.
func (h *HealthChecker) MarkStarted() {
	h.isStarted.Store(true)
	h.isReady.Store(true)
}

// MarkStopped records that Shutdown has been called; from here on
// both Liveness and Readiness fail.
func (h *HealthChecker) MarkStopped() {
	h.isReady.Store(false)
	h.isAlive.Store(false)
}

func (h *HealthChecker) RecordPanic() {
	h.panicCount.Add(1)
	h.totalTasks.Add(1)
}

func (h *HealthChecker) RecordTaskCompletion() {
	h.totalTasks.Add(1)
}

func (h *HealthChecker) UpdateMetrics(queueSize, activeWorkers int) {
	h.queueSize.Store(int32(queueSize))
	h.activeWorkers.Store(int32(activeWorkers))
}

// Liveness fails once the pool has been explicitly shut down, or once
// more than half of a statistically meaningful sample of tasks have
// panicked.
func (h *HealthChecker) Liveness() bool {
	if !h.isAlive.Load() {
		return false
	}
	total := h.totalTasks.Load()
	if total > 100 {
		if float64(h.panicCount.Load())/float64(total) > 0.5 {
			return false
		}
	}
	return true
}

// Readiness fails if the pool hasn't started, the queue is more than
// 90% full, or the last reported active-worker count is zero. A pool
// with MinThreads == 0 whose workers have all retired during an idle
// period therefore reports "not ready".
func (h *HealthChecker) Readiness() bool {
	if !h.isReady.Load() {
		return false
	}
	if h.queueCapacity > 0 && float64(h.queueSize.Load()) > float64(h.queueCapacity)*0.9 {
		return false
	}
	if h.activeWorkers.Load() == 0 {
		return false
	}
	return true
}

func (h *HealthChecker) Startup() bool {
	return h.isStarted.Load()
}

func (h *HealthChecker) GetStatus() HealthCheck {
	status := HealthStatusHealthy
	if !h.Liveness() {
		status = HealthStatusUnhealthy
	} else if !h.Readiness() {
		status = HealthStatusDegraded
	}

	total := h.totalTasks.Load()
	panics := h.panicCount.Load()
	panicRate := 0.0
	if total > 0 {
		panicRate = float64(panics) / float64(total)
	}

	return HealthCheck{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).String(),
		Details: map[string]interface{}{
			"alive":          h.isAlive.Load(),
			"ready":          h.isReady.Load(),
			"started":        h.isStarted.Load(),
			"queue_size":     h.queueSize.Load(),
			"queue_capacity": h.queueCapacity,
			"active_workers": h.activeWorkers.Load(),
			"panic_rate":     panicRate,
			"total_tasks":    total,
		},
	}
}

func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Liveness() {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not alive"})
		}
	}
}

func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Readiness() {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		}
	}
}

func (h *HealthChecker) StartupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Startup() {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "started"})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not started"})
		}
	}
}

func (h *HealthChecker) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.GetStatus()
		w.Header().Set("Content-Type", "application/json")
		if status.Status == HealthStatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	}
}
