package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector records pool activity as Prometheus metrics. It
// replaces the sample-buffer histograms a hand-rolled collector would
// need with the client library's own quantile tracking.
type MetricsCollector struct {
	registry *prometheus.Registry

	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksRejected  *prometheus.CounterVec
	taskPanics     prometheus.Counter

	workersActive prometheus.Gauge
	workersIdle   prometheus.Gauge
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge

	taskDuration prometheus.Histogram
	taskWaitTime prometheus.Histogram
}

// NewMetricsCollector registers a fresh metric set under its own
// registry so one process can host multiple independently-labeled
// pools (e.g. one per PoolName) without collector name collisions.
func NewMetricsCollector(poolName string, queueCapacity int) *MetricsCollector {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"pool": poolName}

	m := &MetricsCollector{
		registry: reg,
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "workerpool_tasks_submitted_total",
			Help:        "Total tasks submitted to the pool, by priority.",
			ConstLabels: constLabels,
		}, []string{"priority"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "workerpool_tasks_completed_total",
			Help:        "Total tasks that finished executing, by outcome status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		tasksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "workerpool_tasks_rejected_total",
			Help:        "Total tasks rejected before execution, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		taskPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "workerpool_task_panics_total",
			Help:        "Total tasks that panicked during execution.",
			ConstLabels: constLabels,
		}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "workerpool_workers_active",
			Help:        "Current number of live worker goroutines.",
			ConstLabels: constLabels,
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "workerpool_workers_idle",
			Help:        "Current number of idle worker goroutines.",
			ConstLabels: constLabels,
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "workerpool_queue_size",
			Help:        "Current number of queued, unstarted tasks.",
			ConstLabels: constLabels,
		}),
		queueCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "workerpool_queue_capacity",
			Help:        "Configured task queue capacity, 0 if unbounded.",
			ConstLabels: constLabels,
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "workerpool_task_duration_seconds",
			Help:        "Task execution duration in seconds.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		taskWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "workerpool_task_wait_seconds",
			Help:        "Time a task spent queued before a worker picked it up.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.tasksSubmitted, m.tasksCompleted, m.tasksRejected, m.taskPanics,
		m.workersActive, m.workersIdle, m.queueSize, m.queueCapacity,
		m.taskDuration, m.taskWaitTime,
	)
	m.queueCapacity.Set(float64(queueCapacity))
	return m
}

// Registry exposes the collector's Prometheus registry so callers can
// mount it on an HTTP handler (e.g. promhttp.HandlerFor).
func (m *MetricsCollector) Registry() *prometheus.Registry { return m.registry }

func (m *MetricsCollector) RecordTaskSubmitted(priority string) {
	m.tasksSubmitted.WithLabelValues(priority).Inc()
}

func (m *MetricsCollector) RecordTaskCompleted(status string, durationSeconds, waitSeconds float64) {
	m.tasksCompleted.WithLabelValues(status).Inc()
	m.taskDuration.Observe(durationSeconds)
	m.taskWaitTime.Observe(waitSeconds)
}

func (m *MetricsCollector) RecordTaskRejected(reason string) {
	m.tasksRejected.WithLabelValues(reason).Inc()
}

func (m *MetricsCollector) RecordTaskPanic() {
	m.taskPanics.Inc()
}

func (m *MetricsCollector) SetWorkersActive(count int) {
	m.workersActive.Set(float64(count))
}

func (m *MetricsCollector) SetWorkersIdle(count int) {
	m.workersIdle.Set(float64(count))
}

func (m *MetricsCollector) SetQueueSize(size int) {
	m.queueSize.Set(float64(size))
}

// NoOpMetricsCollector satisfies call sites when Config.Telemetry is
// nil, without the cost of a Prometheus registry.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordTaskSubmitted(priority string)                              {}
func (NoOpMetricsCollector) RecordTaskCompleted(status string, duration, wait float64)         {}
func (NoOpMetricsCollector) RecordTaskRejected(reason string)                                 {}
func (NoOpMetricsCollector) RecordTaskPanic()                                                 {}
func (NoOpMetricsCollector) SetWorkersActive(count int)                                       {}
func (NoOpMetricsCollector) SetWorkersIdle(count int)                                          {}
func (NoOpMetricsCollector) SetQueueSize(size int)                                             {}

// MetricsRecorder is the subset of MetricsCollector the core pool
// depends on, implemented by both *MetricsCollector and NoOpMetricsCollector.
type MetricsRecorder interface {
	RecordTaskSubmitted(priority string)
	RecordTaskCompleted(status string, durationSeconds, waitSeconds float64)
	RecordTaskRejected(reason string)
	RecordTaskPanic()
	SetWorkersActive(count int)
	SetWorkersIdle(count int)
	SetQueueSize(size int)
}
