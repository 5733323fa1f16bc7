package workerpool

import (
	"fmt"
	"runtime"
	"time"
)

// Config configures a Pool: the core sizing/lifecycle knobs spec'd
// for every pool, plus a set of nil-by-default enterprise features
// that only come into play once their sub-config is non-nil.
type Config struct {
	// MinThreads is the number of workers the pool keeps alive even
	// while idle. A worker never self-retires if doing so would bring
	// the live count below MinThreads.
	MinThreads int
	// MaxThreads bounds how far the pool can grow in response to
	// backlog. Must be at least 1; otherwise NewPool returns an error
	// wrapping ErrInvalidConfig (it does not panic).
	MaxThreads int
	// MaxIdleThreadAge is how long a worker above MinThreads may sit
	// idle before retiring itself. Zero disables idle retirement:
	// once grown, the pool never shrinks back down on its own.
	MaxIdleThreadAge time.Duration

	// PoolName identifies this pool in logs, metrics and the
	// dashboard. Defaults to "workerpool-<n>" for the nth pool
	// created in the process.
	PoolName string
	// ThreadNamePrefix prefixes each worker's name. Defaults to
	// PoolName + "-worker".
	ThreadNamePrefix string

	// QueueCapacity is the task queue's nominal size, reported to the
	// metrics collector and the health checker (Readiness fails above
	// 90% of it); zero means unbounded. Schedule does not enforce it:
	// it never blocks or rejects for backlog.
	QueueCapacity int

	// OnCreateThread, if set, is invoked synchronously every time the
	// pool spawns a new worker, while the pool's mutex is held.
	OnCreateThread func(workerName string)
	// OnJoinRetiredThread, if set, is invoked synchronously under the
	// pool's mutex immediately after a retired or live worker's
	// goroutine has been joined during Join.
	OnJoinRetiredThread func(workerName string)

	// Enterprise features, disabled unless their sub-config is set.
	Telemetry      *TelemetryConfig
	Resource       *ResourceConfig
	RateLimit      *RateLimitConfig
	Persistence    *PersistenceConfig
	Retry          *RetryConfig
	CircuitBreaker *CircuitBreakerConfig
	MultiTenancy   *MultiTenancyConfig
	Security       *SecurityConfig
	Dashboard      *DashboardConfig
	Alerting       *AlertConfig
	Cost           *CostConfig
	Features       *FeatureFlags
}

// TelemetryConfig configures the observability sub-system.
type TelemetryConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	MetricsExporter string // "prometheus"
	MetricsInterval time.Duration

	TracingExporter string // "jaeger", "zipkin", "otlp"
	SamplingRate    float64

	LogLevel    string // "debug", "info", "warn", "error"
	LogExporter string // "stdout", "file"
	LogSampling LogSamplingConfig
}

type LogSamplingConfig struct {
	Initial    int
	Thereafter int
}

// ResourceConfig throttles the dispatcher's growth decisions based on
// process resource pressure (see resilience.ResourceMonitor),
// independent of queue backlog.
type ResourceConfig struct {
	MaxCPUPercent   float64
	CPUThrottle     bool
	MaxMemoryMB     int64
	MemoryThrottle  bool
	MaxTaskDuration time.Duration
}

// RateLimitConfig configures the token-bucket admission control that
// TrySubmit applies; the other Submit* methods do not consult it. It
// never affects Schedule, which
// always admits or drains inline per the core contract.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

// PersistenceConfig selects the PersistentQueue backend a Pool
// constructs and turns on its dead-letter queue. The dead-letter
// queue's storage is always in process memory, and scheduled tasks are
// dispatched from the pool's own in-memory queue, not from the
// configured backend.
type PersistenceConfig struct {
	Enabled       bool
	Backend       string // "memory", "redis", "postgres"
	RedisURL      string
	PostgresDSN   string
	BatchSize     int
	FlushInterval time.Duration
}

type RetryConfig struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

type MultiTenancyConfig struct {
	Enabled         bool
	DefaultMaxTasks int
	DefaultCPUQuota float64
	DefaultMemoryMB int64
}

type TenantConfig struct {
	TenantID     string
	MaxQueueSize int
	CPUQuota     float64
	MemoryQuota  int64
	RateLimit    float64
	Priority     Priority
}

type SecurityConfig struct {
	AuthEnabled       bool
	AuthProvider      string // "jwt"
	AuthSecret        []byte // HMAC signing key for dashboard JWT bearer auth
	EncryptionEnabled bool
	EncryptionKey     []byte // 32 bytes, used as a nacl/secretbox key
	AuditLog          bool
}

type DashboardConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type AlertConfig struct {
	Enabled  bool
	Rules    []AlertRule
	Channels []AlertChannelConfig
}

type AlertRule struct {
	Name        string
	Condition   string
	Duration    time.Duration
	Severity    string
	Annotations map[string]string
}

type AlertChannelConfig struct {
	Type   string // "slack", "webhook" or "log"; other types are ignored
	Config map[string]string
}

type CostConfig struct {
	Enabled         bool
	CPUCostPerMs    float64
	MemoryCostPerMB float64
	TaskCostBase    float64
}

type FeatureFlags struct {
	EnableTracing        bool
	EnablePersistence    bool
	EnableCostTracking   bool
	EnableMultiTenancy   bool
	ExperimentalFeatures map[string]bool
}

// DefaultConfig returns a single-worker, unbounded pool with every
// enterprise feature disabled.
func DefaultConfig() Config {
	return Config{
		MinThreads:       1,
		MaxThreads:       1,
		MaxIdleThreadAge: 0,
	}
}

// NewEnterpriseConfig returns a dynamically-sized pool (1 to
// 4*NumCPU threads, retiring idle growth after a minute) with the
// full enterprise stack turned on using conservative defaults.
func NewEnterpriseConfig() Config {
	return Config{
		MinThreads:       1,
		MaxThreads:       4 * runtime.NumCPU(),
		MaxIdleThreadAge: time.Minute,
		QueueCapacity:    1000,

		Telemetry: &TelemetryConfig{
			Enabled:         true,
			ServiceName:     "workerpool",
			ServiceVersion:  "1.0.0",
			MetricsExporter: "prometheus",
			MetricsInterval: 10 * time.Second,
			TracingExporter: "jaeger",
			SamplingRate:    0.1,
			LogLevel:        "info",
			LogExporter:     "stdout",
			LogSampling: LogSamplingConfig{
				Initial:    10,
				Thereafter: 100,
			},
		},

		Resource: &ResourceConfig{
			MaxCPUPercent:   80.0,
			CPUThrottle:     true,
			MaxMemoryMB:     1024,
			MemoryThrottle:  true,
			MaxTaskDuration: 5 * time.Minute,
		},

		RateLimit: &RateLimitConfig{
			Enabled: true,
			Rate:    1000.0,
			Burst:   100,
		},

		Retry: &RetryConfig{
			Enabled:      true,
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},

		CircuitBreaker: &CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			HalfOpenMaxCalls: 3,
		},

		Features: &FeatureFlags{
			EnableTracing:        true,
			EnablePersistence:    false,
			EnableCostTracking:   false,
			EnableMultiTenancy:   false,
			ExperimentalFeatures: make(map[string]bool),
		},
	}
}

// Validate checks the sizing invariants spec'd for every pool: both
// thread bounds non-negative, MaxThreads at least 1, MinThreads <=
// MaxThreads, and a non-negative idle age.
func (c Config) Validate() error {
	if c.MinThreads < 0 {
		return fmt.Errorf("%w: MinThreads must be >= 0, got %d", ErrInvalidConfig, c.MinThreads)
	}
	if c.MaxThreads < 1 {
		return fmt.Errorf("%w: MaxThreads must be >= 1, got %d", ErrInvalidConfig, c.MaxThreads)
	}
	if c.MinThreads > c.MaxThreads {
		return fmt.Errorf("%w: MinThreads (%d) must be <= MaxThreads (%d)", ErrInvalidConfig, c.MinThreads, c.MaxThreads)
	}
	if c.MaxIdleThreadAge < 0 {
		return fmt.Errorf("%w: MaxIdleThreadAge must be >= 0, got %v", ErrInvalidConfig, c.MaxIdleThreadAge)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("%w: QueueCapacity must be >= 0, got %d", ErrInvalidConfig, c.QueueCapacity)
	}
	return nil
}

// effectiveMaxThreads returns the validated MaxThreads ceiling; callers
// still go through it rather than touching c.MaxThreads directly so the
// growth-ceiling lookup stays in one place.
func (c Config) effectiveMaxThreads() int {
	return c.MaxThreads
}
