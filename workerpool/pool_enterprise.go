package workerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/tohafrit/worker-pool/workerpool/enterprise/config"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/cost"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/dashboard"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/multitenancy"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/observability"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/persistence"
	"github.com/tohafrit/worker-pool/workerpool/enterprise/resilience"
)

// enterpriseComponents holds every optional feature a Pool may wire
// up, gated by which Config sub-config is non-nil. logger, metrics,
// tracer, rateLimiter and queue get a NoOp or in-memory implementation
// when their feature is disabled, and health, stats, configManager and
// featureFlags are always built, so those need no nil check. Every
// other field stays nil when its feature is disabled, and its call
// sites check for nil.
type enterpriseComponents struct {
	logger  observability.Logger
	metrics observability.MetricsRecorder
	tracer  observability.Tracer
	health  *observability.HealthChecker
	stats   *statsCollector

	rateLimiter     resilience.RateLimiter
	circuitBreakers *resilience.CircuitBreakerManager
	resourceMonitor *resilience.ResourceMonitor
	retryer         *resilience.Retryer

	queue persistence.PersistentQueue
	dlq   *persistence.DeadLetterQueue
	crypt *persistence.Crypter

	tenantManager *multitenancy.TenantManager

	costTracker *cost.CostTracker

	dashboard    *dashboard.Dashboard
	alertManager *dashboard.AlertManager

	configManager *config.ConfigManager
	featureFlags  *config.FeatureFlags
}

// newEnterpriseComponents builds the enterprise stack for cfg. It is
// called once, from NewPool, before the pool has any workers, so it
// never needs to touch p.mu.
func newEnterpriseComponents(cfg Config) *enterpriseComponents {
	e := &enterpriseComponents{
		stats: newStatsCollector(),
	}

	if cfg.Telemetry != nil && cfg.Telemetry.Enabled {
		initObservability(e, cfg)
	} else {
		e.logger = &observability.NoOpLogger{}
		e.tracer = &observability.NoOpTracer{}
	}

	if cfg.Telemetry != nil && cfg.Telemetry.Enabled && cfg.Telemetry.MetricsExporter == "prometheus" {
		e.metrics = observability.NewMetricsCollector(cfg.PoolName, cfg.QueueCapacity)
	} else {
		e.metrics = observability.NoOpMetricsCollector{}
	}
	e.health = observability.NewHealthChecker(cfg.QueueCapacity)

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		e.rateLimiter = resilience.NewTokenBucketLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	} else {
		e.rateLimiter = &resilience.NoOpRateLimiter{}
	}

	if cfg.CircuitBreaker != nil && cfg.CircuitBreaker.Enabled {
		e.circuitBreakers = resilience.NewCircuitBreakerManager(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.CircuitBreaker.Timeout,
			HalfOpenMaxCalls: cfg.CircuitBreaker.HalfOpenMaxCalls,
		})
	}

	if cfg.Resource != nil {
		e.resourceMonitor = resilience.NewResourceMonitor(resilience.ResourceConfig{
			MaxCPUPercent:  cfg.Resource.MaxCPUPercent,
			MaxMemoryMB:    cfg.Resource.MaxMemoryMB,
			CPUThrottle:    cfg.Resource.CPUThrottle,
			MemoryThrottle: cfg.Resource.MemoryThrottle,
			OnThrottle: func(resource string) {
				e.logger.Warn("resource throttling activated", observability.Field{Key: "resource", Value: resource})
			},
		})
		e.resourceMonitor.Start()
	}

	if cfg.Retry != nil && cfg.Retry.Enabled {
		e.retryer = resilience.NewRetryer(resilience.RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		}, nil)
	}

	if cfg.Persistence != nil && cfg.Persistence.Enabled {
		initPersistence(e, cfg)
	} else {
		e.queue = persistence.NewInMemoryQueue(cfg.QueueCapacity)
	}

	if cfg.Security != nil && cfg.Security.EncryptionEnabled {
		crypt, err := persistence.NewCrypter(cfg.Security.EncryptionKey)
		if err != nil {
			e.logger.Error("failed to initialize task encryption; persisted tasks will be stored in the clear",
				observability.Field{Key: "error", Value: err.Error()})
		} else {
			e.crypt = crypt
			e.queue = persistence.NewEncryptingQueue(e.queue, crypt)
		}
	}

	if cfg.MultiTenancy != nil && cfg.MultiTenancy.Enabled {
		e.tenantManager = multitenancy.NewTenantManager(multitenancy.TenantConfig{
			MaxQueueSize: cfg.MultiTenancy.DefaultMaxTasks,
			CPUQuota:     cfg.MultiTenancy.DefaultCPUQuota,
			MemoryQuota:  cfg.MultiTenancy.DefaultMemoryMB,
		})
	}

	if cfg.Cost != nil && cfg.Cost.Enabled {
		e.costTracker = cost.NewCostTracker(cost.CostConfig{
			Enabled:         cfg.Cost.Enabled,
			CPUCostPerMs:    cfg.Cost.CPUCostPerMs,
			MemoryCostPerMB: cfg.Cost.MemoryCostPerMB,
			TaskCostBase:    cfg.Cost.TaskCostBase,
		})
	}

	e.configManager = config.NewConfigManager(cfg, "")
	e.featureFlags = config.NewFeatureFlags()
	if cfg.Features != nil {
		e.featureFlags.Set("tracing", cfg.Features.EnableTracing)
		e.featureFlags.Set("persistence", cfg.Features.EnablePersistence)
		e.featureFlags.Set("cost_tracking", cfg.Features.EnableCostTracking)
		e.featureFlags.Set("multi_tenancy", cfg.Features.EnableMultiTenancy)
	}

	if cfg.Alerting != nil && cfg.Alerting.Enabled {
		e.alertManager = dashboard.NewAlertManager()
		for _, rule := range cfg.Alerting.Rules {
			e.alertManager.AddRule(dashboard.AlertRule{
				Name:        rule.Name,
				Condition:   rule.Condition,
				Duration:    rule.Duration,
				Severity:    dashboard.Severity(rule.Severity),
				Annotations: rule.Annotations,
			})
		}
		for _, chCfg := range cfg.Alerting.Channels {
			if ch := buildAlertChannel(chCfg); ch != nil {
				e.alertManager.AddChannel(ch)
			}
		}
		// Start is deferred to (*Pool).Startup, once SetProvider has
		// been called with the live pool; the evaluation loop would
		// otherwise poll a nil MetricsProvider.
	}

	return e
}

// startDashboardIfConfigured wires the dashboard to p and starts its
// HTTP+websocket server. Called from Startup, once workers exist,
// because the dashboard's handlers read live Pool.Stats().
func (p *Pool) startDashboardIfConfigured() {
	if p.config.Dashboard == nil || !p.config.Dashboard.Enabled {
		return
	}
	secCfg := dashboard.SecurityConfig{}
	if p.config.Security != nil {
		secCfg.AuthEnabled = p.config.Security.AuthEnabled
		secCfg.AuthSecret = p.config.Security.AuthSecret
	}
	p.enterprise.dashboard = dashboard.NewDashboard(p, secCfg)

	go func() {
		addr := fmt.Sprintf(":%d", p.config.Dashboard.Port)
		if err := p.enterprise.dashboard.Start(addr); err != nil {
			p.enterprise.logger.Error("dashboard failed to start", observability.Field{Key: "error", Value: err.Error()})
		}
	}()
}

func initObservability(e *enterpriseComponents, cfg Config) {
	logger := observability.NewDefaultLogger()
	logger.SetLevel(parseLogLevel(cfg.Telemetry.LogLevel))
	if cfg.Telemetry.LogSampling.Initial > 0 {
		logger.WithSampling(cfg.Telemetry.LogSampling.Initial, cfg.Telemetry.LogSampling.Thereafter)
	}
	e.logger = logger

	if cfg.Features != nil && cfg.Features.EnableTracing {
		e.tracer = observability.NewSimpleTracer(cfg.Telemetry.ServiceName, &observability.InMemorySpanExporter{})
	} else {
		e.tracer = &observability.NoOpTracer{}
	}

	e.logger.Info("worker pool initialized",
		observability.Field{Key: "pool", Value: cfg.PoolName},
		observability.Field{Key: "min_threads", Value: cfg.MinThreads},
		observability.Field{Key: "max_threads", Value: cfg.effectiveMaxThreads()},
	)
}

func initPersistence(e *enterpriseComponents, cfg Config) {
	switch cfg.Persistence.Backend {
	case "redis":
		q, err := persistence.NewRedisQueue(cfg.Persistence.RedisURL, cfg.PoolName)
		if err != nil {
			e.logger.Error("failed to connect to redis persistence backend, falling back to memory",
				observability.Field{Key: "error", Value: err.Error()})
			e.queue = persistence.NewInMemoryQueue(cfg.QueueCapacity)
		} else {
			e.queue = q
		}
	case "postgres":
		q, err := persistence.NewPostgresQueue(cfg.Persistence.PostgresDSN, cfg.PoolName)
		if err != nil {
			e.logger.Error("failed to connect to postgres persistence backend, falling back to memory",
				observability.Field{Key: "error", Value: err.Error()})
			e.queue = persistence.NewInMemoryQueue(cfg.QueueCapacity)
		} else {
			e.queue = q
		}
	default:
		e.queue = persistence.NewInMemoryQueue(cfg.QueueCapacity)
	}

	dlqStorage := persistence.NewInMemoryQueue(1000)
	e.dlq = persistence.NewDeadLetterQueue(persistence.DLQConfig{
		MaxSize:   1000,
		Retention: 24 * time.Hour,
		Storage:   dlqStorage,
		OnMessage: func(entry *persistence.DLQEntry) {
			e.logger.Error("task moved to dead-letter queue",
				observability.Field{Key: "task_id", Value: entry.TaskID},
				observability.Field{Key: "failure_count", Value: entry.FailureCount},
			)
		},
	})
}

// recordShutdownRejectionToDeadLetter gives an operator an audit trail
// for submissions Schedule's shutdown branch otherwise only reports
// back to the caller via OutcomeShutdownInProgress.
func (p *Pool) recordShutdownRejectionToDeadLetter() {
	if p.enterprise.dlq == nil {
		return
	}
	entry := &persistence.DLQEntry{
		TaskID:       "schedule-" + p.config.PoolName + "-" + time.Now().Format(time.RFC3339Nano),
		FailedAt:     time.Now(),
		FailureCount: 1,
		Errors:       []string{"rejected: pool is shutting down"},
	}
	if err := p.enterprise.dlq.Push(context.Background(), entry); err != nil {
		p.enterprise.logger.Error("failed to record shutdown rejection to dead-letter queue",
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func buildAlertChannel(chCfg AlertChannelConfig) dashboard.AlertChannel {
	switch chCfg.Type {
	case "slack":
		return &dashboard.SlackChannel{WebhookURL: chCfg.Config["webhook_url"]}
	case "webhook":
		return &dashboard.WebhookChannel{URL: chCfg.Config["url"]}
	case "log":
		return &dashboard.LogChannel{}
	default:
		return nil
	}
}

func parseLogLevel(level string) observability.LogLevel {
	switch level {
	case "debug":
		return observability.DebugLevel
	case "warn":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// stopEnterpriseComponents releases background resources (resource
// monitor polling, dashboard server, alert manager) started by
// newEnterpriseComponents / startDashboardIfConfigured. Called from
// Join after the last worker has been reaped.
func (p *Pool) stopEnterpriseComponents() {
	if p.enterprise.resourceMonitor != nil {
		p.enterprise.resourceMonitor.Stop()
	}
	if p.enterprise.dashboard != nil {
		p.enterprise.dashboard.Stop()
	}
	if p.enterprise.alertManager != nil {
		p.enterprise.alertManager.Stop()
	}
	p.enterprise.logger.Info("worker pool stopped", observability.Field{Key: "pool", Value: p.config.PoolName})
}
