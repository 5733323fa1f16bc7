// Package multitenancy tracks per-tenant resource quotas so a single
// Pool can be shared across tenants without one tenant's backlog
// starving another's.
package multitenancy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrQuotaExceeded  = errors.New("tenant quota exceeded")
)

// TenantConfig configures a tenant's resource ceilings.
type TenantConfig struct {
	TenantID     string
	MaxWorkers   int
	MaxQueueSize int
	CPUQuota     float64 // CPU percentage
	MemoryQuota  int64   // Memory in MB
	RateLimit    float64 // Tasks per second
	Priority     int     // higher = more important
}

// ResourceQuota tracks live usage against a tenant's limits.
type ResourceQuota struct {
	cpuUsed    atomic.Int64 // CPU milliseconds
	memoryUsed atomic.Int64 // Memory bytes
	tasksUsed  atomic.Int64 // in-flight task count

	cpuLimit    int64
	memoryLimit int64
	tasksLimit  int64
}

func NewResourceQuota(cpuLimit, memoryLimit, tasksLimit int64) *ResourceQuota {
	return &ResourceQuota{
		cpuLimit:    cpuLimit,
		memoryLimit: memoryLimit,
		tasksLimit:  tasksLimit,
	}
}

// CheckAndReserve admits one more in-flight task if the tenant's
// queue-size quota allows it.
func (rq *ResourceQuota) CheckAndReserve() bool {
	if rq.tasksLimit > 0 && rq.tasksUsed.Load() >= rq.tasksLimit {
		return false
	}
	rq.tasksUsed.Add(1)
	return true
}

func (rq *ResourceQuota) Release() {
	rq.tasksUsed.Add(-1)
}

func (rq *ResourceQuota) RecordCPU(cpuMillis int64) {
	rq.cpuUsed.Add(cpuMillis)
}

func (rq *ResourceQuota) RecordMemory(bytes int64) {
	rq.memoryUsed.Store(bytes)
}

func (rq *ResourceQuota) GetUsage() QuotaUsage {
	return QuotaUsage{
		CPUUsed:     rq.cpuUsed.Load(),
		MemoryUsed:  rq.memoryUsed.Load(),
		TasksUsed:   rq.tasksUsed.Load(),
		CPULimit:    rq.cpuLimit,
		MemoryLimit: rq.memoryLimit,
		TasksLimit:  rq.tasksLimit,
	}
}

type QuotaUsage struct {
	CPUUsed     int64
	MemoryUsed  int64
	TasksUsed   int64
	CPULimit    int64
	MemoryLimit int64
	TasksLimit  int64
}

// TenantManager hands out per-tenant quota tracking, creating an
// entry with defaultConfig on first reference to an unseen tenant ID.
type TenantManager struct {
	tenants       sync.Map // map[string]*TenantInfo
	defaultConfig TenantConfig
}

type TenantInfo struct {
	Config TenantConfig
	Quota  *ResourceQuota
	Stats  *TenantStats
}

type TenantStats struct {
	TasksSubmitted atomic.Int64
	TasksCompleted atomic.Int64
	TasksRejected  atomic.Int64
	TotalCPUTime   atomic.Int64 // milliseconds
	TotalMemory    atomic.Int64 // bytes
}

func NewTenantManager(defaultConfig TenantConfig) *TenantManager {
	return &TenantManager{defaultConfig: defaultConfig}
}

func (tm *TenantManager) RegisterTenant(config TenantConfig) error {
	quota := NewResourceQuota(
		int64(config.CPUQuota),
		config.MemoryQuota*1024*1024,
		int64(config.MaxQueueSize),
	)
	tm.tenants.Store(config.TenantID, &TenantInfo{
		Config: config,
		Quota:  quota,
		Stats:  &TenantStats{},
	})
	return nil
}

// GetTenant returns the tenant's info, lazily registering it with
// defaultConfig if this is the first time tenantID is seen.
func (tm *TenantManager) GetTenant(tenantID string) (*TenantInfo, error) {
	infoI, ok := tm.tenants.Load(tenantID)
	if !ok {
		cfg := tm.defaultConfig
		cfg.TenantID = tenantID
		defaultInfo := &TenantInfo{
			Config: cfg,
			Quota: NewResourceQuota(
				int64(cfg.CPUQuota),
				cfg.MemoryQuota*1024*1024,
				int64(cfg.MaxQueueSize),
			),
			Stats: &TenantStats{},
		}
		actual, _ := tm.tenants.LoadOrStore(tenantID, defaultInfo)
		return actual.(*TenantInfo), nil
	}
	return infoI.(*TenantInfo), nil
}

func (tm *TenantManager) CheckQuota(tenantID string) (bool, error) {
	info, err := tm.GetTenant(tenantID)
	if err != nil {
		return false, err
	}
	return info.Quota.CheckAndReserve(), nil
}

func (tm *TenantManager) ReleaseQuota(tenantID string) error {
	info, err := tm.GetTenant(tenantID)
	if err != nil {
		return err
	}
	info.Quota.Release()
	return nil
}

func (tm *TenantManager) RecordTaskSubmitted(tenantID string) {
	if info, _ := tm.GetTenant(tenantID); info != nil {
		info.Stats.TasksSubmitted.Add(1)
	}
}

func (tm *TenantManager) RecordTaskCompleted(tenantID string, cpuMillis, memoryBytes int64) {
	info, _ := tm.GetTenant(tenantID)
	if info == nil {
		return
	}
	info.Stats.TasksCompleted.Add(1)
	info.Stats.TotalCPUTime.Add(cpuMillis)
	info.Quota.RecordCPU(cpuMillis)
	info.Quota.RecordMemory(memoryBytes)
}

func (tm *TenantManager) RecordTaskRejected(tenantID string) {
	if info, _ := tm.GetTenant(tenantID); info != nil {
		info.Stats.TasksRejected.Add(1)
	}
}

func (tm *TenantManager) GetTenantStats(tenantID string) (*TenantStats, error) {
	info, err := tm.GetTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return info.Stats, nil
}

func (tm *TenantManager) GetAllTenants() map[string]*TenantInfo {
	result := make(map[string]*TenantInfo)
	tm.tenants.Range(func(key, value interface{}) bool {
		result[key.(string)] = value.(*TenantInfo)
		return true
	})
	return result
}

// TenantScheduler picks the next tenant to service, round-robin
// within priority tier, highest tier first.
type TenantScheduler struct {
	queues map[int][]*TenantInfo
	mu     sync.Mutex
}

func NewTenantScheduler() *TenantScheduler {
	return &TenantScheduler{queues: make(map[int][]*TenantInfo)}
}

func (ts *TenantScheduler) Schedule() *TenantInfo {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	priorities := []int{10, 5, 1, 0}
	for _, priority := range priorities {
		tenants := ts.queues[priority]
		if len(tenants) == 0 {
			continue
		}
		tenant := tenants[0]
		ts.queues[priority] = append(tenants[1:], tenant)
		return tenant
	}
	return nil
}

func (ts *TenantScheduler) AddTenant(info *TenantInfo) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var priority int
	switch p := info.Config.Priority; {
	case p >= 10:
		priority = 10
	case p >= 5:
		priority = 5
	case p >= 1:
		priority = 1
	}
	ts.queues[priority] = append(ts.queues[priority], info)
}

// TaskContext carries tenant and request identity through a task
// submitted via SubmitWithTenant, for quota checks and cost/billing
// attribution.
type TaskContext struct {
	Context   context.Context
	TenantID  string
	UserID    string
	RequestID string
	SourceIP  string
	UserAgent string
	Token     string
	Claims    map[string]interface{}
}

func NewTaskContext(ctx context.Context, tenantID string) *TaskContext {
	return &TaskContext{
		Context:  ctx,
		TenantID: tenantID,
		Claims:   make(map[string]interface{}),
	}
}
