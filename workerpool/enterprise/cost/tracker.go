// Package cost attributes CPU/memory/task cost to tenants, letting a
// multi-tenant Pool produce a billing breakdown and invoice per
// tenant per period.
package cost

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskCost is the cost breakdown of a single task execution.
type TaskCost struct {
	TaskID      string
	TenantID    string
	CPUMillis   int64
	MemoryMBSec float64
	Duration    time.Duration
	CPUCost     float64
	MemoryCost  float64
	BaseCost    float64
	TotalCost   float64
	Timestamp   time.Time
}

type CostConfig struct {
	Enabled         bool
	CPUCostPerMs    float64
	MemoryCostPerMB float64
	TaskCostBase    float64
}

// CostTracker accumulates TaskCost entries per tenant for later
// billing and invoicing.
type CostTracker struct {
	config CostConfig
	costs  sync.Map // map[string]*[]TaskCost keyed by tenantID
	mu     sync.Mutex
}

func NewCostTracker(config CostConfig) *CostTracker {
	return &CostTracker{config: config}
}

func (ct *CostTracker) RecordTaskCost(taskID, tenantID string, cpuMillis int64, memoryBytes int64, duration time.Duration) {
	if !ct.config.Enabled {
		return
	}

	memoryMBSec := float64(memoryBytes) / 1024 / 1024 * duration.Seconds()

	cost := TaskCost{
		TaskID:      taskID,
		TenantID:    tenantID,
		CPUMillis:   cpuMillis,
		MemoryMBSec: memoryMBSec,
		Duration:    duration,
		CPUCost:     float64(cpuMillis) * ct.config.CPUCostPerMs,
		MemoryCost:  memoryMBSec * ct.config.MemoryCostPerMB,
		BaseCost:    ct.config.TaskCostBase,
		Timestamp:   time.Now(),
	}
	cost.TotalCost = cost.CPUCost + cost.MemoryCost + cost.BaseCost

	ct.addCost(tenantID, cost)
}

func (ct *CostTracker) addCost(tenantID string, cost TaskCost) {
	costsI, _ := ct.costs.LoadOrStore(tenantID, &[]TaskCost{})
	costs := costsI.(*[]TaskCost)

	ct.mu.Lock()
	defer ct.mu.Unlock()
	*costs = append(*costs, cost)
}

func (ct *CostTracker) GetCostsByTenant(tenantID string, start, end time.Time) []TaskCost {
	costsI, ok := ct.costs.Load(tenantID)
	if !ok {
		return []TaskCost{}
	}
	costs := costsI.(*[]TaskCost)

	ct.mu.Lock()
	defer ct.mu.Unlock()

	var filtered []TaskCost
	for _, cost := range *costs {
		if cost.Timestamp.After(start) && cost.Timestamp.Before(end) {
			filtered = append(filtered, cost)
		}
	}
	return filtered
}

func (ct *CostTracker) GetTotalCost(tenantID string, start, end time.Time) float64 {
	var total float64
	for _, cost := range ct.GetCostsByTenant(tenantID, start, end) {
		total += cost.TotalCost
	}
	return total
}

func (ct *CostTracker) GenerateBilling(tenantID string, period BillingPeriod) *TenantBilling {
	costs := ct.GetCostsByTenant(tenantID, period.StartDate, period.EndDate)

	billing := &TenantBilling{
		TenantID:  tenantID,
		Period:    period,
		TaskCount: int64(len(costs)),
		Breakdown: make(map[string]float64),
	}
	for _, cost := range costs {
		billing.TotalCost += cost.TotalCost
		billing.CPUCost += cost.CPUCost
		billing.MemoryCost += cost.MemoryCost
		billing.Breakdown["tasks"] += cost.TotalCost
	}
	return billing
}

func (ct *CostTracker) GenerateInvoice(tenantID string, period BillingPeriod) *Invoice {
	billing := ct.GenerateBilling(tenantID, period)

	return &Invoice{
		InvoiceID:   "inv_" + uuid.NewString(),
		TenantID:    tenantID,
		Period:      period,
		LineItems:   ct.GetCostsByTenant(tenantID, period.StartDate, period.EndDate),
		TotalAmount: billing.TotalCost,
		Currency:    "USD",
		GeneratedAt: time.Now(),
	}
}

type BillingPeriod struct {
	StartDate time.Time
	EndDate   time.Time
}

type TenantBilling struct {
	TenantID   string
	Period     BillingPeriod
	TaskCount  int64
	TotalCost  float64
	CPUCost    float64
	MemoryCost float64
	Breakdown  map[string]float64
}

type Invoice struct {
	InvoiceID   string
	TenantID    string
	Period      BillingPeriod
	LineItems   []TaskCost
	TotalAmount float64
	Currency    string
	GeneratedAt time.Time
}

func (ct *CostTracker) GetAllTenantCosts(start, end time.Time) map[string]float64 {
	result := make(map[string]float64)
	ct.costs.Range(func(key, value interface{}) bool {
		tenantID := key.(string)
		result[tenantID] = ct.GetTotalCost(tenantID, start, end)
		return true
	})
	return result
}

type CostSummary struct {
	TotalTasks int64
	TotalCost  float64
	CPUCost    float64
	MemoryCost float64
	BaseCost   float64
	PerTenant  map[string]float64
}

func (ct *CostTracker) GetCostSummary(start, end time.Time) CostSummary {
	summary := CostSummary{PerTenant: make(map[string]float64)}

	ct.costs.Range(func(key, value interface{}) bool {
		tenantID := key.(string)
		var tenantTotal float64
		for _, cost := range ct.GetCostsByTenant(tenantID, start, end) {
			summary.TotalTasks++
			summary.TotalCost += cost.TotalCost
			summary.CPUCost += cost.CPUCost
			summary.MemoryCost += cost.MemoryCost
			summary.BaseCost += cost.BaseCost
			tenantTotal += cost.TotalCost
		}
		summary.PerTenant[tenantID] = tenantTotal
		return true
	})
	return summary
}
