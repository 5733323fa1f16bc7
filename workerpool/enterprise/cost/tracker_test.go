package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window() (time.Time, time.Time) {
	now := time.Now()
	return now.Add(-time.Hour), now.Add(time.Hour)
}

func TestRecordTaskCostIsNoOpWhenDisabled(t *testing.T) {
	ct := NewCostTracker(CostConfig{Enabled: false, CPUCostPerMs: 1})
	ct.RecordTaskCost("t1", "tenant-a", 100, 0, time.Second)

	start, end := window()
	assert.Empty(t, ct.GetCostsByTenant("tenant-a", start, end))
}

func TestRecordTaskCostAccumulatesPerTenant(t *testing.T) {
	ct := NewCostTracker(CostConfig{
		Enabled:         true,
		CPUCostPerMs:    0.01,
		MemoryCostPerMB: 0.001,
		TaskCostBase:    0.5,
	})
	ct.RecordTaskCost("t1", "tenant-a", 100, 0, time.Second)

	start, end := window()
	costs := ct.GetCostsByTenant("tenant-a", start, end)
	require.Len(t, costs, 1)

	c := costs[0]
	assert.InDelta(t, 1.0, c.CPUCost, 1e-9)  // 100ms * 0.01
	assert.InDelta(t, 0.5, c.BaseCost, 1e-9)
	assert.InDelta(t, 1.5, c.TotalCost, 1e-9)
}

func TestGetTotalCostSumsAcrossTasks(t *testing.T) {
	ct := NewCostTracker(CostConfig{Enabled: true, TaskCostBase: 1})
	ct.RecordTaskCost("t1", "tenant-a", 0, 0, 0)
	ct.RecordTaskCost("t2", "tenant-a", 0, 0, 0)
	ct.RecordTaskCost("t3", "tenant-b", 0, 0, 0)

	start, end := window()
	assert.InDelta(t, 2.0, ct.GetTotalCost("tenant-a", start, end), 1e-9)
	assert.InDelta(t, 1.0, ct.GetTotalCost("tenant-b", start, end), 1e-9)
}

func TestGenerateBillingAggregatesCosts(t *testing.T) {
	ct := NewCostTracker(CostConfig{Enabled: true, TaskCostBase: 2, CPUCostPerMs: 1})
	ct.RecordTaskCost("t1", "tenant-a", 10, 0, time.Second)
	ct.RecordTaskCost("t2", "tenant-a", 20, 0, time.Second)

	start, end := window()
	billing := ct.GenerateBilling("tenant-a", BillingPeriod{StartDate: start, EndDate: end})

	assert.Equal(t, "tenant-a", billing.TenantID)
	assert.EqualValues(t, 2, billing.TaskCount)
	assert.InDelta(t, 34.0, billing.TotalCost, 1e-9) // (10+2)+(20+2)
	assert.InDelta(t, 30.0, billing.CPUCost, 1e-9)
}

func TestGenerateInvoiceHasUniqueID(t *testing.T) {
	ct := NewCostTracker(CostConfig{Enabled: true, TaskCostBase: 1})
	ct.RecordTaskCost("t1", "tenant-a", 0, 0, 0)

	start, end := window()
	period := BillingPeriod{StartDate: start, EndDate: end}
	inv1 := ct.GenerateInvoice("tenant-a", period)
	inv2 := ct.GenerateInvoice("tenant-a", period)

	assert.NotEmpty(t, inv1.InvoiceID)
	assert.NotEqual(t, inv1.InvoiceID, inv2.InvoiceID)
	assert.Equal(t, "USD", inv1.Currency)
	assert.Len(t, inv1.LineItems, 1)
}

func TestGetCostSummaryAggregatesAllTenants(t *testing.T) {
	ct := NewCostTracker(CostConfig{Enabled: true, TaskCostBase: 1})
	ct.RecordTaskCost("t1", "tenant-a", 0, 0, 0)
	ct.RecordTaskCost("t2", "tenant-b", 0, 0, 0)

	start, end := window()
	summary := ct.GetCostSummary(start, end)

	assert.EqualValues(t, 2, summary.TotalTasks)
	assert.InDelta(t, 2.0, summary.TotalCost, 1e-9)
	assert.InDelta(t, 1.0, summary.PerTenant["tenant-a"], 1e-9)
	assert.InDelta(t, 1.0, summary.PerTenant["tenant-b"], 1e-9)
}

func TestGetCostsByTenantFiltersByTimeWindow(t *testing.T) {
	ct := NewCostTracker(CostConfig{Enabled: true, TaskCostBase: 1})
	ct.RecordTaskCost("t1", "tenant-a", 0, 0, 0)

	future := time.Now().Add(time.Hour)
	farFuture := time.Now().Add(2 * time.Hour)
	assert.Empty(t, ct.GetCostsByTenant("tenant-a", future, farFuture))
}
