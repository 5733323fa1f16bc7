package multitenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceQuotaRejectsBeyondLimit(t *testing.T) {
	q := NewResourceQuota(0, 0, 2)

	assert.True(t, q.CheckAndReserve())
	assert.True(t, q.CheckAndReserve())
	assert.False(t, q.CheckAndReserve())

	q.Release()
	assert.True(t, q.CheckAndReserve())
}

func TestResourceQuotaZeroLimitIsUnbounded(t *testing.T) {
	q := NewResourceQuota(0, 0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, q.CheckAndReserve())
	}
}

func TestResourceQuotaTracksUsage(t *testing.T) {
	q := NewResourceQuota(1000, 1024, 10)
	q.RecordCPU(50)
	q.RecordMemory(2048)

	usage := q.GetUsage()
	assert.EqualValues(t, 50, usage.CPUUsed)
	assert.EqualValues(t, 2048, usage.MemoryUsed)
}

func TestTenantManagerLazilyCreatesTenantWithDefaultConfig(t *testing.T) {
	tm := NewTenantManager(TenantConfig{MaxQueueSize: 3})

	info, err := tm.GetTenant("new-tenant")
	require.NoError(t, err)
	assert.Equal(t, "new-tenant", info.Config.TenantID)
	assert.Equal(t, 3, info.Config.MaxQueueSize)
}

func TestTenantManagerGetTenantIsIdempotent(t *testing.T) {
	tm := NewTenantManager(TenantConfig{MaxQueueSize: 3})

	first, err := tm.GetTenant("t1")
	require.NoError(t, err)
	second, err := tm.GetTenant("t1")
	require.NoError(t, err)

	assert.Same(t, first, second, "lazy tenant creation must not race into two distinct TenantInfo values")
}

func TestTenantManagerCheckAndReleaseQuota(t *testing.T) {
	tm := NewTenantManager(TenantConfig{MaxQueueSize: 1})

	ok, err := tm.CheckQuota("t1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tm.CheckQuota("t1")
	require.NoError(t, err)
	assert.False(t, ok, "second reservation should exceed the 1-task quota")

	require.NoError(t, tm.ReleaseQuota("t1"))
	ok, err = tm.CheckQuota("t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTenantManagerRegisterTenantOverridesDefault(t *testing.T) {
	tm := NewTenantManager(TenantConfig{MaxQueueSize: 1})
	require.NoError(t, tm.RegisterTenant(TenantConfig{TenantID: "vip", MaxQueueSize: 100}))

	info, err := tm.GetTenant("vip")
	require.NoError(t, err)
	assert.Equal(t, 100, info.Config.MaxQueueSize)
}

func TestTenantManagerStatsAccumulate(t *testing.T) {
	tm := NewTenantManager(TenantConfig{MaxQueueSize: 10})

	tm.RecordTaskSubmitted("t1")
	tm.RecordTaskCompleted("t1", 50, 1024)
	tm.RecordTaskRejected("t1")

	stats, err := tm.GetTenantStats("t1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TasksSubmitted.Load())
	assert.EqualValues(t, 1, stats.TasksCompleted.Load())
	assert.EqualValues(t, 1, stats.TasksRejected.Load())
	assert.EqualValues(t, 50, stats.TotalCPUTime.Load())
}

func TestTenantManagerGetAllTenants(t *testing.T) {
	tm := NewTenantManager(TenantConfig{MaxQueueSize: 10})
	tm.RecordTaskSubmitted("a")
	tm.RecordTaskSubmitted("b")

	all := tm.GetAllTenants()
	assert.Len(t, all, 2)
	assert.Contains(t, all, "a")
	assert.Contains(t, all, "b")
}

func TestTenantSchedulerRoundRobinsWithinPriorityTier(t *testing.T) {
	ts := NewTenantScheduler()
	low1 := &TenantInfo{Config: TenantConfig{TenantID: "low1", Priority: 0}}
	low2 := &TenantInfo{Config: TenantConfig{TenantID: "low2", Priority: 0}}
	ts.AddTenant(low1)
	ts.AddTenant(low2)

	first := ts.Schedule()
	second := ts.Schedule()
	third := ts.Schedule()

	assert.Equal(t, "low1", first.Config.TenantID)
	assert.Equal(t, "low2", second.Config.TenantID)
	assert.Equal(t, "low1", third.Config.TenantID, "round robin should cycle back")
}

func TestTenantSchedulerPrefersHigherPriorityTier(t *testing.T) {
	ts := NewTenantScheduler()
	ts.AddTenant(&TenantInfo{Config: TenantConfig{TenantID: "bulk", Priority: 0}})
	ts.AddTenant(&TenantInfo{Config: TenantConfig{TenantID: "premium", Priority: 10}})

	picked := ts.Schedule()
	assert.Equal(t, "premium", picked.Config.TenantID)
}

func TestTenantSchedulerEmptyReturnsNil(t *testing.T) {
	ts := NewTenantScheduler()
	assert.Nil(t, ts.Schedule())
}

func TestNewTaskContextCarriesTenantAndContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), struct{}{}, "v")
	tc := NewTaskContext(ctx, "tenant-1")

	assert.Equal(t, "tenant-1", tc.TenantID)
	assert.Equal(t, ctx, tc.Context)
	assert.NotNil(t, tc.Claims)
}
