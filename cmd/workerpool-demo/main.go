// Command workerpool-demo exercises the pool's public surface end to
// end: plain Submit, priority submission, per-tenant submission with
// quota enforcement, TrySubmit under load, and a final stats dump.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tohafrit/worker-pool/workerpool"
)

func main() {
	cfg := workerpool.NewEnterpriseConfig()
	cfg.PoolName = "demo"
	cfg.MinThreads = 2
	cfg.MaxThreads = 8
	cfg.MaxIdleThreadAge = 30 * time.Second

	cfg.Dashboard = &workerpool.DashboardConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/dashboard",
	}

	cfg.MultiTenancy = &workerpool.MultiTenancyConfig{
		Enabled:         true,
		DefaultMaxTasks: 4,
		DefaultCPUQuota: 1000,
		DefaultMemoryMB: 256,
	}

	cfg.Cost = &workerpool.CostConfig{
		Enabled:         true,
		CPUCostPerMs:    0.00001,
		MemoryCostPerMB: 0.000001,
		TaskCostBase:    0.0001,
	}

	cfg.Alerting = &workerpool.AlertConfig{
		Enabled: true,
		Rules: []workerpool.AlertRule{
			{
				Name:      "high-backlog",
				Condition: "QueuedTasks > 50",
				Duration:  10 * time.Second,
				Severity:  "warning",
			},
		},
		Channels: []workerpool.AlertChannelConfig{
			{Type: "log"},
		},
	}

	pool, err := workerpool.NewPool(cfg)
	if err != nil {
		log.Fatalf("failed to build pool: %v", err)
	}
	pool.Startup()
	defer func() {
		pool.Shutdown()
		pool.Join()
	}()

	fmt.Println("dashboard listening on http://localhost:8080/dashboard")

	fmt.Println("\n=== plain Submit ===")
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		taskID := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Submit(func() error {
				time.Sleep(50 * time.Millisecond)
				fmt.Printf("task %d done\n", taskID)
				return nil
			}); err != nil {
				log.Printf("task %d failed: %v", taskID, err)
			}
		}()
	}
	wg.Wait()

	fmt.Println("\n=== SubmitWithPriority ===")
	for i := 0; i < 4; i++ {
		taskID := i
		priority := workerpool.PriorityLow
		if i%2 == 0 {
			priority = workerpool.PriorityHigh
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.SubmitWithPriority(func() error {
				time.Sleep(20 * time.Millisecond)
				fmt.Printf("priority task %d (priority=%d) done\n", taskID, priority)
				return nil
			}, priority); err != nil {
				log.Printf("priority task %d failed: %v", taskID, err)
			}
		}()
	}
	wg.Wait()

	fmt.Println("\n=== SubmitWithTenant (quota enforced) ===")
	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		for i := 0; i < 6; i++ {
			taskID, tenantID := i, tenant
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := pool.SubmitWithTenant(context.Background(), tenantID, func() error {
					time.Sleep(30 * time.Millisecond)
					return nil
				})
				if err != nil {
					fmt.Printf("tenant %s task %d rejected: %v\n", tenantID, taskID, err)
				} else {
					fmt.Printf("tenant %s task %d done\n", tenantID, taskID)
				}
			}()
		}
	}
	wg.Wait()

	fmt.Println("\n=== TrySubmit under load ===")
	submitted, rejected := 0, 0
	for i := 0; i < 50; i++ {
		taskID := i
		err := pool.TrySubmit(func() error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		switch {
		case errors.Is(err, workerpool.ErrQueueFull):
			rejected++
		case err != nil:
			log.Printf("task %d failed: %v", taskID, err)
		default:
			submitted++
		}
	}
	pool.WaitForIdle()
	fmt.Printf("submitted=%d rejected=%d\n", submitted, rejected)

	fmt.Println("\n=== SubmitWithTimeout ===")
	err = pool.SubmitWithTimeout(func() error {
		time.Sleep(2 * time.Second)
		return nil
	}, 100*time.Millisecond)
	if errors.Is(err, workerpool.ErrTimeout) {
		fmt.Println("long task correctly timed out")
	}

	pool.WaitForIdle()

	stats := pool.Stats()
	fmt.Println("\n=== final stats ===")
	fmt.Printf("live=%d idle=%d queued=%d completed=%d rejected=%d panics=%d avg_latency=%v uptime=%v\n",
		stats.LiveThreads, stats.IdleThreads, stats.QueuedTasks,
		stats.CompletedTasks, stats.RejectedTasks, stats.TaskPanics,
		stats.AverageLatency, stats.Uptime)
}
