// Package workerpool provides a dynamically-sized worker pool for
// concurrent task execution in Go.
//
// Features:
//   - Bounded pool that grows on backlog and shrinks on idleness
//   - Deterministic lifecycle: preStart -> running -> joinRequired -> joining -> shutdownComplete
//   - FIFO task queue guarded by a single mutex and three condition variables
//   - Exactly-once task delivery: every scheduled task runs with an Outcome,
//     either ok (dequeued and executed) or shutdownInProgress (rejected inline)
//   - Join/drain protocol that never executes residual tasks on the caller's
//     own goroutine
//   - Optional enterprise features (observability, resilience, persistence,
//     multi-tenancy, cost tracking, a live dashboard) layered on top without
//     touching the core contract
//
// # Basic usage
//
//	pool, err := workerpool.NewPool(workerpool.Config{
//	    MinThreads: 1,
//	    MaxThreads: 8,
//	    MaxIdleThreadAge: 30 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pool.Startup()
//	defer pool.Join()
//	defer pool.Shutdown()
//
//	pool.Schedule(func(outcome workerpool.Outcome) {
//	    if outcome == workerpool.OutcomeShutdownInProgress {
//	        return
//	    }
//	    // do work
//	})
//
// # Enrichment surface
//
// Callers that want an error-returning task function, panic recovery,
// rate limiting, circuit breaking and retries can use the richer surface
// instead of Schedule directly:
//
//	err := pool.Submit(func() error {
//	    return doWork()
//	})
//
// # Enterprise configuration
//
//	cfg := workerpool.NewEnterpriseConfig()
//	cfg.MinThreads, cfg.MaxThreads = 2, 16
//	pool, _ := workerpool.NewPool(cfg)
package workerpool
