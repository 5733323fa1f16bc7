package workerpool

// Shutdown moves the pool from running into joinRequired: every
// Schedule call from here on runs its function inline with
// OutcomeShutdownInProgress instead of queueing it. Shutdown does not
// block and does not itself join any worker; call Join for that.
//
// Shutdown is idempotent: calling it again after the pool has already
// begun shutting down is a no-op, so defer pool.Shutdown() composes
// safely with an explicit earlier call.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == preStart {
		p.fatalfLocked(fatalUnexpectedState, "Shutdown called before Startup")
	}
	if p.state.isShuttingDown() {
		return
	}

	p.transitionLocked(joinRequired)
	p.stateChange.Broadcast()
	p.workAvailable.Broadcast()
	p.enterprise.health.MarkStopped()
}

// Join blocks until every worker has exited and the task queue is
// empty, then transitions the pool to shutdownComplete. Join must be
// called exactly once, after Shutdown; calling it before Shutdown, or
// calling it a second time concurrently or sequentially, is a
// programmer error.
//
// Any task still queued when Join is called runs with OutcomeOK,
// either on a worker that is still draining the queue or on a
// transient goroutine Join itself spawns for the purpose — never on
// the goroutine that called Join.
func (p *Pool) Join() {
	p.mu.Lock()
	if p.state == preStart || p.state == running {
		defer p.mu.Unlock()
		p.fatalfLocked(fatalUnexpectedState, "Join called before Shutdown")
	}
	for p.state == joining {
		p.stateChange.Wait()
	}
	if p.state == shutdownComplete {
		defer p.mu.Unlock()
		p.fatalfLocked(fatalDoubleJoin, "Join called twice")
	}

	// p.state == joinRequired here, and we hold the lock continuously
	// since observing that, so we are the single caller that wins the
	// race to perform the join.
	p.transitionLocked(joining)
	p.stateChange.Broadcast()

	retired := p.retiredWorkers
	p.retiredWorkers = nil
	live := make([]*workerHandle, 0, len(p.liveWorkers))
	for _, h := range p.liveWorkers {
		live = append(live, h)
	}
	p.mu.Unlock()

	// Drain whatever is left in the queue on a transient goroutine so
	// it never runs on this, the caller's, goroutine. This also
	// covers the case where live and retired are both empty (e.g.
	// MinThreads == 0 and every worker had already self-retired).
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				return
			}
			t := p.dequeueLocked()
			p.mu.Unlock()
			// Queued tasks always run as OutcomeOK, drain included;
			// OutcomeShutdownInProgress is only for tasks rejected
			// inline at Schedule, before reaching p.queue.
			p.runTask(t, OutcomeOK)
		}
	}()
	<-drainDone

	for _, h := range append(retired, live...) {
		<-h.done
		p.mu.Lock()
		if p.config.OnJoinRetiredThread != nil {
			p.config.OnJoinRetiredThread(h.name)
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	if len(p.queue) != 0 || len(p.liveWorkers) != 0 {
		p.fatalfLocked(fatalNonEmptyAfterJoin, "queue or live worker set non-empty after join: queue=%d live=%d", len(p.queue), len(p.liveWorkers))
	}
	p.transitionLocked(shutdownComplete)
	p.stateChange.Broadcast()
	p.mu.Unlock()

	p.stopEnterpriseComponents()
}
