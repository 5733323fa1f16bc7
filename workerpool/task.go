package workerpool

import "time"

// Outcome tells a scheduled function how it is being invoked: either
// picked up by a worker in the ordinary course of business, or run
// inline during shutdown because the pool will never get a worker to
// it otherwise.
type Outcome int

const (
	// OutcomeOK means a worker dequeued the task and is now running it.
	OutcomeOK Outcome = iota
	// OutcomeShutdownInProgress means Schedule was called after the
	// pool entered joinRequired or later; the function still runs,
	// but inline, so the caller can release whatever it was holding
	// for the task rather than leak it.
	OutcomeShutdownInProgress
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeShutdownInProgress:
		return "shutdown-in-progress"
	default:
		return "unknown"
	}
}

// Priority labels a queued task for metrics and logging. The queue is
// FIFO: priority affects neither the order workers pick tasks up in
// nor whether a task is accepted.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// queuedTask is one entry in the pool's FIFO task queue: the
// caller-supplied function together with the bookkeeping the
// dispatcher and the enrichment surface need once it is dequeued.
type queuedTask struct {
	fn       func(Outcome)
	priority Priority
	queuedAt time.Time
}
