package workerpool

import (
	"errors"
	"fmt"
)

// Sentinel errors. ErrInvalidConfig is returned by NewPool; ErrPoolClosed,
// ErrQueueFull and ErrTimeout by the Submit* enrichment surface. No
// function in this package returns ErrForcedShutdown.
var (
	ErrPoolClosed     = errors.New("worker pool is closed")
	ErrQueueFull      = errors.New("task queue is full")
	ErrTimeout        = errors.New("operation timed out")
	ErrInvalidConfig  = errors.New("invalid pool configuration")
	ErrForcedShutdown = errors.New("forced shutdown due to timeout")
)

// TaskError wraps a task failure observed on the error-returning
// enrichment surface: either the task returned a non-nil error, or it
// panicked and the panic was recovered.
type TaskError struct {
	TaskID string
	Err    error
	Stack  string // non-empty only when the task panicked
}

func (e *TaskError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("task %s failed with panic: %v\nstack trace:\n%s", e.TaskID, e.Err, e.Stack)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// fatalEvent is a stable numeric id attached to a programmer-error log
// line immediately before the corresponding panic. The ids are stable
// across releases so operators can grep dashboards for them.
type fatalEvent int

const (
	fatalInvalidOptions    fatalEvent = 1001
	fatalDoubleStartup     fatalEvent = 1002
	fatalDoubleJoin        fatalEvent = 1003
	fatalWorkerNotFound    fatalEvent = 1004
	fatalUnexpectedState   fatalEvent = 1005
	fatalIllegalTransition fatalEvent = 1006
	fatalNonEmptyAfterJoin fatalEvent = 1007
)

// FatalError is the panic value raised for programmer-error / invariant
// violations per spec §7 taxon 1 (double-start, double-join, a worker
// unable to locate itself in the live set, an illegal lifecycle
// transition); misconfigured options are not among them, since NewPool
// reports those as an error. These indicate corruption that cannot
// be recovered from inside the pool; panicking is this library's
// equivalent of the "log with an event id and abort the process"
// contract, since a library must never call os.Exit on its caller's
// behalf.
type FatalError struct {
	Event   fatalEvent
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("workerpool: fatal[%d]: %s", e.Event, e.Message)
}

// panicFatal panics with a *FatalError carrying the given event id and
// message. Callers log through the pool's observability.Logger first;
// see (*Pool).fatalfLocked in pool.go.
func panicFatal(event fatalEvent, format string, args ...any) {
	panic(&FatalError{Event: event, Message: fmt.Sprintf(format, args...)})
}
