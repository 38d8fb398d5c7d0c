// File: api/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler and timer contracts for fiber dispatch.

package api

import (
	"context"
	"time"
)

// AnyThread lets a task run on whichever worker picks it up first.
const AnyThread = -1

// Scheduler dispatches callbacks onto a fixed pool of workers.
type Scheduler interface {
	// Submit queues fn for any worker.
	Submit(fn func(ctx context.Context))

	// SubmitTo queues fn for one worker, or AnyThread.
	SubmitTo(fn func(ctx context.Context), thread int)

	// Start spawns the worker pool.
	Start()

	// Stop drains the queue and joins every worker.
	Stop()

	// Name returns the scheduler name.
	Name() string
}

// TimerHandle controls a timer after it has been armed.
type TimerHandle interface {
	// Cancel removes the timer; false if it already fired or was canceled.
	Cancel() bool

	// Refresh re-arms the timer one interval from now.
	Refresh() bool

	// Reset changes the interval, measured from now or from the original start.
	Reset(d time.Duration, fromNow bool) bool
}
