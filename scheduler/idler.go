// File: scheduler/idler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"
	"time"

	"github.com/momentics/hioload-fiber/fiber"
)

// Idler customizes how a scheduler wakes workers and what its idle fibers do.
// An IO manager implements it to wait on its poller.
type Idler interface {
	// Tickle wakes a worker parked in Idle.
	Tickle()
	// Idle is called repeatedly from a worker's idle fiber until Stopping
	// reports true. The fiber yields back to the dispatch loop after every
	// call.
	Idle(ctx context.Context)
	// Stopping reports whether idle fibers may terminate.
	Stopping() bool
}

// IdleWait bounds how long the base idler parks before rechecking the queue.
const IdleWait = 10 * time.Millisecond

type baseIdler struct{ s *Scheduler }

func (b baseIdler) Tickle() {
	select {
	case b.s.notify <- struct{}{}:
	default:
	}
}

func (b baseIdler) Idle(ctx context.Context) {
	if th := fiber.ThreadFromContext(ctx); th != nil && b.s.HasRunnable(th.ID()) {
		return
	}
	t := time.NewTimer(IdleWait)
	defer t.Stop()
	select {
	case <-b.s.notify:
	case <-t.C:
	case <-ctx.Done():
	}
}

func (b baseIdler) Stopping() bool { return b.s.Stopping() }
