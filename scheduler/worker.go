// File: scheduler/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"context"

	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
)

// run is the dispatch loop of one worker. The calling goroutine acts as the
// thread's main fiber, which is also its scheduling fiber.
func (s *Scheduler) run(th *fiber.Thread) {
	th.SetHookEnabled(true)
	th.SetSchedulerFiber(th.Main())

	idle := fiber.New(s.idleLoop)
	var spare *fiber.Fiber // terminated callback fiber, reused for the next callback
	if control.Debug() {
		s.log.Printf("worker %d: dispatch loop started", th.ID())
	}
	for {
		t, more := s.next(th.ID())
		if more {
			s.tickle()
		}
		switch {
		case t.Fiber != nil:
			s.resume(th, t.Fiber)
		case t.Func != nil:
			f := spare
			spare = nil
			if f != nil {
				f.Reset(t.Func)
			} else {
				f = fiber.New(t.Func)
			}
			s.resume(th, f)
			if f.State() == fiber.Term {
				spare = f
			}
		default:
			if idle.State() == fiber.Term {
				if control.Debug() {
					s.log.Printf("worker %d: idle fiber terminated", th.ID())
				}
				return
			}
			s.idle.Add(1)
			idle.Lock()
			idle.Resume(th)
			idle.Unlock()
			s.idle.Add(-1)
		}
	}
}

// resume runs one popped fiber. A fiber that already terminated is skipped.
func (s *Scheduler) resume(th *fiber.Thread, f *fiber.Fiber) {
	defer s.active.Add(-1)
	f.Lock()
	defer f.Unlock()
	if f.State() == fiber.Term {
		return
	}
	f.Resume(th)
	s.executed.Add(1)
}

func (s *Scheduler) idleLoop(ctx context.Context) {
	for !s.idler.Stopping() {
		s.idler.Idle(ctx)
		fiber.YieldContext(ctx)
	}
}
