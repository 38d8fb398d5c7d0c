// File: fiber/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fiber

import (
	"context"
	"sync/atomic"
)

// Thread is the per-worker execution context. It is created by whoever drives
// a dispatch loop and passed explicitly to Resume.
type Thread struct {
	id  int
	ctx context.Context

	main    atomic.Pointer[Fiber]
	sched   atomic.Pointer[Fiber]
	current atomic.Pointer[Fiber]
	hook    atomic.Bool
}

// NewThread returns a thread with the given worker id. Fibers resumed on it
// derive their context from ctx.
func NewThread(ctx context.Context, id int) *Thread {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Thread{id: id, ctx: ctx}
}

// ID returns the worker id, or -1 for threads outside a scheduler.
func (t *Thread) ID() int { return t.id }

// Context returns the base context of the thread.
func (t *Thread) Context() context.Context { return t.ctx }

// Main returns the thread's main fiber, creating it on first use. The main
// fiber also becomes the scheduling fiber unless one was set.
func (t *Thread) Main() *Fiber {
	if m := t.main.Load(); m != nil {
		return m
	}
	m := newMain()
	if !t.main.CompareAndSwap(nil, m) {
		return t.main.Load()
	}
	t.sched.CompareAndSwap(nil, m)
	t.current.CompareAndSwap(nil, m)
	return m
}

// Current returns the fiber running on t. Outside any fiber it is the main
// fiber.
func (t *Thread) Current() *Fiber {
	if c := t.current.Load(); c != nil {
		return c
	}
	return t.Main()
}

// SchedulerFiber returns the fiber that run-in-scheduler fibers yield to.
func (t *Thread) SchedulerFiber() *Fiber {
	if s := t.sched.Load(); s != nil {
		return s
	}
	t.Main()
	return t.sched.Load()
}

// SetSchedulerFiber installs f as the scheduling fiber.
func (t *Thread) SetSchedulerFiber(f *Fiber) { t.sched.Store(f) }

// HookEnabled reports whether hook calls made on t are intercepted.
func (t *Thread) HookEnabled() bool { return t.hook.Load() }

// SetHookEnabled turns interception on or off for t.
func (t *Thread) SetHookEnabled(v bool) { t.hook.Store(v) }

func (t *Thread) setCurrent(f *Fiber) { t.current.Store(f) }
