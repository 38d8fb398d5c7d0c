// File: internal/coctx/coctx.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package coctx is the execution context primitive behind fibers. A Context
// owns one parked goroutine; SwitchIn blocks the caller until the goroutine
// switches out or exits, so exactly one side of the pair is runnable at any
// instant.
package coctx

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Context is an allocated, switchable execution context.
type Context struct {
	entry     func()
	stackSize int

	resume chan struct{}
	yield  chan struct{}
	kill   chan struct{}
	done   chan struct{}

	started  atomic.Bool
	exited   atomic.Bool
	released atomic.Bool
	killOnce sync.Once

	fault any // panic value raised by entry, re-raised in SwitchIn
}

// New allocates a context that runs entry on its first SwitchIn. The stack
// size is kept as a hint; the goroutine stack grows on demand.
func New(entry func(), stackSize int) *Context {
	if entry == nil {
		panic("coctx: nil entry")
	}
	return &Context{
		entry:     entry,
		stackSize: stackSize,
		resume:    make(chan struct{}),
		yield:     make(chan struct{}),
		kill:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// StackSize returns the stack size hint given at allocation.
func (c *Context) StackSize() int { return c.stackSize }

// Started reports whether the context has been switched into at least once.
func (c *Context) Started() bool { return c.started.Load() }

// Exited reports whether entry has returned or the context was released.
func (c *Context) Exited() bool { return c.exited.Load() }

// SwitchIn transfers control into c and blocks until c switches out or its
// entry returns. Panics raised by entry are re-raised here.
func (c *Context) SwitchIn() {
	if c.released.Load() || c.exited.Load() {
		panic("coctx: switch into a finished context")
	}
	if c.started.CompareAndSwap(false, true) {
		go c.run()
	} else {
		c.resume <- struct{}{}
	}
	<-c.yield
	if p := c.fault; p != nil {
		c.fault = nil
		panic(fmt.Sprintf("coctx: entry panicked: %v", p))
	}
}

// SwitchOut is called from inside the context. It hands control back to the
// goroutine blocked in SwitchIn and parks until the next SwitchIn.
func (c *Context) SwitchOut() {
	c.yield <- struct{}{}
	select {
	case <-c.resume:
	case <-c.kill:
		runtime.Goexit()
	}
}

// Release tears down a context parked in SwitchOut, running the deferred
// calls of its entry. Releasing a context that never started or already
// exited only marks it released. Release must not race with SwitchIn.
func (c *Context) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	if !c.started.Load() || c.exited.Load() {
		c.exited.Store(true)
		return
	}
	c.killOnce.Do(func() { close(c.kill) })
	<-c.done
}

func (c *Context) run() {
	defer close(c.done)
	finished := false
	defer func() {
		c.exited.Store(true)
		if finished {
			return
		}
		p := recover()
		if p == nil && c.released.Load() {
			return // unwound by Release, nobody waits on yield
		}
		// A panic, or a Goexit called by entry itself.
		c.fault = p
		c.yield <- struct{}{}
	}()
	c.entry()
	finished = true
	c.exited.Store(true)
	c.yield <- struct{}{}
}
