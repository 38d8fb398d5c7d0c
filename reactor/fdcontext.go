// File: reactor/fdcontext.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"sync"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/scheduler"
)

// EventContext is the waiter registered for one direction of a descriptor.
// Exactly one of Fiber and Func is set while the direction is registered.
type EventContext struct {
	Scheduler *scheduler.Scheduler // scheduler the waiter is resubmitted to
	Fiber     *fiber.Fiber
	Func      fiber.Func
}

func (ec *EventContext) reset() { *ec = EventContext{} }

// FdContext tracks the registered directions of one descriptor.
type FdContext struct {
	mu     sync.Mutex
	fd     int
	events api.Event
	read   EventContext
	write  EventContext
}

// Fd returns the descriptor number.
func (fc *FdContext) Fd() int { return fc.fd }

// Events returns the registered directions.
func (fc *FdContext) Events() api.Event {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.events
}

func (fc *FdContext) slot(ev api.Event) *EventContext {
	switch ev {
	case api.EventRead:
		return &fc.read
	case api.EventWrite:
		return &fc.write
	}
	panic("reactor: invalid event " + ev.String())
}

// trigger resubmits the waiter of ev and unregisters the direction. The
// caller holds fc.mu and has ensured ev is registered.
func (fc *FdContext) trigger(ev api.Event) {
	fc.events &^= ev
	ec := fc.slot(ev)
	if ec.Func != nil {
		ec.Scheduler.Submit(ec.Func)
	} else {
		ec.Scheduler.SubmitFiber(ec.Fiber)
	}
	ec.reset()
}
