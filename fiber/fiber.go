// File: fiber/fiber.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package fiber implements stackful cooperative coroutines. A fiber runs only
// while the goroutine that resumed it is blocked in Resume, and hands control
// back explicitly with Yield.
package fiber

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-fiber/internal/coctx"
)

// DefaultStackSize is the stack size hint recorded for new fibers.
const DefaultStackSize = 128000

// Func is a fiber body. ctx carries the running fiber and whatever the
// resuming thread put into its base context.
type Func = func(ctx context.Context)

// State is the execution state of a fiber.
type State int32

const (
	Ready State = iota
	Running
	Term
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Term:
		return "TERM"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	nextID atomic.Uint64
	live   atomic.Int64
)

// Total returns the number of fibers whose body has not yet terminated.
func Total() int64 { return live.Load() }

// Option configures a fiber at construction.
type Option func(*Fiber)

// WithStackSize sets the stack size hint. Non-positive values keep the default.
func WithStackSize(n int) Option {
	return func(f *Fiber) {
		if n > 0 {
			f.stackSize = n
		}
	}
}

// WithRunInScheduler selects the counterpart a fiber yields back to: the
// thread's scheduling fiber when true (the default), its main fiber otherwise.
func WithRunInScheduler(v bool) Option {
	return func(f *Fiber) { f.runInScheduler = v }
}

// Fiber is a stackful coroutine.
type Fiber struct {
	mu sync.Mutex

	id             uint64
	stackSize      int
	runInScheduler bool
	main           bool
	state          atomic.Int32

	fn Func
	xc *coctx.Context

	thread atomic.Pointer[Thread]
}

// New creates a Ready fiber that will run fn on its first Resume.
func New(fn Func, opts ...Option) *Fiber {
	if fn == nil {
		panic("fiber: nil entry function")
	}
	f := &Fiber{
		id:             nextID.Add(1) - 1,
		stackSize:      DefaultStackSize,
		runInScheduler: true,
		fn:             fn,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.xc = coctx.New(f.run, f.stackSize)
	live.Add(1)
	return f
}

func newMain() *Fiber {
	f := &Fiber{id: nextID.Add(1) - 1, main: true}
	f.state.Store(int32(Running))
	return f
}

// ID returns the fiber's unique id.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the current execution state.
func (f *Fiber) State() State { return State(f.state.Load()) }

// StackSize returns the stack size hint. Main fibers report zero.
func (f *Fiber) StackSize() int { return f.stackSize }

// IsMain reports whether f is a thread's main fiber.
func (f *Fiber) IsMain() bool { return f.main }

// RunInScheduler reports which counterpart f yields back to.
func (f *Fiber) RunInScheduler() bool { return f.runInScheduler }

// Thread returns the thread that last resumed f, or nil.
func (f *Fiber) Thread() *Thread { return f.thread.Load() }

// Lock serializes Resume across goroutines that may hold the same fiber.
func (f *Fiber) Lock() { f.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (f *Fiber) Unlock() { f.mu.Unlock() }

// Resume switches th into f and blocks until f yields or terminates.
// f must be Ready.
func (f *Fiber) Resume(th *Thread) {
	if f.main {
		panic("fiber: resume of a main fiber")
	}
	if st := f.State(); st != Ready {
		panic(fmt.Sprintf("fiber %d: resume in state %v", f.id, st))
	}
	back := th.SchedulerFiber()
	if !f.runInScheduler {
		back = th.Main()
	}
	f.state.Store(int32(Running))
	f.thread.Store(th)
	th.setCurrent(f)
	defer th.setCurrent(back)
	f.xc.SwitchIn()
}

// Yield hands control back to the counterpart that resumed f. It must be
// called from f's own body. A Running fiber becomes Ready.
func (f *Fiber) Yield() {
	if f.main {
		panic("fiber: yield of a main fiber")
	}
	st := f.State()
	if st != Running && st != Term {
		panic(fmt.Sprintf("fiber %d: yield in state %v", f.id, st))
	}
	if st != Term {
		f.state.Store(int32(Ready))
	}
	f.xc.SwitchOut()
}

// Reset recycles a terminated fiber to run fn.
func (f *Fiber) Reset(fn Func) {
	if f.main {
		panic("fiber: reset of a main fiber")
	}
	if fn == nil {
		panic("fiber: nil entry function")
	}
	if st := f.State(); st != Term {
		panic(fmt.Sprintf("fiber %d: reset in state %v", f.id, st))
	}
	f.fn = fn
	f.xc = coctx.New(f.run, f.stackSize)
	f.state.Store(int32(Ready))
	live.Add(1)
}

// Release tears down a fiber that has not terminated. A fiber suspended in
// Yield unwinds its body's deferred calls. Release of a Term fiber is a no-op.
func (f *Fiber) Release() {
	if f.main {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.State() {
	case Term:
		return
	case Running:
		panic(fmt.Sprintf("fiber %d: release while running", f.id))
	}
	f.state.Store(int32(Term))
	f.xc.Release()
	f.fn = nil
	live.Add(-1)
}

func (f *Fiber) run() {
	ctx := NewContext(f.thread.Load().Context(), f)
	fn := f.fn
	defer func() {
		if f.State() != Term {
			f.fn = nil
			f.state.Store(int32(Term))
			live.Add(-1)
		}
	}()
	fn(ctx)
}

func (f *Fiber) String() string {
	return fmt.Sprintf("fiber#%d(%v)", f.id, f.State())
}
