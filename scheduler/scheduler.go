// File: scheduler/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package scheduler multiplexes fibers and callbacks onto a fixed set of
// worker goroutines.
//
// Each worker owns a fiber.Thread and runs a dispatch loop: pop the next
// task whose affinity matches, resume it, and fall back to an idle fiber when
// nothing is runnable. With UseCaller the goroutine that calls Stop becomes
// worker 0 and drains the queue before Stop returns.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"github.com/eapache/queue"

	"github.com/momentics/hioload-fiber/affinity"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
)

// AnyThread marks a task that may run on any worker.
const AnyThread = api.AnyThread

// Task is a unit of work: a fiber to resume or a callback to run in a fresh
// fiber, optionally pinned to one worker.
type Task struct {
	Fiber  *fiber.Fiber
	Func   fiber.Func
	Thread int
}

func (t Task) empty() bool { return t.Fiber == nil && t.Func == nil }

// Config describes the worker set of a Scheduler.
type Config struct {
	Threads   int    // total workers, including the caller when UseCaller is set
	UseCaller bool   // run worker 0 on the goroutine that calls Stop
	Name      string // used in logs, metrics and probes
	PinCPUs   bool   // lock each started worker to an OS thread bound to one CPU
}

// DefaultConfig returns a single-worker, caller-driven configuration.
func DefaultConfig() Config {
	return Config{Threads: 1, UseCaller: true, Name: "scheduler"}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithIdler overrides the tickle, idle and stopping behaviour.
func WithIdler(i Idler) Option { return func(s *Scheduler) { s.idler = i } }

// WithBaseContext sets the context every fiber body derives from.
func WithBaseContext(ctx context.Context) Option { return func(s *Scheduler) { s.base = ctx } }

// WithLogger replaces the package logger.
func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.log = l } }

// Scheduler is an N:M fiber scheduler.
type Scheduler struct {
	cfg   Config
	log   *log.Logger
	idler Idler
	base  context.Context

	mu      sync.Mutex
	shared  *queue.Queue   // tasks for AnyThread
	pinned  []*queue.Queue // tasks pinned to worker i
	started bool
	group   *taskgroup.Group

	notify   chan struct{}
	stopping atomic.Bool
	active   atomic.Int64
	idle     atomic.Int64

	submitted atomic.Int64
	executed  atomic.Int64
	tickles   atomic.Int64
}

func init() {
	control.Probes().RegisterProbe("fiber.total", func() any { return fiber.Total() })
}

// New constructs a stopped scheduler. Threads below one are raised to one.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.Name == "" {
		cfg.Name = "scheduler"
	}
	s := &Scheduler{
		cfg:    cfg,
		log:    log.New(os.Stderr, "["+cfg.Name+"] ", log.LstdFlags|log.Lmicroseconds),
		base:   context.Background(),
		shared: queue.New(),
		pinned: make([]*queue.Queue, cfg.Threads),
		notify: make(chan struct{}, cfg.Threads),
	}
	for i := range s.pinned {
		s.pinned[i] = queue.New()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idler == nil {
		s.idler = baseIdler{s}
	}
	s.base = NewContext(s.base, s)
	return s
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.cfg.Name }

// NumWorkers returns the configured number of workers.
func (s *Scheduler) NumWorkers() int { return s.cfg.Threads }

// Logger returns the logger used by the scheduler.
func (s *Scheduler) Logger() *log.Logger { return s.log }

// Context returns the base context handed to fiber bodies.
func (s *Scheduler) Context() context.Context { return s.base }

// Submit schedules fn on any worker.
func (s *Scheduler) Submit(fn func(ctx context.Context)) {
	s.SubmitTask(Task{Func: fn, Thread: AnyThread})
}

// SubmitTo schedules fn on the given worker.
func (s *Scheduler) SubmitTo(fn func(ctx context.Context), thread int) {
	s.SubmitTask(Task{Func: fn, Thread: thread})
}

// SubmitFiber schedules f to be resumed on any worker.
func (s *Scheduler) SubmitFiber(f *fiber.Fiber) {
	s.SubmitTask(Task{Fiber: f, Thread: AnyThread})
}

// SubmitFiberTo schedules f to be resumed on the given worker.
func (s *Scheduler) SubmitFiberTo(f *fiber.Fiber, thread int) {
	s.SubmitTask(Task{Fiber: f, Thread: thread})
}

// SubmitTask appends t to the queue and tickles if the queue was empty.
// Tasks carrying neither a fiber nor a callback are ignored. An affinity
// outside the worker range is treated as AnyThread.
func (s *Scheduler) SubmitTask(t Task) {
	if t.empty() {
		return
	}
	if t.Thread != AnyThread && (t.Thread < 0 || t.Thread >= s.cfg.Threads) {
		s.log.Printf("task pinned to unknown worker %d, running on any worker", t.Thread)
		t.Thread = AnyThread
	}
	s.mu.Lock()
	wasEmpty := s.queuedLocked() == 0
	if t.Thread == AnyThread {
		s.shared.Add(t)
	} else {
		s.pinned[t.Thread].Add(t)
	}
	s.mu.Unlock()
	s.submitted.Add(1)
	if wasEmpty {
		s.tickle()
	}
}

// Start launches the worker goroutines. Start is idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopping.Load() {
		return
	}
	s.started = true
	s.group = taskgroup.New(nil)
	first := 0
	if s.cfg.UseCaller {
		first = 1
	}
	for id := first; id < s.cfg.Threads; id++ {
		th := fiber.NewThread(s.base, id)
		s.group.Go(func() error {
			if s.cfg.PinCPUs {
				if err := affinity.Pin(affinity.CPUFor(id)); err != nil {
					s.log.Printf("worker %d: %v", id, err)
				} else {
					defer affinity.Unpin()
				}
			}
			s.run(th)
			return nil
		})
	}
	if control.Debug() {
		s.log.Printf("started %d workers (caller=%v)", s.cfg.Threads-first, s.cfg.UseCaller)
	}
}

// Stop requests shutdown, runs the caller's dispatch loop when UseCaller is
// set, and waits for every worker to exit.
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	for range s.cfg.Threads {
		s.tickle()
	}
	if s.cfg.UseCaller {
		s.run(fiber.NewThread(s.base, 0))
	}
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g != nil {
		g.Wait()
	}
	if n := s.Queued(); n > 0 {
		s.log.Printf("stopped with %d queued tasks", n)
	}
	if control.Debug() {
		s.log.Printf("stopped: %v", s.Stats())
	}
}

// Stopping reports the base stop condition: stop requested, nothing queued
// and no task executing.
func (s *Scheduler) Stopping() bool {
	if !s.stopping.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedLocked() == 0 && s.active.Load() == 0
}

// StopRequested reports whether Stop has been called.
func (s *Scheduler) StopRequested() bool { return s.stopping.Load() }

// HasIdleThreads reports whether any worker is parked in its idle fiber.
func (s *Scheduler) HasIdleThreads() bool { return s.idle.Load() > 0 }

// Queued returns the number of tasks waiting to run.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedLocked()
}

// HasRunnable reports whether worker id has a task it may pop.
func (s *Scheduler) HasRunnable(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared.Length() > 0 {
		return true
	}
	return id >= 0 && id < len(s.pinned) && s.pinned[id].Length() > 0
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() map[string]int64 {
	return map[string]int64{
		"submitted":    s.submitted.Load(),
		"executed":     s.executed.Load(),
		"queued":       int64(s.Queued()),
		"active":       s.active.Load(),
		"idle_workers": s.idle.Load(),
		"tickles":      s.tickles.Load(),
		"num_workers":  int64(s.cfg.Threads),
	}
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("Scheduler(%s, threads=%d, caller=%v)", s.cfg.Name, s.cfg.Threads, s.cfg.UseCaller)
}

func (s *Scheduler) tickle() {
	s.tickles.Add(1)
	s.idler.Tickle()
}

func (s *Scheduler) queuedLocked() int {
	n := s.shared.Length()
	for _, q := range s.pinned {
		n += q.Length()
	}
	return n
}

// next pops the next runnable task for worker id. more reports whether any
// runnable work remains for some worker.
func (s *Scheduler) next(id int) (t Task, more bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.pinned[id].Length() > 0:
		t = s.pinned[id].Remove().(Task)
	case s.shared.Length() > 0:
		t = s.shared.Remove().(Task)
	}
	if !t.empty() {
		s.active.Add(1)
	}
	return t, s.queuedLocked() > 0
}

var _ api.Scheduler = (*Scheduler)(nil)
