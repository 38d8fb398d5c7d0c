// File: reactor/iomanager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IOManager couples a scheduler, a timer heap and a poller. Workers with
// nothing to run block in the poller until a descriptor becomes ready, a
// timer is due or another goroutine tickles them.

package reactor

import (
	"context"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/pool"
	"github.com/momentics/hioload-fiber/scheduler"
	"github.com/momentics/hioload-fiber/timer"
)

const (
	minTableSize     = 32
	stopPollInterval = 100 * time.Millisecond
)

var logger = log.New(os.Stderr, "[reactor] ", log.LstdFlags|log.Lmicroseconds)

// Config describes an IOManager.
type Config struct {
	Threads    int
	UseCaller  bool
	Name       string
	MaxEvents  int           // readiness notifications handled per wait
	MaxTimeout time.Duration // upper bound of one poller wait
	PinCPUs    bool          // bind started workers to CPUs
}

// DefaultConfig returns a single-worker, caller-driven configuration with
// limits read from the default control store.
func DefaultConfig() Config {
	cs := control.Default()
	return Config{
		Threads:    1,
		UseCaller:  true,
		Name:       "iomanager",
		MaxEvents:  cs.Int(control.KeyReactorMaxEvents, 256),
		MaxTimeout: cs.Duration(control.KeyReactorMaxTimeout, 5*time.Second),
	}
}

// IOManager is a scheduler whose idle workers run the poller.
type IOManager struct {
	*scheduler.Scheduler

	cfg    Config
	poller Poller
	timers *timer.Manager
	ready  *pool.SyncPool[[]Ready]

	tableMu sync.RWMutex
	table   []*FdContext

	pending   atomic.Int64
	wakeups   atomic.Int64
	triggered atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

var _ api.Reactor = (*IOManager)(nil)

// NewIOManager creates the poller, the scheduler and starts the workers.
func NewIOManager(cfg Config) (*IOManager, error) {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	p, err := NewPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor %s: %w", cfg.Name, err)
	}
	m := &IOManager{cfg: cfg, poller: p}
	m.ready = pool.NewSyncPool(func() []Ready { return make([]Ready, cfg.MaxEvents) })
	m.timers = timer.NewManager(timer.WithFrontHook(m.Tickle))
	m.growLocked(minTableSize)
	m.Scheduler = scheduler.New(scheduler.Config{
		Threads:   cfg.Threads,
		UseCaller: cfg.UseCaller,
		Name:      cfg.Name,
		PinCPUs:   cfg.PinCPUs,
	},
		scheduler.WithIdler(m),
		scheduler.WithBaseContext(NewContext(context.Background(), m)),
		scheduler.WithLogger(log.New(os.Stderr, "["+cfg.Name+"] ", log.LstdFlags|log.Lmicroseconds)),
	)
	m.registerProbes()
	managers.add(m)
	m.Scheduler.Start()
	return m, nil
}

// Config returns the effective configuration.
func (m *IOManager) Config() Config { return m.cfg }

// Timers returns the timer heap.
func (m *IOManager) Timers() *timer.Manager { return m.timers }

// AddTimer schedules cb on this IOManager's workers after d.
func (m *IOManager) AddTimer(d time.Duration, cb func(), recurring bool) *timer.Timer {
	return m.timers.AddTimer(d, cb, recurring)
}

// AddConditionTimer schedules cb after d while tok stays alive.
func (m *IOManager) AddConditionTimer(d time.Duration, cb func(), tok timer.Token, recurring bool) *timer.Timer {
	return m.timers.AddConditionTimer(d, cb, tok, recurring)
}

// PendingEvents returns the number of registered (descriptor, direction)
// pairs.
func (m *IOManager) PendingEvents() int64 { return m.pending.Load() }

// lookup returns the context of fd without growing the table.
func (m *IOManager) lookup(fd int) *FdContext {
	m.tableMu.RLock()
	defer m.tableMu.RUnlock()
	if fd < 0 || fd >= len(m.table) {
		return nil
	}
	return m.table[fd]
}

// fdContext returns the context of fd, growing the table to
// max(fd*3/2, 32) entries when needed.
func (m *IOManager) fdContext(fd int) *FdContext {
	if fc := m.lookup(fd); fc != nil {
		return fc
	}
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	if fd >= len(m.table) {
		m.growLocked(max(fd*3/2, minTableSize))
	}
	return m.table[fd]
}

func (m *IOManager) growLocked(size int) {
	for i := len(m.table); i < size; i++ {
		m.table = append(m.table, &FdContext{fd: i})
	}
}

// AddEvent registers interest in one direction of fd. When the direction
// becomes ready cb runs on the scheduler of ctx; with a nil cb the fiber
// carried by ctx is resumed instead. A direction may have only one waiter:
// a second registration fails with api.ErrEventExists.
func (m *IOManager) AddEvent(ctx context.Context, fd int, ev api.Event, cb func(ctx context.Context)) error {
	if fd < 0 || (ev != api.EventRead && ev != api.EventWrite) {
		return fmt.Errorf("reactor: add event fd=%d ev=%v: %w", fd, ev, api.ErrInvalidArgument)
	}
	waiter := EventContext{Scheduler: scheduler.FromContext(ctx), Func: cb}
	if waiter.Scheduler == nil {
		waiter.Scheduler = m.Scheduler
	}
	if cb == nil {
		f := fiber.FromContext(ctx)
		if f == nil || f.State() != fiber.Running {
			return fmt.Errorf("reactor: add event fd=%d: %w", fd, api.ErrNoFiber)
		}
		waiter.Fiber = f
	}

	fc := m.fdContext(fd)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.events&ev != 0 {
		logger.Printf("add event fd=%d ev=%v: already registered (have %v)", fd, ev, fc.events)
		return api.ErrEventExists
	}
	var err error
	if fc.events == api.EventNone {
		err = m.poller.Add(fd, fc.events|ev)
	} else {
		err = m.poller.Modify(fd, fc.events|ev)
	}
	if err != nil {
		logger.Printf("add event fd=%d ev=%v: %v", fd, ev, err)
		return fmt.Errorf("reactor: add event fd=%d: %w", fd, err)
	}
	m.pending.Add(1)
	fc.events |= ev
	*fc.slot(ev) = waiter
	return nil
}

// DelEvent unregisters one direction of fd without waking its waiter.
func (m *IOManager) DelEvent(fd int, ev api.Event) bool {
	fc := m.lookup(fd)
	if fc == nil {
		return false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.events&ev == 0 || (ev != api.EventRead && ev != api.EventWrite) {
		return false
	}
	if !m.rearm(fc, fc.events&^ev) {
		return false
	}
	fc.events &^= ev
	fc.slot(ev).reset()
	m.pending.Add(-1)
	return true
}

// CancelEvent unregisters one direction of fd and resubmits its waiter
// once.
func (m *IOManager) CancelEvent(fd int, ev api.Event) bool {
	fc := m.lookup(fd)
	if fc == nil {
		return false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.events&ev == 0 || (ev != api.EventRead && ev != api.EventWrite) {
		return false
	}
	if !m.rearm(fc, fc.events&^ev) {
		return false
	}
	m.fire(fc, ev)
	return true
}

// CancelAll unregisters fd and resubmits every waiter.
func (m *IOManager) CancelAll(fd int) bool {
	fc := m.lookup(fd)
	if fc == nil {
		return false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.events == api.EventNone {
		return false
	}
	if !m.rearm(fc, api.EventNone) {
		return false
	}
	if fc.events&api.EventRead != 0 {
		m.fire(fc, api.EventRead)
	}
	if fc.events&api.EventWrite != 0 {
		m.fire(fc, api.EventWrite)
	}
	return true
}

// CancelFd cancels the events of fd on every open IOManager, so a waiter
// parked by one manager is woken when another goroutine closes fd. It
// reports whether any waiter was fired.
func CancelFd(fd int) bool {
	fired := false
	for _, m := range managers.list() {
		if m.CancelAll(fd) {
			fired = true
		}
	}
	return fired
}

// registry holds the IOManagers between NewIOManager and Close.
type registry struct {
	mu  sync.Mutex
	set map[*IOManager]struct{}
}

var managers = &registry{set: make(map[*IOManager]struct{})}

func (r *registry) add(m *IOManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set[m] = struct{}{}
}

func (r *registry) remove(m *IOManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, m)
}

func (r *registry) list() []*IOManager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Collect(maps.Keys(r.set))
}

// rearm narrows the poller registration of fc to left, removing fd when
// nothing is left. The caller holds fc.mu.
func (m *IOManager) rearm(fc *FdContext, left api.Event) bool {
	var err error
	if left == api.EventNone {
		err = m.poller.Remove(fc.fd)
	} else {
		err = m.poller.Modify(fc.fd, left)
	}
	if err != nil {
		logger.Printf("rearm fd=%d to %v: %v", fc.fd, left, err)
		return false
	}
	return true
}

func (m *IOManager) fire(fc *FdContext, ev api.Event) {
	fc.trigger(ev)
	m.pending.Add(-1)
	m.triggered.Add(1)
}

// Tickle wakes a worker blocked in the poller. It does nothing when no
// worker is idle unless a stop was requested.
func (m *IOManager) Tickle() {
	if m.Scheduler == nil {
		return
	}
	if !m.HasIdleThreads() && !m.StopRequested() {
		return
	}
	if err := m.poller.Wake(); err != nil {
		logger.Printf("%s: tickle: %v", m.cfg.Name, err)
	}
}

// Stopping reports whether idle workers may exit: the scheduler is
// stopping, no timer is scheduled and no event is registered.
func (m *IOManager) Stopping() bool {
	return m.pending.Load() == 0 && !m.timers.HasTimer() && m.Scheduler.Stopping()
}

// Idle performs one poller wait, dispatches due timers and ready waiters.
func (m *IOManager) Idle(ctx context.Context) {
	timeout := m.cfg.MaxTimeout
	if d, ok := m.timers.Next(); ok && d < timeout {
		timeout = d
	}
	if m.StopRequested() && timeout > stopPollInterval {
		timeout = stopPollInterval
	}
	// A task queued before this worker counted itself idle saw no idle
	// thread and did not wake the poller; only poll without blocking.
	if th := fiber.ThreadFromContext(ctx); th != nil && m.HasRunnable(th.ID()) {
		timeout = 0
	}
	buf := m.ready.Get()
	defer m.ready.Put(buf)
	n, err := m.poller.Wait(buf, timeout)
	if err != nil {
		logger.Printf("%s: %v", m.cfg.Name, err)
		return
	}
	m.wakeups.Add(1)

	for _, cb := range m.timers.ListExpired(nil) {
		m.Submit(func(context.Context) { cb() })
	}
	for _, r := range buf[:n] {
		fc := m.lookup(r.Fd)
		if fc == nil {
			continue
		}
		m.dispatch(fc, r)
	}
}

func (m *IOManager) dispatch(fc *FdContext, r Ready) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	got := r.Events
	if r.Hangup {
		got |= (api.EventRead | api.EventWrite) & fc.events
	}
	fired := got & fc.events
	if fired == api.EventNone {
		return
	}
	if !m.rearm(fc, fc.events&^fired) {
		return
	}
	if fired&api.EventRead != 0 {
		m.fire(fc, api.EventRead)
	}
	if fired&api.EventWrite != 0 {
		m.fire(fc, api.EventWrite)
	}
}

// Stats returns scheduler counters plus reactor counters.
func (m *IOManager) Stats() map[string]int64 {
	st := m.Scheduler.Stats()
	st["pending_events"] = m.pending.Load()
	st["timers"] = int64(m.timers.Len())
	st["wakeups"] = m.wakeups.Load()
	st["triggered"] = m.triggered.Load()
	m.tableMu.RLock()
	st["fd_table"] = int64(len(m.table))
	m.tableMu.RUnlock()
	return st
}

func (m *IOManager) registerProbes() {
	dp := control.Probes()
	dp.RegisterProbe(m.cfg.Name+".pending_events", func() any { return m.pending.Load() })
	dp.RegisterProbe(m.cfg.Name+".timers", func() any { return m.timers.Len() })
}

// Close stops the scheduler, publishes final metrics and releases the
// poller. Close is idempotent.
func (m *IOManager) Close() error {
	m.closeOnce.Do(func() {
		m.Scheduler.Stop()
		managers.remove(m)
		control.Metrics().Publish(m.cfg.Name, m.Stats())
		dp := control.Probes()
		dp.UnregisterProbe(m.cfg.Name + ".pending_events")
		dp.UnregisterProbe(m.cfg.Name + ".timers")
		m.closeErr = m.poller.Close()
		m.tableMu.Lock()
		m.table = nil
		m.tableMu.Unlock()
	})
	return m.closeErr
}

func (m *IOManager) String() string {
	return fmt.Sprintf("IOManager(%s, threads=%d, pending=%d)", m.cfg.Name, m.cfg.Threads, m.pending.Load())
}
