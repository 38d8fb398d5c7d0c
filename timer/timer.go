// File: timer/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package timer implements a deadline-ordered timer set polled by a reactor.
//
// A Manager never runs callbacks itself. ListExpired pops every due timer
// and returns the callbacks for the caller to dispatch; Next tells the caller
// how long it may block before the earliest deadline.
package timer

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-fiber/api"
)

// minInterval is the re-arm period used for recurring timers with a
// non-positive interval.
const minInterval = time.Millisecond

// Timer is a handle to a scheduled callback.
type Timer struct {
	m         *Manager
	deadline  time.Time
	interval  time.Duration
	recurring bool
	cb        func()
	seq       uint64
	index     int
}

var _ api.TimerHandle = (*Timer)(nil)

// Cancel removes the timer. It reports false if the timer already fired
// (one-shot) or was cancelled.
func (t *Timer) Cancel() bool {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.cb == nil {
		return false
	}
	t.cb = nil
	if t.index >= 0 {
		heap.Remove(&m.h, t.index)
	}
	return true
}

// Refresh pushes the deadline to now plus the interval.
func (t *Timer) Refresh() bool {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.cb == nil || t.index < 0 {
		return false
	}
	t.deadline = m.now().Add(t.interval)
	heap.Fix(&m.h, t.index)
	return true
}

// Reset changes the interval to d. With fromNow the new deadline is counted
// from now, otherwise from the timer's original start.
func (t *Timer) Reset(d time.Duration, fromNow bool) bool {
	m := t.m
	m.mu.Lock()
	if d == t.interval && !fromNow {
		m.mu.Unlock()
		return true
	}
	if t.cb == nil || t.index < 0 {
		m.mu.Unlock()
		return false
	}
	heap.Remove(&m.h, t.index)
	start := t.deadline.Add(-t.interval)
	if fromNow {
		start = m.now()
	}
	t.interval = d
	t.deadline = start.Add(d)
	front := m.insertLocked(t)
	m.mu.Unlock()
	if front {
		m.onFront()
	}
	return true
}

// Deadline returns the absolute time of the next firing.
func (t *Timer) Deadline() time.Time {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.deadline
}

// Interval returns the timer period.
func (t *Timer) Interval() time.Duration {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.interval
}

// Recurring reports whether the timer re-arms after firing.
func (t *Timer) Recurring() bool { return t.recurring }

// Pending reports whether the timer is still scheduled.
func (t *Timer) Pending() bool {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.index >= 0
}

func (t *Timer) String() string {
	return fmt.Sprintf("Timer(interval=%v, recurring=%v)", t.interval, t.recurring)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithFrontHook installs fn, called when an inserted timer becomes the
// earliest deadline. It fires at most once between two calls to Next.
func WithFrontHook(fn func()) Option { return func(m *Manager) { m.front = fn } }

// Manager holds timers in a min-heap keyed by deadline.
type Manager struct {
	mu      sync.RWMutex
	h       timerHeap
	now     func() time.Time
	front   func()
	last    time.Time
	seq     uint64
	tickled bool
}

// NewManager returns an empty timer set.
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.last = m.now()
	return m
}

// AddTimer schedules cb after d. A recurring timer re-arms at the firing
// instant plus d.
func (m *Manager) AddTimer(d time.Duration, cb func(), recurring bool) *Timer {
	if cb == nil {
		panic("timer: nil callback")
	}
	m.mu.Lock()
	t := &Timer{m: m, interval: d, recurring: recurring, cb: cb, index: -1}
	t.deadline = m.now().Add(d)
	front := m.insertLocked(t)
	m.mu.Unlock()
	if front {
		m.onFront()
	}
	return t
}

// AddConditionTimer schedules cb like AddTimer, but cb only runs while tok
// is alive at firing time.
func (m *Manager) AddConditionTimer(d time.Duration, cb func(), tok Token, recurring bool) *Timer {
	if cb == nil {
		panic("timer: nil callback")
	}
	return m.AddTimer(d, func() {
		if tok != nil && tok.Alive() {
			cb()
		}
	}, recurring)
}

// Next returns the time until the earliest deadline, zero if it already
// passed. The boolean is false when no timer is scheduled. Calling Next
// re-enables the front hook.
func (m *Manager) Next() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickled = false
	if len(m.h) == 0 {
		return 0, false
	}
	d := m.h[0].deadline.Sub(m.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// HasTimer reports whether any timer is scheduled.
func (m *Manager) HasTimer() bool { return m.Len() > 0 }

// Len returns the number of scheduled timers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.h)
}

// ListExpired appends the callbacks of every due timer to out and returns
// it. Due timers are popped; recurring ones are re-armed at now plus their
// interval once the scan is complete. If the clock moved backwards since the
// previous call every timer is due.
func (m *Manager) ListExpired(out []func()) []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rollback := now.Before(m.last)
	m.last = now
	if len(m.h) == 0 || (!rollback && m.h[0].deadline.After(now)) {
		return out
	}
	var rearm []*Timer
	for len(m.h) > 0 && (rollback || !m.h[0].deadline.After(now)) {
		t := heap.Pop(&m.h).(*Timer)
		out = append(out, t.cb)
		if t.recurring {
			iv := t.interval
			if iv <= 0 {
				iv = minInterval
			}
			t.deadline = now.Add(iv)
			rearm = append(rearm, t)
		} else {
			t.cb = nil
		}
	}
	for _, t := range rearm {
		m.seq++
		t.seq = m.seq
		heap.Push(&m.h, t)
	}
	return out
}

func (m *Manager) insertLocked(t *Timer) bool {
	m.seq++
	t.seq = m.seq
	heap.Push(&m.h, t)
	if t.index == 0 && !m.tickled {
		m.tickled = true
		return m.front != nil
	}
	return false
}

func (m *Manager) onFront() {
	if m.front != nil {
		m.front()
	}
}
