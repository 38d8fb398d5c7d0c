// File: fdtable/fdtable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package fdtable records per-descriptor state used by the hook layer:
// whether a descriptor is a socket, who asked for non-blocking mode, whether
// it was closed, and its send and receive timeouts.
package fdtable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// NoTimeout disables a send or receive timeout.
const NoTimeout = time.Duration(-1)

// Kind selects a timeout.
type Kind int

const (
	RecvTimeout Kind = iota
	SendTimeout
)

func (k Kind) String() string {
	switch k {
	case RecvTimeout:
		return "recv"
	case SendTimeout:
		return "send"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// FdCtx is the state of one descriptor.
type FdCtx struct {
	fd          int
	initialized bool
	socket      bool

	sysNonblock  atomic.Bool
	userNonblock atomic.Bool
	closed       atomic.Bool
	recvTimeout  atomic.Int64
	sendTimeout  atomic.Int64
}

func newFdCtx(fd int) *FdCtx {
	c := &FdCtx{fd: fd}
	c.recvTimeout.Store(int64(NoTimeout))
	c.sendTimeout.Store(int64(NoTimeout))
	c.init()
	return c
}

// init inspects fd. Sockets are switched to O_NONBLOCK at the system level so
// hooked calls can wait on readiness instead of blocking the worker.
func (c *FdCtx) init() {
	var st unix.Stat_t
	if err := unix.Fstat(c.fd, &st); err != nil {
		return
	}
	c.initialized = true
	c.socket = st.Mode&unix.S_IFMT == unix.S_IFSOCK
	if !c.socket {
		return
	}
	flags, err := unix.FcntlInt(uintptr(c.fd), unix.F_GETFL, 0)
	if err != nil {
		return
	}
	if flags&unix.O_NONBLOCK == 0 {
		if _, err := unix.FcntlInt(uintptr(c.fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
			return
		}
	}
	c.sysNonblock.Store(true)
}

// Fd returns the descriptor number.
func (c *FdCtx) Fd() int { return c.fd }

// Initialized reports whether fstat succeeded on the descriptor.
func (c *FdCtx) Initialized() bool { return c.initialized }

// IsSocket reports whether the descriptor is a socket.
func (c *FdCtx) IsSocket() bool { return c.socket }

// IsClosed reports whether the descriptor was closed through the hook layer.
func (c *FdCtx) IsClosed() bool { return c.closed.Load() }

// SetClosed marks the descriptor closed.
func (c *FdCtx) SetClosed() { c.closed.Store(true) }

// SysNonblock reports whether O_NONBLOCK was set by the runtime.
func (c *FdCtx) SysNonblock() bool { return c.sysNonblock.Load() }

// SetSysNonblock records the system-level non-blocking mode.
func (c *FdCtx) SetSysNonblock(v bool) { c.sysNonblock.Store(v) }

// UserNonblock reports whether the user asked for non-blocking mode.
func (c *FdCtx) UserNonblock() bool { return c.userNonblock.Load() }

// SetUserNonblock records the non-blocking mode requested by the user.
func (c *FdCtx) SetUserNonblock(v bool) { c.userNonblock.Store(v) }

// Timeout returns the timeout of kind k, NoTimeout if none.
func (c *FdCtx) Timeout(k Kind) time.Duration {
	if k == RecvTimeout {
		return time.Duration(c.recvTimeout.Load())
	}
	return time.Duration(c.sendTimeout.Load())
}

// SetTimeout sets the timeout of kind k. Non-positive values mean NoTimeout.
func (c *FdCtx) SetTimeout(k Kind, d time.Duration) {
	if d <= 0 {
		d = NoTimeout
	}
	if k == RecvTimeout {
		c.recvTimeout.Store(int64(d))
		return
	}
	c.sendTimeout.Store(int64(d))
}

// Manager maps descriptors to their FdCtx.
type Manager struct {
	mu  sync.RWMutex
	fds []*FdCtx
}

// NewManager returns an empty table.
func NewManager() *Manager { return &Manager{fds: make([]*FdCtx, 64)} }

var defaultManager = NewManager()

// Default returns the process-wide table.
func Default() *Manager { return defaultManager }

// Get returns the context of fd. With autoCreate a missing entry is created
// and initialized; otherwise nil is returned for unknown descriptors.
func (m *Manager) Get(fd int, autoCreate bool) *FdCtx {
	if fd < 0 {
		return nil
	}
	m.mu.RLock()
	if fd < len(m.fds) {
		if c := m.fds[fd]; c != nil || !autoCreate {
			m.mu.RUnlock()
			return c
		}
	} else if !autoCreate {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if fd >= len(m.fds) {
		grown := make([]*FdCtx, max(fd*3/2, len(m.fds)*2))
		copy(grown, m.fds)
		m.fds = grown
	}
	if m.fds[fd] == nil {
		m.fds[fd] = newFdCtx(fd)
	}
	return m.fds[fd]
}

// Del forgets fd.
func (m *Manager) Del(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd >= 0 && fd < len(m.fds) {
		m.fds[fd] = nil
	}
}
