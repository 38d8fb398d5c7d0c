// File: hook/hook.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package hook turns blocking-style system calls into fiber-aware ones.
//
// Every function takes the context of the calling fiber. When the worker
// running that fiber has hooking enabled and the descriptor is a socket
// tracked by fdtable, a call that would block registers interest with the
// fiber's IOManager, yields, and retries once the descriptor is ready or the
// configured timeout expires. In every other case the raw call is made.
package hook

import (
	"context"
	"errors"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fdtable"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/timer"
)

var logger = log.New(os.Stderr, "[hook] ", log.LstdFlags|log.Lmicroseconds)

// Enabled reports whether calls made with ctx are intercepted.
func Enabled(ctx context.Context) bool {
	th := fiber.ThreadFromContext(ctx)
	return th != nil && th.HookEnabled()
}

// SetEnabled switches interception for the worker running the fiber of ctx.
// It does nothing outside a fiber.
func SetEnabled(ctx context.Context, on bool) {
	if th := fiber.ThreadFromContext(ctx); th != nil {
		th.SetHookEnabled(on)
	}
}

// target resolves the pieces needed to wait on fd. ok is false when the call
// must go straight to the kernel.
func target(ctx context.Context, fd int) (fc *fdtable.FdCtx, m *reactor.IOManager, f *fiber.Fiber, ok bool) {
	if !Enabled(ctx) {
		return nil, nil, nil, false
	}
	fc = fdtable.Default().Get(fd, false)
	if fc == nil {
		return nil, nil, nil, false
	}
	m, f = reactor.FromContext(ctx), fiber.FromContext(ctx)
	if m == nil || f == nil {
		return fc, nil, nil, false
	}
	return fc, m, f, true
}

// doIO runs op until it stops reporting EAGAIN, waiting for ev between
// attempts. It fails with ETIMEDOUT when the descriptor's timeout of kind
// expires first.
func doIO[T any](ctx context.Context, fd int, name string, ev api.Event, kind fdtable.Kind, op func() (T, error)) (T, error) {
	var zero T
	fc, m, f, ok := target(ctx, fd)
	if fc != nil && fc.IsClosed() {
		return zero, unix.EBADF
	}
	if !ok || !fc.IsSocket() || fc.UserNonblock() {
		return op()
	}
	timeout := fc.Timeout(kind)
	for {
		v, err := op()
		for errors.Is(err, unix.EINTR) {
			v, err = op()
		}
		if !errors.Is(err, unix.EAGAIN) {
			return v, err
		}
		timedOut, err := wait(ctx, m, f, fd, ev, timeout)
		if err != nil {
			logger.Printf("%s fd=%d: %v", name, fd, err)
			return zero, err
		}
		if timedOut {
			return zero, unix.ETIMEDOUT
		}
		if fc.IsClosed() {
			return zero, unix.EBADF
		}
	}
}

// wait registers the current fiber for ev on fd, optionally bounded by
// timeout, and yields until woken.
func wait(ctx context.Context, m *reactor.IOManager, f *fiber.Fiber, fd int, ev api.Event, timeout time.Duration) (bool, error) {
	var timedOut atomic.Bool
	alive := timer.NewFlag()
	defer alive.Kill()

	var tm *timer.Timer
	if timeout != fdtable.NoTimeout {
		tm = m.AddConditionTimer(timeout, func() {
			timedOut.Store(true)
			m.CancelEvent(fd, ev)
		}, alive, false)
	}
	if err := m.AddEvent(ctx, fd, ev, nil); err != nil {
		if tm != nil {
			tm.Cancel()
		}
		return false, err
	}
	f.Yield()
	if tm != nil {
		tm.Cancel()
	}
	return timedOut.Load(), nil
}

// ConnectTimeout returns the process-wide connect timeout.
func ConnectTimeout() time.Duration {
	return control.Default().Duration(control.KeyHookConnectTimeout, fdtable.NoTimeout)
}

// SetConnectTimeout changes the process-wide connect timeout. Non-positive
// values disable it.
func SetConnectTimeout(d time.Duration) {
	if d <= 0 {
		d = fdtable.NoTimeout
	}
	control.Default().Set(control.KeyHookConnectTimeout, d)
}
