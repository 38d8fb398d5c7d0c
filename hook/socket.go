// File: hook/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/fdtable"
	"github.com/momentics/hioload-fiber/reactor"
)

// Socket creates a socket and, when hooking is enabled, registers it in the
// descriptor table, which switches it to non-blocking mode.
func Socket(ctx context.Context, domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, err
	}
	if Enabled(ctx) {
		fdtable.Default().Get(fd, true)
	}
	return fd, nil
}

// Connect connects fd to sa using the process-wide connect timeout.
func Connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	return ConnectWithTimeout(ctx, fd, sa, ConnectTimeout())
}

// ConnectWithTimeout connects fd to sa, waiting at most d for the
// connection to complete. A negative d waits forever.
func ConnectWithTimeout(ctx context.Context, fd int, sa unix.Sockaddr, d time.Duration) error {
	fc, m, f, ok := target(ctx, fd)
	if fc != nil && fc.IsClosed() {
		return unix.EBADF
	}
	if !ok || !fc.IsSocket() || fc.UserNonblock() {
		return unix.Connect(fd, sa)
	}
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINPROGRESS) {
		return err
	}
	if d <= 0 {
		d = fdtable.NoTimeout
	}
	timedOut, err := wait(ctx, m, f, fd, api.EventWrite, d)
	if err != nil {
		logger.Printf("connect fd=%d: %v", fd, err)
		return err
	}
	if timedOut {
		return unix.ETIMEDOUT
	}
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// Accept waits for a connection on fd. The accepted descriptor is registered
// in the descriptor table.
func Accept(ctx context.Context, fd int) (int, unix.Sockaddr, error) {
	type res struct {
		fd int
		sa unix.Sockaddr
	}
	r, err := doIO(ctx, fd, "accept", api.EventRead, fdtable.RecvTimeout, func() (res, error) {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		return res{nfd, sa}, err
	})
	if err != nil {
		return -1, nil, err
	}
	if Enabled(ctx) {
		fdtable.Default().Get(r.fd, true)
	}
	return r.fd, r.sa, nil
}

// Close wakes every fiber waiting on fd, whichever IOManager parked it,
// then forgets fd and closes it. Waiters are woken even when hooking is
// off for the caller.
func Close(ctx context.Context, fd int) error {
	if fc := fdtable.Default().Get(fd, false); fc != nil {
		fc.SetClosed()
		reactor.CancelFd(fd)
		fdtable.Default().Del(fd)
	}
	return unix.Close(fd)
}

// Fcntl is fcntl(2) with integer argument. F_SETFL and F_GETFL keep the
// non-blocking mode requested by the user apart from the one the runtime
// set on sockets.
func Fcntl(ctx context.Context, fd, cmd, arg int) (int, error) {
	var fc *fdtable.FdCtx
	if Enabled(ctx) {
		fc = fdtable.Default().Get(fd, false)
	}
	if fc == nil || fc.IsClosed() || !fc.IsSocket() {
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	}
	switch cmd {
	case unix.F_SETFL:
		fc.SetUserNonblock(arg&unix.O_NONBLOCK != 0)
		if fc.SysNonblock() {
			arg |= unix.O_NONBLOCK
		} else {
			arg &^= unix.O_NONBLOCK
		}
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	case unix.F_GETFL:
		flags, err := unix.FcntlInt(uintptr(fd), cmd, 0)
		if err != nil {
			return flags, err
		}
		if fc.UserNonblock() {
			return flags | unix.O_NONBLOCK, nil
		}
		return flags &^ unix.O_NONBLOCK, nil
	}
	return unix.FcntlInt(uintptr(fd), cmd, arg)
}

// SetNonblock records a user request for non-blocking mode, the FIONBIO
// ioctl of the hook layer. Sockets stay non-blocking at the system level.
func SetNonblock(ctx context.Context, fd int, on bool) error {
	var fc *fdtable.FdCtx
	if Enabled(ctx) {
		fc = fdtable.Default().Get(fd, false)
	}
	if fc == nil || fc.IsClosed() || !fc.IsSocket() {
		return unix.SetNonblock(fd, on)
	}
	fc.SetUserNonblock(on)
	return nil
}

// GetsockoptInt reads an integer socket option. It never waits.
func GetsockoptInt(ctx context.Context, fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

// SetsockoptInt sets an integer socket option. It never waits.
func SetsockoptInt(ctx context.Context, fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

// SetsockoptTimeval sets a timeval option. SO_RCVTIMEO and SO_SNDTIMEO are
// also recorded as the hook-level timeouts of fd.
func SetsockoptTimeval(ctx context.Context, fd, level, opt int, tv *unix.Timeval) error {
	if tv == nil {
		return fmt.Errorf("setsockopt fd=%d: %w", fd, api.ErrInvalidArgument)
	}
	if Enabled(ctx) && level == unix.SOL_SOCKET && (opt == unix.SO_RCVTIMEO || opt == unix.SO_SNDTIMEO) {
		if fc := fdtable.Default().Get(fd, false); fc != nil {
			kind := fdtable.RecvTimeout
			if opt == unix.SO_SNDTIMEO {
				kind = fdtable.SendTimeout
			}
			fc.SetTimeout(kind, time.Duration(tv.Nano()))
		}
	}
	return unix.SetsockoptTimeval(fd, level, opt, tv)
}
