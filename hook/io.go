// File: hook/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hook

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/fdtable"
)

// Read is read(2), parking the fiber until fd is readable or its receive
// timeout expires.
func Read(ctx context.Context, fd int, p []byte) (int, error) {
	return doIO(ctx, fd, "read", api.EventRead, fdtable.RecvTimeout, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Readv is readv(2) into iovs.
func Readv(ctx context.Context, fd int, iovs [][]byte) (int, error) {
	return doIO(ctx, fd, "readv", api.EventRead, fdtable.RecvTimeout, func() (int, error) {
		return unix.Readv(fd, iovs)
	})
}

// Recv is recv(2) on a connected socket.
func Recv(ctx context.Context, fd int, p []byte, flags int) (int, error) {
	return doIO(ctx, fd, "recv", api.EventRead, fdtable.RecvTimeout, func() (int, error) {
		n, _, err := unix.Recvfrom(fd, p, flags)
		return n, err
	})
}

// Recvfrom is recvfrom(2) and also returns the sender address.
func Recvfrom(ctx context.Context, fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	type res struct {
		n    int
		from unix.Sockaddr
	}
	r, err := doIO(ctx, fd, "recvfrom", api.EventRead, fdtable.RecvTimeout, func() (res, error) {
		n, from, err := unix.Recvfrom(fd, p, flags)
		return res{n, from}, err
	})
	return r.n, r.from, err
}

// Recvmsg returns the data and control lengths, the received flags and the
// sender address.
func Recvmsg(ctx context.Context, fd int, p, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error) {
	type res struct {
		n, oobn, flags int
		from           unix.Sockaddr
	}
	r, err := doIO(ctx, fd, "recvmsg", api.EventRead, fdtable.RecvTimeout, func() (res, error) {
		n, oobn, rf, from, err := unix.Recvmsg(fd, p, oob, flags)
		return res{n, oobn, rf, from}, err
	})
	return r.n, r.oobn, r.flags, r.from, err
}

// Write is write(2), parking the fiber until fd is writable or its send
// timeout expires. It may write fewer bytes than len(p).
func Write(ctx context.Context, fd int, p []byte) (int, error) {
	return doIO(ctx, fd, "write", api.EventWrite, fdtable.SendTimeout, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// Writev is writev(2) from iovs.
func Writev(ctx context.Context, fd int, iovs [][]byte) (int, error) {
	return doIO(ctx, fd, "writev", api.EventWrite, fdtable.SendTimeout, func() (int, error) {
		return unix.Writev(fd, iovs)
	})
}

// Send is send(2) on a connected socket.
func Send(ctx context.Context, fd int, p []byte, flags int) (int, error) {
	return doIO(ctx, fd, "send", api.EventWrite, fdtable.SendTimeout, func() (int, error) {
		return unix.SendmsgN(fd, p, nil, nil, flags)
	})
}

// Sendto is sendto(2). Datagram sockets send p in one message.
func Sendto(ctx context.Context, fd int, p []byte, flags int, to unix.Sockaddr) error {
	_, err := doIO(ctx, fd, "sendto", api.EventWrite, fdtable.SendTimeout, func() (struct{}, error) {
		return struct{}{}, unix.Sendto(fd, p, flags, to)
	})
	return err
}

// Sendmsg is sendmsg(2) with optional control data, returning the number
// of data bytes sent.
func Sendmsg(ctx context.Context, fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	return doIO(ctx, fd, "sendmsg", api.EventWrite, fdtable.SendTimeout, func() (int, error) {
		return unix.SendmsgN(fd, p, oob, to, flags)
	})
}
