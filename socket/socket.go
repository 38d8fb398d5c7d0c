// File: socket/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package socket wraps a descriptor with fiber-aware operations from the
// hook package.
package socket

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/fdtable"
	"github.com/momentics/hioload-fiber/hook"
	"github.com/momentics/hioload-fiber/reactor"
)

var logger = log.New(os.Stderr, "[socket] ", log.LstdFlags|log.Lmicroseconds)

// Socket is a stream or datagram socket. Methods that may wait take the
// context of the calling fiber.
type Socket struct {
	fd     int
	family int
	typ    int
	proto  int

	mu        sync.Mutex
	connected bool
	local     Address
	remote    Address
}

// NewTCP creates a TCP socket of the given family.
func NewTCP(ctx context.Context, family int) (*Socket, error) {
	return newSocket(ctx, family, unix.SOCK_STREAM, 0)
}

// NewUDP creates a UDP socket of the given family.
func NewUDP(ctx context.Context, family int) (*Socket, error) {
	s, err := newSocket(ctx, family, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}
	s.connected = true
	return s, nil
}

func newSocket(ctx context.Context, family, typ, proto int) (*Socket, error) {
	fd, err := hook.Socket(ctx, family, typ|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, api.Wrap(api.ErrCodeResourceExhausted, "socket", err).
			WithContext("family", family)
	}
	s := &Socket{fd: fd, family: family, typ: typ, proto: proto}
	s.init()
	return s, nil
}

// init registers fd so hooked calls can wait on it, and applies the
// default options.
func (s *Socket) init() {
	fdtable.Default().Get(s.fd, true)
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		logger.Printf("fd=%d: SO_REUSEADDR: %v", s.fd, err)
	}
	if s.typ == unix.SOCK_STREAM {
		if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			logger.Printf("fd=%d: TCP_NODELAY: %v", s.fd, err)
		}
	}
}

// Fd returns the descriptor.
func (s *Socket) Fd() int { return s.fd }

// Family returns the address family.
func (s *Socket) Family() int { return s.family }

// Type returns the socket type.
func (s *Socket) Type() int { return s.typ }

// IsConnected reports whether the socket is connected.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IsValid reports whether the socket still owns a descriptor.
func (s *Socket) IsValid() bool { return s.fd >= 0 }

// Bind assigns a local address.
func (s *Socket) Bind(addr Address) error {
	if addr.Family() != s.family {
		return api.NewError(api.ErrCodeInvalidArgument, "bind: family mismatch").
			WithContext("addr", addr.String()).WithContext("family", s.family)
	}
	if err := unix.Bind(s.fd, addr.Sockaddr()); err != nil {
		return api.Wrap(api.ErrCodeInternal, "bind", err).WithContext("addr", addr.String())
	}
	s.LocalAddress()
	return nil
}

// Listen marks the socket as passive. A non-positive backlog means
// SOMAXCONN.
func (s *Socket) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return api.Wrap(api.ErrCodeInternal, "listen", err).WithContext("fd", s.fd)
	}
	return nil
}

// Accept waits for an incoming connection.
func (s *Socket) Accept(ctx context.Context) (*Socket, error) {
	nfd, sa, err := hook.Accept(ctx, s.fd)
	if err != nil {
		return nil, err
	}
	c := &Socket{fd: nfd, family: s.family, typ: s.typ, proto: s.proto, connected: true}
	c.init()
	if ra, err := FromSockaddr(sa); err == nil {
		c.remote = ra
	}
	return c, nil
}

// Connect connects to addr, waiting at most timeout. A negative timeout uses
// the process-wide connect timeout.
func (s *Socket) Connect(ctx context.Context, addr Address, timeout time.Duration) error {
	if timeout < 0 {
		timeout = hook.ConnectTimeout()
	}
	if err := hook.ConnectWithTimeout(ctx, s.fd, addr.Sockaddr(), timeout); err != nil {
		return fmt.Errorf("connect %v: %w", addr, err)
	}
	s.mu.Lock()
	s.connected = true
	s.remote = addr
	s.mu.Unlock()
	s.LocalAddress()
	return nil
}

// Send writes p to a connected socket.
func (s *Socket) Send(ctx context.Context, p []byte) (int, error) {
	if !s.IsConnected() {
		return 0, unix.ENOTCONN
	}
	return hook.Send(ctx, s.fd, p, unix.MSG_NOSIGNAL)
}

// SendBuffers writes a vector of buffers.
func (s *Socket) SendBuffers(ctx context.Context, bufs [][]byte) (int, error) {
	if !s.IsConnected() {
		return 0, unix.ENOTCONN
	}
	return hook.Writev(ctx, s.fd, bufs)
}

// SendTo sends a datagram to addr.
func (s *Socket) SendTo(ctx context.Context, p []byte, addr Address) error {
	return hook.Sendto(ctx, s.fd, p, unix.MSG_NOSIGNAL, addr.Sockaddr())
}

// Recv reads from a connected socket. Zero bytes with a nil error means the
// peer closed the connection.
func (s *Socket) Recv(ctx context.Context, p []byte) (int, error) {
	if !s.IsConnected() {
		return 0, unix.ENOTCONN
	}
	return hook.Recv(ctx, s.fd, p, 0)
}

// RecvBuffers reads into a vector of buffers.
func (s *Socket) RecvBuffers(ctx context.Context, bufs [][]byte) (int, error) {
	if !s.IsConnected() {
		return 0, unix.ENOTCONN
	}
	return hook.Readv(ctx, s.fd, bufs)
}

// RecvFrom receives a datagram and its sender.
func (s *Socket) RecvFrom(ctx context.Context, p []byte) (int, Address, error) {
	n, sa, err := hook.Recvfrom(ctx, s.fd, p, 0)
	if err != nil {
		return n, Address{}, err
	}
	from, _ := FromSockaddr(sa)
	return n, from, nil
}

// SetRecvTimeout bounds how long Recv and Accept wait.
func (s *Socket) SetRecvTimeout(ctx context.Context, d time.Duration) error {
	return s.setTimeout(ctx, unix.SO_RCVTIMEO, d)
}

// SetSendTimeout bounds how long Send waits.
func (s *Socket) SetSendTimeout(ctx context.Context, d time.Duration) error {
	return s.setTimeout(ctx, unix.SO_SNDTIMEO, d)
}

func (s *Socket) setTimeout(ctx context.Context, opt int, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := hook.SetsockoptTimeval(ctx, s.fd, unix.SOL_SOCKET, opt, &tv); err != nil {
		return err
	}
	// Keep the table in sync when hooking is off for the caller.
	if fc := fdtable.Default().Get(s.fd, false); fc != nil {
		kind := fdtable.RecvTimeout
		if opt == unix.SO_SNDTIMEO {
			kind = fdtable.SendTimeout
		}
		fc.SetTimeout(kind, d)
	}
	return nil
}

// RecvTimeout returns the receive timeout, fdtable.NoTimeout if none.
func (s *Socket) RecvTimeout() time.Duration {
	if fc := fdtable.Default().Get(s.fd, false); fc != nil {
		return fc.Timeout(fdtable.RecvTimeout)
	}
	return fdtable.NoTimeout
}

// Error returns the pending socket error.
func (s *Socket) Error() error {
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// LocalAddress returns the bound address, or the zero Address.
func (s *Socket) LocalAddress() Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.local.IsValid() {
		if sa, err := unix.Getsockname(s.fd); err == nil {
			s.local, _ = FromSockaddr(sa)
		}
	}
	return s.local
}

// RemoteAddress returns the peer address, or the zero Address.
func (s *Socket) RemoteAddress() Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.remote.IsValid() {
		if sa, err := unix.Getpeername(s.fd); err == nil {
			s.remote, _ = FromSockaddr(sa)
		}
	}
	return s.remote
}

// CancelRead wakes a fiber waiting to read.
func (s *Socket) CancelRead(ctx context.Context) bool {
	return s.cancel(ctx, api.EventRead)
}

// CancelWrite wakes a fiber waiting to write.
func (s *Socket) CancelWrite(ctx context.Context) bool {
	return s.cancel(ctx, api.EventWrite)
}

// CancelAll wakes every fiber waiting on the socket.
func (s *Socket) CancelAll(ctx context.Context) bool {
	m := reactor.FromContext(ctx)
	return m != nil && m.CancelAll(s.fd)
}

func (s *Socket) cancel(ctx context.Context, ev api.Event) bool {
	m := reactor.FromContext(ctx)
	return m != nil && m.CancelEvent(s.fd, ev)
}

// Shutdown disables further sends and receives. A fiber waiting to read
// observes end of stream.
func (s *Socket) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	return unix.Shutdown(s.fd, unix.SHUT_RDWR)
}

// Close wakes waiters and releases the descriptor. Close is idempotent.
func (s *Socket) Close(ctx context.Context) error {
	s.mu.Lock()
	fd := s.fd
	s.fd = -1
	s.connected = false
	s.mu.Unlock()
	if fd < 0 {
		return nil
	}
	return hook.Close(ctx, fd)
}

func (s *Socket) String() string {
	return fmt.Sprintf("Socket(fd=%d, family=%d, type=%d, connected=%v, local=%v, remote=%v)",
		s.fd, s.family, s.typ, s.IsConnected(), s.local, s.remote)
}
