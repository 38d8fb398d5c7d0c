//go:build linux

// File: socket/socket_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/socket"
)

func newIOManager(t *testing.T, name string) *reactor.IOManager {
	t.Helper()
	m, err := reactor.NewIOManager(reactor.Config{Threads: 2, Name: name})
	require.NoError(t, err)
	return m
}

// run executes fn in a fiber of m and returns its error.
func run(t *testing.T, m *reactor.IOManager, fn func(ctx context.Context) error) chan error {
	t.Helper()
	ch := make(chan error, 1)
	m.Submit(func(ctx context.Context) { ch <- fn(ctx) })
	return ch
}

func wait(t *testing.T, ch chan error) {
	t.Helper()
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("fiber did not finish")
	}
}

func TestParseAddress(t *testing.T) {
	a, err := socket.ParseAddress("127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, a.Family())
	assert.Equal(t, uint16(8080), a.Port())
	assert.Equal(t, "127.0.0.1:9090", a.WithPort(9090).String())

	sa, ok := a.Sockaddr().(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, sa.Addr)
	back, err := socket.FromSockaddr(sa)
	require.NoError(t, err)
	assert.Equal(t, a, back)

	// v4-mapped addresses collapse to IPv4.
	m, err := socket.ParseAddress("[::ffff:10.0.0.1]:1")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, m.Family())

	v6, err := socket.ParseAddress("[::1]:53")
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET6, v6.Family())
	assert.Equal(t, netip.IPv6Loopback(), v6.IP())

	_, err = socket.ParseAddress("localhost")
	assert.Error(t, err)
	_, err = socket.FromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"})
	assert.ErrorIs(t, err, api.ErrNotSupported)
}

func TestLookupLiteral(t *testing.T) {
	got, err := socket.Lookup(context.Background(), "10.1.2.3:80")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "10.1.2.3:80", got[0].String())

	wild, err := socket.ResolveTCP(context.Background(), ":7000")
	require.NoError(t, err)
	assert.True(t, wild.IP().IsUnspecified())

	_, err = socket.Lookup(context.Background(), "10.1.2.3:http-ish")
	assert.Error(t, err)
}

func TestTCPLoopback(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "socket-tcp")
	defer func() { require.NoError(t, m.Close()) }()

	bound := make(chan socket.Address, 1)
	server := run(t, m, func(ctx context.Context) error {
		l, err := socket.NewTCP(ctx, unix.AF_INET)
		if err != nil {
			return err
		}
		defer l.Close(ctx)
		addr, _ := socket.ParseAddress("127.0.0.1:0")
		if err := l.Bind(addr); err != nil {
			return err
		}
		if err := l.Listen(0); err != nil {
			return err
		}
		bound <- l.LocalAddress()

		c, err := l.Accept(ctx)
		if err != nil {
			return err
		}
		defer c.Close(ctx)
		assert.True(t, c.IsConnected())
		assert.True(t, c.RemoteAddress().IP().IsLoopback())

		buf := make([]byte, 32)
		n, err := c.Recv(ctx, buf)
		if err != nil {
			return err
		}
		_, err = c.SendBuffers(ctx, [][]byte{[]byte("re: "), buf[:n]})
		return err
	})

	addr := <-bound
	assert.NotZero(t, addr.Port())
	client := run(t, m, func(ctx context.Context) error {
		c, err := socket.NewTCP(ctx, unix.AF_INET)
		if err != nil {
			return err
		}
		defer c.Close(ctx)
		if err := c.Connect(ctx, addr, time.Second); err != nil {
			return err
		}
		assert.Equal(t, addr, c.RemoteAddress())
		if _, err := c.Send(ctx, []byte("ping")); err != nil {
			return err
		}
		a, b := make([]byte, 4), make([]byte, 16)
		n, err := c.RecvBuffers(ctx, [][]byte{a, b})
		if err != nil {
			return err
		}
		assert.Equal(t, 8, n)
		assert.Equal(t, "re: ping", string(a)+string(b[:n-4]))
		return nil
	})
	wait(t, client)
	wait(t, server)
}

func TestUDPRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "socket-udp")
	defer func() { require.NoError(t, m.Close()) }()

	wait(t, run(t, m, func(ctx context.Context) error {
		a, err := socket.NewUDP(ctx, unix.AF_INET)
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		b, err := socket.NewUDP(ctx, unix.AF_INET)
		if err != nil {
			return err
		}
		defer b.Close(ctx)
		lo, _ := socket.ParseAddress("127.0.0.1:0")
		if err := a.Bind(lo); err != nil {
			return err
		}
		if err := b.Bind(lo); err != nil {
			return err
		}
		if err := b.SendTo(ctx, []byte("dgram"), a.LocalAddress()); err != nil {
			return err
		}
		buf := make([]byte, 16)
		n, from, err := a.RecvFrom(ctx, buf)
		if err != nil {
			return err
		}
		assert.Equal(t, "dgram", string(buf[:n]))
		assert.Equal(t, b.LocalAddress(), from)
		return nil
	}))
}

func TestRecvTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "socket-timeout")
	defer func() { require.NoError(t, m.Close()) }()

	wait(t, run(t, m, func(ctx context.Context) error {
		l, err := socket.NewTCP(ctx, unix.AF_INET)
		if err != nil {
			return err
		}
		defer l.Close(ctx)
		assert.Equal(t, time.Duration(-1), l.RecvTimeout())
		if err := l.SetRecvTimeout(ctx, 150*time.Millisecond); err != nil {
			return err
		}
		assert.Equal(t, 150*time.Millisecond, l.RecvTimeout())

		addr, _ := socket.ParseAddress("127.0.0.1:0")
		if err := l.Bind(addr); err != nil {
			return err
		}
		if err := l.Listen(1); err != nil {
			return err
		}
		start := time.Now()
		_, err = l.Accept(ctx)
		assert.True(t, api.IsTimeout(err), "got %v", err)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
		return nil
	}))
}

func TestCloseIsIdempotent(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "socket-close")
	defer func() { require.NoError(t, m.Close()) }()

	wait(t, run(t, m, func(ctx context.Context) error {
		s, err := socket.NewTCP(ctx, unix.AF_INET)
		if err != nil {
			return err
		}
		assert.True(t, s.IsValid())
		assert.False(t, s.IsConnected())
		_, err = s.Send(ctx, []byte("x"))
		assert.ErrorIs(t, err, unix.ENOTCONN)

		if err := s.Close(ctx); err != nil {
			return err
		}
		assert.False(t, s.IsValid())
		return s.Close(ctx)
	}))
}

func TestBindFamilyMismatch(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "socket-bind")
	defer func() { require.NoError(t, m.Close()) }()

	wait(t, run(t, m, func(ctx context.Context) error {
		s, err := socket.NewTCP(ctx, unix.AF_INET)
		if err != nil {
			return err
		}
		defer s.Close(ctx)
		v6, _ := socket.ParseAddress("[::1]:0")
		err = s.Bind(v6)
		var ae *api.Error
		if assert.ErrorAs(t, err, &ae) {
			assert.Equal(t, api.ErrCodeInvalidArgument, ae.Code)
		}
		return nil
	}))
}
