//go:build linux

// File: tcpserver/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcpserver_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/socket"
	"github.com/momentics/hioload-fiber/stream"
	"github.com/momentics/hioload-fiber/tcpserver"
)

func echo(ctx context.Context, c *socket.Socket) {
	buf := make([]byte, 1024)
	for {
		n, err := c.Recv(ctx, buf)
		if err != nil || n == 0 {
			return
		}
		if _, err := stream.WriteFull(ctx, stream.NewSocketStream(c, false), buf[:n]); err != nil {
			return
		}
	}
}

func newIOManager(t *testing.T, name string, threads int) *reactor.IOManager {
	t.Helper()
	m, err := reactor.NewIOManager(reactor.Config{Threads: threads, Name: name})
	require.NoError(t, err)
	return m
}

func loopback(t *testing.T) socket.Address {
	t.Helper()
	a, err := socket.ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	return a
}

func TestEchoClients(t *testing.T) {
	defer leaktest.Check(t)()
	worker := newIOManager(t, "tcp-worker", 2)
	acceptor := newIOManager(t, "tcp-accept", 1)

	var seen atomic.Int64
	counting := func(next tcpserver.Handler) tcpserver.Handler {
		return tcpserver.HandlerFunc(func(ctx context.Context, c *socket.Socket) {
			seen.Add(1)
			next.HandleClient(ctx, c)
		})
	}
	srv := tcpserver.New(worker, acceptor, tcpserver.HandlerFunc(echo), counting)
	srv.SetName("echo-test")
	assert.Equal(t, "echo-test", srv.Name())
	assert.True(t, srv.IsStopped())
	assert.ErrorIs(t, srv.Start(), tcpserver.ErrNoListeners)

	fails, err := srv.Bind(context.Background(), loopback(t))
	require.NoError(t, err)
	assert.Empty(t, fails)
	addrs := srv.Addrs()
	require.Len(t, addrs, 1)
	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), tcpserver.ErrAlreadyRunning)
	assert.Contains(t, srv.String(), "name=echo-test")

	const clients = 4
	g := taskgroup.New(nil)
	for i := range clients {
		g.Go(func() error {
			conn, err := net.DialTimeout("tcp", addrs[0].String(), time.Second)
			if err != nil {
				return err
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(3 * time.Second))
			msg := fmt.Sprintf("hello %d", i)
			if _, err := io.WriteString(conn, msg); err != nil {
				return err
			}
			buf := make([]byte, len(msg))
			if _, err := io.ReadFull(conn, buf); err != nil {
				return err
			}
			if string(buf) != msg {
				return fmt.Errorf("echo %q, want %q", buf, msg)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Eventually(t, func() bool {
		return srv.Stats()["active"] == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, clients, srv.Stats()["accepted"])

	srv.Stop()
	assert.True(t, srv.IsStopped())
	require.NoError(t, acceptor.Close())
	require.NoError(t, worker.Close())
	assert.EqualValues(t, clients, seen.Load())
}

func TestStopEndsIdleClients(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "tcp-stop", 2)

	served := make(chan struct{})
	srv := tcpserver.New(m, nil, tcpserver.HandlerFunc(func(ctx context.Context, c *socket.Socket) {
		defer close(served)
		echo(ctx, c)
	}))
	_, err := srv.Bind(context.Background(), loopback(t))
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	conn, err := net.Dial("tcp", srv.Addrs()[0].String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return srv.Stats()["active"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	srv.Stop()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still running after Stop")
	}
	require.NoError(t, m.Close())
}

func TestRecvTimeoutEndsSlowClient(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "tcp-timeout", 1)

	result := make(chan error, 1)
	srv := tcpserver.New(m, nil, tcpserver.HandlerFunc(func(ctx context.Context, c *socket.Socket) {
		_, err := c.Recv(ctx, make([]byte, 8))
		result <- err
	}))
	srv.SetRecvTimeout(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, srv.RecvTimeout())
	_, err := srv.Bind(context.Background(), loopback(t))
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	conn, err := net.Dial("tcp", srv.Addrs()[0].String())
	require.NoError(t, err)
	defer conn.Close()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, unix.ETIMEDOUT)
	case <-time.After(2 * time.Second):
		t.Fatal("recv did not time out")
	}
	srv.Stop()
	require.NoError(t, m.Close())
}

func TestBindFailureClosesEverything(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "tcp-bind", 1)
	defer func() { require.NoError(t, m.Close()) }()

	bogus, err := socket.ParseAddress("192.0.2.1:0") // TEST-NET-1, never local
	require.NoError(t, err)
	srv := tcpserver.New(m, nil, tcpserver.HandlerFunc(echo))
	fails, err := srv.Bind(context.Background(), loopback(t), bogus)
	require.Error(t, err)
	assert.Equal(t, []socket.Address{bogus}, fails)
	assert.Empty(t, srv.Addrs())
	assert.ErrorIs(t, srv.Start(), tcpserver.ErrNoListeners)
}
