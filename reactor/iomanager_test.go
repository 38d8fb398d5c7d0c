//go:build linux

// File: reactor/iomanager_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/scheduler"
)

func newIOManager(t *testing.T, name string) *reactor.IOManager {
	t.Helper()
	m, err := reactor.NewIOManager(reactor.Config{Threads: 2, Name: name})
	require.NoError(t, err)
	return m
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestDoubleRegistrationRejected(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "double")
	r, _ := newPipe(t)
	ctx := m.Context()
	nop := func(context.Context) {}

	require.NoError(t, m.AddEvent(ctx, r, api.EventRead, nop))
	assert.ErrorIs(t, m.AddEvent(ctx, r, api.EventRead, nop), api.ErrEventExists)
	assert.Equal(t, int64(1), m.PendingEvents())

	require.True(t, m.DelEvent(r, api.EventRead))
	assert.False(t, m.DelEvent(r, api.EventRead))
	require.NoError(t, m.AddEvent(ctx, r, api.EventRead, nop))
	require.True(t, m.DelEvent(r, api.EventRead))
	assert.Zero(t, m.PendingEvents())

	assert.ErrorIs(t, m.AddEvent(ctx, r, api.EventRead|api.EventWrite, nop), api.ErrInvalidArgument)
	assert.ErrorIs(t, m.AddEvent(ctx, r, api.EventRead, nil), api.ErrNoFiber)
	require.NoError(t, m.Close())
}

func TestCancelEventFiresOnce(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "cancel")
	r, _ := newPipe(t)

	var calls atomic.Int64
	done := make(chan struct{}, 4)
	require.NoError(t, m.AddEvent(m.Context(), r, api.EventRead, func(context.Context) {
		calls.Add(1)
		done <- struct{}{}
	}))
	require.True(t, m.CancelEvent(r, api.EventRead))
	assert.False(t, m.CancelEvent(r, api.EventRead))
	<-done
	assert.Zero(t, m.PendingEvents())
	require.NoError(t, m.Close())
	assert.Equal(t, int64(1), calls.Load())
}

func TestCancelAllFiresBothDirections(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "cancelall")
	sv, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(sv[0])
	defer unix.Close(sv[1])

	// Fill the send buffer so the write direction stays pending.
	buf := make([]byte, 64<<10)
	for {
		if _, err := unix.Write(sv[0], buf); err != nil {
			break
		}
	}
	var calls atomic.Int64
	cb := func(context.Context) { calls.Add(1) }
	require.NoError(t, m.AddEvent(m.Context(), sv[0], api.EventWrite, cb))
	require.NoError(t, m.AddEvent(m.Context(), sv[0], api.EventRead, cb))
	assert.False(t, m.CancelAll(sv[1]))
	require.True(t, m.CancelAll(sv[0]))
	assert.False(t, m.CancelAll(sv[0]))
	require.NoError(t, m.Close())
	assert.Equal(t, int64(2), calls.Load())
}

func TestReadinessResumesFiber(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "readiness")
	r, w := newPipe(t)

	got := make(chan string, 1)
	registered := make(chan struct{})
	m.Submit(func(ctx context.Context) {
		assert.Same(t, m, reactor.FromContext(ctx))
		assert.Same(t, m.Scheduler, scheduler.FromContext(ctx))
		if err := m.AddEvent(ctx, r, api.EventRead, nil); err != nil {
			t.Errorf("AddEvent: %v", err)
			return
		}
		close(registered)
		fiber.YieldContext(ctx)
		var buf [16]byte
		n, err := unix.Read(r, buf[:])
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		got <- string(buf[:n])
	})
	<-registered
	_, err := unix.Write(w, []byte("ping"))
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, "ping", s)
	case <-time.After(2 * time.Second):
		t.Fatal("fiber was not resumed on readiness")
	}
	require.NoError(t, m.Close())
	st := m.Stats()
	assert.Equal(t, int64(1), st["triggered"])
}

func TestStoppingWaitsForEventsAndTimers(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "stopping")
	r, _ := newPipe(t)
	assert.False(t, m.Stopping())

	require.NoError(t, m.AddEvent(m.Context(), r, api.EventRead, func(context.Context) {}))
	tm := m.AddTimer(time.Hour, func() {}, false)

	stopped := make(chan struct{})
	go func() {
		m.Close()
		close(stopped)
	}()
	require.Eventually(t, m.StopRequested, time.Second, time.Millisecond)
	assert.False(t, m.Stopping(), "pending event and timer")

	require.True(t, m.DelEvent(r, api.EventRead))
	assert.False(t, m.Stopping(), "pending timer")
	select {
	case <-stopped:
		t.Fatal("stopped with a pending timer")
	case <-time.After(50 * time.Millisecond):
	}
	require.True(t, tm.Cancel())
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("IOManager did not stop")
	}
	assert.True(t, m.Stopping())
}

func TestTimersRunOnWorkers(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "timers")

	var once, every atomic.Int64
	start := time.Now()
	fired := make(chan time.Duration, 1)
	m.AddTimer(150*time.Millisecond, func() {
		once.Add(1)
		fired <- time.Since(start)
	}, false)
	rec := m.AddTimer(200*time.Millisecond, func() { every.Add(1) }, true)

	elapsed := <-fired
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	time.Sleep(650*time.Millisecond - time.Since(start))
	require.True(t, rec.Cancel())
	require.NoError(t, m.Close())

	assert.Equal(t, int64(1), once.Load())
	assert.GreaterOrEqual(t, every.Load(), int64(2))
	assert.LessOrEqual(t, every.Load(), int64(3))
}

func TestTableGrowsForLargeDescriptors(t *testing.T) {
	defer leaktest.Check(t)()
	m := newIOManager(t, "grow")
	r, _ := newPipe(t)
	const high = 300
	require.NoError(t, unix.Dup3(r, high, unix.O_CLOEXEC))
	defer unix.Close(high)

	require.NoError(t, m.AddEvent(m.Context(), high, api.EventRead, func(context.Context) {}))
	assert.GreaterOrEqual(t, m.Stats()["fd_table"], int64(high*3/2))
	require.True(t, m.DelEvent(high, api.EventRead))
	require.NoError(t, m.Close())
}

func TestIdlePollsWhenTaskQueuedWhileBusy(t *testing.T) {
	defer leaktest.Check(t)()
	m, err := reactor.NewIOManager(reactor.Config{Threads: 1, Name: "idle-queued", MaxTimeout: 3 * time.Second})
	require.NoError(t, err)

	ran := make(chan struct{})
	elapsed := make(chan time.Duration, 1)
	m.Submit(func(ctx context.Context) {
		// The only worker is busy, so this submit finds no idle thread and
		// does not wake the poller.
		m.Submit(func(context.Context) { close(ran) })
		start := time.Now()
		m.Idle(ctx)
		elapsed <- time.Since(start)
	})
	assert.Less(t, <-elapsed, time.Second)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task did not run")
	}
	require.NoError(t, m.Close())
}

func TestPollerWaitReusesEventBuffer(t *testing.T) {
	p, err := reactor.NewPoller()
	require.NoError(t, err)
	defer p.Close()

	out := make([]reactor.Ready, 16)
	_, err = p.Wait(out, 0)
	require.NoError(t, err)
	allocs := testing.AllocsPerRun(100, func() {
		if _, err := p.Wait(out, 0); err != nil {
			t.Fatal(err)
		}
	})
	assert.Zero(t, allocs)
}
