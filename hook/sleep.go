// File: hook/sleep.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hook

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/reactor"
)

// Sleep suspends the calling fiber for the given number of seconds.
func Sleep(ctx context.Context, seconds uint) {
	sleep(ctx, time.Duration(seconds)*time.Second)
}

// Usleep suspends the calling fiber for usec microseconds.
func Usleep(ctx context.Context, usec uint) {
	sleep(ctx, time.Duration(usec)*time.Microsecond)
}

// Nanosleep suspends the calling fiber for the duration of ts.
func Nanosleep(ctx context.Context, ts *unix.Timespec) error {
	if ts == nil || ts.Nsec < 0 || ts.Nsec >= 1e9 || ts.Sec < 0 {
		return unix.EINVAL
	}
	sleep(ctx, time.Duration(ts.Nano()))
	return nil
}

// sleep arms a one-shot timer that resubmits the fiber, then yields.
// Outside a hooked fiber the calling goroutine sleeps.
func sleep(ctx context.Context, d time.Duration) {
	m, f := reactor.FromContext(ctx), fiber.FromContext(ctx)
	if !Enabled(ctx) || m == nil || f == nil {
		time.Sleep(d)
		return
	}
	m.AddTimer(d, func() { m.SubmitFiber(f) }, false)
	f.Yield()
}
