// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Readiness multiplexer used by the IO manager's idle fibers.

package reactor

import (
	"time"

	"github.com/momentics/hioload-fiber/api"
)

// Poller is an edge-triggered readiness multiplexer with a built-in wake-up
// channel.
type Poller interface {
	// Add starts watching fd for the directions in ev.
	Add(fd int, ev api.Event) error
	// Modify replaces the watched directions of fd.
	Modify(fd int, ev api.Event) error
	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks up to timeout (negative means forever) and writes ready
	// descriptors into out. Interrupted waits are retried. Wake-ups are
	// consumed internally and never reported.
	Wait(out []Ready, timeout time.Duration) (n int, err error)

	// Wake makes a concurrent or subsequent Wait return.
	Wake() error

	// Close cleans up resources.
	Close() error
}

// Ready is one readiness notification returned by Wait.
type Ready struct {
	Fd     int
	Events api.Event // ready directions
	Hangup bool      // error or hang-up condition reported for Fd
}
