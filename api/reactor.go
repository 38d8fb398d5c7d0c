// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Readiness reactor contract consumed by the socket, stream and server layers.

package api

import "context"

// Reactor registers per-descriptor interest and wakes exactly one waiter per
// (descriptor, direction) when it becomes ready.
type Reactor interface {
	// AddEvent registers ev on fd. With a nil cb the fiber running ctx becomes
	// the waiter. Registering a direction that already has a waiter fails with
	// ErrEventExists.
	AddEvent(ctx context.Context, fd int, ev Event, cb func(ctx context.Context)) error

	// DelEvent drops the registration without waking the waiter.
	DelEvent(fd int, ev Event) bool

	// CancelEvent drops the registration and wakes the waiter once.
	CancelEvent(fd int, ev Event) bool

	// CancelAll cancels both directions of fd.
	CancelAll(fd int) bool
}
