// File: api/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the event, reactor and scheduler contracts and the
// errors shared by hioload-fiber packages.
package api

import (
	"strconv"
	"strings"
)

// Event is a readiness direction bitmask. Values match EPOLLIN and EPOLLOUT so
// a mask can be handed to the poller without translation.
type Event uint32

const (
	EventNone  Event = 0x0
	EventRead  Event = 0x1 // EPOLLIN
	EventWrite Event = 0x4 // EPOLLOUT
)

// Has reports whether all bits of o are set in e.
func (e Event) Has(o Event) bool { return o != EventNone && e&o == o }

func (e Event) String() string {
	if e == EventNone {
		return "NONE"
	}
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "READ")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "WRITE")
	}
	if rest := e &^ (EventRead | EventWrite); rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}
