// File: timer/bench_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timer_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-fiber/timer"
)

func BenchmarkAddCancel(b *testing.B) {
	clk := newClock()
	m := timer.NewManager(timer.WithClock(clk.Now))
	cb := func() {}
	for i := range 1024 {
		m.AddTimer(time.Duration(i)*time.Millisecond, cb, false)
	}
	i := 0
	for b.Loop() {
		i++
		m.AddTimer(time.Duration(i%2048)*time.Millisecond, cb, false).Cancel()
	}
}

func BenchmarkListExpired(b *testing.B) {
	clk := newClock()
	m := timer.NewManager(timer.WithClock(clk.Now))
	cb := func() {}
	var out []func()
	for b.Loop() {
		for i := range 64 {
			m.AddTimer(time.Duration(i)*time.Microsecond, cb, false)
		}
		clk.Advance(time.Millisecond)
		out = m.ListExpired(out[:0])
		if len(out) != 64 {
			b.Fatalf("expired %d timers, want 64", len(out))
		}
	}
}
