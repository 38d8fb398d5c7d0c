// File: scheduler/bench_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/scheduler"
)

func BenchmarkSubmitDispatch(b *testing.B) {
	for _, threads := range []int{1, 4} {
		b.Run(fmt.Sprintf("threads=%d", threads), func(b *testing.B) {
			s := scheduler.New(scheduler.Config{Threads: threads, Name: "bench"})
			s.Start()
			defer s.Stop()

			var wg sync.WaitGroup
			for b.Loop() {
				wg.Add(1)
				s.Submit(func(context.Context) { wg.Done() })
			}
			wg.Wait()
		})
	}
}

func BenchmarkYieldRoundTrip(b *testing.B) {
	s := scheduler.New(scheduler.Config{Threads: 1, Name: "bench-yield"})
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	n := b.N
	b.ResetTimer()
	s.Submit(func(ctx context.Context) {
		f := fiber.FromContext(ctx)
		for range n {
			s.SubmitFiber(f)
			f.Yield()
		}
		close(done)
	})
	<-done
}
