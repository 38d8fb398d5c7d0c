// File: scheduler/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import "context"

type ctxKey struct{}

// NewContext returns a copy of parent that carries s.
func NewContext(parent context.Context, s *Scheduler) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// FromContext returns the scheduler running the fiber of ctx, or nil.
func FromContext(ctx context.Context) *Scheduler {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(ctxKey{}).(*Scheduler)
	return s
}
