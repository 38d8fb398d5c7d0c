// File: fiber/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fiber

import "context"

type ctxKey struct{}

// NewContext returns a copy of parent that carries f.
func NewContext(parent context.Context, f *Fiber) context.Context {
	return context.WithValue(parent, ctxKey{}, f)
}

// FromContext returns the fiber carried by ctx, or nil.
func FromContext(ctx context.Context) *Fiber {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(ctxKey{}).(*Fiber)
	return f
}

// YieldContext yields the fiber carried by ctx. It panics outside a fiber.
func YieldContext(ctx context.Context) {
	f := FromContext(ctx)
	if f == nil {
		panic("fiber: yield outside a fiber")
	}
	f.Yield()
}

// CurrentID returns the id of the fiber carried by ctx, or ^uint64(0).
func CurrentID(ctx context.Context) uint64 {
	if f := FromContext(ctx); f != nil {
		return f.id
	}
	return ^uint64(0)
}

// ThreadFromContext returns the thread that last resumed the fiber carried
// by ctx, or nil.
func ThreadFromContext(ctx context.Context) *Thread {
	if f := FromContext(ctx); f != nil {
		return f.Thread()
	}
	return nil
}
