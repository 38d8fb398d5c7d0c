// File: reactor/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "context"

type ctxKey struct{}

// NewContext returns a copy of parent that carries m.
func NewContext(parent context.Context, m *IOManager) context.Context {
	return context.WithValue(parent, ctxKey{}, m)
}

// FromContext returns the IOManager running the fiber of ctx, or nil.
func FromContext(ctx context.Context) *IOManager {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(ctxKey{}).(*IOManager)
	return m
}
