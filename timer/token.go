// File: timer/token.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timer

import (
	"sync/atomic"
	"weak"
)

// Token gates a condition timer. The callback runs only while the token
// reports alive.
type Token interface {
	Alive() bool
}

type weakToken[T any] struct{ p weak.Pointer[T] }

func (w weakToken[T]) Alive() bool { return w.p.Value() != nil }

// Weak returns a token that stays alive as long as *p is reachable. It does
// not keep p alive.
func Weak[T any](p *T) Token { return weakToken[T]{weak.Make(p)} }

// Flag is a token that is alive until Kill is called.
type Flag struct{ dead atomic.Bool }

// NewFlag returns a live flag.
func NewFlag() *Flag { return new(Flag) }

// Kill marks the flag dead.
func (f *Flag) Kill() { f.dead.Store(true) }

// Alive reports whether Kill has not been called.
func (f *Flag) Alive() bool { return !f.dead.Load() }
