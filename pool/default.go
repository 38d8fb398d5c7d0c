// File: pool/default.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync"

var (
	defaultMu    sync.Mutex
	defaultPools = map[int]*BytePool{}
)

// DefaultBytePool returns the process-wide pool for size-byte buffers so
// components that agree on a size share allocations.
func DefaultBytePool(size int) *BytePool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if p, ok := defaultPools[size]; ok {
		return p
	}
	p := NewBytePool(size)
	defaultPools[size] = p
	return p
}
