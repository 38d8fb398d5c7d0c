// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

// BytePool hands out byte slices of one fixed size.
type BytePool struct {
	sp   *SyncPool[*[]byte]
	size int
}

// NewBytePool returns a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		panic("pool: non-positive buffer size")
	}
	return &BytePool{
		sp: NewSyncPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		}),
		size: size,
	}
}

// Size returns the length of every buffer in the pool.
func (b *BytePool) Size() int { return b.size }

// GetBuffer returns a buffer of length Size.
func (b *BytePool) GetBuffer() []byte {
	return (*b.sp.Get())[:b.size]
}

// PutBuffer returns buf to the pool. Buffers of another capacity are dropped.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	buf = buf[:b.size]
	b.sp.Put(&buf)
}
