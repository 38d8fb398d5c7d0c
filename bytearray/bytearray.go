// File: bytearray/bytearray.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package bytearray implements a growable serialization buffer made of
// fixed-size blocks with a single read/write cursor.
//
// Writes store at the cursor and advance it; reads consume from the cursor.
// Callers rewind with SetPosition(0) between writing and reading, as with a
// file. Fixed-width integers use big-endian order unless SetLittleEndian is
// called.
package bytearray

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/creachadair/mds/value"

	"github.com/momentics/hioload-fiber/pool"
)

// DefaultBlockSize is the block size used when New is given zero.
const DefaultBlockSize = 4096

// ErrShortBuffer reports a read past the written data.
var ErrShortBuffer = errors.New("bytearray: not enough readable data")

// ByteArray is a block-chained buffer. It is not safe for concurrent use.
type ByteArray struct {
	blocks    [][]byte
	blockSize int
	pos       int
	size      int
	little    bool
	pool      *pool.BytePool
}

// New returns an empty buffer growing by blockSize bytes at a time.
func New(blockSize int) *ByteArray {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	b := &ByteArray{blockSize: blockSize, pool: pool.DefaultBytePool(blockSize)}
	b.blocks = append(b.blocks, b.pool.GetBuffer())
	return b
}

// BlockSize returns the growth unit.
func (b *ByteArray) BlockSize() int { return b.blockSize }

// IsLittleEndian reports the byte order of fixed-width values.
func (b *ByteArray) IsLittleEndian() bool { return b.little }

// SetLittleEndian selects the byte order of fixed-width values.
func (b *ByteArray) SetLittleEndian(v bool) { b.little = v }

func (b *ByteArray) order() binary.ByteOrder {
	return value.Cond[binary.ByteOrder](b.little, binary.LittleEndian, binary.BigEndian)
}

// Position returns the cursor.
func (b *ByteArray) Position() int { return b.pos }

// SetPosition moves the cursor. Moving past the written data extends it.
func (b *ByteArray) SetPosition(p int) error {
	if p < 0 || p > b.capacity() {
		return fmt.Errorf("bytearray: position %d out of range [0, %d]", p, b.capacity())
	}
	b.pos = p
	if b.pos > b.size {
		b.size = b.pos
	}
	return nil
}

// Size returns the number of written bytes.
func (b *ByteArray) Size() int { return b.size }

// ReadSize returns the number of bytes between the cursor and the end.
func (b *ByteArray) ReadSize() int { return b.size - b.pos }

func (b *ByteArray) capacity() int { return len(b.blocks) * b.blockSize }

// Clear drops all data and keeps one block.
func (b *ByteArray) Clear() {
	for _, blk := range b.blocks[1:] {
		b.pool.PutBuffer(blk)
	}
	clear(b.blocks[1:])
	b.blocks = b.blocks[:1]
	b.pos, b.size = 0, 0
}

// Release returns every block to the pool. b must not be used afterwards.
func (b *ByteArray) Release() {
	for _, blk := range b.blocks {
		b.pool.PutBuffer(blk)
	}
	b.blocks = nil
	b.pos, b.size = 0, 0
}

func (b *ByteArray) grow(n int) {
	for b.capacity() < b.pos+n {
		b.blocks = append(b.blocks, b.pool.GetBuffer())
	}
}

// Write stores p at the cursor. It never fails.
func (b *ByteArray) Write(p []byte) (int, error) {
	b.grow(len(p))
	n := copyAt(b.blocks, b.blockSize, b.pos, p, true)
	b.pos += n
	if b.pos > b.size {
		b.size = b.pos
	}
	return n, nil
}

// Read consumes exactly len(p) bytes or fails with ErrShortBuffer.
func (b *ByteArray) Read(p []byte) (int, error) {
	if len(p) > b.ReadSize() {
		return 0, ErrShortBuffer
	}
	n := copyAt(b.blocks, b.blockSize, b.pos, p, false)
	b.pos += n
	return n, nil
}

// ReadAt copies len(p) bytes starting at off without moving the cursor.
func (b *ByteArray) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > b.size {
		return 0, ErrShortBuffer
	}
	return copyAt(b.blocks, b.blockSize, int(off), p, false), nil
}

// copyAt copies between p and the block chain starting at off, into the
// chain when in is set.
func copyAt(blocks [][]byte, bs, off int, p []byte, in bool) int {
	done := 0
	for done < len(p) {
		blk := blocks[off/bs][off%bs:]
		var n int
		if in {
			n = copy(blk, p[done:])
		} else {
			n = copy(p[done:], blk)
		}
		done += n
		off += n
	}
	return done
}

// ReadBuffers returns up to n readable bytes from the cursor as slices of
// the underlying blocks, without consuming them.
func (b *ByteArray) ReadBuffers(n int) [][]byte {
	return b.span(b.pos, min(n, b.ReadSize()))
}

// WriteBuffers reserves n bytes at the cursor and returns them as slices of
// the underlying blocks. Commit what was filled with SetPosition.
func (b *ByteArray) WriteBuffers(n int) [][]byte {
	b.grow(n)
	return b.span(b.pos, n)
}

func (b *ByteArray) span(off, n int) [][]byte {
	var out [][]byte
	for n > 0 {
		blk := b.blocks[off/b.blockSize][off%b.blockSize:]
		k := min(n, len(blk))
		out = append(out, blk[:k])
		off += k
		n -= k
	}
	return out
}

// ToBytes returns a copy of the readable data.
func (b *ByteArray) ToBytes() []byte {
	out := make([]byte, b.ReadSize())
	copyAt(b.blocks, b.blockSize, b.pos, out, false)
	return out
}

// String returns the readable data as a string.
func (b *ByteArray) String() string { return string(b.ToBytes()) }

// HexString returns the readable data as hex, 32 bytes per line.
func (b *ByteArray) HexString() string {
	data := b.ToBytes()
	var sb strings.Builder
	for i := 0; i < len(data); i += 32 {
		if i > 0 {
			sb.WriteByte('\n')
		}
		line := data[i:min(i+32, len(data))]
		for j, c := range line {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(hex.EncodeToString([]byte{c}))
		}
	}
	return sb.String()
}

// ReadFrom appends everything r yields at the cursor.
func (b *ByteArray) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		bufs := b.WriteBuffers(b.blockSize)
		n, err := r.Read(bufs[0])
		total += int64(n)
		b.pos += n
		if b.pos > b.size {
			b.size = b.pos
		}
		if err == io.EOF {
			return total, nil
		} else if err != nil {
			return total, err
		}
	}
}

// WriteTo writes the readable data to w and consumes it.
func (b *ByteArray) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for b.ReadSize() > 0 {
		buf := b.ReadBuffers(b.ReadSize())[0]
		n, err := w.Write(buf)
		total += int64(n)
		b.pos += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// WriteToFile writes the readable data to the named file.
func (b *ByteArray) WriteToFile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	pos := b.pos
	_, werr := b.WriteTo(f)
	b.pos = pos
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// ReadFromFile appends the contents of the named file at the cursor.
func (b *ByteArray) ReadFromFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.ReadFrom(f)
	return err
}

var (
	_ io.ReadWriter  = (*ByteArray)(nil)
	_ io.ReaderAt    = (*ByteArray)(nil)
	_ io.ReaderFrom  = (*ByteArray)(nil)
	_ io.WriterTo    = (*ByteArray)(nil)
)
