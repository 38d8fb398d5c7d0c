// File: stream/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package stream defines a byte stream over which fibers exchange data,
// with helpers for exact-length transfers and ByteArray buffers.
package stream

import (
	"context"
	"io"

	"github.com/momentics/hioload-fiber/bytearray"
)

// Stream is a bidirectional byte stream. Read returning zero bytes and a nil
// error means the peer closed the stream.
type Stream interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
	Close(ctx context.Context) error
}

// Vectored is implemented by streams that move several buffers per call.
type Vectored interface {
	ReadBuffers(ctx context.Context, bufs [][]byte) (int, error)
	WriteBuffers(ctx context.Context, bufs [][]byte) (int, error)
}

// ReadFull reads exactly len(p) bytes. It returns io.ErrUnexpectedEOF if the
// stream ends early, io.EOF if it ends before any byte.
func ReadFull(ctx context.Context, s Stream, p []byte) (int, error) {
	done := 0
	for done < len(p) {
		n, err := s.Read(ctx, p[done:])
		if err != nil {
			return done, err
		}
		if n == 0 {
			if done == 0 {
				return 0, io.EOF
			}
			return done, io.ErrUnexpectedEOF
		}
		done += n
	}
	return done, nil
}

// WriteFull writes all of p.
func WriteFull(ctx context.Context, s Stream, p []byte) (int, error) {
	done := 0
	for done < len(p) {
		n, err := s.Write(ctx, p[done:])
		if err != nil {
			return done, err
		}
		if n == 0 {
			return done, io.ErrShortWrite
		}
		done += n
	}
	return done, nil
}

// ReadArray reads at most n bytes into ba at its cursor and advances the
// cursor past them.
func ReadArray(ctx context.Context, s Stream, ba *bytearray.ByteArray, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	pos := ba.Position()
	bufs := ba.WriteBuffers(n)
	var (
		got int
		err error
	)
	if v, ok := s.(Vectored); ok {
		got, err = v.ReadBuffers(ctx, bufs)
	} else {
		got, err = s.Read(ctx, bufs[0])
	}
	if got > 0 {
		if perr := ba.SetPosition(pos + got); perr != nil && err == nil {
			err = perr
		}
	}
	return got, err
}

// WriteArray writes at most n readable bytes of ba from its cursor and
// advances the cursor past what was sent.
func WriteArray(ctx context.Context, s Stream, ba *bytearray.ByteArray, n int) (int, error) {
	bufs := ba.ReadBuffers(n)
	if len(bufs) == 0 {
		return 0, nil
	}
	pos := ba.Position()
	var (
		sent int
		err  error
	)
	if v, ok := s.(Vectored); ok {
		sent, err = v.WriteBuffers(ctx, bufs)
	} else {
		sent, err = s.Write(ctx, bufs[0])
	}
	if sent > 0 {
		if perr := ba.SetPosition(pos + sent); perr != nil && err == nil {
			err = perr
		}
	}
	return sent, err
}

// ReadFullArray reads exactly n bytes into ba.
func ReadFullArray(ctx context.Context, s Stream, ba *bytearray.ByteArray, n int) (int, error) {
	done := 0
	for done < n {
		k, err := ReadArray(ctx, s, ba, n-done)
		if err != nil {
			return done, err
		}
		if k == 0 {
			if done == 0 {
				return 0, io.EOF
			}
			return done, io.ErrUnexpectedEOF
		}
		done += k
	}
	return done, nil
}

// WriteFullArray writes exactly n readable bytes of ba.
func WriteFullArray(ctx context.Context, s Stream, ba *bytearray.ByteArray, n int) (int, error) {
	if n > ba.ReadSize() {
		return 0, bytearray.ErrShortBuffer
	}
	done := 0
	for done < n {
		k, err := WriteArray(ctx, s, ba, n-done)
		if err != nil {
			return done, err
		}
		if k == 0 {
			return done, io.ErrShortWrite
		}
		done += k
	}
	return done, nil
}

// IO adapts s to the io interfaces for use by ctx's fiber. End of stream is
// reported as io.EOF.
func IO(ctx context.Context, s Stream) io.ReadWriteCloser { return ioStream{ctx: ctx, s: s} }

type ioStream struct {
	ctx context.Context
	s   Stream
}

func (a ioStream) Read(p []byte) (int, error) {
	n, err := a.s.Read(a.ctx, p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

func (a ioStream) Write(p []byte) (int, error) { return WriteFull(a.ctx, a.s, p) }

func (a ioStream) Close() error { return a.s.Close(a.ctx) }
