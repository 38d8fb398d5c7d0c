// File: stream/stream_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-fiber/bytearray"
	"github.com/momentics/hioload-fiber/stream"
)

// chunky hands out at most step bytes per call and records writes the same
// way.
type chunky struct {
	in     []byte
	out    bytes.Buffer
	step   int
	calls  int
	closed bool
}

func (c *chunky) Read(_ context.Context, p []byte) (int, error) {
	c.calls++
	n := copy(p[:min(len(p), c.step)], c.in)
	c.in = c.in[n:]
	return n, nil
}

func (c *chunky) Write(_ context.Context, p []byte) (int, error) {
	c.calls++
	return c.out.Write(p[:min(len(p), c.step)])
}

func (c *chunky) Close(context.Context) error { c.closed = true; return nil }

// failing fails every call.
type failing struct{}

var errBroken = errors.New("broken")

func (failing) Read(context.Context, []byte) (int, error)  { return 0, errBroken }
func (failing) Write(context.Context, []byte) (int, error) { return 0, errBroken }
func (failing) Close(context.Context) error                { return nil }

func TestReadFull(t *testing.T) {
	ctx := context.Background()
	c := &chunky{in: []byte("abcdefgh"), step: 3}
	buf := make([]byte, 8)
	n, err := stream.ReadFull(ctx, c, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "abcdefgh", string(buf))
	assert.Equal(t, 3, c.calls)

	n, err = stream.ReadFull(ctx, c, buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	c = &chunky{in: []byte("ab"), step: 3}
	n, err = stream.ReadFull(ctx, c, buf)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = stream.ReadFull(ctx, failing{}, buf)
	assert.ErrorIs(t, err, errBroken)
}

func TestWriteFull(t *testing.T) {
	ctx := context.Background()
	c := &chunky{step: 2}
	n, err := stream.WriteFull(ctx, c, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", c.out.String())
	assert.Equal(t, 3, c.calls)

	_, err = stream.WriteFull(ctx, &chunky{step: 0}, []byte("x"))
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestArrayTransfers(t *testing.T) {
	ctx := context.Background()
	src := &chunky{in: []byte("0123456789"), step: 4}
	ba := bytearray.New(3)

	n, err := stream.ReadFullArray(ctx, src, ba, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 10, ba.Size())
	assert.Equal(t, 10, ba.Position())

	require.NoError(t, ba.SetPosition(0))
	dst := &chunky{step: 4}
	n, err = stream.WriteFullArray(ctx, dst, ba, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "0123456789", dst.out.String())
	assert.Zero(t, ba.ReadSize())

	_, err = stream.WriteFullArray(ctx, dst, ba, 1)
	assert.ErrorIs(t, err, bytearray.ErrShortBuffer)
	_, err = stream.ReadFullArray(ctx, &chunky{step: 1}, ba, 4)
	assert.ErrorIs(t, err, io.EOF)
}

func TestIOAdapter(t *testing.T) {
	ctx := context.Background()
	c := &chunky{in: []byte("through io"), step: 4}
	rw := stream.IO(ctx, c)

	got, err := io.ReadAll(rw)
	require.NoError(t, err)
	assert.Equal(t, "through io", string(got))

	_, err = io.WriteString(rw, "back")
	require.NoError(t, err)
	assert.Equal(t, "back", c.out.String())
	require.NoError(t, rw.Close())
	assert.True(t, c.closed)

	// A ByteArray fills itself from a stream through the adapter.
	ba := bytearray.New(0)
	_, err = ba.ReadFrom(stream.IO(ctx, &chunky{in: []byte{0, 0, 1, 0}, step: 1}))
	require.NoError(t, err)
	require.NoError(t, ba.SetPosition(0))
	v, err := ba.ReadFixedUint32()
	require.NoError(t, err)
	if diff := cmp.Diff(uint32(256), v); diff != "" {
		t.Errorf("value (-want +got):\n%s", diff)
	}
}
