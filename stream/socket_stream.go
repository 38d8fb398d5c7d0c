// File: stream/socket_stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"context"
	"fmt"

	"github.com/momentics/hioload-fiber/socket"
)

// SocketStream is a Stream over a connected socket.
type SocketStream struct {
	sock  *socket.Socket
	owner bool
}

// NewSocketStream wraps sock. If owner is set, Close closes the socket.
func NewSocketStream(sock *socket.Socket, owner bool) *SocketStream {
	return &SocketStream{sock: sock, owner: owner}
}

// Socket returns the wrapped socket.
func (s *SocketStream) Socket() *socket.Socket { return s.sock }

// IsConnected reports whether the socket is still connected.
func (s *SocketStream) IsConnected() bool { return s.sock != nil && s.sock.IsConnected() }

func (s *SocketStream) Read(ctx context.Context, p []byte) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	return s.sock.Recv(ctx, p)
}

func (s *SocketStream) Write(ctx context.Context, p []byte) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	return s.sock.Send(ctx, p)
}

// ReadBuffers reads into several buffers with one call.
func (s *SocketStream) ReadBuffers(ctx context.Context, bufs [][]byte) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	return s.sock.RecvBuffers(ctx, bufs)
}

// WriteBuffers writes several buffers with one call.
func (s *SocketStream) WriteBuffers(ctx context.Context, bufs [][]byte) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	return s.sock.SendBuffers(ctx, bufs)
}

// Close closes the socket when the stream owns it.
func (s *SocketStream) Close(ctx context.Context) error {
	if s.owner && s.sock != nil {
		return s.sock.Close(ctx)
	}
	return nil
}

func (s *SocketStream) String() string {
	return fmt.Sprintf("SocketStream(owner=%v, %v)", s.owner, s.sock)
}

var (
	_ Stream   = (*SocketStream)(nil)
	_ Vectored = (*SocketStream)(nil)
)
