// File: tcpserver/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package tcpserver accepts TCP connections on one IOManager and serves each
// client in a fiber of another.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/momentics/hioload-fiber/socket"
)

// DefaultName is the name of a server that was never renamed.
const DefaultName = "hioload-fiber/1.0"

var (
	ErrAlreadyRunning = errors.New("tcpserver: already running")
	ErrNoListeners    = errors.New("tcpserver: no bound listeners")
)

var logger = log.New(os.Stderr, "[tcpserver] ", log.LstdFlags|log.Lmicroseconds)

// Handler serves one client. The server closes the socket when
// HandleClient returns.
type Handler interface {
	HandleClient(ctx context.Context, c *socket.Socket)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *socket.Socket)

func (f HandlerFunc) HandleClient(ctx context.Context, c *socket.Socket) { f(ctx, c) }

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Server owns a set of listening sockets.
type Server struct {
	worker       *reactor.IOManager
	acceptWorker *reactor.IOManager
	handler      Handler

	mu          sync.Mutex
	socks       []*socket.Socket
	clients     map[*socket.Socket]struct{}
	name        string
	recvTimeout time.Duration

	stopped  atomic.Bool
	accepted atomic.Int64
	active   atomic.Int64
	failed   atomic.Int64
}

// New returns a stopped server. Clients are served on worker and accepted on
// acceptWorker; a nil acceptWorker means worker. Middleware is applied so
// that the first one listed runs first.
func New(worker, acceptWorker *reactor.IOManager, h Handler, mw ...Middleware) *Server {
	if worker == nil {
		panic("tcpserver: nil worker")
	}
	if acceptWorker == nil {
		acceptWorker = worker
	}
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	s := &Server{
		worker:       worker,
		acceptWorker: acceptWorker,
		handler:      h,
		clients:      make(map[*socket.Socket]struct{}),
		name:         DefaultName,
		recvTimeout:  control.Default().Duration(control.KeyServerRecvTimeout, 2*time.Minute),
	}
	s.stopped.Store(true)
	return s
}

// Name returns the server name.
func (s *Server) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName renames the server.
func (s *Server) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// RecvTimeout returns the receive timeout applied to accepted clients.
func (s *Server) RecvTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvTimeout
}

// SetRecvTimeout changes the receive timeout for clients accepted from now
// on. Non-positive values disable it.
func (s *Server) SetRecvTimeout(d time.Duration) {
	s.mu.Lock()
	s.recvTimeout = d
	s.mu.Unlock()
}

// IsStopped reports whether the server is not accepting.
func (s *Server) IsStopped() bool { return s.stopped.Load() }

// Addrs returns the local addresses of the bound listeners.
func (s *Server) Addrs() []socket.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]socket.Address, 0, len(s.socks))
	for _, l := range s.socks {
		out = append(out, l.LocalAddress())
	}
	return out
}

// Bind creates a listener for every address. If any address fails, every
// listener created by this call is closed and the failed addresses are
// returned with an error describing them.
func (s *Server) Bind(ctx context.Context, addrs ...socket.Address) ([]socket.Address, error) {
	var (
		fails []socket.Address
		errs  []error
		socks []*socket.Socket
	)
	for _, addr := range addrs {
		l, err := listen(ctx, addr)
		if err != nil {
			logger.Printf("%s: bind %v: %v", s.Name(), addr, err)
			fails = append(fails, addr)
			errs = append(errs, err)
			continue
		}
		socks = append(socks, l)
	}
	if len(fails) > 0 {
		for _, l := range socks {
			l.Close(ctx)
		}
		e := api.Wrap(api.ErrCodeInvalidArgument, "tcpserver: bind", errors.Join(errs...)).
			WithContext("failed", len(fails))
		return fails, e
	}
	s.mu.Lock()
	s.socks = append(s.socks, socks...)
	s.mu.Unlock()
	if control.Debug() {
		for _, l := range socks {
			logger.Printf("%s: listening on %v", s.Name(), l.LocalAddress())
		}
	}
	return nil, nil
}

func listen(ctx context.Context, addr socket.Address) (*socket.Socket, error) {
	l, err := socket.NewTCP(ctx, addr.Family())
	if err != nil {
		return nil, err
	}
	if err := l.Bind(addr); err != nil {
		l.Close(ctx)
		return nil, err
	}
	if err := l.Listen(0); err != nil {
		l.Close(ctx)
		return nil, err
	}
	return l, nil
}

// Start launches one accept loop per listener on the accept IOManager.
func (s *Server) Start() error {
	s.mu.Lock()
	socks := append([]*socket.Socket(nil), s.socks...)
	s.mu.Unlock()
	if len(socks) == 0 {
		return ErrNoListeners
	}
	if !s.stopped.CompareAndSwap(true, false) {
		return ErrAlreadyRunning
	}
	for _, l := range socks {
		s.acceptWorker.Submit(func(ctx context.Context) { s.acceptLoop(ctx, l) })
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, l *socket.Socket) {
	for !s.stopped.Load() {
		c, err := l.Accept(ctx)
		if err != nil {
			if s.stopped.Load() || errors.Is(err, unix.EBADF) {
				return
			}
			s.failed.Add(1)
			logger.Printf("%s: accept on %v: %v", s.Name(), l.LocalAddress(), err)
			continue
		}
		s.accepted.Add(1)
		if err := c.SetRecvTimeout(ctx, s.RecvTimeout()); err != nil {
			logger.Printf("%s: recv timeout for %v: %v", s.Name(), c.RemoteAddress(), err)
		}
		s.track(c, true)
		s.worker.Submit(func(ctx context.Context) { s.serve(ctx, c) })
	}
}

func (s *Server) serve(ctx context.Context, c *socket.Socket) {
	s.active.Add(1)
	defer func() {
		s.track(c, false)
		c.Close(ctx)
		s.active.Add(-1)
	}()
	if control.Debug() {
		logger.Printf("%s: client %v", s.Name(), c.RemoteAddress())
	}
	s.handler.HandleClient(ctx, c)
}

func (s *Server) track(c *socket.Socket, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.clients[c] = struct{}{}
	} else {
		delete(s.clients, c)
	}
}

// Stop closes the listeners from the accept IOManager, which ends the accept
// loops, and shuts down the connections still being served so their
// handlers see end of stream. Stop does not wait for handlers to return.
func (s *Server) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	socks := s.socks
	s.socks = nil
	clients := make([]*socket.Socket, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.acceptWorker.Submit(func(ctx context.Context) {
		for _, l := range socks {
			l.CancelAll(ctx)
			l.Close(ctx)
		}
	})
	for _, c := range clients {
		if err := c.Shutdown(); err != nil && !errors.Is(err, unix.ENOTCONN) {
			logger.Printf("%s: shutdown %v: %v", s.Name(), c.RemoteAddress(), err)
		}
	}
}

// Stats returns connection counters.
func (s *Server) Stats() map[string]int64 {
	return map[string]int64{
		"accepted":      s.accepted.Load(),
		"active":        s.active.Load(),
		"accept_errors": s.failed.Load(),
	}
}

// String describes the server and its listeners, one per line.
func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	fmt.Fprintf(&sb, "[name=%s worker=%s accept=%s recv_timeout=%v]",
		s.name, s.worker.Name(), s.acceptWorker.Name(), s.recvTimeout)
	for _, l := range s.socks {
		fmt.Fprintf(&sb, "\n    %v", l)
	}
	return sb.String()
}
