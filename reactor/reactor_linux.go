//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) poller with a non-blocking self-pipe for wake-ups.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/pool"
)

type epollPoller struct {
	epfd int
	wake [2]int // read end, write end
	raw  *pool.SyncPool[*[]unix.EpollEvent]
}

// NewPoller creates an epoll instance and registers the read end of a
// non-blocking pipe in edge-triggered mode.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	p := &epollPoller{
		epfd: epfd,
		wake: [2]int{-1, -1},
		raw:  pool.NewSyncPool(func() *[]unix.EpollEvent { return new([]unix.EpollEvent) }),
	}
	if err := unix.Pipe2(p.wake[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(p.wake[0])}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.wake[0], &ev); err != nil {
		p.Close()
		return nil, fmt.Errorf("epoll ctl add wake pipe: %w", err)
	}
	return p, nil
}

func toEpoll(ev api.Event) uint32 {
	var out uint32 = unix.EPOLLET
	if ev&api.EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if ev&api.EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func (p *epollPoller) ctl(op, fd int, ev api.Event) error {
	e := unix.EpollEvent{Events: toEpoll(ev), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, op, fd, &e)
}

func (p *epollPoller) Add(fd int, ev api.Event) error    { return p.ctl(unix.EPOLL_CTL_ADD, fd, ev) }
func (p *epollPoller) Modify(fd int, ev api.Event) error { return p.ctl(unix.EPOLL_CTL_MOD, fd, ev) }
func (p *epollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait is safe for concurrent use; each caller brings its own out slice.
func (p *epollPoller) Wait(out []Ready, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, api.ErrInvalidArgument
	}
	rawp := p.raw.Get()
	defer p.raw.Put(rawp)
	if cap(*rawp) < len(out) {
		*rawp = make([]unix.EpollEvent, len(out))
	}
	raw := (*rawp)[:len(out)]
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, raw, ms)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	k := 0
	for _, e := range raw[:n] {
		if int(e.Fd) == p.wake[0] {
			p.drain()
			continue
		}
		r := Ready{Fd: int(e.Fd)}
		if e.Events&unix.EPOLLIN != 0 {
			r.Events |= api.EventRead
		}
		if e.Events&unix.EPOLLOUT != 0 {
			r.Events |= api.EventWrite
		}
		r.Hangup = e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		out[k] = r
		k++
	}
	return k, nil
}

// drain empties the wake pipe; edge-triggered mode needs it fully read.
func (p *epollPoller) drain() {
	var buf [256]byte
	for {
		n, err := unix.Read(p.wake[0], buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	_, err := unix.Write(p.wake[1], []byte{'T'})
	if errors.Is(err, unix.EAGAIN) {
		return nil // pipe full, a wake-up is already pending
	}
	return err
}

func (p *epollPoller) Close() error {
	var errs []error
	for _, fd := range []int{p.wake[0], p.wake[1], p.epfd} {
		if fd >= 0 {
			errs = append(errs, unix.Close(fd))
		}
	}
	return errors.Join(errs...)
}
