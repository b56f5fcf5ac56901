// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

// Package reactor is the readiness-dispatch engine: an edge-triggered,
// one-shot epoll loop coupled to sockio's per-descriptor buffers and a
// connection registry. This is the hard part of the design -- see
// SPEC_FULL.md §4.4.
package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/syncutil"

	"github.com/nathansizemore/alnio/internal/sockio"
	"github.com/nathansizemore/alnio/internal/trace"
)

// interestR and interestRW are the two one-shot, edge-triggered interest
// sets the reactor ever arms a descriptor with. EPOLLRDHUP lets a remote
// half-close surface through the close path rather than masquerading as an
// ordinary readable event.
const (
	interestR  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET | unix.EPOLLONESHOT
	interestRW = interestR | unix.EPOLLOUT

	closeBits = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP

	maxEventsPerWait = 100
)

// Conn is the registry's view of a connection: just enough to identify the
// descriptor and report its peer address back to callbacks. It is a value
// type, copyable, with the descriptor as its identity.
type Conn struct {
	Fd   int
	Addr net.Addr
}

// Callbacks are the three lifecycle hooks. Any of them may be nil. The
// reactor itself invokes only OnRecv and OnError; it never calls OnConnect.
type Callbacks struct {
	OnConnect func(Conn)
	OnRecv    func(Conn)
	OnError   func(Conn, error)
}

// Reactor owns the epoll descriptor, the connection registry, and the
// dispatcher goroutine.
//
// INVARIANT: a fd is present in conns iff it is currently enrolled with epfd.
type Reactor struct {
	epfd int

	mu syncutil.InvariantMutex
	// GUARDED_BY(mu)
	conns map[int]Conn

	ops       *sockio.Ops
	callbacks Callbacks
}

// New creates the epoll descriptor in close-on-exec mode and spawns the
// single dispatcher goroutine. It returns right after launching the
// goroutine, without waiting for it to run; the goroutine itself runs until
// a fatal epoll_wait error.
func New(ops *sockio.Ops, callbacks Callbacks) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	r := &Reactor{
		epfd:      epfd,
		conns:     make(map[int]Conn),
		ops:       ops,
		callbacks: callbacks,
	}
	r.mu = syncutil.NewInvariantMutex(r.checkInvariants)

	go r.loop()

	return r, nil
}

func (r *Reactor) checkInvariants() {
	// Registry membership vs. epoll enrollment can't be cross-checked without
	// a syscall per entry, so this only guards against a nil map, which would
	// indicate New was bypassed.
	if r.conns == nil {
		panic("reactor: conns registry must never be nil")
	}
}

// AddConn enrolls c's descriptor with the registry and with epoll at
// read-only interest.
func (r *Reactor) AddConn(c Conn) error {
	r.mu.Lock()
	r.conns[c.Fd] = c
	r.mu.Unlock()

	ev := unix.EpollEvent{Events: uint32(interestR), Fd: int32(c.Fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, c.Fd, &ev); err != nil {
		r.mu.Lock()
		delete(r.conns, c.Fd)
		r.mu.Unlock()
		return fmt.Errorf("epoll_ctl add fd %d: %w", c.Fd, err)
	}

	return nil
}

// DelConn removes fd from the registry and unenrolls it from epoll. It is
// called both by Connection.Shutdown and by the close-event path.
func (r *Reactor) DelConn(fd int) error {
	r.mu.Lock()
	delete(r.conns, fd)
	r.mu.Unlock()

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}

	return nil
}

// NotifyWriteReady flips fd's interest to read+write immediately. It exists
// to resolve spec.md §9's open question: without it, bytes enqueued by
// Connection.Send while a descriptor is idle at read-only interest sit in
// the TX buffer until the next readable wake (or forever, if the peer stays
// silent). It is a no-op, returning nil, if fd is not currently registered
// (the connection may have been torn down concurrently).
func (r *Reactor) NotifyWriteReady(fd int) error {
	if _, ok := r.lookup(fd); !ok {
		return nil
	}

	return r.rearm(fd, interestRW)
}

func (r *Reactor) lookup(fd int) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[fd]
	return c, ok
}

func (r *Reactor) rearm(fd int, interest uint32) error {
	ev := unix.EpollEvent{Events: interest, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// loop is the dispatcher goroutine. It waits on the multiplexer with an
// unbounded timeout, and for every ready event, dispatches close events
// before read/write events, in the order epoll_wait returned them. A fatal
// epoll_wait error terminates the loop; non-fatal per-event failures are
// logged by the handlers themselves.
func (r *Reactor) loop() {
	events := make([]unix.EpollEvent, maxEventsPerWait)

	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			trace.Logger(trace.Close).Printf("fatal epoll_wait error, dispatcher exiting: %v", err)
			return
		}

		for i := 0; i < n; i++ {
			r.handleEvent(events[i])
		}
	}
}

func (r *Reactor) handleEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)

	if ev.Events&uint32(closeBits) != 0 {
		r.handleClose(fd, ev.Events&uint32(unix.EPOLLERR) != 0)
		return
	}

	if ev.Events&uint32(unix.EPOLLIN) != 0 {
		r.handleRead(fd)
	}

	if ev.Events&uint32(unix.EPOLLOUT) != 0 {
		r.handleWrite(fd)
	}
}

// handleClose looks up the error kind -- SO_ERROR if the error bit was set,
// a synthesized end-of-stream otherwise -- and dispatches it. The reactor
// itself does not shut down or close the descriptor here; per spec.md
// §4.4.1 that is the on_error callback's job, except when no callback is
// registered at all, in which case §9's MAY is exercised to avoid a leak.
func (r *Reactor) handleClose(fd int, hadErrorBit bool) {
	conn, ok := r.lookup(fd)
	if !ok {
		trace.Logger(trace.Close).Printf("close event for fd %d not in registry (benign teardown race)", fd)
		return
	}

	var err error
	if hadErrorBit {
		if e, ok := r.ops.GetLastError(fd); ok {
			err = e
		} else {
			err = ErrUnknownSocketError
		}
	} else {
		err = sockio.ErrEndOfStream
	}

	r.dispatchError(conn, err)
}

// handleRead drains the kernel receive queue for fd, re-arms read interest,
// and then invokes OnRecv. The re-arm happens before the callback
// deliberately (spec.md §4.4.2): by the time user code can call Send from
// inside OnRecv, the reactor must already hold live interest state, or a
// concurrent write-readiness notification could race a descriptor the
// kernel still considers one-shot-disarmed.
func (r *Reactor) handleRead(fd int) {
	conn, ok := r.lookup(fd)
	if !ok {
		trace.Logger(trace.Recv).Printf("read event for fd %d not in registry", fd)
		return
	}

	if _, err := r.ops.Recv(fd); err != nil {
		r.dispatchError(conn, err)
		return
	}

	if err := r.rearm(fd, interestR); err != nil {
		trace.Logger(trace.Rearm).Printf("re-arm R after read on fd %d: %v", fd, err)
	}

	if r.callbacks.OnRecv != nil {
		r.callbacks.OnRecv(conn)
	}
}

// handleWrite drains fd's TX buffer through a single kernel write and
// re-arms according to whether more write interest is still needed.
func (r *Reactor) handleWrite(fd int) {
	conn, ok := r.lookup(fd)
	if !ok {
		trace.Logger(trace.Send).Printf("write event for fd %d not in registry", fd)
		return
	}

	_, needsWrite, err := r.ops.Send(fd)
	if err != nil {
		r.dispatchError(conn, err)
		return
	}

	interest := uint32(interestR)
	if needsWrite {
		interest = interestRW
	}

	if err := r.rearm(fd, interest); err != nil {
		trace.Logger(trace.Rearm).Printf("re-arm after write on fd %d: %v", fd, err)
	}
}

// dispatchError is shared by the close path and the error returns of the
// read/write paths: none of them re-arm, since the connection is being torn
// down.
func (r *Reactor) dispatchError(conn Conn, err error) {
	if r.callbacks.OnError != nil {
		r.callbacks.OnError(conn, err)
		return
	}

	trace.Logger(trace.Close).Printf("no OnError registered; auto-shutting down fd %d after: %v", conn.Fd, err)
	_ = r.DelConn(conn.Fd)
	_ = r.ops.Shutdown(conn.Fd)
	_ = r.ops.Close(conn.Fd)
}
