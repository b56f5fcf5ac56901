// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package alnio

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/nathansizemore/alnio/internal/reactor"
	"github.com/nathansizemore/alnio/internal/sockio"
)

// listenBacklog is the backlog passed to listen(2). The source this package
// is derived from never tuned it beyond the OS default; 128 matches what
// net.Listen itself requests on Linux.
const listenBacklog = 128

// server bundles the reactor and the raw-fd I/O surface it drives. There is
// at most one per process: Start creates it and every Connection method
// reaches it through currentServer.
type server struct {
	ops   *sockio.Ops
	rct   *reactor.Reactor
	clock timeutil.Clock
	laddr net.Addr
}

var (
	srvMu sync.RWMutex
	srv   *server
)

func currentServer() (*server, error) {
	srvMu.RLock()
	defer srvMu.RUnlock()

	if srv == nil {
		return nil, fmt.Errorf("alnio: server not started")
	}
	return srv, nil
}

// BoundAddr returns the address Start actually bound to, which is the only
// way to learn the OS-assigned port after requesting one with ":0". It
// returns an error if the server has not been started.
func BoundAddr() (net.Addr, error) {
	s, err := currentServer()
	if err != nil {
		return nil, err
	}
	return s.laddr, nil
}

// Start binds a TCP listener on address, initializes the reactor, and enters
// the accept loop: accept, set nonblocking, register with sockio and the
// reactor, invoke OnConnect. It runs on the calling goroutine and only
// returns when the listener itself fails (SPEC_FULL.md §4.5): a per-accept
// error is logged and the loop continues.
//
// A port of 0 requests an OS-assigned port. Start must not be called more
// than once per process.
func Start(address string) error {
	return StartWithClock(address, timeutil.RealClock())
}

// StartWithClock is Start with an injectable clock, mirroring the
// constructor-injected timeutil.Clock the teacher's sample filesystems take
// (e.g. memfs's NewMemFS(clock timeutil.Clock)). Start itself just supplies
// timeutil.RealClock(); tests can pass a fake to pin the timestamp recorded
// in the "Bound to" log line.
func StartWithClock(address string, clock timeutil.Clock) error {
	srvMu.Lock()
	if srv != nil {
		srvMu.Unlock()
		return ErrAlreadyStarted
	}
	srvMu.Unlock()

	cbs := snapshotCallbacks()

	lfd, err := bindListener(address)
	if err != nil {
		return err
	}

	ops := sockio.New()
	rcbs := reactor.Callbacks{
		OnRecv: func(c reactor.Conn) {
			if cbs.onRecv != nil {
				cbs.onRecv(Connection{fd: c.Fd, addr: c.Addr})
			}
		},
	}
	// Leave the reactor's OnError nil when none is registered, so its close
	// path shuts down and closes the descriptor itself.
	if cbs.onError != nil {
		rcbs.OnError = func(c reactor.Conn, err error) {
			cbs.onError(Connection{fd: c.Fd, addr: c.Addr}, err)
		}
	}

	rct, err := reactor.New(ops, rcbs)
	if err != nil {
		unix.Close(lfd)
		return fmt.Errorf("reactor init: %w", err)
	}

	s := &server{ops: ops, rct: rct, clock: clock}

	if sa, serr := unix.Getsockname(lfd); serr == nil {
		s.laddr = sockaddrToAddr(sa)
		acceptLogger().Print(formatBoundLine(s.laddr, s.clock))
	}

	markStarted()

	srvMu.Lock()
	srv = s
	srvMu.Unlock()

	return acceptLoop(lfd, ops, rct, cbs)
}

// formatBoundLine renders the listener's bind-announcement log line. It is
// a pure function of addr and clock so its output is deterministic under a
// fake clock, independent of the live accept loop.
func formatBoundLine(addr net.Addr, clock timeutil.Clock) string {
	return fmt.Sprintf("Bound to %v at %s", addr, clock.Now().Format(time.RFC3339))
}

func acceptLoop(lfd int, ops *sockio.Ops, rct *reactor.Reactor, cbs callbackSet) error {
	for {
		nfd, sa, err := unix.Accept(lfd)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			// Distinguish a listener-level failure (fatal) from a per-accept
			// failure (logged, loop continues) by consulting the listener's
			// own SO_ERROR slot, exactly as SPEC_FULL.md §4.5 and
			// original_source/src/lib.rs's accept_connection do.
			if lerr, ok := ops.GetLastError(lfd); ok {
				return fmt.Errorf("listener error, server terminating: %w", lerr)
			}

			acceptLogger().Printf("accept error (non-fatal): %v", err)
			continue
		}

		if serr := unix.SetNonblock(nfd, true); serr != nil {
			acceptLogger().Printf("set nonblocking on fd %d: %v", nfd, serr)
			unix.Close(nfd)
			continue
		}

		addr := sockaddrToAddr(sa)
		ops.Init(nfd)

		conn := reactor.Conn{Fd: nfd, Addr: addr}
		if aerr := rct.AddConn(conn); aerr != nil {
			acceptLogger().Printf("reactor add fd %d: %v", nfd, aerr)
			_ = ops.Shutdown(nfd)
			_ = ops.Close(nfd)
			continue
		}

		if cbs.onConnect != nil {
			cbs.onConnect(Connection{fd: nfd, addr: addr})
		}
	}
}

// bindListener parses address with the standard library (address parsing is
// an explicit external collaborator per spec.md §1), then builds the raw
// listening socket itself via golang.org/x/sys/unix so the accept loop has
// direct access to the listener's own SO_ERROR slot.
func bindListener(address string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, fmt.Errorf("resolve %q: %w", address, err)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		a := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(a.Addr[:], ip4)
		sa = a
	} else {
		domain = unix.AF_INET6
		ip16 := tcpAddr.IP.To16()
		if ip16 == nil {
			ip16 = net.IPv6zero
		}
		a := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(a.Addr[:], ip16)
		sa = a
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", address, err)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}

	return fd, nil
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return nil
	}
}
