// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package alnio_test

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/nathansizemore/alnio"
	"github.com/nathansizemore/alnio/alniotest"
)

var errServerDidNotBindInTime = errors.New("alnio_test: server did not bind within timeout")

func TestServer(t *testing.T) { RunTests(t) }

func init() { RegisterTestSuite(&ServerTest{}) }

// Start is a process-wide, call-once operation (SPEC_FULL.md §3), so every
// test in this suite shares one running server and tells its connections
// apart by routing each Connection's events to a per-fd channel populated in
// OnConnect.
var (
	startOnce sync.Once
	startErr  error
	boundAddr string

	routeMu sync.Mutex
	routes  = map[int]chan event{}
	conns   = make(chan alnio.Connection, 64)
)

type event struct {
	kind string // "recv" or "error"
	conn alnio.Connection
	err  error
}

func ensureServerStarted() error {
	startOnce.Do(func() {
		alnio.RegisterOnConnect(func(c alnio.Connection) {
			ch := make(chan event, 64)
			routeMu.Lock()
			routes[c.Fd()] = ch
			routeMu.Unlock()
			conns <- c
		})

		alnio.RegisterOnRecv(func(c alnio.Connection) {
			routeMu.Lock()
			ch := routes[c.Fd()]
			routeMu.Unlock()
			if ch != nil {
				ch <- event{kind: "recv", conn: c}
			}
		})

		alnio.RegisterOnError(func(c alnio.Connection, err error) {
			routeMu.Lock()
			ch := routes[c.Fd()]
			delete(routes, c.Fd())
			routeMu.Unlock()
			if ch != nil {
				ch <- event{kind: "error", conn: c, err: err}
			}
			c.Shutdown()
		})

		go func() {
			if err := alnio.Start("127.0.0.1:0"); err != nil {
				startErr = err
			}
		}()

		ok := alniotest.Eventually(5*time.Second, func() bool {
			addr, err := alnio.BoundAddr()
			if err != nil || addr == nil {
				return false
			}
			boundAddr = addr.String()
			return true
		})
		if !ok && startErr == nil {
			startErr = errServerDidNotBindInTime
		}
	})
	return startErr
}

// serverSideConn dials the running server and returns the accept loop's view of the same
// connection, correlated via the OnConnect channel.
func serverSideConn() (net.Conn, alnio.Connection, chan event) {
	client, err := alniotest.Dial(boundAddr)
	if err != nil {
		panic(err)
	}

	select {
	case c := <-conns:
		routeMu.Lock()
		ch := routes[c.Fd()]
		routeMu.Unlock()
		return client, c, ch
	case <-time.After(2 * time.Second):
		panic("timed out waiting for OnConnect")
	}
}

type ServerTest struct{}

func (t *ServerTest) SetUp(ti *TestInfo) {
	if err := ensureServerStarted(); err != nil {
		panic(err)
	}
}

// S1: bytes a peer writes are echoed back unchanged.
func (t *ServerTest) EchoesWhatThePeerSends() {
	client, _, ch := serverSideConn()
	defer client.Close()

	if _, err := client.Write([]byte("ping")); err != nil {
		panic(err)
	}

	select {
	case ev := <-ch:
		ExpectEq("recv", ev.kind)
		n, err := ev.conn.BytesAvail()
		AssertEq(nil, err)
		AssertEq(4, n)

		buf := make([]byte, n)
		if _, err := ev.conn.Recv(buf); err != nil {
			panic(err)
		}
		if _, err := ev.conn.Send(buf); err != nil {
			panic(err)
		}
	case <-time.After(2 * time.Second):
		panic("timed out waiting for OnRecv")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 4)
	if _, err := readFull(client, got); err != nil {
		panic(err)
	}
	ExpectThat(got, DeepEquals([]byte("ping")))
}

// S2: the peer half-closing its write side surfaces as an OnError with
// end-of-stream, not silence.
func (t *ServerTest) PeerHalfCloseSurfacesAsError() {
	client, _, ch := serverSideConn()
	defer client.Close()

	if tcp, ok := client.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			panic(err)
		}
	} else {
		client.Close()
	}

	select {
	case ev := <-ch:
		ExpectEq("error", ev.kind)
	case <-time.After(2 * time.Second):
		panic("timed out waiting for OnError")
	}
}

// A peer write larger than the kernel's socket buffer is still delivered to
// the server in full, across however many read wakes the reactor needs.
func (t *ServerTest) LargeWriteIsDeliveredInFull() {
	client, _, ch := serverSideConn()
	defer client.Close()

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := client.Write(payload); err != nil {
			panic(err)
		}
	}()

	var serverConn alnio.Connection
	total := 0
	for total < len(payload) {
		select {
		case ev := <-ch:
			if ev.kind != "recv" {
				panic("unexpected event kind")
			}
			serverConn = ev.conn
			n, err := ev.conn.BytesAvail()
			if err != nil {
				panic(err)
			}
			buf := make([]byte, n)
			if _, err := ev.conn.Recv(buf); err != nil {
				panic(err)
			}
			total += n
		case <-time.After(5 * time.Second):
			panic("timed out draining large write")
		}
	}
	<-done

	ExpectEq(len(payload), total)
	_ = serverConn
}

// S5: explicit peer reset (RST via SO_LINGER zero) still surfaces through
// OnError rather than hanging the connection forever.
func (t *ServerTest) PeerResetSurfacesAsError() {
	client, _, ch := serverSideConn()

	if tcp, ok := client.(*net.TCPConn); ok {
		tcp.SetLinger(0)
	}
	client.Close()

	select {
	case ev := <-ch:
		ExpectEq("error", ev.kind)
	case <-time.After(2 * time.Second):
		panic("timed out waiting for OnError after reset")
	}
}

// Shutting down a connection after its OnRecv has fired makes its fd
// unknown: a later BytesAvail returns ErrUnknownFD.
func (t *ServerTest) ShutdownAfterOnRecvForgetsTheFd() {
	client, _, ch := serverSideConn()
	defer client.Close()

	if _, err := client.Write([]byte("bye")); err != nil {
		panic(err)
	}

	select {
	case ev := <-ch:
		AssertEq("recv", ev.kind)
		if err := ev.conn.Shutdown(); err != nil {
			panic(err)
		}

		_, err := ev.conn.BytesAvail()
		ExpectEq(alnio.ErrUnknownFD, err)
	case <-time.After(2 * time.Second):
		panic("timed out waiting for OnRecv")
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
