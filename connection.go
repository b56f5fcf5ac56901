// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package alnio

import (
	"fmt"
	"net"
)

// Connection is a copyable value handle pairing a descriptor with its peer
// address. Its identity is the descriptor; its lifetime begins at accept and
// ends at Shutdown (or at whatever tore the connection down: error, or
// peer-initiated end of stream).
//
// All methods are safe to call from any goroutine, including from within an
// OnRecv or OnError callback.
type Connection struct {
	fd   int
	addr net.Addr
}

// Fd returns the connection's underlying descriptor. It is stable for the
// lifetime of the connection and is the key used by the reactor's registry
// and sockio's buffer registries.
func (c Connection) Fd() int { return c.fd }

// Addr returns the connection's peer address.
func (c Connection) Addr() net.Addr { return c.addr }

func (c Connection) String() string {
	return fmt.Sprintf("Connection{fd: %d, addr: %v}", c.fd, c.addr)
}

// BytesAvail returns the number of bytes currently staged in this
// connection's receive buffer, without consuming them.
func (c Connection) BytesAvail() (int, error) {
	s, err := currentServer()
	if err != nil {
		return 0, err
	}
	return s.ops.Peek(c.fd)
}

// Recv copies up to len(dst) buffered bytes into dst, returning the number
// of bytes copied. It never blocks: it only returns what is already
// buffered.
func (c Connection) Recv(dst []byte) (int, error) {
	s, err := currentServer()
	if err != nil {
		return 0, err
	}
	return s.ops.Take(c.fd, dst)
}

// Send enqueues p on this connection's transmit buffer. It never blocks:
// the bytes are flushed to the kernel by the reactor's write path. If the
// transmit buffer was empty before this call, Send proactively notifies the
// reactor so it can flip interest to read+write immediately rather than
// waiting for the next readable wake (SPEC_FULL.md §8, open question 1).
func (c Connection) Send(p []byte) (int, error) {
	s, err := currentServer()
	if err != nil {
		return 0, err
	}

	n, becameNonEmpty, err := s.ops.AddToTXBuf(c.fd, p)
	if err != nil {
		return 0, err
	}

	if becameNonEmpty {
		if rerr := s.rct.NotifyWriteReady(c.fd); rerr != nil {
			rearmLogger().Printf("NotifyWriteReady fd %d: %v", c.fd, rerr)
		}
	}

	return n, nil
}

// Shutdown deregisters this connection from the reactor, then shuts down and
// closes its descriptor. After Shutdown returns, subsequent Recv/Send/BytesAvail
// calls against the same fd return ErrUnknownFD.
func (c Connection) Shutdown() error {
	s, err := currentServer()
	if err != nil {
		return err
	}

	if err := s.rct.DelConn(c.fd); err != nil {
		closeLogger().Printf("DelConn fd %d during shutdown: %v", c.fd, err)
	}
	if err := s.ops.Shutdown(c.fd); err != nil {
		closeLogger().Printf("sockio shutdown fd %d: %v", c.fd, err)
	}
	return s.ops.Close(c.fd)
}
