// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

// Package sockio is the raw-descriptor I/O surface for the reactor: drain
// recv, single-shot send, peek/take against per-fd buffers, and the shutdown
// and close kernel calls. It owns the RX and TX buffer registries described
// in spec.md's Buffer Registry invariant.
package sockio

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/syncutil"

	"github.com/nathansizemore/alnio/internal/bytebuf"
	"github.com/nathansizemore/alnio/internal/trace"
)

// recvScratchSize is the size of the per-call scratch buffer used to drain
// the kernel receive queue. Edge-triggered readiness delivers exactly one
// wake per not-readable -> readable transition, so Recv must keep reading in
// this size until the kernel signals EAGAIN or it will never be woken again
// for data that arrived after the first chunk.
const recvScratchSize = 4096

// Ops is the raw-fd I/O surface. The zero value is not usable; construct
// with New. A single Ops is normally shared by every connection the reactor
// knows about, since the RX/TX buffer registries are themselves per-fd.
//
// INVARIANT: a fd has entries in both rx and tx iff it has been Init-ed and
// not yet Shutdown-ed.
type Ops struct {
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	rx map[int]*bytebuf.Buffer
	// GUARDED_BY(mu)
	tx map[int]*bytebuf.Buffer
}

// New returns an Ops with empty buffer registries.
func New() *Ops {
	o := &Ops{
		rx: make(map[int]*bytebuf.Buffer),
		tx: make(map[int]*bytebuf.Buffer),
	}
	o.mu = syncutil.NewInvariantMutex(o.checkInvariants)
	return o
}

func (o *Ops) checkInvariants() {
	if len(o.rx) != len(o.tx) {
		panic(fmt.Sprintf("sockio: rx/tx registry size mismatch: %d vs %d", len(o.rx), len(o.tx)))
	}
}

// Init creates empty RX and TX buffers for fd. Idempotent: calling it twice
// for the same fd overwrites whatever was previously buffered, which is not
// expected in normal flow (a fd is Init-ed exactly once, at accept time).
func (o *Ops) Init(fd int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.rx[fd] = bytebuf.New()
	o.tx[fd] = bytebuf.New()
}

// rxBuf and txBuf extract the shared buffer handle under the registry lock
// and return immediately, so callers never hold the registry lock while
// operating on the buffer itself -- only the buffer's own lock is held
// across the byte-shifting work.
func (o *Ops) rxBuf(fd int) (*bytebuf.Buffer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.rx[fd]
	return b, ok
}

func (o *Ops) txBuf(fd int) (*bytebuf.Buffer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	b, ok := o.tx[fd]
	return b, ok
}

// GetLastError consults the kernel's per-socket error slot (SO_ERROR). It
// returns (err, true) if the slot held a nonzero errno, clearing it as a
// side effect per kernel semantics. It returns (nil, false) if the slot was
// already clear, or if the getsockopt call itself failed.
func (o *Ops) GetLastError(fd int) (error, bool) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		trace.Logger(trace.Close).Printf("getsockopt SO_ERROR on fd %d: %v", fd, err)
		return nil, false
	}

	if errno == 0 {
		return nil, false
	}

	return unix.Errno(errno), true
}

// Recv drains the kernel receive queue for fd into its RX buffer, reading in
// recvScratchSize chunks until the kernel signals would-block. It returns the
// total number of bytes moved into the RX buffer on this call.
//
// A zero-byte kernel read is peer-initiated end-of-stream and is reported as
// ErrEndOfStream, never as a plain would-block. A would-block with
// total == 0 is not an error -- spurious wakes are tolerated.
func (o *Ops) Recv(fd int) (total int, err error) {
	buf, ok := o.rxBuf(fd)
	if !ok {
		return 0, ErrUnknownFD
	}

	scratch := make([]byte, recvScratchSize)
	for {
		n, rerr := unix.Read(fd, scratch)
		switch {
		case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK:
			return total, nil
		case rerr != nil:
			return total, rerr
		case n == 0:
			return total, ErrEndOfStream
		default:
			buf.Append(scratch[:n])
			total += n
		}
	}
}

// Send extracts the entirety of fd's TX buffer and issues a single kernel
// write. Unlike Recv, Send does not loop to exhaustion: the data being
// written is finite (whatever the user enqueued), so a single would-block
// cleanly means "kernel TX is full," and needsWrite conveys that to the
// reactor so it can re-arm write interest.
//
//   - Would-block: nothing was sent; the extracted bytes are re-prepended.
//     Returns (0, true, nil).
//   - Partial write: the unsent suffix is re-prepended. Returns (sent, true, nil).
//   - Full write or an empty buffer: returns (sent, false, nil).
func (o *Ops) Send(fd int) (sent int, needsWrite bool, err error) {
	buf, ok := o.txBuf(fd)
	if !ok {
		return 0, false, ErrUnknownFD
	}

	p := buf.ExtractAll()
	if len(p) == 0 {
		return 0, false, nil
	}

	n, werr := unix.Write(fd, p)
	if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
		buf.Prepend(p)
		return 0, true, nil
	}
	if werr != nil {
		return 0, false, werr
	}

	if n < len(p) {
		buf.Prepend(p[n:])
		return n, true, nil
	}

	return n, false, nil
}

// AddToTXBuf appends p to fd's TX buffer and reports whether the buffer
// transitioned from empty to non-empty as a result -- the reactor's
// NotifyWriteReady hook (spec.md's open write-wake-up question) uses that
// transition to decide whether to proactively flip interest to RW.
func (o *Ops) AddToTXBuf(fd int, p []byte) (n int, becameNonEmpty bool, err error) {
	buf, ok := o.txBuf(fd)
	if !ok {
		return 0, false, ErrUnknownFD
	}

	wasEmpty := buf.Len() == 0
	buf.Append(p)
	return len(p), wasEmpty && len(p) > 0, nil
}

// Peek returns the number of bytes currently staged in fd's RX buffer,
// without modifying it.
func (o *Ops) Peek(fd int) (int, error) {
	buf, ok := o.rxBuf(fd)
	if !ok {
		return 0, ErrUnknownFD
	}

	return buf.Len(), nil
}

// Take extracts up to len(dst) bytes from fd's RX buffer into dst, returning
// the number of bytes copied.
func (o *Ops) Take(fd int, dst []byte) (int, error) {
	buf, ok := o.rxBuf(fd)
	if !ok {
		return 0, ErrUnknownFD
	}

	p := buf.Extract(len(dst))
	return copy(dst, p), nil
}

// Shutdown removes fd from both buffer registries, then requests half-duplex
// shutdown of both directions on the kernel socket.
func (o *Ops) Shutdown(fd int) error {
	o.mu.Lock()
	delete(o.rx, fd)
	delete(o.tx, fd)
	o.mu.Unlock()

	return unix.Shutdown(fd, unix.SHUT_RDWR)
}

// Close closes fd via the kernel.
func (o *Ops) Close(fd int) error {
	return unix.Close(fd)
}
