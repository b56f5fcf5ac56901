// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

// Package bytebuf implements the guarded, front-drain byte queue used to
// stage bytes for both the receive and transmit directions of a socket.
package bytebuf

import (
	"github.com/jacobsa/syncutil"
)

// Buffer is a thread-safe, append-only/front-drain byte queue. Any number of
// goroutines may call its methods concurrently; operations are linearized by
// an internal invariant-checked mutex.
//
// INVARIANT: b.data != nil
type Buffer struct {
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	data []byte
}

// New returns an empty Buffer.
func New() *Buffer {
	b := &Buffer{data: make([]byte, 0)}
	b.mu = syncutil.NewInvariantMutex(b.checkInvariants)
	return b
}

func (b *Buffer) checkInvariants() {
	if b.data == nil {
		panic("Buffer.data must never be nil once initialized")
	}
}

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.data)
}

// Append inserts p at the end of the buffer, copying it.
func (b *Buffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
}

// Prepend inserts p at the beginning of the buffer. It always reallocates: the
// new backing array holds p followed by the buffer's prior contents.
func (b *Buffer) Prepend(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	nv := make([]byte, 0, len(p)+len(b.data))
	nv = append(nv, p...)
	nv = append(nv, b.data...)
	b.data = nv
}

// Extract removes and returns up to n leading bytes. It never fails; if the
// buffer holds fewer than n bytes, the entire buffer is returned. The
// remainder, if any, keeps its relative order and is shifted down in place.
func (b *Buffer) Extract(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.data) {
		n = len(b.data)
	}

	out := make([]byte, n)
	copy(out, b.data[:n])

	remaining := len(b.data) - n
	copy(b.data[:remaining], b.data[n:])
	b.data = b.data[:remaining]

	return out
}

// ExtractAll is equivalent to Extract(Len()), provided as a named operation
// because sockio.Ops.Send always wants the entire TX buffer at once.
func (b *Buffer) ExtractAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.data
	b.data = make([]byte, 0)
	return out
}
