// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package alnio

import "sync"

// callbackSet holds the three process-wide, set-once callback slots. See
// SPEC_FULL.md §3 "Callback Slots": mutation after Start is undefined, which
// this package enforces by panicking rather than silently racing.
type callbackSet struct {
	onConnect func(Connection)
	onRecv    func(Connection)
	onError   func(Connection, error)
}

var (
	callbacksMu sync.Mutex
	callbacks   callbackSet
	srvStarted  bool
)

func registerCallback(name string, set func(*callbackSet)) {
	callbacksMu.Lock()
	defer callbacksMu.Unlock()

	if srvStarted {
		panic("alnio: " + name + " called after Start; register callbacks before starting")
	}

	set(&callbacks)
}

// RegisterOnConnect registers the handler invoked once per accepted
// connection, on the goroutine running Start's accept loop.
func RegisterOnConnect(h func(Connection)) {
	registerCallback("RegisterOnConnect", func(c *callbackSet) { c.onConnect = h })
}

// RegisterOnRecv registers the handler invoked on the dispatcher goroutine
// whenever new bytes have been drained into a connection's receive buffer.
func RegisterOnRecv(h func(Connection)) {
	registerCallback("RegisterOnRecv", func(c *callbackSet) { c.onRecv = h })
}

// RegisterOnError registers the handler invoked on the dispatcher goroutine
// when a connection hits a hard error, a peer-initiated end of stream, or a
// hangup. The handler is expected to call Connection.Shutdown; failing to do
// so leaks the descriptor and its buffer entries (SPEC_FULL.md §8 decision 2
// auto-shuts-down unregistered connections, but a registered handler that
// never shuts down still leaks).
func RegisterOnError(h func(Connection, error)) {
	registerCallback("RegisterOnError", func(c *callbackSet) { c.onError = h })
}

// snapshotCallbacks returns a copy of the registered callbacks. It does not
// by itself close callback registration -- that only happens once Start
// has actually stood up a listener and reactor; see markStarted.
func snapshotCallbacks() callbackSet {
	callbacksMu.Lock()
	defer callbacksMu.Unlock()

	return callbacks
}

// markStarted closes callback registration. It must only be called once
// Start's listener and reactor are confirmed up: calling it on a path that
// can still fail and be retried would strand RegisterOnConnect/OnRecv/
// OnError in a permanently panicking state after a Start attempt that never
// actually started anything.
func markStarted() {
	callbacksMu.Lock()
	defer callbacksMu.Unlock()

	srvStarted = true
}
