// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

// Package alnio is a single-process, event-driven TCP server core. It
// multiplexes many concurrent sockets on one background dispatcher
// goroutine using Linux's edge-triggered, one-shot epoll readiness
// mechanism, and delivers connection lifecycle events -- new connection,
// data available, error/close -- to callbacks registered before Start.
//
// The primary elements of interest are:
//
//  * RegisterOnConnect, RegisterOnRecv and RegisterOnError, which wire up
//    the three lifecycle callbacks. They must be called before Start.
//
//  * Connection, the handle passed to callbacks, offering BytesAvail/Recv/
//    Send/Shutdown.
//
//  * Start, which binds a listener and runs the accept loop.
//
// This package targets Linux only; there is no portability shim for other
// platforms.
package alnio
