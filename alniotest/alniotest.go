// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

// Package alniotest holds small helpers shared by alnio's end-to-end test
// suites: dialing a running server's loopback listener and polling for an
// asynchronous condition to become true.
package alniotest

import (
	"fmt"
	"net"
	"time"
)

// Dial connects to a loopback address, retrying briefly while the server's
// accept loop has not yet called listen(2) on it (relevant only right after
// Start has been kicked off on another goroutine).
func Dial(addr string) (net.Conn, error) {
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(5 * time.Millisecond)
	}
	return nil, fmt.Errorf("alniotest: dial %s: %w", addr, lastErr)
}

// Eventually polls cond at a short interval until it returns true or timeout
// elapses, returning the final result of cond. Use it to wait on an effect
// that happens asynchronously on the reactor's dispatcher goroutine.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
