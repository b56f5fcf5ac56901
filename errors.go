// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package alnio

import (
	"errors"

	"github.com/nathansizemore/alnio/internal/reactor"
	"github.com/nathansizemore/alnio/internal/sockio"
)

var (
	// ErrUnknownFD is returned by Connection operations issued against a
	// descriptor that has already been shut down, or was never registered.
	ErrUnknownFD = sockio.ErrUnknownFD

	// ErrEndOfStream is the error kind delivered to OnError when the peer
	// has ended the stream, either via a zero-length read or a half-close.
	ErrEndOfStream = sockio.ErrEndOfStream

	// ErrUnknownSocketError is delivered to OnError when a close-class
	// epoll event carried the error bit but SO_ERROR came back clear.
	ErrUnknownSocketError = reactor.ErrUnknownSocketError

	// ErrAlreadyStarted is returned by Start if called more than once.
	ErrAlreadyStarted = errors.New("alnio: Start called more than once")
)
