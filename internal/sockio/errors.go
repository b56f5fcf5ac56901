// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package sockio

import "errors"

var (
	// ErrUnknownFD is returned by any Ops method given a descriptor that has
	// not been Init-ed, or that has already been Shutdown.
	ErrUnknownFD = errors.New("sockio: unknown fd")

	// ErrEndOfStream is returned by Recv when the kernel reports a
	// zero-length read, which on a stream socket means the peer has
	// half-closed its write side. It is distinct from a would-block
	// indication, which Recv never surfaces to the caller.
	ErrEndOfStream = errors.New("sockio: end of stream")
)
