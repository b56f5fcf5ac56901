// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package reactor

import "errors"

// ErrUnknownSocketError is surfaced when a close-class epoll event carries
// the error bit but SO_ERROR came back clear or unreadable -- the kernel
// told us something went wrong without telling us what.
var ErrUnknownSocketError = errors.New("reactor: unknown socket error")
