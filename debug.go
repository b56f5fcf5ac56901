// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

package alnio

import (
	"log"

	"github.com/nathansizemore/alnio/internal/trace"
)

// acceptLogger traces the listener/accept-loop path: per-accept failures,
// nonblocking setup, and reactor enrollment.
func acceptLogger() *log.Logger { return trace.Logger(trace.Accept) }

// rearmLogger traces epoll_ctl re-arm decisions driven from the root
// package -- currently just Connection.Send's proactive write re-arm.
func rearmLogger() *log.Logger { return trace.Logger(trace.Rearm) }

// closeLogger traces connection teardown initiated from the root package:
// Connection.Shutdown and the registry cleanup it performs.
func closeLogger() *log.Logger { return trace.Logger(trace.Close) }
