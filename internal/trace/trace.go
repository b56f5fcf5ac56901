// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

// Package trace provides the reactor pipeline's flag-gated debug loggers,
// split by the event class each call site actually belongs to instead of
// one bare on/off toggle. A descriptor's life moves through these classes
// in order -- Accept enrolls it, Recv and Send move bytes, Rearm changes
// its epoll interest, Close tears it down -- and -alnio.debug lets any
// subset of that pipeline be traced independently, since in practice a
// re-arm bug and a half-close bug are debugged by staring at very
// different lines.
package trace

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"sync"
)

// Category names the pipeline stage a trace logger speaks for.
type Category string

// The five event classes the reactor/sockio pipeline dispatches through.
const (
	Accept Category = "accept"
	Recv   Category = "recv"
	Send   Category = "send"
	Rearm  Category = "rearm"
	Close  Category = "close"
)

var allCategories = []Category{Accept, Recv, Send, Rearm, Close}

var fDebug = flag.String(
	"alnio.debug",
	"",
	"Comma-separated trace categories to write to stderr: "+
		"accept, recv, send, rearm, close, or \"all\". Empty disables tracing.")

var (
	once    sync.Once
	loggers map[Category]*log.Logger
)

func initLoggers() {
	if !flag.Parsed() {
		panic("trace: Logger called before flags available.")
	}

	selected := make(map[Category]bool)
	all := false
	for _, c := range strings.Split(*fDebug, ",") {
		c = strings.TrimSpace(c)
		switch c {
		case "":
		case "all":
			all = true
		default:
			selected[Category(c)] = true
		}
	}

	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

	loggers = make(map[Category]*log.Logger, len(allCategories))
	for _, cat := range allCategories {
		var w io.Writer = ioutil.Discard
		if all || selected[cat] {
			w = os.Stderr
		}
		loggers[cat] = log.New(w, fmt.Sprintf("alnio.%s: ", cat), flags)
	}
}

// Logger returns cat's trace logger, discarding output unless -alnio.debug
// names cat (or "all"). Passing an unrecognized Category is a programmer
// error and panics.
func Logger(cat Category) *log.Logger {
	once.Do(initLoggers)

	l, ok := loggers[cat]
	if !ok {
		panic("trace: unknown category " + string(cat))
	}
	return l
}
