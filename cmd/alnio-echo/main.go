// Copyright 2016 Nathan Sizemore <nathanrsizemore@gmail.com>
//
// This Source Code Form is subject to the terms of the
// Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed
// with this file, you can obtain one at http://mozilla.org/MPL/2.0/.

// A minimal tool that runs an echo server atop the alnio reactor, used as a
// worked example of wiring up the three callbacks and Start.
package main

import (
	"flag"
	"log"

	"github.com/nathansizemore/alnio"
)

var fAddr = flag.String("addr", "127.0.0.1:0", "Address to listen on.")

func main() {
	flag.Parse()

	alnio.RegisterOnConnect(func(c alnio.Connection) {
		log.Printf("connected: %s (fd %d)", c.Addr(), c.Fd())
	})

	alnio.RegisterOnRecv(func(c alnio.Connection) {
		n, err := c.BytesAvail()
		if err != nil {
			log.Printf("fd %d: BytesAvail: %v", c.Fd(), err)
			return
		}

		buf := make([]byte, n)
		if _, err := c.Recv(buf); err != nil {
			log.Printf("fd %d: Recv: %v", c.Fd(), err)
			return
		}

		if _, err := c.Send(buf); err != nil {
			log.Printf("fd %d: Send: %v", c.Fd(), err)
		}
	})

	alnio.RegisterOnError(func(c alnio.Connection, err error) {
		log.Printf("fd %d: %v", c.Fd(), err)
		if serr := c.Shutdown(); serr != nil {
			log.Printf("fd %d: Shutdown: %v", c.Fd(), serr)
		}
	})

	if err := alnio.Start(*fAddr); err != nil {
		log.Fatalf("Start: %v", err)
	}
}
