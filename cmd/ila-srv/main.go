// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ila-srv starts a TDAQ node publishing the records captured by
// an ILA.
//
// Usage: ila-srv [TDAQ-OPTIONS] SOURCE SIGNALS [DEPTH]
//
// The /config command may carry the source, the signals and the depth,
// overriding the command line arguments.
// The /stop command may carry the path to a VCD file where the capture
// is written.
// Captured records are published on the /ila-records output.
package main // import "github.com/go-lpc/ila/cmd/ila-srv"

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()

	dev := newNode(log.New(os.Stdout, "ila-srv: ", 0))
	if len(cmd.Args) > 0 {
		dev.src = cmd.Args[0]
	}
	if len(cmd.Args) > 1 {
		dev.signals = cmd.Args[1]
	}
	if len(cmd.Args) > 2 {
		depth, err := strconv.Atoi(cmd.Args[2])
		if err != nil {
			log.Panicf("invalid depth %q: %+v", cmd.Args[2], err)
		}
		dev.depth = depth
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/ila-records", dev.records)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
