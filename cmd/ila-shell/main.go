// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ila-shell is an interactive console driving an ILA backhaul session.
//
// Usage: ila-shell [OPTIONS] [SOURCE]
//
// Example:
//
//	$> ila-shell -signals=valid:1,data:8 sim
//	ila> refresh
//	ila> status
//	src=sim:4096 state=streaming records=4/1024 frames=1 lost=0 discarded=0 overflow=0
//	ila> vcd out.vcd
//	ila> quit
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-lpc/ila/backhaul"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("ila-shell: ")
	log.SetFlags(0)

	var (
		signals = flag.String("signals", "", "comma-separated list of name:width signals")
		depth   = flag.Int("depth", 1024, "maximum number of records to capture")
		rate    = flag.Float64("rate", 0, "sample rate in Hz (default: 1 sample per ns)")
		timeout = flag.Duration("timeout", 2*time.Second, "timeout of refresh and flush commands")
		hist    = flag.String("hist", histName(), "path to the history file")
		verbose = flag.Bool("v", false, "enable verbose mode")
	)

	flag.Usage = func() {
		fmt.Printf(`ila-shell is an interactive console driving an ILA backhaul session.

Usage: ila-shell [OPTIONS] [SOURCE]

Example:

 $> ila-shell -signals=valid:1,data:8 uart:/dev/ttyUSB0@3000000
 ila> refresh
 ila> status
 ila> vcd out.vcd

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	msg := log.New(io.Discard, "", 0)
	if *verbose {
		msg = log.New(os.Stderr, "backhaul: ", 0)
	}

	opts := []backhaul.Option{
		backhaul.WithDepth(*depth),
		backhaul.WithTimeout(*timeout),
		backhaul.WithLogger(msg),
	}
	if *rate > 0 {
		opts = append(opts, backhaul.WithSampleRate(*rate))
	}

	sh := newShell(os.Stdout, opts...)
	defer sh.close()

	if *signals != "" {
		_, err := sh.exec("signals " + *signals)
		if err != nil {
			log.Fatalf("%+v", err)
		}
	}
	if flag.NArg() > 0 {
		_, err := sh.exec("open " + flag.Arg(0))
		if err != nil {
			log.Fatalf("%+v", err)
		}
	}

	run(sh, *hist)
}

func histName() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ila_history")
}

func run(sh *shell, hist string) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(complete)

	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = line.WriteHistory(f)
		}()
	}

	for {
		txt, err := line.Prompt("ila> ")
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				log.Printf("could not read command: %+v", err)
			}
			return
		}
		if strings.TrimSpace(txt) == "" {
			continue
		}
		line.AppendHistory(txt)

		quit, err := sh.exec(txt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		}
		if quit {
			return
		}
	}
}
