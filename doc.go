// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ila holds the host side of an integrated logic analyzer (ILA):
// the backhaul protocol that brings captured samples from the gateware
// to the host and turns them into waveforms.
//
// The sub-packages are:
//   - sample: signal layouts, bit-packed records and capture buffers,
//   - rcobs: the reverse-COBS framing codec used on the wire,
//   - backhaul: the command/session state machine driving a capture,
//   - vcd: the value-change dump emitter,
//   - transport/...: UART, USB and replay byte transports.
package ila // import "github.com/go-lpc/ila"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of ila and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/ila"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
