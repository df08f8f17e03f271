// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package source opens backhaul transports from textual descriptions.
//
// The supported descriptions are:
//
//	uart:/dev/ttyUSB0[@115200]      serial link, optional baud rate
//	usb[:1d50:6190[:serial]]        USB bulk endpoints
//	replay:capture.raw              recorded byte stream
//	sim[:4096]                      simulated device, optional number of records
package source // import "github.com/go-lpc/ila/internal/source"

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/go-lpc/ila/backhaul"
	"github.com/go-lpc/ila/internal/fakedev"
	"github.com/go-lpc/ila/sample"
	"github.com/go-lpc/ila/transport/replay"
	"github.com/go-lpc/ila/transport/uart"
	"github.com/go-lpc/ila/transport/usb"
	"golang.org/x/xerrors"
)

// DefaultSimRecords is the number of records held by a simulated device.
const DefaultSimRecords = 4096

// Spec is a parsed transport description.
type Spec struct {
	Kind   string // uart, usb, replay or sim
	Path   string // device node or recording
	Baud   int
	VID    uint16
	PID    uint16
	Serial string
	N      int // number of simulated records
}

func (spec Spec) String() string {
	switch spec.Kind {
	case "uart":
		return fmt.Sprintf("uart:%s@%d", spec.Path, spec.Baud)
	case "usb":
		s := fmt.Sprintf("usb:%04x:%04x", spec.VID, spec.PID)
		if spec.Serial != "" {
			s += ":" + spec.Serial
		}
		return s
	case "replay":
		return "replay:" + spec.Path
	case "sim":
		return "sim:" + strconv.Itoa(spec.N)
	}
	return spec.Kind
}

// Parse parses a transport description.
func Parse(s string) (Spec, error) {
	kind, arg, _ := strings.Cut(s, ":")
	switch kind {
	case "uart":
		spec := Spec{Kind: kind, Baud: uart.DefaultBaudRate}
		path, baud, ok := strings.Cut(arg, "@")
		if ok {
			v, err := strconv.Atoi(baud)
			if err != nil || v <= 0 {
				return Spec{}, xerrors.Errorf("source: invalid baud rate %q", baud)
			}
			spec.Baud = v
		}
		if path == "" {
			return Spec{}, xerrors.Errorf("source: missing serial port in %q", s)
		}
		spec.Path = path
		return spec, nil

	case "usb":
		spec := Spec{Kind: kind, VID: usb.DefaultVID, PID: usb.DefaultPID}
		if arg == "" {
			return spec, nil
		}
		toks := strings.SplitN(arg, ":", 3)
		if len(toks) < 2 {
			return Spec{}, xerrors.Errorf("source: invalid USB identifier %q", arg)
		}
		vid, err := strconv.ParseUint(toks[0], 16, 16)
		if err != nil {
			return Spec{}, xerrors.Errorf("source: invalid USB vendor ID %q: %w", toks[0], err)
		}
		pid, err := strconv.ParseUint(toks[1], 16, 16)
		if err != nil {
			return Spec{}, xerrors.Errorf("source: invalid USB product ID %q: %w", toks[1], err)
		}
		spec.VID = uint16(vid)
		spec.PID = uint16(pid)
		if len(toks) == 3 {
			spec.Serial = toks[2]
		}
		return spec, nil

	case "replay":
		if arg == "" {
			return Spec{}, xerrors.Errorf("source: missing recording in %q", s)
		}
		return Spec{Kind: kind, Path: arg}, nil

	case "sim":
		spec := Spec{Kind: kind, N: DefaultSimRecords}
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return Spec{}, xerrors.Errorf("source: invalid number of simulated records %q", arg)
			}
			spec.N = n
		}
		return spec, nil
	}
	return Spec{}, xerrors.Errorf("source: unknown transport %q", kind)
}

// Open opens the transport described by s.
// The layout is used to generate the records of simulated devices.
func Open(s string, lay *sample.Layout) (backhaul.Transport, error) {
	spec, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return spec.Open(lay)
}

// Open opens the transport.
func (spec Spec) Open(lay *sample.Layout) (backhaul.Transport, error) {
	switch spec.Kind {
	case "uart":
		p, err := uart.Open(spec.Path, uart.WithBaudRate(spec.Baud))
		if err != nil {
			return nil, err
		}
		return p, nil
	case "usb":
		opts := []usb.Option{usb.WithID(spec.VID, spec.PID)}
		if spec.Serial != "" {
			opts = append(opts, usb.WithSerial(spec.Serial))
		}
		dev, err := usb.Open(opts...)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "replay":
		s, err := replay.Open(spec.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sim":
		recs, err := Simulate(lay, spec.N)
		if err != nil {
			return nil, err
		}
		return fakedev.New(recs), nil
	}
	return nil, xerrors.Errorf("source: unknown transport %q", spec.Kind)
}

// Simulate returns n records where each signal counts up, the i-th
// signal starting at i.
func Simulate(lay *sample.Layout, n int) ([][]byte, error) {
	if lay == nil {
		return nil, xerrors.Errorf("source: simulation requires a layout")
	}

	var (
		one   = big.NewInt(1)
		masks = make([]*big.Int, lay.Len())
		recs  = make([][]byte, n)
		vals  = make([]*big.Int, lay.Len())
	)
	for i, sig := range lay.Signals() {
		masks[i] = new(big.Int).Sub(new(big.Int).Lsh(one, uint(sig.Width)), one)
		vals[i] = new(big.Int)
	}
	for i := range recs {
		for j := range vals {
			vals[j].SetInt64(int64(i + j))
			vals[j].And(vals[j], masks[j])
		}
		rec, err := lay.Pack(vals)
		if err != nil {
			return nil, xerrors.Errorf("source: could not pack record %d: %w", i, err)
		}
		recs[i] = rec
	}
	return recs, nil
}

// Discoverers returns the discoverers of all the hardware transports.
func Discoverers() []backhaul.Discoverer {
	return []backhaul.Discoverer{
		uart.Discoverer{},
		usb.Discoverer{},
	}
}

// EOF reports whether t is a finite stream that has been fully consumed.
func EOF(t backhaul.Transport) bool {
	if t, ok := t.(interface{ EOF() bool }); ok {
		return t.EOF()
	}
	return false
}
