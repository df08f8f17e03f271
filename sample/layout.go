// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sample describes the signals captured by an ILA and the
// fixed-width records holding one sample of all of them.
//
// Signals are packed in declaration order starting from the least
// significant bit of the record: bit k of a record is stored in byte k/8,
// at bit position k%8. Records are sent least significant byte first.
package sample // import "github.com/go-lpc/ila/sample"

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Signal describes one captured signal.
type Signal struct {
	Name  string // unique name of the signal
	Width int    // width of the signal, in bits

	// Decoder, if not nil, converts a raw value into a textual
	// representation (e.g. the name of an FSM state).
	Decoder func(v *big.Int) string
}

// Layout is the ordered list of signals making up a sample record.
type Layout struct {
	sigs []Signal
	offs []int // bit offset of each signal inside a record
	bits int
}

// NewLayout creates a new layout from the given signals, in bit order.
func NewLayout(sigs ...Signal) (*Layout, error) {
	if len(sigs) == 0 {
		return nil, xerrors.Errorf("sample: layout without signals")
	}

	var (
		lay = Layout{
			sigs: make([]Signal, len(sigs)),
			offs: make([]int, len(sigs)),
		}
		names = make(map[string]struct{}, len(sigs))
	)
	copy(lay.sigs, sigs)

	for i, sig := range sigs {
		if sig.Name == "" {
			return nil, xerrors.Errorf("sample: signal #%d has no name", i)
		}
		if _, dup := names[sig.Name]; dup {
			return nil, xerrors.Errorf("sample: duplicate signal name %q", sig.Name)
		}
		names[sig.Name] = struct{}{}
		if sig.Width < 1 {
			return nil, xerrors.Errorf("sample: invalid width %d for signal %q", sig.Width, sig.Name)
		}
		lay.offs[i] = lay.bits
		lay.bits += sig.Width
	}

	return &lay, nil
}

// ParseLayout parses a layout description of the form
// "name1:width1,name2:width2,...".
func ParseLayout(s string) (*Layout, error) {
	var sigs []Signal
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		i := strings.LastIndex(tok, ":")
		if i < 0 {
			return nil, fmt.Errorf("sample: invalid signal %q (want name:width)", tok)
		}
		w, err := strconv.Atoi(tok[i+1:])
		if err != nil {
			return nil, fmt.Errorf("sample: invalid width for signal %q: %w", tok[:i], err)
		}
		sigs = append(sigs, Signal{Name: tok[:i], Width: w})
	}
	return NewLayout(sigs...)
}

// Len returns the number of signals.
func (lay *Layout) Len() int { return len(lay.sigs) }

// Signals returns the signals of the layout.
func (lay *Layout) Signals() []Signal { return lay.sigs }

// Signal returns the i-th signal.
func (lay *Layout) Signal(i int) Signal { return lay.sigs[i] }

// Offset returns the bit offset of the i-th signal in a record.
func (lay *Layout) Offset(i int) int { return lay.offs[i] }

// Index returns the index of the named signal, or -1.
func (lay *Layout) Index(name string) int {
	for i, sig := range lay.sigs {
		if sig.Name == name {
			return i
		}
	}
	return -1
}

// Bits returns the number of bits of a record.
func (lay *Layout) Bits() int { return lay.bits }

// Bytes returns the number of bytes of a record.
func (lay *Layout) Bytes() int { return (lay.bits + 7) / 8 }

func (lay *Layout) String() string {
	o := new(strings.Builder)
	for i, sig := range lay.sigs {
		if i > 0 {
			o.WriteString(",")
		}
		fmt.Fprintf(o, "%s:%d", sig.Name, sig.Width)
	}
	return o.String()
}
