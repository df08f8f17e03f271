// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vcd writes captured samples as a value change dump (IEEE 1364),
// readable by waveform viewers such as GTKWave.
package vcd // import "github.com/go-lpc/ila/vcd"

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/go-lpc/ila/sample"
)

var (
	// ErrEmpty is returned when the buffer holds no complete record.
	ErrEmpty = errors.New("vcd: no complete record to write")
)

const (
	// ClockName is the name of the injected sample clock.
	ClockName = "ila_clk"

	defaultScope   = "ila"
	defaultComment = "ILA capture"
	version        = "github.com/go-lpc/ila"
)

type config struct {
	scope   string
	comment string
	date    time.Time
	clock   bool
}

func newConfig() *config {
	return &config{
		scope:   defaultScope,
		comment: defaultComment,
	}
}

// Option configures the value change dump.
type Option func(*config)

// WithScope sets the name of the module scope holding the signals.
func WithScope(name string) Option {
	return func(cfg *config) {
		cfg.scope = name
	}
}

// WithComment sets the comment written in the header.
func WithComment(txt string) Option {
	return func(cfg *config) {
		cfg.comment = txt
	}
}

// WithDate writes the given date in the header.
func WithDate(t time.Time) Option {
	return func(cfg *config) {
		cfg.date = t
	}
}

// WithSampleClock injects a sample clock signal, rising on each sample
// and falling half a period later.
func WithSampleClock() Option {
	return func(cfg *config) {
		cfg.clock = true
	}
}

// Write writes the records of buf as a value change dump to w.
func Write(w io.Writer, buf *sample.Buffer, opts ...Option) error {
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if buf.Len() == 0 {
		return ErrEmpty
	}

	enc := newEncoder(w, buf, cfg)
	enc.header()
	err := enc.body()
	if err != nil {
		return err
	}
	if enc.err != nil {
		return fmt.Errorf("vcd: could not write value change dump: %w", enc.err)
	}
	err = enc.w.Flush()
	if err != nil {
		return fmt.Errorf("vcd: could not flush value change dump: %w", err)
	}
	return nil
}

type variable struct {
	id  string
	sig sample.Signal
}

type encoder struct {
	w   *bufio.Writer
	err error
	cfg *config
	buf *sample.Buffer

	unit  int64 // timescale, in picoseconds
	clkID string
	vars  []variable
}

func newEncoder(w io.Writer, buf *sample.Buffer, cfg *config) *encoder {
	enc := &encoder{
		w:   bufio.NewWriter(w),
		cfg: cfg,
		buf: buf,
	}

	step := buf.Period().Nanoseconds() * 1000
	if cfg.clock {
		step /= 2
	}
	enc.unit = timescale(step)

	n := 0
	if cfg.clock {
		enc.clkID = ident(n)
		n++
	}
	for _, sig := range buf.Layout().Signals() {
		enc.vars = append(enc.vars, variable{id: ident(n), sig: sig})
		n++
	}
	return enc
}

func (enc *encoder) printf(format string, args ...interface{}) {
	if enc.err != nil {
		return
	}
	_, enc.err = fmt.Fprintf(enc.w, format, args...)
}

func (enc *encoder) header() {
	if !enc.cfg.date.IsZero() {
		enc.printf("$date %s $end\n", enc.cfg.date.Format(time.RFC1123))
	}
	enc.printf("$version %s $end\n", version)
	if enc.cfg.comment != "" {
		enc.printf("$comment %s $end\n", enc.cfg.comment)
	}
	enc.printf("$timescale %s $end\n", unitName(enc.unit))
	enc.printf("$scope module %s $end\n", enc.cfg.scope)
	if enc.cfg.clock {
		enc.printf("$var wire 1 %s %s $end\n", enc.clkID, ClockName)
	}
	for _, v := range enc.vars {
		switch {
		case v.sig.Decoder != nil:
			enc.printf("$var string 1 %s %s $end\n", v.id, v.sig.Name)
		default:
			enc.printf("$var wire %d %s %s $end\n", v.sig.Width, v.id, v.sig.Name)
		}
	}
	enc.printf("$upscope $end\n")
	enc.printf("$enddefinitions $end\n")
}

func (enc *encoder) body() error {
	var (
		period = enc.buf.Period().Nanoseconds() * 1000 / enc.unit
		prev   []*big.Int
	)

	return enc.buf.Each(func(i int, _ time.Duration, vals []*big.Int) error {
		t := int64(i) * period
		switch {
		case i == 0:
			enc.printf("#0\n$dumpvars\n")
			if enc.cfg.clock {
				enc.printf("1%s\n", enc.clkID)
			}
			for j, v := range vals {
				enc.value(enc.vars[j], v)
			}
			enc.printf("$end\n")
		default:
			stamped := false
			if enc.cfg.clock {
				enc.printf("#%d\n1%s\n", t, enc.clkID)
				stamped = true
			}
			for j, v := range vals {
				if v.Cmp(prev[j]) == 0 {
					continue
				}
				if !stamped {
					enc.printf("#%d\n", t)
					stamped = true
				}
				enc.value(enc.vars[j], v)
			}
		}
		if enc.cfg.clock {
			enc.printf("#%d\n0%s\n", t+period/2, enc.clkID)
		}
		prev = vals
		return enc.err
	})
}

func (enc *encoder) value(v variable, val *big.Int) {
	switch {
	case v.sig.Decoder != nil:
		enc.printf("s%s %s\n", text(v.sig.Decoder(val)), v.id)
	case v.sig.Width == 1:
		enc.printf("%s%s\n", val.Text(2), v.id)
	default:
		enc.printf("b%s %s\n", val.Text(2), v.id)
	}
}

// text returns txt as a single VCD string token.
func text(txt string) string {
	if txt == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, txt)
}

var units = []struct {
	ps   int64
	name string
}{
	{1e12, "1 s"}, {1e11, "100 ms"}, {1e10, "10 ms"},
	{1e9, "1 ms"}, {1e8, "100 us"}, {1e7, "10 us"},
	{1e6, "1 us"}, {1e5, "100 ns"}, {1e4, "10 ns"},
	{1e3, "1 ns"}, {1e2, "100 ps"}, {1e1, "10 ps"},
	{1, "1 ps"},
}

// timescale returns the coarsest time unit, in picoseconds, dividing
// step.
func timescale(step int64) int64 {
	for _, u := range units {
		if step%u.ps == 0 {
			return u.ps
		}
	}
	return 1
}

func unitName(ps int64) string {
	for _, u := range units {
		if u.ps == ps {
			return u.name
		}
	}
	return "1 ps"
}

// ident returns the VCD short identifier of the i-th variable.
func ident(i int) string {
	const (
		first = '!'
		n     = '~' - '!' + 1
	)
	var id []byte
	for {
		id = append(id, byte(first+i%n))
		i /= n
		if i == 0 {
			break
		}
	}
	return string(id)
}
