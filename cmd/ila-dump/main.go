// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ila-dump captures samples from one or more ILAs and writes them as
// value change dumps.
//
// Usage: ila-dump [OPTIONS] -signals=SIGNALS -src=SOURCE [-src=SOURCE2 ...]
//
// Example:
//
//	$> ila-dump -signals=valid:1,data:8 -src=uart:/dev/ttyUSB0@3000000 -o capture.vcd
//	uart:/dev/ttyUSB0@3000000: 1024 records (frames=64, lost=0, overflow=12)
//
//	$> ila-dump -list
//	uart:/dev/ttyUSB0 [0403:6010] serial=FT1234 (Dual RS232-HS)
//	usb:1:4 [1d50:6190]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-lpc/ila/backhaul"
	"github.com/go-lpc/ila/internal/source"
	"github.com/go-lpc/ila/sample"
	"github.com/go-lpc/ila/transport/replay"
	"github.com/go-lpc/ila/vcd"
	"golang.org/x/sync/errgroup"
)

type sources []string

func (srcs *sources) String() string { return strings.Join(*srcs, ",") }
func (srcs *sources) Set(v string) error {
	*srcs = append(*srcs, v)
	return nil
}

type config struct {
	srcs    []string
	signals string
	depth   int
	rate    float64
	timeout time.Duration
	dur     time.Duration
	oname   string
	record  string
	clock   bool
	verbose bool
}

func main() {
	log.SetPrefix("ila-dump: ")
	log.SetFlags(0)

	var (
		cfg  config
		srcs sources
		list = flag.Bool("list", false, "list connected devices and exit")
	)

	flag.Var(&srcs, "src", "device to capture from (uart:PORT[@BAUD], usb[:VID:PID[:SERIAL]], replay:FILE, sim[:N])")
	flag.StringVar(&cfg.signals, "signals", "", "comma-separated list of name:width signals")
	flag.IntVar(&cfg.depth, "depth", 1024, "maximum number of records to capture")
	flag.Float64Var(&cfg.rate, "rate", 0, "sample rate in Hz (default: 1 sample per ns)")
	flag.DurationVar(&cfg.timeout, "timeout", 2*time.Second, "timeout waiting for the first frame")
	flag.DurationVar(&cfg.dur, "d", 0, "maximum duration of the capture (default: until the capture is complete)")
	flag.StringVar(&cfg.oname, "o", "out.vcd", "path to output VCD file")
	flag.StringVar(&cfg.record, "record", "", "path to a file recording the raw byte stream")
	flag.BoolVar(&cfg.clock, "clk", false, "add the sample clock to the VCD file")
	flag.BoolVar(&cfg.verbose, "v", false, "enable verbose mode")

	flag.Usage = func() {
		fmt.Printf(`ila-dump captures samples from one or more ILAs and writes them as
value change dumps.

Usage: ila-dump [OPTIONS] -signals=SIGNALS -src=SOURCE [-src=SOURCE2 ...]

Example:

 $> ila-dump -signals=valid:1,data:8 -src=uart:/dev/ttyUSB0@3000000 -o capture.vcd
 $> ila-dump -list

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *list {
		err := xlist(os.Stdout, source.Discoverers()...)
		if err != nil {
			log.Fatalf("could not list devices: %+v", err)
		}
		return
	}

	cfg.srcs = srcs
	if len(cfg.srcs) == 0 || cfg.signals == "" {
		flag.Usage()
		log.Fatalf("missing device or signals")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := process(ctx, os.Stdout, cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func xlist(w io.Writer, ds ...backhaul.Discoverer) error {
	devs, err := backhaul.Enumerate(ds...)
	if err != nil {
		return err
	}
	for _, dev := range devs {
		fmt.Fprintf(w, "%v\n", dev)
	}
	return nil
}

func process(ctx context.Context, w io.Writer, cfg config) error {
	lay, err := sample.ParseLayout(cfg.signals)
	if err != nil {
		return fmt.Errorf("could not parse signals: %w", err)
	}

	var (
		grp, gctx = errgroup.WithContext(ctx)
		msgs      = make([]string, len(cfg.srcs))
	)
	for i := range cfg.srcs {
		var (
			i      = i
			src    = cfg.srcs[i]
			oname  = outName(cfg.oname, i, len(cfg.srcs))
			record = ""
		)
		if cfg.record != "" {
			record = outName(cfg.record, i, len(cfg.srcs))
		}
		grp.Go(func() error {
			msg, err := capture(gctx, src, lay, cfg, oname, record)
			if err != nil {
				return fmt.Errorf("could not capture from %q: %w", src, err)
			}
			msgs[i] = msg
			return nil
		})
	}

	err = grp.Wait()
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		fmt.Fprintf(w, "%s\n", msg)
	}
	return nil
}

// outName returns the name of the i-th output file out of n.
func outName(fname string, i, n int) string {
	if n < 2 {
		return fname
	}
	ext := filepath.Ext(fname)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(fname, ext), i, ext)
}

func capture(ctx context.Context, src string, lay *sample.Layout, cfg config, oname, record string) (string, error) {
	tr, err := source.Open(src, lay)
	if err != nil {
		return "", fmt.Errorf("could not open device: %w", err)
	}

	if record != "" {
		f, err := os.Create(record)
		if err != nil {
			_ = tr.Close()
			return "", fmt.Errorf("could not create raw stream file: %w", err)
		}
		defer f.Close()
		tr = replay.Record(tr, f)
	}

	msg := log.New(io.Discard, "", 0)
	if cfg.verbose {
		msg = log.New(os.Stderr, "ila-dump: "+src+": ", 0)
	}

	opts := []backhaul.Option{
		backhaul.WithDepth(cfg.depth),
		backhaul.WithTimeout(cfg.timeout),
		backhaul.WithLogger(msg),
	}
	if cfg.rate > 0 {
		opts = append(opts, backhaul.WithSampleRate(cfg.rate))
	}

	sess, err := backhaul.New(tr, lay, opts...)
	if err != nil {
		_ = tr.Close()
		return "", fmt.Errorf("could not create session: %w", err)
	}
	defer sess.Close()

	err = sess.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("could not start capture: %w", err)
	}

	var deadline <-chan time.Time
	if cfg.dur > 0 {
		tck := time.NewTimer(cfg.dur)
		defer tck.Stop()
		deadline = tck.C
	}

loop:
	for sess.State() != backhaul.Stopped {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		default:
		}
		if source.EOF(tr) {
			break loop
		}
		err = sess.Update()
		if err != nil {
			var ierr *sample.IncompleteRecordError
			if !errors.As(err, &ierr) {
				return "", fmt.Errorf("could not capture samples: %w", err)
			}
		}
	}

	err = sess.Stop()
	if err != nil {
		var ierr *sample.IncompleteRecordError
		if !errors.As(err, &ierr) {
			return "", fmt.Errorf("could not stop capture: %w", err)
		}
		log.Printf("%s: %+v", src, err)
	}

	err = writeVCD(oname, sess, cfg.clock)
	if err != nil {
		return "", err
	}

	st := sess.Stats()
	return fmt.Sprintf("%s: %d records (frames=%d, lost=%d, overflow=%d)",
		src, sess.Buffer().Len(), st.Frames, st.LostFrames, st.Overflow,
	), nil
}

func writeVCD(oname string, sess *backhaul.Session, clock bool) error {
	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create VCD file: %w", err)
	}
	defer f.Close()

	opts := []vcd.Option{vcd.WithDate(time.Now().UTC())}
	if clock {
		opts = append(opts, vcd.WithSampleClock())
	}

	err = sess.WriteVCD(f, opts...)
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close VCD file: %w", err)
	}
	return nil
}
