// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-lpc/ila/internal/fakedev"
	"github.com/go-lpc/ila/sample"
	"github.com/go-lpc/ila/transport/replay"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want Spec
		err  string
	}{
		{
			src:  "uart:/dev/ttyUSB0",
			want: Spec{Kind: "uart", Path: "/dev/ttyUSB0", Baud: 115200},
		},
		{
			src:  "uart:/dev/ttyUSB0@3000000",
			want: Spec{Kind: "uart", Path: "/dev/ttyUSB0", Baud: 3000000},
		},
		{
			src: "uart:/dev/ttyUSB0@fast",
			err: `source: invalid baud rate "fast"`,
		},
		{
			src: "uart:",
			err: `source: missing serial port in "uart:"`,
		},
		{
			src:  "usb",
			want: Spec{Kind: "usb", VID: 0x1d50, PID: 0x6190},
		},
		{
			src:  "usb:0403:6010:FT1234",
			want: Spec{Kind: "usb", VID: 0x0403, PID: 0x6010, Serial: "FT1234"},
		},
		{
			src: "usb:0403",
			err: `source: invalid USB identifier "0403"`,
		},
		{
			src:  "replay:capture.raw",
			want: Spec{Kind: "replay", Path: "capture.raw"},
		},
		{
			src: "replay",
			err: `source: missing recording in "replay"`,
		},
		{
			src:  "sim",
			want: Spec{Kind: "sim", N: DefaultSimRecords},
		},
		{
			src:  "sim:12",
			want: Spec{Kind: "sim", N: 12},
		},
		{
			src: "sim:-1",
			err: `source: invalid number of simulated records "-1"`,
		},
		{
			src: "tcp:localhost:8080",
			err: `source: unknown transport "tcp"`,
		},
	} {
		t.Run(tc.src, func(t *testing.T) {
			got, err := Parse(tc.src)
			switch {
			case err != nil && tc.err != "":
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
				return
			case err != nil:
				t.Fatalf("could not parse %q: %+v", tc.src, err)
			case tc.err != "":
				t.Fatalf("expected an error (%s)", tc.err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid spec:\ngot= %+v\nwant=%+v", got, tc.want)
			}
			if _, err := Parse(got.String()); err != nil {
				t.Fatalf("could not parse %q: %+v", got.String(), err)
			}
		})
	}
}

func TestSimulate(t *testing.T) {
	lay, err := sample.ParseLayout("a:3,b:5,c:70")
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}

	recs, err := Simulate(lay, 20)
	if err != nil {
		t.Fatalf("could not simulate: %+v", err)
	}
	if len(recs) != 20 {
		t.Fatalf("invalid number of records: %d", len(recs))
	}

	vals, err := lay.Unpack(recs[9])
	if err != nil {
		t.Fatalf("could not unpack: %+v", err)
	}
	for i, want := range []int64{9 % 8, 10, 11} {
		if got := vals[i].Int64(); got != want {
			t.Fatalf("signal %d: got=%d, want=%d", i, got, want)
		}
	}

	_, err = Simulate(nil, 1)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestOpen(t *testing.T) {
	lay, err := sample.ParseLayout("a:8")
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}

	tr, err := Open("sim:4", lay)
	if err != nil {
		t.Fatalf("could not open simulated device: %+v", err)
	}
	if _, ok := tr.(*fakedev.Device); !ok {
		t.Fatalf("invalid transport type %T", tr)
	}
	_ = tr.Close()

	fname := filepath.Join(t.TempDir(), "empty.raw")
	err = os.WriteFile(fname, nil, 0644)
	if err != nil {
		t.Fatalf("could not create recording: %+v", err)
	}
	tr, err = Open("replay:"+fname, lay)
	if err != nil {
		t.Fatalf("could not open recording: %+v", err)
	}
	if _, ok := tr.(*replay.Stream); !ok {
		t.Fatalf("invalid transport type %T", tr)
	}
	if !EOF(tr) || !EOF(replay.Record(tr, nil)) {
		t.Fatalf("empty recording should be consumed")
	}
	_ = tr.Close()

	_, err = Open("replay:"+filepath.Join(t.TempDir(), "missing.raw"), lay)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
