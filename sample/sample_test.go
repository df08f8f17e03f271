// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sample

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func TestNewLayout(t *testing.T) {
	for _, tc := range []struct {
		name string
		sigs []Signal
		err  string
	}{
		{
			name: "empty",
			err:  "sample: layout without signals",
		},
		{
			name: "zero-width",
			sigs: []Signal{{Name: "a", Width: 3}, {Name: "b", Width: 0}},
			err:  `sample: invalid width 0 for signal "b"`,
		},
		{
			name: "duplicate",
			sigs: []Signal{{Name: "a", Width: 3}, {Name: "a", Width: 1}},
			err:  `sample: duplicate signal name "a"`,
		},
		{
			name: "no-name",
			sigs: []Signal{{Name: "a", Width: 3}, {Width: 1}},
			err:  "sample: signal #1 has no name",
		},
		{
			name: "ok",
			sigs: []Signal{{Name: "a", Width: 3}, {Name: "b", Width: 5}, {Name: "c", Width: 9}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lay, err := NewLayout(tc.sigs...)
			switch {
			case err != nil && tc.err == "":
				t.Fatalf("could not create layout: %+v", err)
			case err != nil:
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
				return
			case tc.err != "":
				t.Fatalf("expected an error (%s)", tc.err)
			}

			if got, want := lay.Bits(), 17; got != want {
				t.Fatalf("invalid bits: got=%d, want=%d", got, want)
			}
			if got, want := lay.Bytes(), 3; got != want {
				t.Fatalf("invalid bytes: got=%d, want=%d", got, want)
			}
			if got, want := lay.Offset(2), 8; got != want {
				t.Fatalf("invalid offset: got=%d, want=%d", got, want)
			}
			if got, want := lay.Index("b"), 1; got != want {
				t.Fatalf("invalid index: got=%d, want=%d", got, want)
			}
			if got, want := lay.Index("z"), -1; got != want {
				t.Fatalf("invalid index: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestParseLayout(t *testing.T) {
	lay, err := ParseLayout("clk:1, data:37,state:3")
	if err != nil {
		t.Fatalf("could not parse layout: %+v", err)
	}
	if got, want := lay.String(), "clk:1,data:37,state:3"; got != want {
		t.Fatalf("invalid layout: got=%q, want=%q", got, want)
	}

	for _, tc := range []struct {
		s   string
		err string
	}{
		{"a", `sample: invalid signal "a" (want name:width)`},
		{"a:x", `sample: invalid width for signal "a": strconv.Atoi: parsing "x": invalid syntax`},
		{"", "sample: layout without signals"},
	} {
		_, err := ParseLayout(tc.s)
		if err == nil {
			t.Fatalf("%q: expected an error", tc.s)
		}
		if got, want := err.Error(), tc.err; got != want {
			t.Fatalf("%q: invalid error:\ngot= %s\nwant=%s", tc.s, got, want)
		}
	}
}

func TestPackBitOrder(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "a", Width: 3}, Signal{Name: "b", Width: 5})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}

	rec, err := lay.PackUint64(5, 20)
	if err != nil {
		t.Fatalf("could not pack: %+v", err)
	}
	if got, want := rec, []byte{0xa5}; !bytes.Equal(got, want) {
		t.Fatalf("invalid record: got=%x, want=%x", got, want)
	}

	vals, err := lay.UnpackUint64(rec)
	if err != nil {
		t.Fatalf("could not unpack: %+v", err)
	}
	if got, want := vals, []uint64{5, 20}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid values: got=%v, want=%v", got, want)
	}
}

func TestPackLittleEndian(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "lo", Width: 4}, Signal{Name: "mid", Width: 16}, Signal{Name: "hi", Width: 1})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	rec, err := lay.PackUint64(0x1, 0xabcd, 1)
	if err != nil {
		t.Fatalf("could not pack: %+v", err)
	}
	// 1 | 0xabcd<<4 | 1<<20 = 0x1abcd1
	if got, want := rec, []byte{0xd1, 0xbc, 0x1a}; !bytes.Equal(got, want) {
		t.Fatalf("invalid record: got=%x, want=%x", got, want)
	}
}

func TestPackRoundTrip(t *testing.T) {
	var (
		rnd  = rand.New(rand.NewSource(1))
		sigs = []Signal{
			{Name: "a", Width: 3},
			{Name: "b", Width: 37},
			{Name: "c", Width: 1},
			{Name: "d", Width: 130},
			{Name: "e", Width: 8},
			{Name: "f", Width: 64},
		}
	)
	lay, err := NewLayout(sigs...)
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	if got, want := lay.Bytes(), (3+37+1+130+8+64+7)/8; got != want {
		t.Fatalf("invalid record size: got=%d, want=%d", got, want)
	}

	for i := 0; i < 500; i++ {
		vals := make([]*big.Int, len(sigs))
		for j, sig := range sigs {
			max := new(big.Int).Lsh(big.NewInt(1), uint(sig.Width))
			vals[j] = new(big.Int).Rand(rnd, max)
		}
		if i == 0 {
			// all ones.
			for j, sig := range sigs {
				one := big.NewInt(1)
				vals[j] = new(big.Int).Sub(new(big.Int).Lsh(one, uint(sig.Width)), one)
			}
		}

		rec, err := lay.Pack(vals)
		if err != nil {
			t.Fatalf("could not pack: %+v", err)
		}
		if len(rec) != lay.Bytes() {
			t.Fatalf("invalid record size: %d", len(rec))
		}
		got, err := lay.Unpack(rec)
		if err != nil {
			t.Fatalf("could not unpack: %+v", err)
		}
		for j := range vals {
			if got[j].Cmp(vals[j]) != 0 {
				t.Fatalf("iter %d: signal %q: got=%v, want=%v", i, sigs[j].Name, got[j], vals[j])
			}
		}
	}
}

func TestPackRange(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "a", Width: 3}, Signal{Name: "b", Width: 5})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}

	for _, tc := range []struct {
		vals []*big.Int
		err  string
	}{
		{
			vals: []*big.Int{big.NewInt(8), big.NewInt(0)},
			err:  `sample: value 8 out of range for signal "a" (width=3)`,
		},
		{
			vals: []*big.Int{big.NewInt(1), big.NewInt(32)},
			err:  `sample: value 32 out of range for signal "b" (width=5)`,
		},
		{
			vals: []*big.Int{big.NewInt(-1), big.NewInt(0)},
			err:  `sample: value -1 out of range for signal "a" (width=3)`,
		},
		{
			vals: []*big.Int{big.NewInt(1)},
			err:  "sample: invalid number of values (got=1, want=2)",
		},
	} {
		_, err := lay.Pack(tc.vals)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if got, want := err.Error(), tc.err; got != want {
			t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
		}
	}

	_, err = lay.Pack([]*big.Int{big.NewInt(8), nil})
	var rerr *RangeError
	if !errors.As(err, &rerr) {
		t.Fatalf("invalid error type: %T", err)
	}
	if rerr.Signal != "a" || rerr.Width != 3 {
		t.Fatalf("invalid range error: %+v", rerr)
	}

	_, err = lay.Unpack([]byte{1, 2})
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestBuffer(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "a", Width: 12}, Signal{Name: "b", Width: 4})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	buf, err := NewBuffer(lay, 4, 10*time.Nanosecond)
	if err != nil {
		t.Fatalf("could not create buffer: %+v", err)
	}

	var stream []byte
	for i := 0; i < 6; i++ {
		rec, err := lay.PackUint64(uint64(0x100+i), uint64(i))
		if err != nil {
			t.Fatalf("could not pack: %+v", err)
		}
		stream = append(stream, rec...)
	}

	// records split across payloads.
	for _, tc := range []struct {
		p       []byte
		n       int
		pending int
	}{
		{stream[0:1], 0, 1},
		{stream[1:5], 2, 1},
		{stream[5:6], 1, 0},
		{stream[6:7], 0, 1},
		{stream[7:12], 1, 0},
	} {
		n, err := buf.Append(tc.p)
		if err != nil {
			t.Fatalf("could not append: %+v", err)
		}
		if n != tc.n {
			t.Fatalf("invalid number of records: got=%d, want=%d", n, tc.n)
		}
		if got, want := buf.Pending(), tc.pending; got != want {
			t.Fatalf("invalid pending bytes: got=%d, want=%d", got, want)
		}
	}

	if !buf.Full() {
		t.Fatalf("buffer should be full")
	}
	if got, want := buf.Len(), 4; got != want {
		t.Fatalf("invalid length: got=%d, want=%d", got, want)
	}
	if got, want := buf.Overflow(), 2; got != want {
		t.Fatalf("invalid overflow: got=%d, want=%d", got, want)
	}
	if got, want := buf.Time(3), 30*time.Nanosecond; got != want {
		t.Fatalf("invalid timestamp: got=%v, want=%v", got, want)
	}

	err = buf.Seal()
	if err != nil {
		t.Fatalf("could not seal: %+v", err)
	}
	if _, err := buf.Append(stream[:2]); !errors.Is(err, ErrSealed) {
		t.Fatalf("invalid error: %+v", err)
	}

	traces, err := buf.Traces()
	if err != nil {
		t.Fatalf("could not build traces: %+v", err)
	}
	if len(traces) != 2 {
		t.Fatalf("invalid number of traces: %d", len(traces))
	}
	for i, p := range traces[0].Points {
		if p.Index != i {
			t.Fatalf("invalid ordering: got=%d, want=%d", p.Index, i)
		}
		if got, want := p.Value.Uint64(), uint64(0x100+i); got != want {
			t.Fatalf("invalid value: got=%d, want=%d", got, want)
		}
		if got, want := p.Time, time.Duration(i)*10*time.Nanosecond; got != want {
			t.Fatalf("invalid time: got=%v, want=%v", got, want)
		}
	}
	if got, want := traces[1].Points[3].Value.Uint64(), uint64(3); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}
}

func TestBufferIncomplete(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "a", Width: 16})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	buf, err := NewBuffer(lay, 8, time.Microsecond)
	if err != nil {
		t.Fatalf("could not create buffer: %+v", err)
	}
	_, err = buf.Append([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("could not append: %+v", err)
	}

	err = buf.Seal()
	var ierr *IncompleteRecordError
	if !errors.As(err, &ierr) {
		t.Fatalf("invalid error: %+v", err)
	}
	if ierr.Have != 1 || ierr.Want != 2 {
		t.Fatalf("invalid error: %+v", ierr)
	}
	if got, want := buf.Len(), 1; got != want {
		t.Fatalf("invalid length: got=%d, want=%d", got, want)
	}
	if got := buf.Pending(); got != 0 {
		t.Fatalf("incomplete record should be dropped")
	}
	if err := buf.Seal(); err != nil {
		t.Fatalf("sealing twice should be a no-op: %+v", err)
	}
}

func TestBufferLarge(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "a", Width: 64})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	const depth = math.MaxInt / 8
	buf, err := NewBuffer(lay, depth, time.Nanosecond)
	if err != nil {
		t.Fatalf("could not create buffer: %+v", err)
	}
	if got := cap(buf.data); got > maxPrealloc {
		t.Fatalf("invalid preallocation: got=%d, want<=%d", got, maxPrealloc)
	}

	raw := make([]byte, 2*maxPrealloc)
	n, err := buf.Append(raw)
	if err != nil {
		t.Fatalf("could not append: %+v", err)
	}
	if got, want := n, len(raw)/8; got != want {
		t.Fatalf("invalid number of records: got=%d, want=%d", got, want)
	}
	if got, want := buf.Len(), len(raw)/8; got != want {
		t.Fatalf("invalid length: got=%d, want=%d", got, want)
	}
	if buf.Full() {
		t.Fatalf("buffer should not be full")
	}
}

func TestBufferDrop(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "a", Width: 24})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	buf, err := NewBuffer(lay, 8, time.Nanosecond)
	if err != nil {
		t.Fatalf("could not create buffer: %+v", err)
	}

	_, err = buf.Append([]byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("could not append: %+v", err)
	}
	if got, want := buf.Drop(), 1; got != want {
		t.Fatalf("invalid number of dropped bytes: got=%d, want=%d", got, want)
	}
	if got := buf.Drop(); got != 0 {
		t.Fatalf("invalid number of dropped bytes: got=%d, want=0", got)
	}

	_, err = buf.Append([]byte{7, 8, 9})
	if err != nil {
		t.Fatalf("could not append: %+v", err)
	}
	if got, want := buf.Len(), 2; got != want {
		t.Fatalf("invalid length: got=%d, want=%d", got, want)
	}
	if got, want := buf.Record(1), []byte{7, 8, 9}; !bytes.Equal(got, want) {
		t.Fatalf("invalid record: got=%x, want=%x", got, want)
	}
	if err := buf.Seal(); err != nil {
		t.Fatalf("could not seal: %+v", err)
	}
}

func TestNewBufferInvalid(t *testing.T) {
	lay, err := NewLayout(Signal{Name: "a", Width: 1})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	wide, err := NewLayout(Signal{Name: "a", Width: 64})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	for _, tc := range []struct {
		lay    *Layout
		depth  int
		period time.Duration
		err    string
	}{
		{nil, 1, 1, "sample: nil layout"},
		{lay, 0, 1, "sample: invalid buffer depth 0"},
		{lay, 1, 0, "sample: invalid sample period 0s"},
		{
			wide, math.MaxInt / 4, 1,
			fmt.Sprintf("sample: buffer depth %d too large for 8-byte records", math.MaxInt/4),
		},
	} {
		_, err := NewBuffer(tc.lay, tc.depth, tc.period)
		if err == nil || err.Error() != tc.err {
			t.Fatalf("invalid error: got=%v, want=%s", err, tc.err)
		}
	}
}

func TestPeriodOf(t *testing.T) {
	for _, tc := range []struct {
		hz   float64
		want time.Duration
	}{
		{100e6, 10 * time.Nanosecond},
		{60e6, 17 * time.Nanosecond},
		{1, time.Second},
		{0, 0},
	} {
		if got := PeriodOf(tc.hz); got != tc.want {
			t.Fatalf("%v Hz: got=%v, want=%v", tc.hz, got, tc.want)
		}
	}
}
