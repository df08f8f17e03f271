// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sample

import (
	"fmt"
	"math/big"

	"golang.org/x/xerrors"
)

// RangeError is returned when a value does not fit in its signal.
type RangeError struct {
	Signal string
	Width  int
	Value  *big.Int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("sample: value %v out of range for signal %q (width=%d)", e.Value, e.Signal, e.Width)
}

// Pack packs one value per signal into a new record.
// A nil value is packed as zero.
func (lay *Layout) Pack(vals []*big.Int) ([]byte, error) {
	return lay.AppendPack(make([]byte, 0, lay.Bytes()), vals)
}

// AppendPack packs one value per signal and appends the record to dst.
func (lay *Layout) AppendPack(dst []byte, vals []*big.Int) ([]byte, error) {
	if len(vals) != len(lay.sigs) {
		return dst, xerrors.Errorf("sample: invalid number of values (got=%d, want=%d)", len(vals), len(lay.sigs))
	}
	for i, v := range vals {
		if v == nil {
			continue
		}
		sig := lay.sigs[i]
		if v.Sign() < 0 || v.BitLen() > sig.Width {
			return dst, &RangeError{Signal: sig.Name, Width: sig.Width, Value: new(big.Int).Set(v)}
		}
	}

	n := len(dst)
	for i := 0; i < lay.Bytes(); i++ {
		dst = append(dst, 0)
	}

	w := bitWriter{p: dst[n:]}
	for i, v := range vals {
		w.writeInt(v, lay.sigs[i].Width)
	}
	return dst, nil
}

// PackUint64 packs one value per signal into a new record.
func (lay *Layout) PackUint64(vals ...uint64) ([]byte, error) {
	vs := make([]*big.Int, len(vals))
	for i, v := range vals {
		vs[i] = new(big.Int).SetUint64(v)
	}
	return lay.Pack(vs)
}

// Unpack extracts the value of each signal from the record.
func (lay *Layout) Unpack(rec []byte) ([]*big.Int, error) {
	if len(rec) != lay.Bytes() {
		return nil, xerrors.Errorf("sample: invalid record size (got=%d, want=%d)", len(rec), lay.Bytes())
	}
	var (
		r    = bitReader{p: rec}
		vals = make([]*big.Int, len(lay.sigs))
	)
	for i, sig := range lay.sigs {
		vals[i] = r.readInt(sig.Width)
	}
	return vals, nil
}

// UnpackUint64 extracts the value of each signal from the record.
// All signals must be at most 64 bits wide.
func (lay *Layout) UnpackUint64(rec []byte) ([]uint64, error) {
	vals, err := lay.Unpack(rec)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(vals))
	for i, v := range vals {
		if !v.IsUint64() {
			return nil, xerrors.Errorf("sample: signal %q does not fit in 64 bits", lay.sigs[i].Name)
		}
		out[i] = v.Uint64()
	}
	return out, nil
}

// bitWriter writes bit fields into a zeroed record, LSB first.
type bitWriter struct {
	p   []byte
	pos int
}

func (w *bitWriter) write8(v byte, n int) {
	for n > 0 {
		i, off := w.pos/8, w.pos%8
		k := 8 - off
		if k > n {
			k = n
		}
		mask := byte(uint(1)<<uint(k) - 1)
		w.p[i] |= (v & mask) << uint(off)
		v >>= uint(k)
		n -= k
		w.pos += k
	}
}

func (w *bitWriter) writeInt(v *big.Int, width int) {
	var raw []byte // big-endian
	if v != nil {
		raw = v.Bytes()
	}
	for j := 0; 8*j < width; j++ {
		var b byte
		if j < len(raw) {
			b = raw[len(raw)-1-j]
		}
		n := width - 8*j
		if n > 8 {
			n = 8
		}
		w.write8(b, n)
	}
}

// bitReader reads bit fields from a record, LSB first.
type bitReader struct {
	p   []byte
	pos int
}

func (r *bitReader) read8(n int) byte {
	var (
		v     byte
		shift = 0
	)
	for n > 0 {
		i, off := r.pos/8, r.pos%8
		k := 8 - off
		if k > n {
			k = n
		}
		mask := byte(uint(1)<<uint(k) - 1)
		v |= ((r.p[i] >> uint(off)) & mask) << uint(shift)
		shift += k
		n -= k
		r.pos += k
	}
	return v
}

func (r *bitReader) readInt(width int) *big.Int {
	raw := make([]byte, (width+7)/8) // big-endian
	for j := 0; 8*j < width; j++ {
		n := width - 8*j
		if n > 8 {
			n = 8
		}
		raw[len(raw)-1-j] = r.read8(n)
	}
	return new(big.Int).SetBytes(raw)
}
