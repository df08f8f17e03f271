// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sample

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"golang.org/x/xerrors"
)

// maxPrealloc is the maximum number of bytes reserved up front for the
// records of a buffer.
const maxPrealloc = 1 << 20

var (
	// ErrSealed is returned when appending to a sealed buffer.
	ErrSealed = errors.New("sample: buffer is sealed")
)

// IncompleteRecordError is returned when a capture ends in the middle of
// a record. The incomplete bytes are never exposed as a record.
type IncompleteRecordError struct {
	Have int // number of bytes of the incomplete record
	Want int // size of a record, in bytes
}

func (e *IncompleteRecordError) Error() string {
	return fmt.Sprintf("sample: incomplete trailing record (got=%d bytes, want=%d)", e.Have, e.Want)
}

// Buffer holds the records of one capture, in acquisition order.
//
// A Buffer is filled by a single goroutine. Once sealed, it is immutable
// and may be read concurrently.
type Buffer struct {
	layout *Layout
	depth  int
	period time.Duration

	data     []byte // whole records
	carry    []byte // leading bytes of a record split across payloads
	overflow int    // records discarded because the buffer was full
	sealed   bool
}

// NewBuffer creates an empty capture buffer holding at most depth
// records, sampled every period.
func NewBuffer(layout *Layout, depth int, period time.Duration) (*Buffer, error) {
	if layout == nil {
		return nil, xerrors.Errorf("sample: nil layout")
	}
	if depth < 1 {
		return nil, xerrors.Errorf("sample: invalid buffer depth %d", depth)
	}
	if period <= 0 {
		return nil, xerrors.Errorf("sample: invalid sample period %v", period)
	}
	size := layout.Bytes()
	if depth > math.MaxInt/size {
		return nil, xerrors.Errorf("sample: buffer depth %d too large for %d-byte records", depth, size)
	}
	n := depth * size
	if n > maxPrealloc {
		n = maxPrealloc
	}
	return &Buffer{
		layout: layout,
		depth:  depth,
		period: period,
		data:   make([]byte, 0, n),
	}, nil
}

// PeriodOf returns the sample period corresponding to the given sample
// rate, in Hz, rounded to the nanosecond.
func PeriodOf(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(math.Round(1e9 / hz))
}

// Append appends the records held by the payload p.
//
// A record may be split across consecutive payloads: its leading bytes
// are carried over until the rest arrives. Records arriving once the
// buffer is full are discarded.
// Append returns the number of records added to the buffer.
func (buf *Buffer) Append(p []byte) (int, error) {
	if buf.sealed {
		return 0, ErrSealed
	}

	var (
		size = buf.layout.Bytes()
		n    = 0
	)
	if len(buf.carry) > 0 {
		k := size - len(buf.carry)
		if len(p) < k {
			buf.carry = append(buf.carry, p...)
			return 0, nil
		}
		buf.carry = append(buf.carry, p[:k]...)
		p = p[k:]
		if buf.push(buf.carry) {
			n++
		}
		buf.carry = buf.carry[:0]
	}

	for len(p) >= size {
		if buf.push(p[:size]) {
			n++
		}
		p = p[size:]
	}
	buf.carry = append(buf.carry, p...)

	return n, nil
}

func (buf *Buffer) push(rec []byte) bool {
	if buf.Full() {
		buf.overflow++
		return false
	}
	buf.data = append(buf.data, rec...)
	return true
}

// Drop discards the leading bytes of the record being received, and
// returns their number.
// Drop is called when payloads were lost: the bytes that follow do not
// continue the pending record.
func (buf *Buffer) Drop() int {
	n := len(buf.carry)
	buf.carry = buf.carry[:0]
	return n
}

// Seal marks the capture as complete.
// Seal discards the bytes of any incomplete trailing record, and reports
// them with an *IncompleteRecordError.
func (buf *Buffer) Seal() error {
	if buf.sealed {
		return nil
	}
	buf.sealed = true
	if n := len(buf.carry); n > 0 && !buf.Full() {
		buf.carry = nil
		return &IncompleteRecordError{Have: n, Want: buf.layout.Bytes()}
	}
	buf.carry = nil
	return nil
}

// Sealed reports whether the buffer has been sealed.
func (buf *Buffer) Sealed() bool { return buf.sealed }

// Layout returns the layout of the records.
func (buf *Buffer) Layout() *Layout { return buf.layout }

// Depth returns the maximum number of records of the buffer.
func (buf *Buffer) Depth() int { return buf.depth }

// Period returns the sample period.
func (buf *Buffer) Period() time.Duration { return buf.period }

// Len returns the number of complete records.
func (buf *Buffer) Len() int { return len(buf.data) / buf.layout.Bytes() }

// Full reports whether the buffer holds depth records.
func (buf *Buffer) Full() bool { return buf.Len() >= buf.depth }

// Pending returns the number of bytes of the record being received.
func (buf *Buffer) Pending() int { return len(buf.carry) }

// Overflow returns the number of records discarded because the buffer
// was full.
func (buf *Buffer) Overflow() int { return buf.overflow }

// Record returns the raw bytes of the i-th record.
func (buf *Buffer) Record(i int) []byte {
	size := buf.layout.Bytes()
	return buf.data[i*size : (i+1)*size : (i+1)*size]
}

// Values returns the value of each signal for the i-th record.
func (buf *Buffer) Values(i int) ([]*big.Int, error) {
	return buf.layout.Unpack(buf.Record(i))
}

// Time returns the timestamp of the i-th record, relative to the first one.
func (buf *Buffer) Time(i int) time.Duration {
	return time.Duration(i) * buf.period
}

// Each calls fn for each record, in order, with its timestamp and its
// decoded values. Each stops at the first error returned by fn.
func (buf *Buffer) Each(fn func(i int, ts time.Duration, vals []*big.Int) error) error {
	for i := 0; i < buf.Len(); i++ {
		vals, err := buf.Values(i)
		if err != nil {
			return fmt.Errorf("sample: could not decode record %d: %w", i, err)
		}
		err = fn(i, buf.Time(i), vals)
		if err != nil {
			return err
		}
	}
	return nil
}
