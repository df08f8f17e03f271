// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rcobs

import (
	"bytes"
	"fmt"
)

// DefaultMaxFrame is the default maximum size of an encoded frame
// accepted by a Decoder.
const DefaultMaxFrame = 1 << 20

// FramingError describes a malformed frame.
type FramingError struct {
	Offset int    // offset of the offending byte in the frame
	Reason string // description of the corruption
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("rcobs: invalid frame at byte %d: %s", e.Offset, e.Reason)
}

// Decode decodes the frame, without its trailing delimiter, and returns
// the payload it holds.
func Decode(frame []byte) ([]byte, error) {
	n := len(frame)
	switch {
	case n == 0:
		return nil, &FramingError{Offset: 0, Reason: "empty frame"}
	case frame[n-1] == skip:
		return nil, &FramingError{Offset: n - 1, Reason: "frame ends without a terminating marker"}
	}
	if i := bytes.IndexByte(frame, Delimiter); i >= 0 {
		return nil, &FramingError{Offset: i, Reason: "unexpected delimiter inside frame"}
	}

	// markers are walked from the end of the frame.
	// res[ri:] holds the decoded tail of the payload, followed by the
	// virtual zero of the last marker.
	var (
		res = make([]byte, n)
		ri  = n
		di  = n
	)
	for di > 0 {
		m := int(frame[di-1])
		if di < m {
			return nil, &FramingError{
				Offset: di - 1,
				Reason: fmt.Sprintf("marker 0x%02x points before start of frame", m),
			}
		}
		if m != skip {
			ri-- // res[ri] = 0
		}
		copy(res[ri-(m-1):ri], frame[di-m:di-1])
		ri -= m - 1
		di -= m
	}

	return res[ri : n-1], nil
}

// Decoder splits a byte stream into frames and decodes them.
//
// Corrupted frames are reported and skipped: decoding resumes after the
// next delimiter. Frames larger than the maximum frame size are discarded
// up to the next delimiter.
type Decoder struct {
	max     int
	buf     []byte // encoded bytes of the frame being received
	discard bool   // dropping an oversized frame

	frames  int
	dropped int
}

// NewDecoder returns a new stream decoder accepting encoded frames of at
// most max bytes (delimiter excluded).
// A non-positive max selects DefaultMaxFrame.
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &Decoder{max: max}
}

// Feed consumes the stream bytes in p.
//
// fn is called, in stream order, once per complete frame: with the
// decoded payload, or with a *FramingError when the frame was dropped.
// Zero-length frames (consecutive delimiters) are idle fill and are
// silently skipped.
// If fn returns an error, Feed stops and returns it; the bytes of p not
// yet consumed are lost.
func (dec *Decoder) Feed(p []byte, fn func(payload []byte, err error) error) error {
	for len(p) > 0 {
		i := bytes.IndexByte(p, Delimiter)
		if i < 0 {
			dec.accumulate(p)
			return nil
		}
		dec.accumulate(p[:i])
		p = p[i+1:]

		err := dec.frame(fn)
		if err != nil {
			return err
		}
	}
	return nil
}

func (dec *Decoder) accumulate(p []byte) {
	if dec.discard {
		return
	}
	if len(dec.buf)+len(p) > dec.max {
		dec.discard = true
		dec.buf = dec.buf[:0]
		return
	}
	dec.buf = append(dec.buf, p...)
}

func (dec *Decoder) frame(fn func(payload []byte, err error) error) error {
	if dec.discard {
		dec.discard = false
		dec.dropped++
		return fn(nil, &FramingError{
			Offset: dec.max,
			Reason: fmt.Sprintf("frame exceeds maximum size (%d bytes)", dec.max),
		})
	}
	if len(dec.buf) == 0 {
		return nil
	}

	payload, err := Decode(dec.buf)
	dec.buf = dec.buf[:0]
	if err != nil {
		dec.dropped++
		return fn(nil, err)
	}
	dec.frames++
	return fn(payload, nil)
}

// InFrame reports whether the decoder holds the beginning of a frame
// whose delimiter has not been received yet.
func (dec *Decoder) InFrame() bool {
	return dec.discard || len(dec.buf) > 0
}

// Pending returns the number of buffered bytes of the frame being received.
func (dec *Decoder) Pending() int {
	return len(dec.buf)
}

// Reset discards any partially received frame.
func (dec *Decoder) Reset() {
	dec.buf = dec.buf[:0]
	dec.discard = false
}

// Frames returns the number of successfully decoded frames.
func (dec *Decoder) Frames() int { return dec.frames }

// Dropped returns the number of frames dropped because of corruption.
func (dec *Decoder) Dropped() int { return dec.dropped }
