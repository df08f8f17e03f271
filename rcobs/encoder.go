// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rcobs implements the reverse consistent-overhead byte stuffing
// (rCOBS) framing used on the ILA backhaul.
//
// rCOBS removes every 0x00 byte from a payload so that 0x00 can delimit
// frames on the wire. Unlike COBS, each marker refers backwards to the
// literal bytes preceding it, so the encoder never has to buffer data
// ahead of a zero: it can be driven one byte at a time by the producer.
//
// An encoded frame is a sequence of literal runs, each closed by a marker
// byte m. A marker m != 0xff stands for a zero byte preceded by m-1
// literal bytes. The marker 0xff stands for 254 literal bytes and no zero.
// The last marker of a frame stands for a virtual trailing zero which is
// not part of the payload. The frame is then terminated by a 0x00
// delimiter.
package rcobs // import "github.com/go-lpc/ila/rcobs"

import (
	"fmt"
	"io"
)

const (
	// Delimiter is the byte terminating every frame on the wire.
	Delimiter = 0x00

	maxRun = 254  // number of literal bytes covered by a skip marker
	skip   = 0xff // marker for a full run without a zero byte
)

// State is the state of the rCOBS encoder: the number of literal bytes
// emitted since the last marker.
//
// The zero value is the state at the beginning of a frame.
type State struct {
	run uint8
}

// Run returns the number of literal bytes emitted since the last marker.
func (s State) Run() int { return int(s.run) }

// Next consumes one payload byte and returns the next encoder state,
// together with the n (1 or 2) encoded bytes it finalizes.
func (s State) Next(b byte) (next State, out [2]byte, n int) {
	if b == 0 {
		out[0] = s.run + 1
		return State{}, out, 1
	}
	out[0] = b
	s.run++
	if s.run == maxRun {
		out[1] = skip
		return State{}, out, 2
	}
	return s, out, 1
}

// Finish returns the closing marker of the frame followed by the
// frame delimiter.
func (s State) Finish() [2]byte {
	return [2]byte{s.run + 1, Delimiter}
}

// Append encodes p, appends the encoded bytes to dst and returns the
// extended buffer. The frame is not terminated.
func (s *State) Append(dst []byte, p []byte) []byte {
	for _, b := range p {
		var (
			out [2]byte
			n   int
		)
		*s, out, n = s.Next(b)
		dst = append(dst, out[:n]...)
	}
	return dst
}

// MaxEncodedLen returns the maximum length of the frame, delimiter
// included, holding a payload of n bytes.
func MaxEncodedLen(n int) int {
	return n + (n+maxRun-1)/maxRun + 2
}

// Append appends the frame (delimiter included) holding payload p to dst
// and returns the extended buffer.
func Append(dst, p []byte) []byte {
	var s State
	dst = s.Append(dst, p)
	end := s.Finish()
	return append(dst, end[:]...)
}

// Encode returns the frame (delimiter included) holding payload p.
func Encode(p []byte) []byte {
	return Append(make([]byte, 0, MaxEncodedLen(len(p))), p)
}

// Encoder writes rCOBS frames to an output stream.
//
// Bytes given to Write are encoded and written as soon as they are
// finalized. Close terminates the current frame; the Encoder may then be
// used for the next one.
type Encoder struct {
	w   io.Writer
	st  State
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 0, 2*maxRun),
	}
}

// Write encodes p as part of the current frame.
func (enc *Encoder) Write(p []byte) (int, error) {
	if enc.err != nil {
		return 0, enc.err
	}
	enc.buf = enc.st.Append(enc.buf[:0], p)
	enc.write(enc.buf)
	if enc.err != nil {
		return 0, fmt.Errorf("rcobs: could not write frame data: %w", enc.err)
	}
	return len(p), nil
}

// EncodeByte encodes a single payload byte and returns the bytes it
// finalizes. The returned slice is only valid until the next call.
func (enc *Encoder) EncodeByte(b byte) []byte {
	var (
		out [2]byte
		n   int
	)
	enc.st, out, n = enc.st.Next(b)
	enc.buf = append(enc.buf[:0], out[:n]...)
	return enc.buf
}

// Close terminates the current frame.
// Close does not close the underlying writer.
func (enc *Encoder) Close() error {
	if enc.err != nil {
		return enc.err
	}
	end := enc.st.Finish()
	enc.st = State{}
	enc.write(end[:])
	if enc.err != nil {
		return fmt.Errorf("rcobs: could not write frame trailer: %w", enc.err)
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

var (
	_ io.WriteCloser = (*Encoder)(nil)
)
