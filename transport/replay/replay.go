// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package replay records the raw byte stream received from an ILA and
// replays it as a backhaul transport.
package replay // import "github.com/go-lpc/ila/transport/replay"

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-lpc/ila/backhaul"
	"github.com/go-lpc/ila/internal/mmap"
)

var (
	errClosed = errors.New("replay: stream closed")
)

// Stream replays a recorded byte stream.
//
// Like a device, a stream stays quiet until it receives a STREAM or
// FLUSH command. On STOP, it completes the frame in flight and then
// stops sending.
type Stream struct {
	ChunkSize int // maximum number of bytes returned by a Read

	mu        sync.Mutex
	r         io.ReaderAt
	c         io.Closer
	off       int64
	size      int64
	last      byte // last byte sent
	streaming bool
	stopping  bool
	closed    bool
	cmds      []backhaul.Command
}

// Open opens the named recording.
func Open(fname string) (*Stream, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("replay: could not open recording: %w", err)
	}
	s := New(h, int64(h.Len()))
	s.c = h
	return s, nil
}

// New returns a stream replaying the first size bytes of r.
func New(r io.ReaderAt, size int64) *Stream {
	return &Stream{r: r, size: size}
}

// Commands returns the commands received so far.
func (s *Stream) Commands() []backhaul.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backhaul.Command(nil), s.cmds...)
}

// EOF reports whether the whole recording has been sent.
func (s *Stream) EOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.off >= s.size
}

// Read implements backhaul.Transport.
func (s *Stream) Read(p []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errClosed
	}
	if !s.streaming || s.off >= s.size || len(p) == 0 {
		s.mu.Unlock()
		if timeout > time.Millisecond {
			timeout = time.Millisecond
		}
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0, nil
	}
	defer s.mu.Unlock()

	if s.ChunkSize > 0 && len(p) > s.ChunkSize {
		p = p[:s.ChunkSize]
	}
	if left := s.size - s.off; int64(len(p)) > left {
		p = p[:left]
	}

	n, err := s.r.ReadAt(p, s.off)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("replay: could not read recording at offset %d: %w", s.off, err)
	}
	if s.stopping {
		if i := bytes.IndexByte(p[:n], 0); i >= 0 {
			n = i + 1
			s.streaming = false
			s.stopping = false
		}
	}
	s.off += int64(n)
	if n > 0 {
		s.last = p[n-1]
	}
	return n, nil
}

// Write implements backhaul.Transport.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errClosed
	}
	for i, b := range p {
		cmd, err := backhaul.ParseCommand(b)
		if err != nil {
			return i, fmt.Errorf("replay: could not process command: %w", err)
		}
		s.cmds = append(s.cmds, cmd)
		switch cmd {
		case backhaul.CmdStream, backhaul.CmdFlush:
			s.streaming = true
			s.stopping = false
		case backhaul.CmdStop:
			if s.off == 0 || s.last == 0 {
				// between two frames.
				s.streaming = false
				continue
			}
			s.stopping = s.streaming
		}
	}
	return len(p), nil
}

// Close implements backhaul.Transport.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.c != nil {
		err := s.c.Close()
		if err != nil {
			return fmt.Errorf("replay: could not close recording: %w", err)
		}
	}
	return nil
}

// Recorder is a transport writing all the bytes it receives to a writer.
type Recorder struct {
	t backhaul.Transport
	w io.Writer
	n int64
}

// Record returns a transport forwarding to t and recording the received
// bytes to w. Closing the recorder closes t, but not w.
func Record(t backhaul.Transport, w io.Writer) *Recorder {
	return &Recorder{t: t, w: w}
}

// Len returns the number of bytes recorded so far.
func (rec *Recorder) Len() int64 { return rec.n }

// EOF reports whether the recorded transport is a finite stream that
// has been fully consumed.
func (rec *Recorder) EOF() bool {
	if t, ok := rec.t.(interface{ EOF() bool }); ok {
		return t.EOF()
	}
	return false
}

// Read implements backhaul.Transport.
func (rec *Recorder) Read(p []byte, timeout time.Duration) (int, error) {
	n, err := rec.t.Read(p, timeout)
	if n > 0 {
		_, werr := rec.w.Write(p[:n])
		if werr != nil {
			return n, fmt.Errorf("replay: could not record stream: %w", werr)
		}
		rec.n += int64(n)
	}
	return n, err
}

// Write implements backhaul.Transport.
func (rec *Recorder) Write(p []byte) (int, error) {
	return rec.t.Write(p)
}

// Close implements backhaul.Transport.
func (rec *Recorder) Close() error {
	return rec.t.Close()
}

var (
	_ backhaul.Transport = (*Stream)(nil)
	_ backhaul.Transport = (*Recorder)(nil)
)
