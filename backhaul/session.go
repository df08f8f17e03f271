// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backhaul drives the capture of samples from an ILA.
//
// A Session sends single-byte commands to the device over a Transport
// and decodes the rCOBS frames it sends back into a sample.Buffer:
//
//	Idle --STREAM--> Streaming --FLUSH--> Flushing --ack--> Streaming
//	Streaming, Flushing --STOP--> Stopped
//
// A transport or protocol failure moves the session to the terminal
// Error state. Corrupted frames are dropped and counted as lost.
package backhaul // import "github.com/go-lpc/ila/backhaul"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-lpc/ila/rcobs"
	"github.com/go-lpc/ila/sample"
	"github.com/go-lpc/ila/vcd"
)

// State is the state of a backhaul session.
type State uint8

const (
	Idle State = iota
	Streaming
	Flushing
	Stopped
	Error
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Flushing:
		return "flushing"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", uint8(st))
	}
}

// Stats holds the counters of a session.
type Stats struct {
	Bytes      int64 // bytes received
	Frames     int   // frames decoded
	LostFrames int   // frames dropped because of framing errors
	LostBytes  int   // bytes of split records dropped after a lost frame
	Discarded  int   // frames discarded while stopping
	Records    int   // records appended to the buffer
	Overflow   int   // records discarded because the buffer was full
	Pending    int   // bytes of the record being received
	Commands   int   // commands sent
}

// Session is a capture session with one ILA.
//
// A Session is not safe for concurrent use. Once stopped, its buffer is
// sealed and may be shared between goroutines.
type Session struct {
	cfg config
	msg *log.Logger

	tr  Transport
	dec *rcobs.Decoder
	buf *sample.Buffer

	state State
	err   error // terminal error

	rbuf     []byte
	stats    Stats
	frames   int  // frames processed since the start of the last wait
	draining bool // STOP was sent
	inflight bool // the frame being received when STOP was sent is pending
}

// New creates a new idle session reading records of the given layout
// through the transport t.
func New(t Transport, layout *sample.Layout, opts ...Option) (*Session, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(io.Discard, "", 0)
	}

	buf, err := sample.NewBuffer(layout, cfg.depth, cfg.period)
	if err != nil {
		return nil, fmt.Errorf("backhaul: could not create capture buffer: %w", err)
	}

	return &Session{
		cfg:   cfg,
		msg:   cfg.msg,
		tr:    t,
		dec:   rcobs.NewDecoder(cfg.maxFrame),
		buf:   buf,
		state: Idle,
		rbuf:  make([]byte, cfg.readSize),
	}, nil
}

// State returns the current state of the session.
func (s *Session) State() State { return s.state }

// Err returns the error that moved the session to the Error state.
func (s *Session) Err() error { return s.err }

// Stats returns the counters of the session.
func (s *Session) Stats() Stats {
	st := s.stats
	st.Overflow = s.buf.Overflow()
	st.Pending = s.buf.Pending()
	return st
}

// Buffer returns the capture buffer.
// The buffer must not be modified, and is safe for concurrent reads only
// once the session is stopped.
func (s *Session) Buffer() *sample.Buffer { return s.buf }

// Refresh starts streaming if the session is idle, and waits until at
// least one frame has been received.
// Refresh fails with a *TimeoutError if no frame arrived before ctx is
// done or the session timeout elapsed. The session state is preserved.
func (s *Session) Refresh(ctx context.Context) error {
	switch s.state {
	case Error:
		return s.err
	case Stopped:
		return fmt.Errorf("backhaul: could not refresh %v session: %w", s.state, ErrState)
	case Idle:
		err := s.send(CmdStream)
		if err != nil {
			return err
		}
		s.setState(Streaming)
	}

	s.frames = 0
	return s.wait(ctx, "refresh", func() bool {
		return s.frames > 0 || s.state == Stopped
	})
}

// Update ingests the bytes available on the transport without blocking
// longer than the poll timeout.
func (s *Session) Update() error {
	switch s.state {
	case Error:
		return s.err
	case Idle, Stopped:
		return nil
	}

	err := s.poll(s.cfg.poll)
	if err != nil {
		return err
	}
	return s.checkFull()
}

// Flush requests the device to send its pending samples, and waits for
// the flush acknowledgment: an empty frame.
// On timeout, the session stays in the Flushing state; a later Update
// observing the acknowledgment resumes streaming.
func (s *Session) Flush(ctx context.Context) error {
	switch s.state {
	case Error:
		return s.err
	case Idle, Stopped:
		return fmt.Errorf("backhaul: could not flush %v session: %w", s.state, ErrState)
	case Streaming:
		err := s.send(CmdFlush)
		if err != nil {
			return err
		}
		s.setState(Flushing)
	}

	return s.wait(ctx, "flush", func() bool {
		return s.state != Flushing
	})
}

// Stop stops streaming and seals the capture buffer.
//
// The frame being received, if any, is drained for at most the drain
// timeout and its records are kept. Frames following it are discarded,
// as is a frame still incomplete once the drain timeout elapsed.
// Stop is idempotent and may be called in any state. An incomplete
// trailing record is reported with a *sample.IncompleteRecordError.
func (s *Session) Stop() error {
	switch s.state {
	case Stopped:
		return nil
	case Error:
		s.dec.Reset()
		_ = s.buf.Seal()
		return nil
	}

	err := s.send(CmdStop)
	if err != nil {
		s.dec.Reset()
		_ = s.buf.Seal()
		return err
	}

	s.drain()
	if s.state == Error {
		s.dec.Reset()
		_ = s.buf.Seal()
		return s.err
	}

	s.setState(Stopped)
	err = s.buf.Seal()
	if err != nil {
		s.msg.Printf("data loss: %+v", err)
		return err
	}
	s.msg.Printf("capture complete: %d records", s.buf.Len())
	return nil
}

func (s *Session) drain() {
	s.draining = true
	s.inflight = s.dec.InFrame()
	defer func() {
		s.draining = false
		s.inflight = false
	}()

	deadline := time.Now().Add(s.cfg.drain)
	for s.inflight {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		err := s.poll(left)
		if err != nil {
			return
		}
	}

	if s.dec.InFrame() {
		s.stats.Discarded++
		s.msg.Printf("data loss: discarding partial frame (%d bytes)", s.dec.Pending())
		s.dec.Reset()
	}
}

// WriteVCD writes the complete records received so far as a value
// change dump. It does not modify the session.
// The bytes of a record still being received are not written: they are
// reported in the log and by Stats.
func (s *Session) WriteVCD(w io.Writer, opts ...vcd.Option) error {
	err := vcd.Write(w, s.buf, opts...)
	if err != nil {
		return fmt.Errorf("backhaul: could not write VCD: %w", err)
	}
	if n := s.buf.Pending(); n > 0 {
		s.msg.Printf("VCD excludes %v", &sample.IncompleteRecordError{Have: n, Want: s.buf.Layout().Bytes()})
	}
	return nil
}

// Close stops the session if needed and closes the transport.
func (s *Session) Close() error {
	var err error
	switch s.state {
	case Idle, Streaming, Flushing:
		err = s.Stop()
		var ierr *sample.IncompleteRecordError
		if errors.As(err, &ierr) {
			err = nil
		}
	}

	e := s.tr.Close()
	if e != nil && err == nil {
		err = &TransportError{Op: "close", Err: e}
	}
	return err
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.msg.Printf("state %v -> %v", s.state, st)
	s.state = st
}

func (s *Session) fail(err error) error {
	s.msg.Printf("session error: %+v", err)
	s.state = Error
	s.err = err
	return err
}

func (s *Session) send(cmd Command) error {
	_, err := s.tr.Write([]byte{byte(cmd)})
	if err != nil {
		return s.fail(&TransportError{Op: "write " + cmd.String(), Err: err})
	}
	s.stats.Commands++
	s.msg.Printf("sent %v", cmd)
	return nil
}

// poll performs one bounded read and feeds the received bytes to the
// frame decoder.
func (s *Session) poll(timeout time.Duration) error {
	n, err := s.tr.Read(s.rbuf, timeout)
	if err != nil {
		return s.fail(&TransportError{Op: "read", Err: err})
	}
	if n == 0 {
		return nil
	}
	s.stats.Bytes += int64(n)

	err = s.dec.Feed(s.rbuf[:n], s.frame)
	if err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) frame(p []byte, err error) error {
	if err != nil {
		s.stats.LostFrames++
		s.msg.Printf("data loss: dropped corrupted frame: %+v", err)
		s.inflight = false
		if n := s.buf.Drop(); n > 0 {
			s.stats.LostBytes += n
			s.msg.Printf("data loss: dropped %d bytes of a split record", n)
		}
		return nil
	}
	s.stats.Frames++
	s.frames++

	switch {
	case s.draining && len(p) == 0:
		// late flush acknowledgment.
		s.inflight = false
		return nil
	case s.draining && !s.inflight:
		s.stats.Discarded++
		s.msg.Printf("data loss: discarding frame received after stop (%d bytes)", len(p))
		return nil
	case s.draining:
		s.inflight = false
	case len(p) == 0:
		if s.state != Flushing {
			return &ProtocolError{Reason: fmt.Sprintf("unexpected flush acknowledgment in %v state", s.state)}
		}
		s.msg.Printf("flush acknowledged")
		s.setState(Streaming)
		return nil
	}

	n, err := s.buf.Append(p)
	if err != nil {
		return fmt.Errorf("backhaul: could not append records: %w", err)
	}
	s.stats.Records += n
	return nil
}

func (s *Session) checkFull() error {
	if !s.buf.Full() {
		return nil
	}
	switch s.state {
	case Streaming, Flushing:
		s.msg.Printf("capture buffer full (%d records)", s.buf.Len())
		return s.Stop()
	}
	return nil
}

// wait reads from the transport until done reports true, the session
// fails, ctx is done or the session timeout elapses.
func (s *Session) wait(ctx context.Context, op string, done func() bool) error {
	const step = 50 * time.Millisecond

	deadline := time.Now().Add(s.cfg.timeout)
	for {
		if s.state == Error {
			return s.err
		}
		if done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return &TimeoutError{Op: op, Timeout: s.cfg.timeout, Err: err}
		}
		left := time.Until(deadline)
		if left <= 0 {
			return &TimeoutError{Op: op, Timeout: s.cfg.timeout}
		}
		if left > step {
			left = step
		}
		err := s.poll(left)
		if err != nil {
			return err
		}
		err = s.checkFull()
		if err != nil {
			var ierr *sample.IncompleteRecordError
			if !errors.As(err, &ierr) {
				return err
			}
		}
	}
}
