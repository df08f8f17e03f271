// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedev provides an in-memory ILA speaking the backhaul protocol.
package fakedev // import "github.com/go-lpc/ila/internal/fakedev"

import (
	"errors"
	"sync"
	"time"

	"github.com/go-lpc/ila/backhaul"
	"github.com/go-lpc/ila/rcobs"
)

var (
	errClosed = errors.New("fakedev: device closed")
)

// Device is a simulated ILA holding a fixed list of encoded records.
//
// On STREAM, the device sends its records, FrameSize records per frame.
// On FLUSH, it sends all its remaining records in one frame followed by
// an empty acknowledgment frame. On STOP, it stops sending, abandoning
// the frame in flight.
type Device struct {
	FrameSize int // number of records per frame
	ChunkSize int // maximum number of bytes returned by a Read

	mu        sync.Mutex
	records   [][]byte
	next      int    // index of the next record to send
	out       []byte // bytes ready to be read by the host
	streaming bool
	closed    bool
	fail      error
	cmds      []backhaul.Command
	bad       []byte // invalid command bytes received
}

// New returns a new simulated device holding the given records.
func New(records [][]byte) *Device {
	return &Device{
		FrameSize: 4,
		records:   records,
	}
}

// Inject appends raw bytes to the device output.
func (dev *Device) Inject(raw []byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.out = append(dev.out, raw...)
}

// Fail makes all subsequent reads and writes fail with err.
func (dev *Device) Fail(err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.fail = err
}

// Commands returns the commands received so far.
func (dev *Device) Commands() []backhaul.Command {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]backhaul.Command(nil), dev.cmds...)
}

// Invalid returns the invalid command bytes received so far.
func (dev *Device) Invalid() []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]byte(nil), dev.bad...)
}

// Streaming reports whether the device is streaming.
func (dev *Device) Streaming() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.streaming
}

// EOF reports whether all the records have been sent and read.
func (dev *Device) EOF() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.next >= len(dev.records) && len(dev.out) == 0
}

// Read implements backhaul.Transport.
func (dev *Device) Read(p []byte, timeout time.Duration) (int, error) {
	dev.mu.Lock()
	if err := dev.check(); err != nil {
		dev.mu.Unlock()
		return 0, err
	}
	if len(dev.out) == 0 && dev.streaming {
		dev.emit(dev.FrameSize)
	}
	if len(dev.out) == 0 {
		dev.mu.Unlock()
		// nothing to send: honor the timeout, up to a millisecond.
		if timeout > time.Millisecond {
			timeout = time.Millisecond
		}
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0, nil
	}
	defer dev.mu.Unlock()

	if dev.ChunkSize > 0 && len(p) > dev.ChunkSize {
		p = p[:dev.ChunkSize]
	}
	n := copy(p, dev.out)
	dev.out = dev.out[n:]
	return n, nil
}

// Write implements backhaul.Transport.
func (dev *Device) Write(p []byte) (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.check(); err != nil {
		return 0, err
	}
	for _, b := range p {
		cmd, err := backhaul.ParseCommand(b)
		if err != nil {
			dev.bad = append(dev.bad, b)
			continue
		}
		dev.cmds = append(dev.cmds, cmd)
		switch cmd {
		case backhaul.CmdStream:
			dev.streaming = true
		case backhaul.CmdFlush:
			dev.emit(len(dev.records))
			dev.out = rcobs.Append(dev.out, nil)
		case backhaul.CmdStop:
			dev.streaming = false
			dev.out = dev.out[:0]
		}
	}
	return len(p), nil
}

// Close implements backhaul.Transport.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return errClosed
	}
	dev.closed = true
	return nil
}

func (dev *Device) check() error {
	switch {
	case dev.fail != nil:
		return dev.fail
	case dev.closed:
		return errClosed
	}
	return nil
}

// emit encodes up to n records in one frame.
func (dev *Device) emit(n int) {
	if n <= 0 {
		n = 1
	}
	if dev.next >= len(dev.records) {
		return
	}
	end := dev.next + n
	if end > len(dev.records) {
		end = len(dev.records)
	}
	var payload []byte
	for _, rec := range dev.records[dev.next:end] {
		payload = append(payload, rec...)
	}
	dev.next = end
	dev.out = rcobs.Append(dev.out, payload)
}

var (
	_ backhaul.Transport = (*Device)(nil)
)
