// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backhaul

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/ila/rcobs"
	"github.com/go-lpc/ila/sample"
)

var (
	// ErrTimeout is matched by all *TimeoutError values.
	ErrTimeout = errors.New("backhaul: timeout")

	// ErrState is returned when an operation is not valid in the
	// current session state.
	ErrState = errors.New("backhaul: invalid session state")
)

// ProtocolError is returned when the device violates the command
// protocol. It is fatal to the session.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "backhaul: protocol error: " + e.Reason
}

// TimeoutError is returned when a blocking operation did not complete
// in time. The session state is preserved.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error // underlying context error, if any
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backhaul: %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backhaul: %s timed out after %v", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Err }

// TransportError is returned when the underlying transport failed
// (disconnection, I/O error). It is fatal to the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backhaul: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind classifies errors returned by the backhaul and its codecs.
type Kind uint8

const (
	KindNone Kind = iota
	KindFraming
	KindRange
	KindProtocol
	KindTimeout
	KindTransport
	KindIncompleteRecord
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFraming:
		return "framing"
	case KindRange:
		return "range"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindIncompleteRecord:
		return "incomplete-record"
	default:
		return "other"
	}
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	var (
		ferr *rcobs.FramingError
		rerr *sample.RangeError
		perr *ProtocolError
		terr *TransportError
		ierr *sample.IncompleteRecordError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &terr):
		return KindTransport
	case errors.As(err, &perr):
		return KindProtocol
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &ferr):
		return KindFraming
	case errors.As(err, &rerr):
		return KindRange
	case errors.As(err, &ierr):
		return KindIncompleteRecord
	default:
		return KindOther
	}
}
