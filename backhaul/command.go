// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backhaul

import (
	"fmt"
)

// Command is a single-byte command sent by the host to the ILA.
type Command uint8

const (
	CmdNone   Command = 0x00 // no operation
	CmdFlush  Command = 0x01 // send pending samples, then acknowledge
	CmdStream Command = 0x02 // start streaming samples
	CmdStop   Command = 0x03 // stop streaming
)

func (cmd Command) String() string {
	switch cmd {
	case CmdNone:
		return "NONE"
	case CmdFlush:
		return "FLUSH"
	case CmdStream:
		return "STREAM"
	case CmdStop:
		return "STOP"
	default:
		return fmt.Sprintf("Command(0x%02x)", uint8(cmd))
	}
}

// ParseCommand decodes a command byte.
func ParseCommand(b byte) (Command, error) {
	cmd := Command(b)
	switch cmd {
	case CmdNone, CmdFlush, CmdStream, CmdStop:
		return cmd, nil
	default:
		return cmd, &ProtocolError{Reason: fmt.Sprintf("unknown command byte 0x%02x", b)}
	}
}
