// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backhaul

import (
	"fmt"
	"sort"
	"time"
)

// Transport is a bidirectional byte link to an ILA.
type Transport interface {
	// Read reads up to len(p) bytes, waiting at most timeout for data.
	// Read returns 0, nil when no data arrived in time.
	// A disconnected link is reported as an error.
	Read(p []byte, timeout time.Duration) (int, error)

	// Write sends p to the device.
	Write(p []byte) (int, error)

	Close() error
}

// DeviceInfo describes an ILA reachable through some transport.
type DeviceInfo struct {
	Transport   string // transport name ("uart", "usb", ...)
	Path        string // transport-specific address of the device
	VID, PID    uint16
	Serial      string
	Description string
}

func (dev DeviceInfo) String() string {
	s := fmt.Sprintf("%s:%s", dev.Transport, dev.Path)
	if dev.VID != 0 || dev.PID != 0 {
		s += fmt.Sprintf(" [%04x:%04x]", dev.VID, dev.PID)
	}
	if dev.Serial != "" {
		s += " serial=" + dev.Serial
	}
	if dev.Description != "" {
		s += " (" + dev.Description + ")"
	}
	return s
}

// Discoverer lists the devices reachable through a transport.
type Discoverer interface {
	Enumerate() ([]DeviceInfo, error)
}

// Enumerate lists the devices reachable through all the given
// discoverers, sorted by transport and path.
func Enumerate(ds ...Discoverer) ([]DeviceInfo, error) {
	var devs []DeviceInfo
	for _, d := range ds {
		vs, err := d.Enumerate()
		if err != nil {
			return nil, &TransportError{Op: "enumerate", Err: err}
		}
		devs = append(devs, vs...)
	}
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Transport != devs[j].Transport {
			return devs[i].Transport < devs[j].Transport
		}
		return devs[i].Path < devs[j].Path
	})
	return devs, nil
}
