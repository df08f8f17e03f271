// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uart provides a backhaul transport over a serial line.
//
// The ILA UART link is configured as 8N1 at the baud rate set in the
// gateware.
package uart // import "github.com/go-lpc/ila/transport/uart"

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-lpc/ila/backhaul"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the default baud rate of the serial link.
const DefaultBaudRate = 115200

type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

var (
	serialOpen  = serialOpenImpl
	serialPorts = enumerator.GetDetailedPortsList
)

func serialOpenImpl(name string, mode *serial.Mode) (port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type config struct {
	baud int
}

// Option configures a serial port.
type Option func(*config)

// WithBaudRate sets the baud rate of the serial link.
func WithBaudRate(baud int) Option {
	return func(cfg *config) {
		cfg.baud = baud
	}
}

// Port is a serial line connected to an ILA.
type Port struct {
	name    string
	port    port
	timeout time.Duration // current read timeout
}

// Open opens the named serial port.
// Bytes received before Open returns are discarded.
func Open(name string, opts ...Option) (*Port, error) {
	cfg := config{baud: DefaultBaudRate}
	for _, opt := range opts {
		opt(&cfg)
	}

	p, err := serialOpen(name, &serial.Mode{
		BaudRate: cfg.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("uart: could not open %q: %w", name, err)
	}

	err = p.ResetInputBuffer()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("uart: could not reset input buffer of %q: %w", name, err)
	}

	return &Port{name: name, port: p, timeout: serial.NoTimeout}, nil
}

// Name returns the name of the serial port.
func (p *Port) Name() string { return p.name }

// Read implements backhaul.Transport.
func (p *Port) Read(buf []byte, timeout time.Duration) (int, error) {
	if timeout < 0 {
		timeout = 0
	}
	if timeout != p.timeout {
		err := p.port.SetReadTimeout(timeout)
		if err != nil {
			return 0, fmt.Errorf("uart: could not set read timeout of %q: %w", p.name, err)
		}
		p.timeout = timeout
	}

	n, err := p.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("uart: could not read from %q: %w", p.name, err)
	}
	return n, nil
}

// Write implements backhaul.Transport.
func (p *Port) Write(buf []byte) (int, error) {
	n, err := p.port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("uart: could not write to %q: %w", p.name, err)
	}
	return n, nil
}

// Close implements backhaul.Transport.
func (p *Port) Close() error {
	err := p.port.Close()
	if err != nil {
		return fmt.Errorf("uart: could not close %q: %w", p.name, err)
	}
	return nil
}

// Discoverer lists the serial ports of the host.
// When VID or PID is not zero, only USB serial adapters with matching
// identifiers are listed.
type Discoverer struct {
	VID, PID uint16
}

// Enumerate implements backhaul.Discoverer.
func (d Discoverer) Enumerate() ([]backhaul.DeviceInfo, error) {
	ports, err := serialPorts()
	if err != nil {
		return nil, fmt.Errorf("uart: could not list serial ports: %w", err)
	}

	var devs []backhaul.DeviceInfo
	for _, p := range ports {
		dev := backhaul.DeviceInfo{
			Transport: "uart",
			Path:      p.Name,
		}
		if p.IsUSB {
			dev.VID = parseID(p.VID)
			dev.PID = parseID(p.PID)
			dev.Serial = p.SerialNumber
			dev.Description = p.Product
		}
		if d.VID != 0 && d.VID != dev.VID {
			continue
		}
		if d.PID != 0 && d.PID != dev.PID {
			continue
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

func parseID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

var (
	_ backhaul.Transport  = (*Port)(nil)
	_ backhaul.Discoverer = Discoverer{}
)
