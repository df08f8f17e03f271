// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usb provides a backhaul transport over USB bulk endpoints.
//
// The ILA exposes one bulk IN endpoint carrying the sample frames and,
// optionally, one bulk OUT endpoint with the same number receiving the
// commands.
package usb // import "github.com/go-lpc/ila/transport/usb"

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/ila/backhaul"
	"github.com/google/gousb"
)

const (
	DefaultVID      = 0x1d50
	DefaultPID      = 0x6190
	DefaultEndpoint = 1
)

var (
	// ErrNotFound is returned when no matching device is connected.
	ErrNotFound = errors.New("usb: no matching device")
)

type usbContext interface {
	OpenDevices(opener func(desc *gousb.DeviceDesc) bool) ([]usbDevice, error)
	Close() error
}

type usbDevice interface {
	SetAutoDetach(autodetach bool) error
	DefaultInterface() (usbInterface, func(), error)
	SerialNumber() (string, error)
	Close() error
}

type usbInterface interface {
	InEndpoint(num int) (inEndpoint, error)
	OutEndpoint(num int) (outEndpoint, error)
}

type inEndpoint interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

type outEndpoint interface {
	Write(p []byte) (int, error)
}

var usbNewContext = func() usbContext {
	return &ctxAdapter{gousb.NewContext()}
}

type config struct {
	vid, pid uint16
	ep       int
	serial   string
	commands bool
}

// Option configures a USB device.
type Option func(*config)

// WithID selects the vendor and product identifiers of the device.
func WithID(vid, pid uint16) Option {
	return func(cfg *config) {
		cfg.vid = vid
		cfg.pid = pid
	}
}

// WithSerial selects the device with the given serial number.
func WithSerial(serial string) Option {
	return func(cfg *config) {
		cfg.serial = serial
	}
}

// WithEndpoint sets the number of the bulk endpoints.
func WithEndpoint(num int) Option {
	return func(cfg *config) {
		cfg.ep = num
	}
}

// WithoutCommands is used for devices streaming samples without a
// command endpoint: commands are then silently dropped.
func WithoutCommands() Option {
	return func(cfg *config) {
		cfg.commands = false
	}
}

// Device is an ILA connected over USB.
type Device struct {
	ctx  usbContext
	dev  usbDevice
	done func()
	in   inEndpoint
	out  outEndpoint // nil when commands are not supported
}

// Open opens the first device matching the options.
func Open(opts ...Option) (*Device, error) {
	cfg := config{
		vid:      DefaultVID,
		pid:      DefaultPID,
		ep:       DefaultEndpoint,
		commands: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := usbNewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(cfg.vid) && desc.Product == gousb.ID(cfg.pid)
	})
	if err != nil && len(devs) == 0 {
		_ = ctx.Close()
		return nil, fmt.Errorf("usb: could not open %04x:%04x: %w", cfg.vid, cfg.pid, err)
	}

	var dev usbDevice
	for _, d := range devs {
		if dev == nil && matchSerial(d, cfg.serial) {
			dev = d
			continue
		}
		_ = d.Close()
	}
	if dev == nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("usb: could not open %04x:%04x: %w", cfg.vid, cfg.pid, ErrNotFound)
	}

	usb := &Device{ctx: ctx, dev: dev}
	err = usb.claim(cfg)
	if err != nil {
		_ = usb.Close()
		return nil, fmt.Errorf("usb: could not claim %04x:%04x: %w", cfg.vid, cfg.pid, err)
	}
	return usb, nil
}

func matchSerial(dev usbDevice, serial string) bool {
	if serial == "" {
		return true
	}
	s, err := dev.SerialNumber()
	return err == nil && s == serial
}

func (usb *Device) claim(cfg config) error {
	err := usb.dev.SetAutoDetach(true)
	if err != nil {
		return fmt.Errorf("could not enable kernel driver auto-detach: %w", err)
	}

	intf, done, err := usb.dev.DefaultInterface()
	if err != nil {
		return fmt.Errorf("could not claim default interface: %w", err)
	}
	usb.done = done

	usb.in, err = intf.InEndpoint(cfg.ep)
	if err != nil {
		return fmt.Errorf("could not open bulk IN endpoint %d: %w", cfg.ep, err)
	}

	if cfg.commands {
		usb.out, err = intf.OutEndpoint(cfg.ep)
		if err != nil {
			return fmt.Errorf("could not open bulk OUT endpoint %d: %w", cfg.ep, err)
		}
	}
	return nil
}

// Read implements backhaul.Transport.
func (usb *Device) Read(p []byte, timeout time.Duration) (int, error) {
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := usb.in.ReadContext(ctx, p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, gousb.TransferCancelled), errors.Is(err, gousb.TransferTimedOut):
		// nothing arrived before the deadline.
		return n, nil
	default:
		return n, fmt.Errorf("usb: could not read bulk endpoint: %w", err)
	}
}

// Write implements backhaul.Transport.
func (usb *Device) Write(p []byte) (int, error) {
	if usb.out == nil {
		return len(p), nil
	}
	n, err := usb.out.Write(p)
	if err != nil {
		return n, fmt.Errorf("usb: could not write bulk endpoint: %w", err)
	}
	return n, nil
}

// Close implements backhaul.Transport.
func (usb *Device) Close() error {
	if usb.done != nil {
		usb.done()
		usb.done = nil
	}

	var err error
	if usb.dev != nil {
		err = usb.dev.Close()
		usb.dev = nil
	}
	if usb.ctx != nil {
		e := usb.ctx.Close()
		if e != nil && err == nil {
			err = e
		}
		usb.ctx = nil
	}
	if err != nil {
		return fmt.Errorf("usb: could not close device: %w", err)
	}
	return nil
}

// Discoverer lists the connected USB devices with the given identifiers.
// Devices are not opened.
type Discoverer struct {
	VID, PID uint16
}

// Enumerate implements backhaul.Discoverer.
func (d Discoverer) Enumerate() ([]backhaul.DeviceInfo, error) {
	vid, pid := d.VID, d.PID
	if vid == 0 && pid == 0 {
		vid, pid = DefaultVID, DefaultPID
	}

	ctx := usbNewContext()
	defer ctx.Close()

	var devs []backhaul.DeviceInfo
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(vid) || desc.Product != gousb.ID(pid) {
			return false
		}
		devs = append(devs, backhaul.DeviceInfo{
			Transport: "usb",
			Path:      fmt.Sprintf("%d:%d", desc.Bus, desc.Address),
			VID:       uint16(desc.Vendor),
			PID:       uint16(desc.Product),
		})
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("usb: could not list devices: %w", err)
	}
	return devs, nil
}

type ctxAdapter struct {
	ctx *gousb.Context
}

func (c *ctxAdapter) OpenDevices(opener func(desc *gousb.DeviceDesc) bool) ([]usbDevice, error) {
	devs, err := c.ctx.OpenDevices(opener)
	out := make([]usbDevice, len(devs))
	for i, dev := range devs {
		out[i] = &devAdapter{dev}
	}
	return out, err
}

func (c *ctxAdapter) Close() error { return c.ctx.Close() }

type devAdapter struct {
	dev *gousb.Device
}

func (d *devAdapter) SetAutoDetach(v bool) error { return d.dev.SetAutoDetach(v) }
func (d *devAdapter) SerialNumber() (string, error) { return d.dev.SerialNumber() }
func (d *devAdapter) Close() error { return d.dev.Close() }
func (d *devAdapter) String() string { return d.dev.String() }
func (d *devAdapter) DefaultInterface() (usbInterface, func(), error) {
	intf, done, err := d.dev.DefaultInterface()
	if err != nil {
		return nil, nil, err
	}
	return &intfAdapter{intf}, done, nil
}

type intfAdapter struct {
	intf *gousb.Interface
}

func (i *intfAdapter) InEndpoint(num int) (inEndpoint, error) {
	ep, err := i.intf.InEndpoint(num)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func (i *intfAdapter) OutEndpoint(num int) (outEndpoint, error) {
	ep, err := i.intf.OutEndpoint(num)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

var (
	_ backhaul.Transport  = (*Device)(nil)
	_ backhaul.Discoverer = Discoverer{}
)
