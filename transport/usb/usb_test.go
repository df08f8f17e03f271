// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usb

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/ila/backhaul"
	"github.com/google/gousb"
)

type fakeContext struct {
	descs  []*gousb.DeviceDesc
	devs   map[*gousb.DeviceDesc]*fakeDevice
	closed bool
}

func (ctx *fakeContext) OpenDevices(opener func(desc *gousb.DeviceDesc) bool) ([]usbDevice, error) {
	var devs []usbDevice
	for _, desc := range ctx.descs {
		if opener(desc) {
			devs = append(devs, ctx.devs[desc])
		}
	}
	return devs, nil
}

func (ctx *fakeContext) Close() error {
	ctx.closed = true
	return nil
}

type fakeDevice struct {
	serial   string
	detach   bool
	released bool
	closed   bool
	noOut    bool
	in       *fakeIn
	out      *bytes.Buffer
}

func (dev *fakeDevice) SetAutoDetach(v bool) error {
	dev.detach = v
	return nil
}

func (dev *fakeDevice) DefaultInterface() (usbInterface, func(), error) {
	return dev, func() { dev.released = true }, nil
}

func (dev *fakeDevice) SerialNumber() (string, error) { return dev.serial, nil }

func (dev *fakeDevice) Close() error {
	dev.closed = true
	return nil
}

func (dev *fakeDevice) InEndpoint(num int) (inEndpoint, error) {
	if num != DefaultEndpoint {
		return nil, errors.New("no such endpoint")
	}
	return dev.in, nil
}

func (dev *fakeDevice) OutEndpoint(num int) (outEndpoint, error) {
	if num != DefaultEndpoint || dev.noOut {
		return nil, errors.New("no such endpoint")
	}
	return dev.out, nil
}

type fakeIn struct {
	data [][]byte
	err  error
}

func (ep *fakeIn) ReadContext(ctx context.Context, p []byte) (int, error) {
	if ep.err != nil {
		return 0, ep.err
	}
	if len(ep.data) == 0 {
		<-ctx.Done()
		return 0, gousb.TransferCancelled
	}
	n := copy(p, ep.data[0])
	ep.data = ep.data[1:]
	return n, nil
}

func newFakeContext(t *testing.T, devs ...*fakeDevice) *fakeContext {
	ctx := &fakeContext{devs: make(map[*gousb.DeviceDesc]*fakeDevice)}
	for i, dev := range devs {
		desc := &gousb.DeviceDesc{
			Bus:     1,
			Address: 2 + i,
			Vendor:  DefaultVID,
			Product: DefaultPID,
		}
		ctx.descs = append(ctx.descs, desc)
		ctx.devs[desc] = dev
	}
	ctx.descs = append(ctx.descs, &gousb.DeviceDesc{Bus: 2, Address: 1, Vendor: 0x046d, Product: 0xc077})

	orig := usbNewContext
	t.Cleanup(func() { usbNewContext = orig })
	usbNewContext = func() usbContext { return ctx }
	return ctx
}

func TestDevice(t *testing.T) {
	var (
		dev1 = &fakeDevice{serial: "A", in: &fakeIn{}, out: new(bytes.Buffer)}
		dev2 = &fakeDevice{
			serial: "B",
			in:     &fakeIn{data: [][]byte{{0x11, 0x22, 0x03}, {0x00}}},
			out:    new(bytes.Buffer),
		}
		ctx = newFakeContext(t, dev1, dev2)
	)

	usb, err := Open(WithSerial("B"))
	if err != nil {
		t.Fatalf("could not open device: %+v", err)
	}
	if !dev1.closed {
		t.Fatalf("unselected device should be closed")
	}
	if !dev2.detach {
		t.Fatalf("kernel driver auto-detach should be enabled")
	}

	_, err = usb.Write([]byte{byte(backhaul.CmdStream)})
	if err != nil {
		t.Fatalf("could not write command: %+v", err)
	}
	if got, want := dev2.out.Bytes(), []byte{0x02}; !bytes.Equal(got, want) {
		t.Fatalf("invalid command bytes: got=%x, want=%x", got, want)
	}

	var (
		buf = make([]byte, 512)
		got []byte
	)
	for i := 0; i < 3; i++ {
		n, err := usb.Read(buf, time.Millisecond)
		if err != nil {
			t.Fatalf("could not read: %+v", err)
		}
		got = append(got, buf[:n]...)
	}
	if want := []byte{0x11, 0x22, 0x03, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("invalid data: got=%x, want=%x", got, want)
	}

	dev2.in.err = gousb.ErrorNoDevice
	_, err = usb.Read(buf, time.Millisecond)
	if !errors.Is(err, gousb.ErrorNoDevice) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = usb.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
	if !dev2.released || !dev2.closed || !ctx.closed {
		t.Fatalf("device resources should be released")
	}
}

func TestDeviceWithoutCommands(t *testing.T) {
	dev := &fakeDevice{in: &fakeIn{}, noOut: true}
	newFakeContext(t, dev)

	_, err := Open()
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "usb: could not claim 1d50:6190: could not open bulk OUT endpoint 1: no such endpoint"; got != want {
		t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
	}
	if !dev.closed || !dev.released {
		t.Fatalf("device should be closed on error")
	}

	dev = &fakeDevice{in: &fakeIn{}, noOut: true}
	newFakeContext(t, dev)
	usb, err := Open(WithoutCommands())
	if err != nil {
		t.Fatalf("could not open device: %+v", err)
	}
	defer usb.Close()

	n, err := usb.Write([]byte{0x02})
	if err != nil || n != 1 {
		t.Fatalf("commands should be dropped: n=%d, err=%v", n, err)
	}
}

func TestOpenNotFound(t *testing.T) {
	ctx := newFakeContext(t)
	_, err := Open(WithID(0xdead, 0xbeef))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid error: %+v", err)
	}
	if !ctx.closed {
		t.Fatalf("context should be closed")
	}
}

func TestDiscoverer(t *testing.T) {
	var (
		dev1 = &fakeDevice{}
		dev2 = &fakeDevice{}
	)
	newFakeContext(t, dev1, dev2)

	devs, err := Discoverer{}.Enumerate()
	if err != nil {
		t.Fatalf("could not enumerate: %+v", err)
	}
	want := []backhaul.DeviceInfo{
		{Transport: "usb", Path: "1:2", VID: DefaultVID, PID: DefaultPID},
		{Transport: "usb", Path: "1:3", VID: DefaultVID, PID: DefaultPID},
	}
	if !reflect.DeepEqual(devs, want) {
		t.Fatalf("invalid devices:\ngot= %+v\nwant=%+v", devs, want)
	}
	if dev1.closed || dev2.closed {
		t.Fatalf("enumeration should not open devices")
	}

	newFakeContext(t, dev1)
	devs, err = Discoverer{VID: 0x046d, PID: 0xc077}.Enumerate()
	if err != nil {
		t.Fatalf("could not enumerate: %+v", err)
	}
	if len(devs) != 1 || devs[0].Path != "2:1" {
		t.Fatalf("invalid devices: %+v", devs)
	}
}
