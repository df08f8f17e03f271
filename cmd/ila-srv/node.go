// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/ila/backhaul"
	"github.com/go-lpc/ila/internal/source"
	"github.com/go-lpc/ila/sample"
)

// node drives one backhaul session on behalf of the run control.
type node struct {
	msg *log.Logger

	src     string
	signals string
	depth   int

	mu   sync.Mutex
	sess *backhaul.Session
	next int // index of the next record to publish
	data chan []byte
}

func newNode(msg *log.Logger) *node {
	return &node{
		msg:   msg,
		depth: 1024,
		data:  make(chan []byte, 64),
	}
}

func (dev *node) configure(src, signals string, depth int) error {
	lay, err := sample.ParseLayout(signals)
	if err != nil {
		return fmt.Errorf("could not parse signals: %w", err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	// release the device before opening it again.
	err = dev.closeSession()
	if err != nil {
		return err
	}

	tr, err := source.Open(src, lay)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", src, err)
	}

	sess, err := backhaul.New(tr, lay,
		backhaul.WithDepth(depth),
		backhaul.WithLogger(dev.msg),
	)
	if err != nil {
		_ = tr.Close()
		return fmt.Errorf("could not create session: %w", err)
	}

	dev.src = src
	dev.signals = signals
	dev.depth = depth
	dev.sess = sess
	dev.next = 0
	return nil
}

func (dev *node) reset() error {
	return dev.configure(dev.src, dev.signals, dev.depth)
}

// start starts streaming. A stopped session is replaced by a new one,
// so that each run holds a fresh capture.
func (dev *node) start(ctx context.Context) error {
	dev.mu.Lock()
	sess := dev.sess
	dev.mu.Unlock()

	switch {
	case sess == nil:
		return fmt.Errorf("no session configured")
	case sess.State() == backhaul.Stopped:
		err := dev.reset()
		if err != nil {
			return err
		}
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	return ignoreDataLoss(dev.sess.Refresh(ctx))
}

// poll ingests the available samples and returns the encoded batch of
// new records, if any.
func (dev *node) poll() ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.sess == nil {
		return nil, nil
	}
	err := ignoreDataLoss(dev.sess.Update())
	if err != nil {
		return nil, err
	}
	return dev.batch()
}

// stop stops streaming, writes the capture to the VCD file fname if
// not empty, and returns the batch of records not yet published.
func (dev *node) stop(fname string) ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.sess == nil {
		return nil, nil
	}
	err := ignoreDataLoss(dev.sess.Stop())
	if err != nil {
		return nil, err
	}

	if fname != "" {
		err = dev.writeVCD(fname)
		if err != nil {
			return nil, err
		}
	}
	return dev.batch()
}

func (dev *node) writeVCD(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create VCD file: %w", err)
	}
	defer f.Close()

	err = dev.sess.WriteVCD(f)
	if err != nil {
		return err
	}
	return f.Close()
}

func (dev *node) close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.closeSession()
}

func (dev *node) closeSession() error {
	if dev.sess == nil {
		return nil
	}
	err := dev.sess.Close()
	dev.sess = nil
	if err != nil {
		return fmt.Errorf("could not close session: %w", err)
	}
	return nil
}

// batch encodes the records captured since the last batch.
//
// A batch holds the index of its first record, the number of records
// and the size of a record, followed by the records.
func (dev *node) batch() ([]byte, error) {
	var (
		buf = dev.sess.Buffer()
		beg = dev.next
		end = buf.Len()
	)
	if end <= beg {
		return nil, nil
	}

	size := buf.Layout().Bytes()
	out := new(bytes.Buffer)
	enc := tdaq.NewEncoder(out)
	enc.WriteU32(uint32(beg))
	enc.WriteU32(uint32(end - beg))
	enc.WriteU32(uint32(size))
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("could not encode batch header: %w", err)
	}
	out.Grow((end - beg) * size)
	for i := beg; i < end; i++ {
		out.Write(buf.Record(i))
	}

	dev.next = end
	return out.Bytes(), nil
}

func ignoreDataLoss(err error) error {
	var ierr *sample.IncompleteRecordError
	if errors.As(err, &ierr) {
		return nil
	}
	return err
}

func (dev *node) publish(ctx context.Context, body []byte) {
	select {
	case dev.data <- body:
	case <-ctx.Done():
	}
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	var (
		src     = dev.src
		signals = dev.signals
		depth   = dev.depth
	)
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		src = dec.ReadStr()
		signals = dec.ReadStr()
		depth = int(dec.ReadU32())
		if err := dec.Err(); err != nil {
			ctx.Msg.Errorf("could not decode /config request: %+v", err)
			return fmt.Errorf("could not decode /config request: %w", err)
		}
	}

	err := dev.configure(src, signals, depth)
	if err != nil {
		ctx.Msg.Errorf("could not configure ILA %q: %+v", src, err)
		return fmt.Errorf("could not configure ILA %q: %w", src, err)
	}
	ctx.Msg.Infof("configured ILA %q with signals %q (depth=%d)", src, signals, depth)
	return nil
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev.data = make(chan []byte, 64)
	return nil
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := dev.reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset ILA %q: %+v", dev.src, err)
		return fmt.Errorf("could not reset ILA %q: %w", dev.src, err)
	}
	dev.data = make(chan []byte, 64)
	return nil
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := dev.start(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not start ILA %q: %+v", dev.src, err)
		return fmt.Errorf("could not start ILA %q: %w", dev.src, err)
	}
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")

	var fname string
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname = dec.ReadStr()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("could not decode /stop request: %w", err)
		}
	}

	body, err := dev.stop(fname)
	if err != nil {
		ctx.Msg.Errorf("could not stop ILA %q: %+v", dev.src, err)
		return fmt.Errorf("could not stop ILA %q: %w", dev.src, err)
	}
	if body != nil {
		select {
		case dev.data <- body:
		default:
			ctx.Msg.Errorf("output queue full: dropping last batch")
		}
	}
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := dev.close()
	if err != nil {
		ctx.Msg.Errorf("could not close ILA %q: %+v", dev.src, err)
		return err
	}
	return nil
}

func (dev *node) records(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
		}

		body, err := dev.poll()
		if err != nil {
			ctx.Msg.Errorf("could not poll ILA %q: %+v", dev.src, err)
			return err
		}
		if body == nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		dev.publish(ctx.Ctx, body)
	}
}
