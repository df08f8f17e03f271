// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backhaul

import (
	"log"
	"os"
	"time"

	"github.com/go-lpc/ila/rcobs"
	"github.com/go-lpc/ila/sample"
)

type config struct {
	depth  int
	period time.Duration

	timeout time.Duration // refresh and flush
	poll    time.Duration // update
	drain   time.Duration // stop

	maxFrame int
	readSize int

	msg *log.Logger
}

func newConfig() config {
	return config{
		depth:    1024,
		period:   time.Nanosecond,
		timeout:  2 * time.Second,
		poll:     time.Millisecond,
		drain:    100 * time.Millisecond,
		maxFrame: rcobs.DefaultMaxFrame,
		readSize: 4096,
		msg:      log.New(os.Stdout, "backhaul: ", 0),
	}
}

// Option configures a session.
type Option func(*config)

// WithDepth sets the maximum number of records of a capture.
func WithDepth(n int) Option {
	return func(cfg *config) {
		cfg.depth = n
	}
}

// WithSamplePeriod sets the time between two samples.
func WithSamplePeriod(d time.Duration) Option {
	return func(cfg *config) {
		cfg.period = d
	}
}

// WithSampleRate sets the sample rate, in Hz.
func WithSampleRate(hz float64) Option {
	return func(cfg *config) {
		cfg.period = sample.PeriodOf(hz)
	}
}

// WithTimeout sets the maximum time Refresh and Flush wait for the device.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithPollTimeout sets the read timeout used by Update.
func WithPollTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithDrainTimeout sets the maximum time Stop waits for the frame being
// received to complete.
func WithDrainTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.drain = d
	}
}

// WithMaxFrame sets the maximum size of an encoded frame.
func WithMaxFrame(n int) Option {
	return func(cfg *config) {
		cfg.maxFrame = n
	}
}

// WithReadSize sets the size of the transport read buffer.
func WithReadSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.readSize = n
		}
	}
}

// WithLogger sets the logger of the session.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
