// Copyright 2025 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sample

import (
	"math/big"
	"time"
)

// Point is the value of a signal at a given sample.
type Point struct {
	Index int
	Time  time.Duration
	Value *big.Int
}

// Trace is the ordered sequence of values of one signal.
type Trace struct {
	Signal Signal
	Points []Point
}

// Traces splits the records of the buffer into one trace per signal.
func (buf *Buffer) Traces() ([]Trace, error) {
	var (
		n      = buf.Len()
		traces = make([]Trace, buf.layout.Len())
	)
	for i, sig := range buf.layout.Signals() {
		traces[i] = Trace{
			Signal: sig,
			Points: make([]Point, 0, n),
		}
	}

	err := buf.Each(func(i int, ts time.Duration, vals []*big.Int) error {
		for j, v := range vals {
			traces[j].Points = append(traces[j].Points, Point{
				Index: i,
				Time:  ts,
				Value: v,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return traces, nil
}
