// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gesture

import (
	"errors"

	"github.com/relabs-tech/gesture_lock/internal/imu"
)

// ErrSequenceFull is returned by Append once the sequence reached its capacity.
var ErrSequenceFull = errors.New("gesture: sequence full")

// Sequence stores samples as three parallel per-axis slices of fixed capacity.
// All three axes always have the same length.
type Sequence struct {
	axes [imu.NumAxes][]int16
	cap  int
}

// NewSequence creates an empty sequence able to hold n samples.
func NewSequence(n int) *Sequence {
	if n < 0 {
		n = 0
	}
	s := &Sequence{cap: n}
	for i := range s.axes {
		s.axes[i] = make([]int16, 0, n)
	}
	return s
}

// SequenceOf builds a full sequence from samples.
func SequenceOf(samples ...imu.Sample) *Sequence {
	s := NewSequence(len(samples))
	for _, smp := range samples {
		_ = s.Append(smp)
	}
	return s
}

// Append adds one sample to every axis.
func (s *Sequence) Append(smp imu.Sample) error {
	if s.Full() {
		return ErrSequenceFull
	}
	for _, a := range imu.Axes {
		s.axes[a] = append(s.axes[a], smp.Get(a))
	}
	return nil
}

// Len returns the number of samples recorded so far.
func (s *Sequence) Len() int { return len(s.axes[imu.AxisX]) }

// Cap returns the fixed capacity.
func (s *Sequence) Cap() int { return s.cap }

func (s *Sequence) Empty() bool { return s.Len() == 0 }

func (s *Sequence) Full() bool { return s.Len() >= s.cap }

// Axis returns the samples recorded for axis a. The slice must not be modified.
func (s *Sequence) Axis(a imu.Axis) []int16 {
	return s.axes[a]
}

// At returns the i-th sample.
func (s *Sequence) At(i int) imu.Sample {
	return imu.Sample{
		X: s.axes[imu.AxisX][i],
		Y: s.axes[imu.AxisY][i],
		Z: s.axes[imu.AxisZ][i],
	}
}

// Reset empties the sequence, keeping its capacity.
func (s *Sequence) Reset() {
	for i := range s.axes {
		s.axes[i] = s.axes[i][:0]
	}
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	c := NewSequence(s.cap)
	for i := range s.axes {
		c.axes[i] = append(c.axes[i], s.axes[i]...)
	}
	return c
}
