// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recorder fills a gesture.Sequence from the gyroscope at a fixed
// cadence, bounded by a sample count and an optional time budget.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/relabs-tech/gesture_lock/internal/events"
	"github.com/relabs-tech/gesture_lock/internal/gesture"
	"github.com/relabs-tech/gesture_lock/internal/imu"
)

// ErrShortCapture is returned, along with the partial sequence, when the
// budget elapsed before the target count was reached.
var ErrShortCapture = errors.New("recorder: short capture")

// DefaultPeriod is the pause between samples, matched to the sensor's output
// data rate.
const DefaultPeriod = 50 * time.Millisecond

// AxesReader reads one gyroscope sample. Implemented by sensors.Link.
type AxesReader interface {
	ReadAxes(ctx context.Context) (imu.Sample, error)
}

// Recorder pulls samples through an AxesReader, gated by DataReady.
type Recorder struct {
	reader AxesReader
	flags  *events.Flags

	// Period is the delay after each sample.
	Period time.Duration
}

// New creates a Recorder using DefaultPeriod.
func New(reader AxesReader, flags *events.Flags) *Recorder {
	return &Recorder{reader: reader, flags: flags, Period: DefaultPeriod}
}

// Record collects up to target samples. A budget <= 0 means no time limit.
// When the budget runs out first the partial sequence is returned together
// with ErrShortCapture. Bus errors and cancellation also return whatever was
// collected so far.
func (r *Recorder) Record(ctx context.Context, budget time.Duration, target int) (*gesture.Sequence, error) {
	seq := gesture.NewSequence(target)
	start := time.Now()
	var deadline time.Time
	if budget > 0 {
		deadline = start.Add(budget)
	}

	for !seq.Full() {
		if err := r.awaitDataReady(ctx, deadline); err != nil {
			if ctx.Err() != nil {
				return seq, ctx.Err()
			}
			break // budget elapsed
		}

		s, err := r.reader.ReadAxes(ctx)
		if err != nil {
			return seq, fmt.Errorf("recorder: sample %d: %w", seq.Len(), err)
		}
		if err := seq.Append(s); err != nil {
			return seq, err
		}
		if glog.V(2) {
			glog.Infof("recorder: sample %d x=%d y=%d z=%d", seq.Len()-1, s.X, s.Y, s.Z)
		}
		if seq.Full() {
			break
		}

		if err := events.Sleep(ctx, r.Period); err != nil {
			return seq, err
		}
	}

	if !seq.Full() {
		return seq, fmt.Errorf("%w: %d of %d samples in %v", ErrShortCapture, seq.Len(), target, time.Since(start).Round(time.Millisecond))
	}
	return seq, nil
}

func (r *Recorder) awaitDataReady(ctx context.Context, deadline time.Time) error {
	if deadline.IsZero() {
		return r.flags.WaitAll(ctx, events.DataReady)
	}
	if !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	wctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return r.flags.WaitAll(wctx, events.DataReady)
}
