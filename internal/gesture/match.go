// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gesture

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/gesture_lock/internal/imu"
)

// ErrLengthMismatch is returned when two sequences cannot be compared.
var ErrLengthMismatch = errors.New("gesture: sequences must be full and of equal length")

// AxisStats holds the mean and population standard deviation of one axis.
type AxisStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// AxisDelta is the per-axis comparison result.
type AxisDelta struct {
	MeanDelta   float64 `json:"mean_delta"`
	StdDevDelta float64 `json:"stddev_delta"`
	OK          bool    `json:"ok"`
}

// Outcome is the result of one comparison cycle, indexed by imu.Axis.
type Outcome struct {
	Axes      [imu.NumAxes]AxisDelta `json:"axes"`
	Tolerance float64                `json:"tolerance"`
	Match     bool                   `json:"match"`
}

// Stats computes mean and population standard deviation (divisor N).
func Stats(samples []int16) AxisStats {
	if len(samples) == 0 {
		return AxisStats{}
	}
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return AxisStats{Mean: mean, StdDev: std}
}

// Compare checks candidate against reference axis by axis. An axis passes when
// both |mean delta| and |stddev delta| are <= tolerance; the verdict is the AND
// over all axes.
func Compare(reference, candidate *Sequence, tolerance float64) (Outcome, error) {
	if reference == nil || candidate == nil || reference.Empty() ||
		!reference.Full() || !candidate.Full() || reference.Len() != candidate.Len() {
		return Outcome{}, ErrLengthMismatch
	}
	if tolerance < 0 || math.IsNaN(tolerance) {
		return Outcome{}, fmt.Errorf("gesture: invalid tolerance %v", tolerance)
	}

	out := Outcome{Tolerance: tolerance, Match: true}
	for _, a := range imu.Axes {
		r := Stats(reference.Axis(a))
		c := Stats(candidate.Axis(a))
		d := AxisDelta{
			MeanDelta:   math.Abs(r.Mean - c.Mean),
			StdDevDelta: math.Abs(r.StdDev - c.StdDev),
		}
		d.OK = d.MeanDelta <= tolerance && d.StdDevDelta <= tolerance
		out.Axes[a] = d
		out.Match = out.Match && d.OK
	}
	return out, nil
}

// Match reports whether candidate is close enough to reference. Sequences that
// cannot be compared never match.
func Match(reference, candidate *Sequence, tolerance float64) bool {
	out, err := Compare(reference, candidate, tolerance)
	return err == nil && out.Match
}
