package imu

import "fmt"

// Axis identifies one gyroscope axis. The order X, Y, Z is the order the
// sensor emits its output registers and the order every per-axis array in
// this project is indexed by.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ

	NumAxes = 3
)

// Axes lists all axes in register order.
var Axes = [NumAxes]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Sample is a single raw gyroscope reading, produced atomically per poll.
type Sample struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// Get returns the component for axis a.
func (s Sample) Get(a Axis) int16 {
	switch a {
	case AxisX:
		return s.X
	case AxisY:
		return s.Y
	default:
		return s.Z
	}
}
