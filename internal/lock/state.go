// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package lock

import "fmt"

// State is the controller's current mode.
type State int32

const (
	Idle State = iota
	Recording
	Armed
	Comparing
	// Unlocked is a transient pulse that always returns to Armed.
	Unlocked
)

var stateNames = [...]string{"idle", "recording", "armed", "comparing", "unlocked"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("lock: unknown state %q", string(b))
}
