// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry mirrors the lock controller onto MQTT: state changes,
// comparison outcomes and faults go out as JSON events, remote commands come
// back in.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/gesture_lock/internal/gesture"
)

// Kind classifies an Event.
type Kind string

const (
	KindState    Kind = "state"
	KindRecorded Kind = "recorded"
	KindOutcome  Kind = "outcome"
	KindFault    Kind = "fault"
)

// Event is the JSON payload of every published message.
type Event struct {
	ID   string `json:"id"`
	Time string `json:"time"` // RFC3339, UTC
	Kind Kind   `json:"kind"`

	State   string           `json:"state,omitempty"`
	From    string           `json:"from,omitempty"`
	Samples int              `json:"samples,omitempty"`
	Outcome *gesture.Outcome `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func newEvent(kind Kind, now time.Time) Event {
	return Event{
		ID:   uuid.NewString(),
		Time: now.UTC().Format(time.RFC3339),
		Kind: kind,
	}
}

// Timestamp parses Time.
func (e Event) Timestamp() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Time)
}

// Decode parses a payload produced by Publisher.
func Decode(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("telemetry: decode: %w", err)
	}
	if e.Kind == "" {
		return Event{}, fmt.Errorf("telemetry: decode: missing kind")
	}
	return e, nil
}
