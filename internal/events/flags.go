// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package events bridges interrupt-style producers (GPIO edge watchers, the
// SPI worker, remote commands) and the single foreground control loop.
//
// Flags behave as latches: a bit stays set until a waiter consumes it, so an
// edge that fires before the foreground starts waiting is never lost.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Flag is a bit mask of event flags.
type Flag uint32

const (
	// TransferComplete is set when a bus transaction's result buffer is valid.
	TransferComplete Flag = 1 << iota
	// DataReady is set on the sensor's data-ready pin edge.
	DataReady
	// ButtonPressed is set when a recording has been requested.
	ButtonPressed
)

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, n := range []struct {
		bit  Flag
		name string
	}{
		{TransferComplete, "transfer_complete"},
		{DataReady, "data_ready"},
		{ButtonPressed, "button_pressed"},
	} {
		if f&n.bit != 0 {
			names = append(names, n.name)
			f &^= n.bit
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(f)))
	}
	return strings.Join(names, "|")
}

// Flags is a set of independently settable and waitable event flags.
// The zero value is ready to use.
type Flags struct {
	mu   sync.Mutex
	bits Flag
	// changed is closed and replaced on every Set to wake all waiters.
	changed chan struct{}
}

// NewFlags creates an empty flag set.
func NewFlags() *Flags {
	return &Flags{}
}

func (f *Flags) wakeCh() chan struct{} {
	if f.changed == nil {
		f.changed = make(chan struct{})
	}
	return f.changed
}

// Set latches every bit in mask. It never blocks on waiters and may be called
// from any goroutine; setting an already set bit is a no-op.
func (f *Flags) Set(mask Flag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bits&mask == mask {
		return
	}
	f.bits |= mask
	if f.changed != nil {
		close(f.changed)
		f.changed = nil
	}
}

// Clear drops every bit in mask without waiting.
func (f *Flags) Clear(mask Flag) {
	f.mu.Lock()
	f.bits &^= mask
	f.mu.Unlock()
}

// Get returns the currently latched bits.
func (f *Flags) Get() Flag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits
}

// TryWaitAll consumes mask if all of its bits are set and reports whether it did.
func (f *Flags) TryWaitAll(mask Flag) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bits&mask != mask {
		return false
	}
	f.bits &^= mask
	return true
}

// WaitAll blocks until every bit in mask is set, then clears exactly those
// bits. On context cancellation it returns ctx.Err() and leaves the flags
// untouched.
func (f *Flags) WaitAll(ctx context.Context, mask Flag) error {
	for {
		f.mu.Lock()
		if f.bits&mask == mask {
			f.bits &^= mask
			f.mu.Unlock()
			return nil
		}
		ch := f.wakeCh()
		f.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
