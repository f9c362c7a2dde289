// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package board brings up the periph.io host and adapts its GPIO pins and
// serial ports to the lock's inputs and outputs.
package board

import (
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Init loads the periph host drivers. Safe to call more than once.
func Init() error {
	state, err := host.Init()
	if err != nil {
		return fmt.Errorf("board: periph host init: %w", err)
	}
	if glog.V(1) {
		for _, d := range state.Loaded {
			glog.Infof("board: driver %s loaded", d)
		}
	}
	for _, f := range state.Failed {
		glog.Warningf("board: driver %s failed: %v", f.D, f.Err)
	}
	return nil
}

// Pin looks up a GPIO by its gpioreg name (e.g. "GPIO17").
func Pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("board: GPIO %q not found", name)
	}
	return p, nil
}
