// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package board

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/jacobsa/go-serial/serial"
	"periph.io/x/conn/v3/gpio"
)

// Switch is anything that can be turned on and off.
type Switch interface {
	Set(on bool) error
}

// PinOutput drives a GPIO pin high for on.
type PinOutput struct {
	pin gpio.PinOut
}

// NewPinOutput wraps pin and drives it low.
func NewPinOutput(pin gpio.PinOut) (*PinOutput, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("board: %s output: %w", pin.Name(), err)
	}
	return &PinOutput{pin: pin}, nil
}

// OutputPin looks up name and returns it as a PinOutput.
func OutputPin(name string) (*PinOutput, error) {
	p, err := Pin(name)
	if err != nil {
		return nil, err
	}
	return NewPinOutput(p)
}

func (o *PinOutput) Set(on bool) error {
	return o.pin.Out(gpio.Level(on))
}

// SerialOutput sends "UNLOCK\n" and "LOCK\n" to a door actuator.
type SerialOutput struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// NewSerialOutput wraps an open port.
func NewSerialOutput(port io.WriteCloser) *SerialOutput {
	return &SerialOutput{port: port}
}

// OpenSerialOutput opens portName at baud, 8N1.
func OpenSerialOutput(portName string, baud int) (*SerialOutput, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("board: open %s: %w", portName, err)
	}
	glog.Infof("board: door actuator on %s at %d baud", portName, baud)
	return NewSerialOutput(port), nil
}

func (o *SerialOutput) Set(on bool) error {
	cmd := "LOCK\n"
	if on {
		cmd = "UNLOCK\n"
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := io.WriteString(o.port, cmd); err != nil {
		return fmt.Errorf("board: actuator write: %w", err)
	}
	return nil
}

func (o *SerialOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.port.Close()
}

// Outputs fans Set out to every switch. All switches are attempted even when
// one fails.
type Outputs []Switch

func (outs Outputs) Set(on bool) error {
	var errs []error
	for _, o := range outs {
		if err := o.Set(on); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
