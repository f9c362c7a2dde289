// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package board

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/gpio"
)

// EdgeSource is the input half of a GPIO pin. gpio.PinIn satisfies it.
type EdgeSource interface {
	Name() string
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
	Halt() error
}

// Watcher calls a function for every detected edge on a pin. The function
// runs on the watcher goroutine and must not block.
type Watcher struct {
	pin  EdgeSource
	done chan struct{}
}

// Watch configures pin as an input with the given pull and edge detection and
// calls fn on every edge until ctx is cancelled.
func Watch(ctx context.Context, pin EdgeSource, pull gpio.Pull, edge gpio.Edge, fn func()) (*Watcher, error) {
	if err := pin.In(pull, edge); err != nil {
		return nil, fmt.Errorf("board: %s edge detection: %w", pin.Name(), err)
	}
	w := &Watcher{pin: pin, done: make(chan struct{})}

	go func() {
		<-ctx.Done()
		if err := pin.Halt(); err != nil {
			glog.Warningf("board: halt %s: %v", pin.Name(), err)
		}
	}()

	go func() {
		defer close(w.done)
		for {
			if !pin.WaitForEdge(-1) {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn()
		}
	}()
	glog.V(1).Infof("board: watching %s for %s edges", pin.Name(), edge)
	return w, nil
}

// Done is closed once the watcher goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Level reads the pin's current level.
func (w *Watcher) Level() gpio.Level {
	return w.pin.Read()
}

// PrimeIfHigh calls fn when the pin is already high. A level-triggered source
// that went high before edge detection was armed would otherwise never fire.
func (w *Watcher) PrimeIfHigh(fn func()) {
	if w.pin.Read() == gpio.High {
		glog.V(1).Infof("board: %s already high, priming", w.pin.Name())
		fn()
	}
}
