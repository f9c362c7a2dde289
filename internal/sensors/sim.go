// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/gesture_lock/internal/imu"
)

// Motion yields the angular rate the simulated device reports at elapsed.
type Motion func(elapsed time.Duration) imu.Sample

// SmoothMotion is a slowly changing rotation, handy for dry runs.
func SmoothMotion(elapsed time.Duration) imu.Sample {
	s := elapsed.Seconds()
	return imu.Sample{
		X: int16(2000 * math.Sin(s)),
		Y: int16(1500 * math.Cos(s*0.7)),
		Z: int16(500 * math.Sin(s*0.3)),
	}
}

// ConstantMotion always reports s.
func ConstantMotion(s imu.Sample) Motion {
	return func(time.Duration) imu.Sample { return s }
}

// SimDevice emulates the gyroscope's SPI register file. Transfers complete
// asynchronously on their own goroutine, like a DMA-driven bus.
type SimDevice struct {
	mu       sync.Mutex
	regs     [64]byte
	motion   Motion
	start    time.Time
	latency  time.Duration
	stalled  bool
	readOnly map[byte]bool
	writes   []RegisterWrite
	reads    int
}

// NewSimDevice creates a powered-down device reporting motion.
func NewSimDevice(motion Motion) *SimDevice {
	if motion == nil {
		motion = SmoothMotion
	}
	d := &SimDevice{
		motion:   motion,
		start:    time.Now(),
		readOnly: map[byte]bool{},
	}
	d.regs[RegWhoAmI] = 0xD4
	d.regs[RegCtrl1] = 0x07
	return d
}

// SetMotion replaces the motion source.
func (d *SimDevice) SetMotion(m Motion) {
	d.mu.Lock()
	d.motion = m
	d.mu.Unlock()
}

// SetLatency delays every transfer completion.
func (d *SimDevice) SetLatency(l time.Duration) {
	d.mu.Lock()
	d.latency = l
	d.mu.Unlock()
}

// SetStalled makes the device swallow transfers without ever completing them.
func (d *SimDevice) SetStalled(stalled bool) {
	d.mu.Lock()
	d.stalled = stalled
	d.mu.Unlock()
}

// SetReadOnly makes writes to addr silently ignored.
func (d *SimDevice) SetReadOnly(addr byte, ro bool) {
	d.mu.Lock()
	d.readOnly[addr] = ro
	d.mu.Unlock()
}

// Writes returns the register writes seen so far, in order.
func (d *SimDevice) Writes() []RegisterWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RegisterWrite(nil), d.writes...)
}

// AxisReads returns how many burst reads of the output registers were served.
func (d *SimDevice) AxisReads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Register returns the current value of addr.
func (d *SimDevice) Register(addr byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[addr&addrMask]
}

// DataReadyEnabled reports whether the device is powered and routes
// data-ready to its interrupt pin, i.e. whether the pin would toggle.
func (d *SimDevice) DataReadyEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[RegCtrl1]&0x08 != 0 && d.regs[RegCtrl3]&0x08 != 0
}

// Start implements Transport.
func (d *SimDevice) Start(w, r []byte, done func(error)) error {
	d.mu.Lock()
	stalled, latency := d.stalled, d.latency
	d.mu.Unlock()
	if stalled {
		return nil
	}
	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		d.exec(w, r)
		done(nil)
	}()
	return nil
}

func (d *SimDevice) exec(w, r []byte) {
	if len(w) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	addr := w[0] & addrMask
	read := w[0]&flagRead != 0
	inc := w[0]&flagAutoInc != 0

	if read && addr == RegOutXL {
		d.latchOutput()
	}
	for i := 1; i < len(w); i++ {
		a := addr
		if inc {
			a = (addr + byte(i-1)) & addrMask
		}
		if read {
			if i < len(r) {
				r[i] = d.regs[a]
			}
			continue
		}
		d.writes = append(d.writes, RegisterWrite{Addr: a, Value: w[i]})
		if !d.readOnly[a] {
			d.regs[a] = w[i]
		}
	}
}

func (d *SimDevice) latchOutput() {
	d.reads++
	s := d.motion(time.Since(d.start))
	binary.LittleEndian.PutUint16(d.regs[RegOutXL:], uint16(s.X))
	binary.LittleEndian.PutUint16(d.regs[RegOutYL:], uint16(s.Y))
	binary.LittleEndian.PutUint16(d.regs[RegOutZL:], uint16(s.Z))
	d.regs[RegStatus] |= 0x08
}

// RunDataReady calls onReady every period while data-ready is enabled, until
// stop is closed. It plays the role of the INT2 pin edge.
func (d *SimDevice) RunDataReady(period time.Duration, onReady func(), stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if d.DataReadyEnabled() {
				onReady()
			}
		}
	}
}
