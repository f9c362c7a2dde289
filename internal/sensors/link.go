// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/relabs-tech/gesture_lock/internal/events"
	"github.com/relabs-tech/gesture_lock/internal/imu"
)

var (
	// ErrBusTimeout is returned when a transfer does not complete in time.
	ErrBusTimeout = errors.New("sensors: bus timeout")
	// ErrBusBusy is returned by a transport that cannot accept another transfer.
	ErrBusBusy = errors.New("sensors: bus busy")
	// ErrConfiguration is returned when a control register write is not acknowledged
	// or does not read back as written.
	ErrConfiguration = errors.New("sensors: configuration failure")
	// ErrTransportClosed is returned by a closed transport.
	ErrTransportClosed = errors.New("sensors: transport closed")
)

// Transport starts full-duplex bus transfers asynchronously. Start must not
// block on the transfer itself; done is called exactly once, from any
// goroutine, when r holds the received bytes.
type Transport interface {
	Start(w, r []byte, done func(error)) error
}

const (
	bufSize = 32

	DefaultTimeout = 100 * time.Millisecond
	DefaultRetries = 2
)

// Link performs register transactions against the gyroscope. Each
// transaction enqueues a transfer, suspends the caller until the transport
// reports completion through the TransferComplete flag, then decodes the
// shared receive buffer.
type Link struct {
	tr    Transport
	flags *events.Flags

	// Timeout bounds the wait for a single transfer.
	Timeout time.Duration
	// Retries is the number of extra attempts after a timed out transfer.
	Retries int

	// mu serializes transactions; the buffers below are owned by the holder.
	mu     sync.Mutex
	tx, rx []byte

	// cmu guards the completion state shared with transport callbacks.
	cmu     sync.Mutex
	gen     uint64
	xferErr error
}

// NewLink creates a Link that signals completion through flags.
func NewLink(tr Transport, flags *events.Flags) *Link {
	return &Link{
		tr:      tr,
		flags:   flags,
		Timeout: DefaultTimeout,
		Retries: DefaultRetries,
		tx:      make([]byte, bufSize),
		rx:      make([]byte, bufSize),
	}
}

// complete runs in the transport's context: it only records the result and
// latches TransferComplete. Completions of abandoned transfers are dropped.
func (l *Link) complete(gen uint64, err error) {
	l.cmu.Lock()
	defer l.cmu.Unlock()
	if gen != l.gen {
		return
	}
	l.xferErr = err
	l.flags.Set(events.TransferComplete)
}

// abandon invalidates the in-flight transfer. The transport may still write
// into the old buffers, so fresh ones are allocated.
func (l *Link) abandon() {
	l.cmu.Lock()
	l.gen++
	l.cmu.Unlock()
	l.flags.Clear(events.TransferComplete)
	l.tx = make([]byte, bufSize)
	l.rx = make([]byte, bufSize)
}

func (l *Link) transferOnce(ctx context.Context, w []byte) ([]byte, error) {
	l.cmu.Lock()
	l.gen++
	gen := l.gen
	l.xferErr = nil
	l.cmu.Unlock()
	l.flags.Clear(events.TransferComplete)

	n := copy(l.tx, w)
	tx, rx := l.tx[:n], l.rx[:n]
	for i := range rx {
		rx[i] = 0
	}

	if err := l.tr.Start(tx, rx, func(err error) { l.complete(gen, err) }); err != nil {
		l.abandon()
		return nil, fmt.Errorf("sensors: start transfer: %w", err)
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := l.flags.WaitAll(wctx, events.TransferComplete); err != nil {
		l.abandon()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %v", ErrBusTimeout, timeout)
	}

	l.cmu.Lock()
	err := l.xferErr
	l.cmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sensors: transfer: %w", err)
	}
	return rx, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrBusTimeout) || errors.Is(err, ErrBusBusy)
}

// transact runs one transaction with bounded retries and returns a copy of the
// received bytes.
func (l *Link) transact(ctx context.Context, w []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; ; attempt++ {
		rx, err := l.transferOnce(ctx, w)
		if err == nil {
			out := make([]byte, len(rx))
			copy(out, rx)
			return out, nil
		}
		if !retryable(err) || attempt >= l.Retries || ctx.Err() != nil {
			return nil, err
		}
		glog.Warningf("sensors: transfer 0x%02X attempt %d/%d failed: %v", w[0], attempt+1, l.Retries+1, err)
	}
}

// WriteRegister writes one control register.
func (l *Link) WriteRegister(ctx context.Context, addr, value byte) error {
	_, err := l.transact(ctx, []byte{addr & addrMask, value})
	return err
}

// ReadRegister reads one register.
func (l *Link) ReadRegister(ctx context.Context, addr byte) (byte, error) {
	rx, err := l.transact(ctx, []byte{addr&addrMask | flagRead, 0})
	if err != nil {
		return 0, err
	}
	return rx[1], nil
}

// ReadRegisters reads every address in addrs, one transaction each.
func (l *Link) ReadRegisters(ctx context.Context, addrs []byte) (map[byte]byte, error) {
	out := make(map[byte]byte, len(addrs))
	for _, a := range addrs {
		v, err := l.ReadRegister(ctx, a)
		if err != nil {
			return out, fmt.Errorf("sensors: read 0x%02X: %w", a, err)
		}
		out[a] = v
	}
	return out, nil
}

// Identify reads WHO_AM_I.
func (l *Link) Identify(ctx context.Context) (byte, error) {
	return l.ReadRegister(ctx, RegWhoAmI)
}

// Apply writes table in order, verifying each write by reading it back.
func (l *Link) Apply(ctx context.Context, table []RegisterWrite) error {
	for _, w := range table {
		if err := l.WriteRegister(ctx, w.Addr, w.Value); err != nil {
			return fmt.Errorf("%w: write %s: %w", ErrConfiguration, w, err)
		}
		got, err := l.ReadRegister(ctx, w.Addr)
		if err != nil {
			return fmt.Errorf("%w: verify %s: %w", ErrConfiguration, w, err)
		}
		if got != w.Value {
			return fmt.Errorf("%w: verify %s: read back 0x%02X", ErrConfiguration, w, got)
		}
		glog.V(1).Infof("sensors: applied %s", w)
	}
	return nil
}

// Configure applies DefaultConfig.
func (l *Link) Configure(ctx context.Context) error {
	if id, err := l.Identify(ctx); err != nil {
		glog.Warningf("sensors: WHO_AM_I read failed: %v", err)
	} else {
		glog.Infof("sensors: gyroscope WHO_AM_I = 0x%02X (%s)", id, DeviceName(id))
	}
	return l.Apply(ctx, DefaultConfig)
}

// ReadAxes burst-reads the six output registers starting at OUT_X_L. The
// caller must have observed a data-ready event first.
func (l *Link) ReadAxes(ctx context.Context) (imu.Sample, error) {
	w := make([]byte, 7)
	w[0] = RegOutXL | flagRead | flagAutoInc
	rx, err := l.transact(ctx, w)
	if err != nil {
		return imu.Sample{}, err
	}
	return DecodeAxes(rx[1:7]), nil
}

// DecodeAxes interprets six bytes as little-endian int16 X, Y, Z.
func DecodeAxes(b []byte) imu.Sample {
	return imu.Sample{
		X: int16(binary.LittleEndian.Uint16(b[0:2])),
		Y: int16(binary.LittleEndian.Uint16(b[2:4])),
		Z: int16(binary.LittleEndian.Uint16(b[4:6])),
	}
}
