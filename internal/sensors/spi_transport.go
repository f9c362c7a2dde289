// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

type spiJob struct {
	w, r []byte
	done func(error)
}

// SPITransport turns a blocking periph spi.Conn into an asynchronous
// Transport: a single worker goroutine runs one transfer at a time and reports
// completion through the job's callback.
type SPITransport struct {
	conn  spi.Conn
	port  spi.PortCloser
	queue chan spiJob

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// OpenSPI initializes the periph host, opens spiDev and connects at maxHz in
// the given mode with 8-bit words.
func OpenSPI(spiDev string, maxHz physic.Frequency, mode spi.Mode) (*SPITransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gyro: periph host init: %w", err)
	}
	port, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("gyro: SPI open (%s): %w", spiDev, err)
	}
	conn, err := port.Connect(maxHz, mode, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("gyro: SPI connect (%s @ %s): %w", spiDev, maxHz, err)
	}
	glog.Infof("gyro: SPI %s connected at %s, mode %d", spiDev, maxHz, mode)

	t := NewSPITransport(conn)
	t.port = port
	return t, nil
}

// NewSPITransport wraps an already connected spi.Conn.
func NewSPITransport(conn spi.Conn) *SPITransport {
	t := &SPITransport{
		conn:    conn,
		queue:   make(chan spiJob, 1),
		closing: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

func (t *SPITransport) worker() {
	defer t.wg.Done()
	for {
		select {
		case j := <-t.queue:
			j.done(t.conn.Tx(j.w, j.r))
		case <-t.closing:
			return
		}
	}
}

// Start implements Transport.
func (t *SPITransport) Start(w, r []byte, done func(error)) error {
	select {
	case <-t.closing:
		return ErrTransportClosed
	default:
	}
	select {
	case t.queue <- spiJob{w: w, r: r, done: done}:
		return nil
	default:
		return ErrBusBusy
	}
}

// Close stops the worker and releases the port.
func (t *SPITransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closing)
		t.wg.Wait()
		if t.port != nil {
			err = t.port.Close()
		}
	})
	return err
}
