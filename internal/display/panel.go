// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display renders short centered messages on a 128x64 SSD1306 panel.
package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

const (
	Width  = 128
	Height = 64

	// Addr is the only I2C address the ssd1306 driver talks to.
	Addr = 0x3C

	lineHeight = 12
)

var face = basicfont.Face7x13

// Target is the drawing surface; *ssd1306.Dev implements it.
type Target interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Panel shows centered text on a Target.
type Panel struct {
	mu     sync.Mutex
	target Target
	bus    i2c.BusCloser
}

// New wraps an existing target.
func New(t Target) *Panel {
	return &Panel{target: t}
}

// Open initializes the periph host, opens the I2C bus (empty name selects the
// first one) and connects to the SSD1306 at Addr.
func Open(busName string) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("display: I2C open: %w", err)
	}
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("display: SSD1306 at 0x%02X: %w", Addr, err)
	}
	glog.Infof("display: SSD1306 initialized at 0x%02X", Addr)

	p := New(dev)
	p.bus = bus
	return p, nil
}

// Clear blanks the panel.
func (p *Panel) Clear() error {
	return p.draw(Render())
}

// Show replaces the panel contents with lines, each centered horizontally,
// the block centered vertically. Lines that do not fit are dropped.
func (p *Panel) Show(lines ...string) error {
	return p.draw(Render(lines...))
}

func (p *Panel) draw(img *image1bit.VerticalLSB) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target.Draw(p.target.Bounds(), img, image.Point{})
}

// Close releases the I2C bus when the panel owns it.
func (p *Panel) Close() error {
	if p.bus == nil {
		return nil
	}
	return p.bus.Close()
}

// Render draws lines into a fresh frame buffer.
func Render(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))

	if maxLines := Height / lineHeight; len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	ascent := face.Metrics().Ascent.Ceil()
	top := (Height - len(lines)*lineHeight) / 2

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: face,
	}
	for i, line := range lines {
		w := drawer.MeasureString(line).Ceil()
		x := (Width - w) / 2
		if x < 0 {
			x = 0
		}
		drawer.Dot = fixed.P(x, top+i*lineHeight+ascent)
		drawer.DrawString(line)
	}
	return img
}
