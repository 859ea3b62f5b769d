// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package readout

import (
	"errors"
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"periph.io/x/conn/v3/display"

	"github.com/GermanBionicSystems/bme280mon/monitor"
)

// GaugeOpts represents the options available for the gauge.
type GaugeOpts struct {
	W, H       int
	MinC, MaxC float64
	// FontSize is the size in points of the value. 0 derives it from H.
	FontSize float64

	_ struct{}
}

// DefaultGaugeOpts is a 128x64 gauge, the size of common OLED panels.
var DefaultGaugeOpts = GaugeOpts{
	W:    128,
	H:    64,
	MinC: -10,
	MaxC: 40,
}

// Gauge renders a reading as a horizontal bar with the value above it.
type Gauge struct {
	opts GaugeOpts
	face font.Face
}

// NewGauge returns a Gauge using the Go regular font.
func NewGauge(opts *GaugeOpts) (*Gauge, error) {
	if opts == nil {
		opts = &DefaultGaugeOpts
	}
	if opts.W <= 0 || opts.H <= 0 {
		return nil, errors.New("readout: invalid gauge size")
	}
	if opts.MinC >= opts.MaxC {
		return nil, errors.New("readout: invalid gauge range")
	}
	o := *opts
	if o.FontSize == 0 {
		o.FontSize = float64(o.H) * 0.35
	}
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("readout: %w", err)
	}
	return &Gauge{opts: o, face: truetype.NewFace(f, &truetype.Options{Size: o.FontSize})}, nil
}

// Bounds returns the size of the rendered image.
func (g *Gauge) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.opts.W, g.opts.H)
}

// barRect returns the bar area as x, y, w, h.
func (g *Gauge) barRect() (float64, float64, float64, float64) {
	w, h := float64(g.opts.W), float64(g.opts.H)
	m := h * 0.08
	return m, h * 0.7, w - 2*m, h*0.3 - m
}

// Render draws r.
func (g *Gauge) Render(r monitor.Reading) image.Image {
	w, h := float64(g.opts.W), float64(g.opts.H)
	dc := gg.NewContext(g.opts.W, g.opts.H)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	x, y, bw, bh := g.barRect()
	dc.SetColor(unlit)
	dc.DrawRectangle(x, y, bw, bh)
	dc.Fill()
	f := fraction(r.Celsius, g.opts.MinC, g.opts.MaxC)
	if f > 0 {
		dc.SetColor(ramp(f))
		dc.DrawRectangle(x, y, bw*f, bh)
		dc.Fill()
	}

	dc.SetRGB(1, 1, 1)
	dc.SetFontFace(g.face)
	dc.DrawStringAnchored(fmt.Sprintf("%.2f°C", r.Celsius), w/2, h*0.35, 0.5, 0.5)
	if r.OutOfRange {
		dc.SetFontFace(basicfont.Face7x13)
		dc.SetRGB(1, 0.3, 0.1)
		dc.DrawStringAnchored("out of range", w/2, h*0.62, 0.5, 0.5)
	}
	return dc.Image()
}

// SavePNG renders r into a PNG file.
func (g *Gauge) SavePNG(path string, r monitor.Reading) error {
	if err := gg.SavePNG(path, g.Render(r)); err != nil {
		return fmt.Errorf("readout: %w", err)
	}
	return nil
}

// Draw renders r onto dst, aligned on its origin.
func (g *Gauge) Draw(dst display.Drawer, r monitor.Reading) error {
	return dst.Draw(dst.Bounds(), g.Render(r), image.Point{})
}
