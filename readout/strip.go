// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package readout renders published temperatures: a 1D thermometer strip on
// the terminal and a gauge image for files and displays.
package readout

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"periph.io/x/conn/v3/display"

	"github.com/GermanBionicSystems/bme280mon/monitor"
)

// StripOpts represents the options available for the strip.
type StripOpts struct {
	// Width is the number of cells.
	Width int
	// MinC and MaxC are the temperatures of the first and last cell.
	MinC, MaxC float64
	Palette    *ansi256.Palette
	// W is the output. nil means stdout, with ANSI colors only when stdout
	// is a terminal.
	W io.Writer
	// Plain disables ANSI colors and writes one text line per reading.
	Plain bool

	_ struct{}
}

// Strip is a thermometer drawn with colored cells on a terminal.
type Strip struct {
	w          io.Writer
	plain      bool
	l          int
	minC, maxC float64
	palette    ansi256.Palette

	pixels []byte
	img    *image.NRGBA
	buf    bytes.Buffer
}

// NewStrip returns a Strip. opts.Width must be positive.
func NewStrip(opts *StripOpts) (*Strip, error) {
	if opts.Width <= 0 {
		return nil, errors.New("readout: invalid strip width")
	}
	if opts.MinC >= opts.MaxC {
		return nil, errors.New("readout: invalid strip range")
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w, plain := opts.W, opts.Plain
	if w == nil {
		fd := os.Stdout.Fd()
		if !plain && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) {
			w = colorable.NewColorableStdout()
		} else {
			w = colorable.NewNonColorable(os.Stdout)
			plain = true
		}
	}
	return &Strip{
		w:       w,
		plain:   plain,
		l:       opts.Width,
		minC:    opts.MinC,
		maxC:    opts.MaxC,
		palette: *p,
		pixels:  make([]byte, 3*opts.Width),
		img:     image.NewNRGBA(image.Rect(0, 0, opts.Width, 1)),
	}, nil
}

func (s *Strip) String() string {
	return "Strip"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors so the console is not corrupted.
func (s *Strip) Halt() error {
	if s.plain {
		return nil
	}
	_, err := s.w.Write([]byte("\n\033[0m"))
	return err
}

// Show draws r as a thermometer followed by its value.
func (s *Strip) Show(r monitor.Reading) error {
	if s.plain {
		flag := ""
		if r.OutOfRange {
			flag = " (out of range)"
		}
		_, err := fmt.Fprintf(s.w, "#%d %s %.2f°C%s\n", r.Seq, r.Time.Format("15:04:05"), r.Celsius, flag)
		return err
	}
	lit := int(fraction(r.Celsius, s.minC, s.maxC)*float64(s.l) + 0.5)
	for x := 0; x < s.l; x++ {
		c := unlit
		if x < lit {
			c = ramp(float64(x) / float64(s.l))
		}
		s.img.SetNRGBA(x, 0, c)
	}
	if err := s.Draw(s.Bounds(), s.img, image.Point{}); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.w, "%7.2f°C ", r.Celsius)
	return err
}

// Write accepts a stream of raw RGB pixels, at most 3 bytes per cell, and
// writes it to the console.
func (s *Strip) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 || len(pixels) > len(s.pixels) {
		return 0, errors.New("readout: invalid RGB stream length")
	}
	copy(s.pixels, pixels)
	if _, err := s.refresh(); err != nil {
		return 0, err
	}
	return len(pixels), nil
}

// ColorModel implements display.Drawer.
func (s *Strip) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (s *Strip) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: s.l, Y: 1}}
}

// Draw implements display.Drawer. Only the first row of src is used.
func (s *Strip) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(s.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	deltaX3 := 3 * (r.Min.X - srcR.Min.X)
	for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
		r16, g16, b16, _ := src.At(sX, srcR.Min.Y).RGBA()
		dX3 := 3*sX + deltaX3
		s.pixels[dX3] = byte(r16 >> 8)
		s.pixels[dX3+1] = byte(g16 >> 8)
		s.pixels[dX3+2] = byte(b16 >> 8)
	}
	_, err := s.refresh()
	return err
}

func (s *Strip) refresh() (int, error) {
	s.buf.Reset()
	_, _ = s.buf.WriteString("\r\033[0m")
	for i := 0; i < len(s.pixels)/3; i++ {
		c := color.NRGBA{s.pixels[3*i], s.pixels[3*i+1], s.pixels[3*i+2], 255}
		_, _ = io.WriteString(&s.buf, s.palette.Block(c))
	}
	_, _ = s.buf.WriteString("\033[0m ")
	_, err := s.buf.WriteTo(s.w)
	return len(s.pixels), err
}

var _ display.Drawer = &Strip{}
var _ fmt.Stringer = &Strip{}
