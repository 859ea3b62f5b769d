// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package readout

import "image/color"

var (
	cold  = color.NRGBA{0x20, 0x40, 0xFF, 0xFF}
	hot   = color.NRGBA{0xFF, 0x30, 0x10, 0xFF}
	unlit = color.NRGBA{0x20, 0x20, 0x20, 0xFF}
)

// fraction returns where c sits between minC and maxC, clamped to [0, 1].
func fraction(c, minC, maxC float64) float64 {
	f := (c - minC) / (maxC - minC)
	if f < 0 || f != f {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// ramp blends from cold at 0 to hot at 1.
func ramp(f float64) color.NRGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(float64(a) + (float64(b)-float64(a))*f + 0.5)
	}
	return color.NRGBA{mix(cold.R, hot.R), mix(cold.G, hot.G), mix(cold.B, hot.B), 0xFF}
}
