// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is wrapped by a BusError when a transaction did not complete
	// within Opts.BusTimeout.
	ErrTimeout = errors.New("bme280: bus timeout")
	// ErrNotReady is returned when the status register did not clear within
	// Opts.ReadyTimeout.
	ErrNotReady = errors.New("bme280: device not ready")
	// ErrSkipped is returned when temp_raw holds its reset value, meaning no
	// temperature conversion has been stored yet.
	ErrSkipped = errors.New("bme280: temperature measurement skipped")
)

// BusError is a failed or timed out I²C transaction.
type BusError struct {
	// Op is "read" or "write".
	Op string
	// Reg is the register address of the transaction.
	Reg byte
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bme280: %s 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the transaction was abandoned after Opts.BusTimeout.
func (e *BusError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// ChipIDError is returned by NewI2C when the id register does not identify a
// BME280.
type ChipIDError struct {
	Got byte
}

func (e *ChipIDError) Error() string {
	return fmt.Sprintf("bme280: unexpected chip id 0x%02X, want 0x%02X", e.Got, chipID)
}

// OutOfRangeError flags a compensated value outside the operating range of
// the sensor. It is a warning: the value that triggered it is still returned.
type OutOfRangeError struct {
	Celsius float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("bme280: %.2f°C outside operating range [%.0f, %.0f]", e.Celsius, MinCelsius, MaxCelsius)
}
