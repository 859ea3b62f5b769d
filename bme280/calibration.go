// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// MinCelsius and MaxCelsius bound the operating range of the sensor.
	MinCelsius = -40.0
	MaxCelsius = 85.0

	calibrationSize = 6
)

// Calibration holds the factory trim coefficients of the temperature channel.
// They differ from one part to the next and are read once per Dev.
type Calibration struct {
	T1 uint16
	T2 int16
	T3 int16
}

// DecodeCalibration parses the 6 bytes starting at register 0x88. Each
// coefficient is stored little endian.
func DecodeCalibration(b []byte) Calibration {
	_ = b[calibrationSize-1]
	return Calibration{
		T1: binary.LittleEndian.Uint16(b[0:2]),
		T2: int16(binary.LittleEndian.Uint16(b[2:4])),
		T3: int16(binary.LittleEndian.Uint16(b[4:6])),
	}
}

// Compensate returns the temperature in °C for a raw 20 bit ADC code.
//
// It is the double precision formula of the datasheet, section 8.1. Any raw
// value gives a well defined result; garbage in gives garbage out.
func (c Calibration) Compensate(raw int32) float64 {
	adc := float64(raw)
	t1 := float64(c.T1)
	var1 := (adc/16384.0 - t1/1024.0) * float64(c.T2)
	d := adc/131072.0 - t1/8192.0
	var2 := d * d * float64(c.T3)
	return (var1 + var2) / 5120.0
}

// CheckRange returns an *OutOfRangeError when celsius is outside
// [MinCelsius, MaxCelsius].
func CheckRange(celsius float64) error {
	if celsius < MinCelsius || celsius > MaxCelsius {
		return &OutOfRangeError{Celsius: celsius}
	}
	return nil
}

// PackRaw assembles MSB, LSB and XLSB of temp_raw into the 20 bit ADC code.
// The low nibble of XLSB is unused.
func PackRaw(b [3]byte) int32 {
	return (int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])) >> 4
}

// readCalibration reads the trim coefficients, retrying with a doubling
// backoff. A Dev is never built from zeroed coefficients.
func (d *Dev) readCalibration() (Calibration, error) {
	attempts := d.opts.CalibrationRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := d.opts.RetryBackoff
	b := make([]byte, calibrationSize)
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if err = d.readReg(regCalib, b); err == nil {
			return DecodeCalibration(b), nil
		}
	}
	return Calibration{}, fmt.Errorf("bme280: calibration read failed after %d attempts: %w", attempts, err)
}
