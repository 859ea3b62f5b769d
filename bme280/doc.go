// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bme280 reads the temperature channel of a Bosch BME280 over I²C.
//
// Only the temperature path is implemented: the driver checks the chip ID,
// waits for the NVM trim copy to finish, writes a single ctrl_meas value,
// reads the dig_T1..dig_T3 trim coefficients and then converts raw 20 bit ADC
// codes using the double precision formula of the datasheet. Pressure and
// humidity are left untouched.
//
// Range: -40°C - 85°C
//
// Resolution: 0.01°C
//
// The returned value is in degrees Celsius. The floating point compensation
// divides by 5120 and yields °C directly; the divide-by-100 step seen in some
// reference code belongs to the 32 bit integer variant, which returns
// hundredths of a degree.
//
// # Datasheet
//
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
//
// Section 4.2.3 has the worked example used by the tests: adc_T=519888,
// dig_T1=27504, dig_T2=26435, dig_T3=-1000 gives 25.08°C.
package bme280
