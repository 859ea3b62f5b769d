// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultAddress is the I²C address with SDO tied to GND.
	DefaultAddress uint16 = 0x76
	// AlternateAddress is the I²C address with SDO tied to VDDIO.
	AlternateAddress uint16 = 0x77

	// DefaultCtrlMeas selects temperature x1, pressure x1, normal mode.
	DefaultCtrlMeas byte = 0x27

	regCalib    byte = 0x88
	regChipID   byte = 0xD0
	regStatus   byte = 0xF3
	regCtrlMeas byte = 0xF4
	regTemp     byte = 0xFA

	chipID byte = 0x60

	statusMeasuring byte = 1 << 3
	statusIMUpdate  byte = 1 << 0

	modeMask   byte = 0x03
	modeNormal byte = 0x03

	// temp_raw reset value, reported while no conversion is stored.
	rawSkipped int32 = 0x80000
)

// Opts holds the configuration options for the device.
type Opts struct {
	// CtrlMeas is written once to ctrl_meas (0xF4). Bits 7:5 select the
	// temperature oversampling and must not be 0. Bits 1:0 must select normal
	// mode (0b11); in sleep or forced mode temp_raw is never refreshed.
	// Default is 0x27.
	CtrlMeas byte
	// BusTimeout bounds every I²C transaction. Default is 100ms. A negative
	// value disables the timeout.
	BusTimeout time.Duration
	// CalibrationRetries is the number of attempts to read the trim
	// coefficients. Default is 3.
	CalibrationRetries int
	// RetryBackoff is the delay before the second calibration attempt; it
	// doubles on each further attempt. Default is 10ms.
	RetryBackoff time.Duration
	// ReadyTimeout bounds each status register poll. Default is 100ms.
	ReadyTimeout time.Duration
	// PollInterval is the delay between status register reads. Default is 2ms.
	PollInterval time.Duration
	// SkipChipID disables the id register check, for compatible parts.
	SkipChipID bool
}

// DefaultOpts holds the default configuration options for the device.
var DefaultOpts = Opts{
	CtrlMeas:           DefaultCtrlMeas,
	BusTimeout:         100 * time.Millisecond,
	CalibrationRetries: 3,
	RetryBackoff:       10 * time.Millisecond,
	ReadyTimeout:       100 * time.Millisecond,
	PollInterval:       2 * time.Millisecond,
}

// Dev is a handle to an initialized BME280.
type Dev struct {
	d    *i2c.Dev
	opts Opts
	cal  Calibration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewI2C returns an object that communicates over I²C to a BME280.
//
// The device is identified, configured and its trim coefficients are read
// before NewI2C returns, and it then waits for the first conversion. If any
// step fails no Dev is returned. opts can be nil.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	o := DefaultOpts
	if opts != nil {
		o = *opts
		o.fillDefaults()
	}
	if o.CtrlMeas>>5 == 0 {
		return nil, fmt.Errorf("bme280: ctrl_meas 0x%02X skips the temperature measurement", o.CtrlMeas)
	}
	if o.CtrlMeas&modeMask != modeNormal {
		return nil, fmt.Errorf("bme280: ctrl_meas 0x%02X does not select normal mode", o.CtrlMeas)
	}
	d := &Dev{d: &i2c.Dev{Bus: b, Addr: addr}, opts: o}
	if err := d.start(); err != nil {
		return nil, err
	}
	return d, nil
}

func (o *Opts) fillDefaults() {
	if o.CtrlMeas == 0 {
		o.CtrlMeas = DefaultOpts.CtrlMeas
	}
	if o.BusTimeout == 0 {
		o.BusTimeout = DefaultOpts.BusTimeout
	}
	if o.CalibrationRetries <= 0 {
		o.CalibrationRetries = DefaultOpts.CalibrationRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultOpts.RetryBackoff
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultOpts.ReadyTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultOpts.PollInterval
	}
}

// start runs the init sequence: chip id, NVM copy done, ctrl_meas, trim
// coefficients, first conversion done.
func (d *Dev) start() error {
	if !d.opts.SkipChipID {
		var id [1]byte
		if err := d.readReg(regChipID, id[:]); err != nil {
			return fmt.Errorf("bme280: init: %w", err)
		}
		if id[0] != chipID {
			return &ChipIDError{Got: id[0]}
		}
	}
	if err := d.waitStatusClear(statusIMUpdate); err != nil {
		return fmt.Errorf("bme280: init: %w", err)
	}
	if err := d.writeReg(regCtrlMeas, d.opts.CtrlMeas); err != nil {
		return fmt.Errorf("bme280: init: %w", err)
	}
	cal, err := d.readCalibration()
	if err != nil {
		return err
	}
	d.cal = cal
	time.Sleep(measurementTime(d.opts.CtrlMeas))
	if err := d.waitStatusClear(statusMeasuring); err != nil {
		return fmt.Errorf("bme280: init: %w", err)
	}
	return nil
}

// measurementTime is the maximum conversion time for the oversampling
// selected in ctrl_meas, per datasheet appendix B. Humidity is not enabled.
func measurementTime(ctrlMeas byte) time.Duration {
	us := 1250 + 2300*oversampling(ctrlMeas>>5)
	if p := oversampling((ctrlMeas >> 2) & 0x07); p != 0 {
		us += 2300*p + 575
	}
	return time.Duration(us) * time.Microsecond
}

// oversampling decodes a 3 bit osrs field into the number of samples.
func oversampling(osrs byte) int {
	if osrs == 0 {
		return 0
	}
	if osrs > 5 {
		osrs = 5
	}
	return 1 << (osrs - 1)
}

// waitStatusClear polls the status register until all bits in mask are 0.
func (d *Dev) waitStatusClear(mask byte) error {
	end := time.Now().Add(d.opts.ReadyTimeout)
	var s [1]byte
	for {
		if err := d.readReg(regStatus, s[:]); err != nil {
			return err
		}
		if s[0]&mask == 0 {
			return nil
		}
		if time.Now().After(end) {
			return fmt.Errorf("%w: status 0x%02X", ErrNotReady, s[0])
		}
		time.Sleep(d.opts.PollInterval)
	}
}

func (d *Dev) readReg(reg byte, r []byte) error {
	return d.tx("read", reg, []byte{reg}, r)
}

func (d *Dev) writeReg(reg, v byte) error {
	return d.tx("write", reg, []byte{reg, v}, nil)
}

// tx runs one transaction bounded by Opts.BusTimeout. On timeout the pending
// transaction is abandoned and r is left untouched.
func (d *Dev) tx(op string, reg byte, w, r []byte) error {
	if d.opts.BusTimeout < 0 {
		if err := d.d.Tx(w, r); err != nil {
			return &BusError{Op: op, Reg: reg, Err: err}
		}
		return nil
	}
	buf := make([]byte, len(r))
	done := make(chan error, 1)
	go func() {
		done <- d.d.Tx(w, buf)
	}()
	t := time.NewTimer(d.opts.BusTimeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			return &BusError{Op: op, Reg: reg, Err: err}
		}
		copy(r, buf)
		return nil
	case <-t.C:
		return &BusError{Op: op, Reg: reg, Err: ErrTimeout}
	}
}

// readRaw must be called with d.mu held.
func (d *Dev) readRaw() (int32, error) {
	var b [3]byte
	if err := d.readReg(regTemp, b[:]); err != nil {
		return 0, err
	}
	raw := PackRaw(b)
	if raw == rawSkipped {
		return 0, ErrSkipped
	}
	return raw, nil
}

// Calibration returns the trim coefficients read by NewI2C.
func (d *Dev) Calibration() Calibration {
	return d.cal
}

// ReadRaw returns the current 20 bit temperature ADC code. There is no
// staleness check; in normal mode the value is the last completed conversion.
func (d *Dev) ReadRaw() (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRaw()
}

// ReadTemperature returns the compensated temperature in °C.
//
// When the value is outside the operating range, it is returned along with an
// *OutOfRangeError.
func (d *Dev) ReadTemperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readRaw()
	if err != nil {
		return 0, err
	}
	c := d.cal.Compensate(raw)
	return c, CheckRange(c)
}

// Sense implements physic.SenseEnv. Only the temperature is set; values
// outside the operating range are reported without error.
func (d *Dev) Sense(e *physic.Env) error {
	e.Temperature = 0
	e.Pressure = 0
	e.Humidity = 0
	c, err := d.ReadTemperature()
	var rangeErr *OutOfRangeError
	if err != nil && !errors.As(err, &rangeErr) {
		return err
	}
	e.Temperature = physic.ZeroCelsius + physic.Temperature(c*float64(physic.Kelvin))
	return nil
}

// SenseContinuous implements physic.SenseEnv. It returns a channel that
// receives a measurement every interval until Halt is called. Failed reads
// are dropped.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval <= 0 {
		return nil, errors.New("bme280: invalid interval")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, errors.New("bme280: SenseContinuous already running")
	}
	d.stop = make(chan struct{})
	ch := make(chan physic.Env, 16)
	d.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var e physic.Env
				if err := d.Sense(&e); err != nil {
					continue
				}
				select {
				case ch <- e:
				case <-stop:
					return
				}
			}
		}
	}(d.stop)
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = 10 * physic.MilliKelvin
	e.Pressure = 0
	e.Humidity = 0
}

// Halt stops a SenseContinuous loop. Implements conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("bme280: %s", d.d.String())
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
