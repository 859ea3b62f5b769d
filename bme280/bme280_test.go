// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const addr = DefaultAddress

// Calibration bytes of the datasheet worked example.
var datasheetCalBytes = []byte{0x70, 0x6B, 0x43, 0x67, 0x18, 0xFC}

// initOps is the playback of a successful NewI2C.
func initOps(cal []byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{regChipID}, R: []byte{chipID}},
		{Addr: addr, W: []byte{regStatus}, R: []byte{0x00}},
		{Addr: addr, W: []byte{regCtrlMeas, DefaultCtrlMeas}},
		{Addr: addr, W: []byte{regCalib}, R: cal},
		{Addr: addr, W: []byte{regStatus}, R: []byte{0x00}},
	}
}

func tempOp(b ...byte) i2ctest.IO {
	return i2ctest.IO{Addr: addr, W: []byte{regTemp}, R: b}
}

// funcBus is an i2c.Bus whose transactions are handled by tx.
type funcBus struct {
	tx func(addr uint16, w, r []byte) error
}

func (f *funcBus) String() string                    { return "funcBus" }
func (f *funcBus) Tx(addr uint16, w, r []byte) error { return f.tx(addr, w, r) }
func (f *funcBus) SetSpeed(physic.Frequency) error   { return nil }

func TestNewI2C(t *testing.T) {
	pb := &i2ctest.Playback{Ops: initOps(datasheetCalBytes), DontPanic: true}
	dev, err := NewI2C(pb, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(datasheetCal, dev.Calibration()); diff != "" {
		t.Errorf("Calibration() mismatch (-want +got):\n%s", diff)
	}
	if err := pb.Close(); err != nil {
		t.Error(err)
	}
}

func TestNewI2COpts(t *testing.T) {
	ops := initOps(datasheetCalBytes)
	ops[2].W = []byte{regCtrlMeas, 0x23}
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	// Zero fields fall back to DefaultOpts.
	dev, err := NewI2C(pb, addr, &Opts{CtrlMeas: 0x23})
	if err != nil {
		t.Fatal(err)
	}
	if dev.opts.BusTimeout != DefaultOpts.BusTimeout || dev.opts.CalibrationRetries != DefaultOpts.CalibrationRetries {
		t.Errorf("defaults not applied: %#v", dev.opts)
	}
	if err := pb.Close(); err != nil {
		t.Error(err)
	}
}

func TestNewI2CTemperatureSkipped(t *testing.T) {
	pb := &i2ctest.Playback{DontPanic: true}
	if _, err := NewI2C(pb, addr, &Opts{CtrlMeas: 0x03}); err == nil {
		t.Fatal("expected an error for ctrl_meas without temperature oversampling")
	}
}

func TestNewI2CNotNormalMode(t *testing.T) {
	for _, v := range []byte{0x24, 0x25, 0x26} {
		pb := &i2ctest.Playback{DontPanic: true}
		if _, err := NewI2C(pb, addr, &Opts{CtrlMeas: v}); err == nil {
			t.Fatalf("expected an error for ctrl_meas 0x%02X", v)
		}
		if pb.Count != 0 {
			t.Fatalf("ctrl_meas 0x%02X: %d transactions before rejection", v, pb.Count)
		}
	}
}

func TestNewI2CChipID(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: addr, W: []byte{regChipID}, R: []byte{0x58}}},
		DontPanic: true,
	}
	_, err := NewI2C(pb, addr, nil)
	var idErr *ChipIDError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected *ChipIDError, got %v", err)
	}
	if idErr.Got != 0x58 {
		t.Errorf("ChipIDError.Got = 0x%02X", idErr.Got)
	}
}

func TestNewI2CSkipChipID(t *testing.T) {
	pb := &i2ctest.Playback{Ops: initOps(datasheetCalBytes)[1:], DontPanic: true}
	if _, err := NewI2C(pb, addr, &Opts{SkipChipID: true}); err != nil {
		t.Fatal(err)
	}
	if err := pb.Close(); err != nil {
		t.Error(err)
	}
}

// A failed calibration read must not produce a Dev, so nothing can ever be
// compensated with zeroed coefficients.
func TestNewI2CCalibrationBusError(t *testing.T) {
	pb := &i2ctest.Playback{Ops: initOps(datasheetCalBytes)[:3], DontPanic: true}
	dev, err := NewI2C(pb, addr, &Opts{RetryBackoff: time.Millisecond})
	if err == nil {
		t.Fatal("expected an error")
	}
	if dev != nil {
		t.Errorf("expected no device, got %s", dev)
	}
	var busErr *BusError
	if !errors.As(err, &busErr) {
		t.Fatalf("expected *BusError, got %v", err)
	}
	if busErr.Reg != regCalib || busErr.Op != "read" {
		t.Errorf("unexpected BusError %v", busErr)
	}
}

func TestNewI2CCalibrationRetry(t *testing.T) {
	pb := &i2ctest.Playback{Ops: initOps(datasheetCalBytes), DontPanic: true}
	var mu sync.Mutex
	failures := 0
	bus := &funcBus{tx: func(a uint16, w, r []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if len(w) == 1 && w[0] == regCalib && failures < 2 {
			failures++
			return errors.New("nack")
		}
		return pb.Tx(a, w, r)
	}}
	dev, err := NewI2C(bus, addr, &Opts{CalibrationRetries: 3, RetryBackoff: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if failures != 2 {
		t.Errorf("failures = %d, want 2", failures)
	}
	if dev.Calibration() != datasheetCal {
		t.Errorf("Calibration() = %#v", dev.Calibration())
	}
	if err := pb.Close(); err != nil {
		t.Error(err)
	}
}

func TestNewI2CTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	bus := &funcBus{tx: func(uint16, []byte, []byte) error {
		<-release
		return nil
	}}
	start := time.Now()
	_, err := NewI2C(bus, addr, &Opts{BusTimeout: 5 * time.Millisecond})
	var busErr *BusError
	if !errors.As(err, &busErr) || !busErr.Timeout() {
		t.Fatalf("expected a timed out *BusError, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(%v, ErrTimeout) = false", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("timeout took %s", d)
	}
}

func TestNewI2CNotReady(t *testing.T) {
	bus := &funcBus{tx: func(a uint16, w, r []byte) error {
		switch w[0] {
		case regChipID:
			r[0] = chipID
		case regStatus:
			r[0] = statusIMUpdate
		}
		return nil
	}}
	_, err := NewI2C(bus, addr, &Opts{ReadyTimeout: 5 * time.Millisecond, PollInterval: time.Millisecond})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestReadTemperature(t *testing.T) {
	ops := append(initOps(datasheetCalBytes), tempOp(0x7E, 0xED, 0x00))
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(pb, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := dev.ReadTemperature()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(c-25.08) > 0.005 {
		t.Errorf("ReadTemperature() = %f, want 25.08", c)
	}
	if err := pb.Close(); err != nil {
		t.Error(err)
	}
}

func TestReadTemperatureOutOfRange(t *testing.T) {
	ops := append(initOps(datasheetCalBytes), tempOp(0xFF, 0xFF, 0xF0))
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(pb, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := dev.ReadTemperature()
	var rangeErr *OutOfRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected *OutOfRangeError, got %v", err)
	}
	if c != rangeErr.Celsius || c < MaxCelsius {
		t.Errorf("ReadTemperature() = %f, %v", c, err)
	}
}

func TestReadRaw(t *testing.T) {
	ops := append(initOps(datasheetCalBytes),
		tempOp(0x7F, 0xA3, 0x50),
		tempOp(0x80, 0x00, 0x00))
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(pb, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := dev.ReadRaw()
	if err != nil {
		t.Fatal(err)
	}
	if raw != 0x07FA35 {
		t.Errorf("ReadRaw() = %#x, want 0x07FA35", raw)
	}
	if _, err = dev.ReadRaw(); !errors.Is(err, ErrSkipped) {
		t.Errorf("expected ErrSkipped, got %v", err)
	}
	// Playback is exhausted, the next read is a bus failure.
	if _, err = dev.ReadRaw(); err == nil {
		t.Error("expected an error")
	} else {
		var busErr *BusError
		if !errors.As(err, &busErr) || busErr.Reg != regTemp {
			t.Errorf("expected *BusError on temp_raw, got %v", err)
		}
	}
}

func TestSense(t *testing.T) {
	ops := append(initOps(datasheetCalBytes), tempOp(0x7E, 0xED, 0x00), tempOp(0xFF, 0xFF, 0xF0))
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(pb, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := physic.Env{}
	if err := dev.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if c := e.Temperature.Celsius(); math.Abs(c-25.08) > 0.005 {
		t.Errorf("temperature %s, want 25.08°C", e.Temperature)
	}
	if e.Pressure != 0 || e.Humidity != 0 {
		t.Errorf("only temperature must be set: %#v", e)
	}
	// Out of range values are still reported through physic.Env.
	if err := dev.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if e.Temperature.Celsius() < MaxCelsius {
		t.Errorf("temperature %s, want > %v°C", e.Temperature, MaxCelsius)
	}
}

func TestSenseContinuous(t *testing.T) {
	samples := [][]byte{
		{0x7E, 0xED, 0x00},
		{0x7E, 0xFD, 0x00},
		{0x7F, 0x00, 0x00},
	}
	ops := initOps(datasheetCalBytes)
	for _, s := range samples {
		ops = append(ops, tempOp(s...))
	}
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	record := &i2ctest.Record{Bus: pb}
	dev, err := NewI2C(record, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dev.SenseContinuous(0); err == nil {
		t.Error("expected an error for a zero interval")
	}
	ch, err := dev.SenseContinuous(10 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dev.SenseContinuous(10 * time.Millisecond); err == nil {
		t.Error("expected an error while already running")
	}
	prev := physic.Temperature(0)
	for i := range samples {
		e := <-ch
		t.Logf("Temperature = %s", e.Temperature)
		if e.Temperature <= prev {
			t.Errorf("sample %d: %s not above %s", i, e.Temperature, prev)
		}
		prev = e.Temperature
	}
	if err := dev.Halt(); err != nil {
		t.Error(err)
	}
	// The channel is closed once halted.
	for range ch {
	}
	t.Logf("record.Ops=%#v", record.Ops)
}

func TestPrecision(t *testing.T) {
	dev := &Dev{}
	e := physic.Env{}
	dev.Precision(&e)
	if e.Temperature != 10*physic.MilliKelvin {
		t.Errorf("precision %s", e.Temperature)
	}
}

func TestString(t *testing.T) {
	pb := &i2ctest.Playback{Ops: initOps(datasheetCalBytes), DontPanic: true}
	dev, err := NewI2C(pb, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := dev.String()
	t.Log(s)
	if len(s) == 0 {
		t.Error("invalid String() result")
	}
}
