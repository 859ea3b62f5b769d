// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package monitor runs the sensor control loop: initialize once, then read,
// compensate and publish a temperature on a fixed period.
//
// The latest reading is available through Latest, and every reading is
// fanned out to the channels returned by Subscribe.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/d2r2/go-logger"

	"github.com/GermanBionicSystems/bme280mon/bme280"
)

var lg = logger.NewPackageLogger("monitor", logger.InfoLevel)

// State is the state of the control loop.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Sensor is an initialized temperature source. *bme280.Dev implements it.
type Sensor interface {
	// ReadTemperature returns degrees Celsius. A *bme280.OutOfRangeError is
	// a warning that comes with a valid value; any other error means there
	// is no value.
	ReadTemperature() (float64, error)
}

// Opener brings the sensor up: configuration write and calibration read.
// It is called once by Run.
type Opener func() (Sensor, error)

// Reading is one published temperature.
type Reading struct {
	// Seq starts at 1 and increases by one per published reading.
	Seq        uint64    `json:"seq"`
	Time       time.Time `json:"time"`
	Celsius    float64   `json:"celsius"`
	OutOfRange bool      `json:"out_of_range"`
}

// Config controls the loop.
type Config struct {
	// Period is the time between two reads. Default is 1s.
	Period time.Duration
	// MaxReadFailures is the number of consecutive failed reads after which
	// the fault is declared permanent. 0 means never. DefaultConfig uses 10.
	MaxReadFailures int
	// Halt is called with the *FatalError before Run returns it. It may
	// never return.
	Halt func(err error)
}

// DefaultConfig holds the recommended configuration.
var DefaultConfig = Config{
	Period:          time.Second,
	MaxReadFailures: 10,
}

// FatalError is returned by Run when the loop cannot continue.
type FatalError struct {
	// State is the state in which the fault happened.
	State State
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("monitor: fatal error while %s: %v", e.State, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Monitor owns the sensor and the published reading.
type Monitor struct {
	open  Opener
	cfg   Config
	state atomic.Int32

	mu     sync.RWMutex
	latest Reading
	valid  bool
	subs   map[int]chan Reading
	nextID int
	closed bool
}

// New returns a Monitor in the Uninitialized state.
func New(open Opener, cfg Config) *Monitor {
	if cfg.Period <= 0 {
		cfg.Period = DefaultConfig.Period
	}
	if cfg.MaxReadFailures < 0 {
		cfg.MaxReadFailures = 0
	}
	return &Monitor{open: open, cfg: cfg, subs: map[int]chan Reading{}}
}

// State returns the current state of the loop.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Latest returns the last published reading. ok is false until the first
// reading is published.
func (m *Monitor) Latest() (r Reading, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.valid
}

// Subscribe returns a channel receiving every published reading and a
// function to cancel the subscription. A subscriber that does not keep up
// misses readings; it never delays the loop. The channel is closed on cancel
// or when Run returns.
func (m *Monitor) Subscribe(buffer int) (<-chan Reading, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Reading, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Run initializes the sensor then reads it every Config.Period until ctx is
// done or a fatal error occurs. It can only be called once.
//
// A failed initialization is fatal. A failed read skips the cycle; after
// Config.MaxReadFailures consecutive failures it is fatal too.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(Uninitialized), int32(Initializing)) {
		return errors.New("monitor: Run already called")
	}
	defer m.closeSubscribers()

	lg.Infof("Initializing sensor")
	s, err := m.open()
	if err != nil {
		return m.fatal(Initializing, err)
	}
	m.state.Store(int32(Running))
	lg.Infof("Running, period %s", m.cfg.Period)

	ticker := time.NewTicker(m.cfg.Period)
	defer ticker.Stop()
	var seq uint64
	failures := 0
	for {
		c, err := s.ReadTemperature()
		var rangeErr *bme280.OutOfRangeError
		switch {
		case err == nil:
		case errors.As(err, &rangeErr):
			lg.Warnf("%v", err)
		default:
			failures++
			if m.cfg.MaxReadFailures > 0 && failures >= m.cfg.MaxReadFailures {
				return m.fatal(Running, fmt.Errorf("%d consecutive read failures: %w", failures, err))
			}
			lg.Warnf("Cycle skipped (%d consecutive): %v", failures, err)
		}
		if err == nil || rangeErr != nil {
			failures = 0
			seq++
			m.publish(Reading{Seq: seq, Time: time.Now(), Celsius: c, OutOfRange: rangeErr != nil})
			lg.Debugf("Reading #%d: %.2f°C", seq, c)
		}

		select {
		case <-ctx.Done():
			lg.Infof("Stopped: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) fatal(s State, err error) error {
	ferr := &FatalError{State: s, Err: err}
	lg.Errorf("%v", ferr)
	if m.cfg.Halt != nil {
		m.cfg.Halt(ferr)
	}
	return ferr
}

func (m *Monitor) publish(r Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = r
	m.valid = true
	for _, ch := range m.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

func (m *Monitor) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

var _ Sensor = &bme280.Dev{}
