// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the bme280mon YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GermanBionicSystems/bme280mon/bme280"
	"github.com/GermanBionicSystems/bme280mon/monitor"
)

// Config represents the application configuration.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Loop    LoopConfig    `yaml:"loop"`
	Readout ReadoutConfig `yaml:"readout"`
	Feed    FeedConfig    `yaml:"feed"`
	Log     LogConfig     `yaml:"log"`
}

// BusConfig selects the I²C bus and device address.
type BusConfig struct {
	Name    string        `yaml:"name"`    // i2creg name, "" for the first bus
	Address uint16        `yaml:"address"` // 7 bit address, 0x76 or 0x77
	Timeout time.Duration `yaml:"timeout"` // per transaction
}

// SensorConfig contains the driver settings.
type SensorConfig struct {
	CtrlMeas           uint8         `yaml:"ctrl_meas"`
	CalibrationRetries int           `yaml:"calibration_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	ReadyTimeout       time.Duration `yaml:"ready_timeout"`
	SkipChipID         bool          `yaml:"skip_chip_id"`
}

// LoopConfig contains the control loop settings.
type LoopConfig struct {
	Period          time.Duration `yaml:"period"`
	MaxReadFailures int           `yaml:"max_read_failures"` // 0 never escalates
}

// ReadoutConfig contains the local display outputs.
type ReadoutConfig struct {
	Terminal bool    `yaml:"terminal"`
	Width    int     `yaml:"width"` // strip cells
	MinC     float64 `yaml:"min_c"`
	MaxC     float64 `yaml:"max_c"`
	PNG      string  `yaml:"png"` // gauge snapshot path, "" disables
}

// FeedConfig contains the WebSocket feed settings.
type FeedConfig struct {
	Addr string `yaml:"addr"` // listen address, "" disables
	Path string `yaml:"path"`
}

// LogConfig contains the logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, notify, warn, error
}

// Default returns a configuration matching the sensor reference setup: 100ms
// bus timeout and a 1s period.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Address: bme280.DefaultAddress,
			Timeout: bme280.DefaultOpts.BusTimeout,
		},
		Sensor: SensorConfig{
			CtrlMeas:           bme280.DefaultOpts.CtrlMeas,
			CalibrationRetries: bme280.DefaultOpts.CalibrationRetries,
			RetryBackoff:       bme280.DefaultOpts.RetryBackoff,
			ReadyTimeout:       bme280.DefaultOpts.ReadyTimeout,
		},
		Loop: LoopConfig{
			Period:          monitor.DefaultConfig.Period,
			MaxReadFailures: monitor.DefaultConfig.MaxReadFailures,
		},
		Readout: ReadoutConfig{
			Terminal: true,
			Width:    40,
			MinC:     -10,
			MaxC:     40,
		},
		Feed: FeedConfig{
			Path: "/ws",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist it
// returns the defaults; fields missing from the file keep their default.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", filename, err)
	}
	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", filename, err)
	}
	return nil
}

// Validate reports settings the driver or the loop would reject.
func (c *Config) Validate() error {
	if c.Bus.Address != bme280.DefaultAddress && c.Bus.Address != bme280.AlternateAddress {
		return fmt.Errorf("config: bus.address 0x%02X is not a BME280 address", c.Bus.Address)
	}
	if c.Sensor.CtrlMeas>>5 == 0 {
		return fmt.Errorf("config: sensor.ctrl_meas 0x%02X disables temperature", c.Sensor.CtrlMeas)
	}
	if c.Sensor.CtrlMeas&0x03 != 0x03 {
		return fmt.Errorf("config: sensor.ctrl_meas 0x%02X does not select normal mode", c.Sensor.CtrlMeas)
	}
	if c.Loop.Period <= 0 {
		return errors.New("config: loop.period must be positive")
	}
	if c.Loop.MaxReadFailures < 0 {
		return errors.New("config: loop.max_read_failures must not be negative")
	}
	if c.Readout.MinC >= c.Readout.MaxC {
		return errors.New("config: readout.min_c must be below readout.max_c")
	}
	if _, err := LogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SensorOpts returns the driver options.
func (c *Config) SensorOpts() *bme280.Opts {
	return &bme280.Opts{
		CtrlMeas:           c.Sensor.CtrlMeas,
		BusTimeout:         c.Bus.Timeout,
		CalibrationRetries: c.Sensor.CalibrationRetries,
		RetryBackoff:       c.Sensor.RetryBackoff,
		ReadyTimeout:       c.Sensor.ReadyTimeout,
		SkipChipID:         c.Sensor.SkipChipID,
	}
}

// MonitorConfig returns the control loop configuration. Halt is left to the
// caller.
func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		Period:          c.Loop.Period,
		MaxReadFailures: c.Loop.MaxReadFailures,
	}
}

// ensureDefaults fills fields that were explicitly zeroed in the file.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Bus.Address == 0 {
		c.Bus.Address = def.Bus.Address
	}
	if c.Bus.Timeout == 0 {
		c.Bus.Timeout = def.Bus.Timeout
	}
	if c.Sensor.CtrlMeas == 0 {
		c.Sensor.CtrlMeas = def.Sensor.CtrlMeas
	}
	if c.Sensor.CalibrationRetries <= 0 {
		c.Sensor.CalibrationRetries = def.Sensor.CalibrationRetries
	}
	if c.Sensor.RetryBackoff == 0 {
		c.Sensor.RetryBackoff = def.Sensor.RetryBackoff
	}
	if c.Sensor.ReadyTimeout == 0 {
		c.Sensor.ReadyTimeout = def.Sensor.ReadyTimeout
	}
	if c.Loop.Period == 0 {
		c.Loop.Period = def.Loop.Period
	}
	if c.Readout.Width <= 0 {
		c.Readout.Width = def.Readout.Width
	}
	if c.Feed.Path == "" {
		c.Feed.Path = def.Feed.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
