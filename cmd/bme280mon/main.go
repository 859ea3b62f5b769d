// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// bme280mon samples a BME280 temperature sensor at a fixed period and
// publishes the readings on the terminal, as a PNG gauge and over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	logger "github.com/d2r2/go-logger"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/bme280mon/bme280"
	"github.com/GermanBionicSystems/bme280mon/config"
	"github.com/GermanBionicSystems/bme280mon/monitor"
	"github.com/GermanBionicSystems/bme280mon/readout"
	"github.com/GermanBionicSystems/bme280mon/wsfeed"
)

var lg = logger.NewPackageLogger("main", logger.InfoLevel)

func mainImpl() error {
	cfgPath := flag.String("config", "bme280mon.yaml", "YAML configuration file")
	busName := flag.String("bus", "", "I²C bus to use, overrides bus.name")
	save := flag.Bool("save", false, "write the effective configuration to -config and exit")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *busName != "" {
		cfg.Bus.Name = *busName
	}
	if *save {
		return cfg.Save(*cfgPath)
	}
	level, err := config.LogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	for _, pkg := range []string{"main", "monitor", "wsfeed"} {
		if err := logger.ChangePackageLogLevel(pkg, level); err != nil {
			return err
		}
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open(cfg.Bus.Name)
	if err != nil {
		return err
	}
	defer bus.Close()

	var dev *bme280.Dev
	open := func() (monitor.Sensor, error) {
		d, err := bme280.NewI2C(bus, cfg.Bus.Address, cfg.SensorOpts())
		if err != nil {
			return nil, err
		}
		lg.Infof("%s on %s at 0x%02X, calibration %+v", d, bus, cfg.Bus.Address, d.Calibration())
		dev = d
		return d, nil
	}
	m := monitor.New(open, cfg.MonitorConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, m, cfg, nil)
	if dev != nil {
		if herr := dev.Halt(); herr != nil {
			lg.Warnf("%v", herr)
		}
	}
	return err
}

// run drives m until ctx is done or a fatal error, with the readout and the
// feed attached. Every subscriber has finished when it returns. out is the
// strip output, nil for stdout.
func run(ctx context.Context, m *monitor.Monitor, cfg *config.Config, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if err := startReadout(&wg, m, &cfg.Readout, out); err != nil {
		return err
	}
	if cfg.Feed.Addr != "" {
		feed := wsfeed.New()
		ch, _ := m.Subscribe(4)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = feed.Run(ctx, ch)
		}()
		go func() {
			defer wg.Done()
			if err := feed.ListenAndServe(ctx, cfg.Feed.Addr, cfg.Feed.Path); err != nil && !errors.Is(err, context.Canceled) {
				lg.Errorf("Feed: %v", err)
			}
		}()
	}

	err := m.Run(ctx)
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startReadout subscribes the terminal strip and the PNG gauge, when enabled.
func startReadout(wg *sync.WaitGroup, m *monitor.Monitor, cfg *config.ReadoutConfig, out io.Writer) error {
	var strip *readout.Strip
	if cfg.Terminal {
		s, err := readout.NewStrip(&readout.StripOpts{Width: cfg.Width, MinC: cfg.MinC, MaxC: cfg.MaxC, W: out})
		if err != nil {
			return err
		}
		strip = s
	}
	var gauge *readout.Gauge
	if cfg.PNG != "" {
		opts := readout.DefaultGaugeOpts
		opts.MinC, opts.MaxC = cfg.MinC, cfg.MaxC
		g, err := readout.NewGauge(&opts)
		if err != nil {
			return err
		}
		gauge = g
	}
	if strip == nil && gauge == nil {
		return nil
	}

	ch, _ := m.Subscribe(1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range ch {
			if strip != nil {
				if err := strip.Show(r); err != nil {
					lg.Warnf("Strip: %v", err)
				}
			}
			if gauge != nil {
				if err := gauge.SavePNG(cfg.PNG, r); err != nil {
					lg.Warnf("Gauge: %v", err)
				}
			}
		}
		if strip != nil {
			_ = strip.Halt()
		}
	}()
	return nil
}

func main() {
	err := mainImpl()
	logger.FinalizeLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bme280mon: %s.\n", err)
		os.Exit(1)
	}
}
