// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// bme280 reads a BME280 and prints the measurements.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/GermanBionicSystems/envsense/bme280"
	"github.com/GermanBionicSystems/envsense/console"
	"github.com/GermanBionicSystems/envsense/promenv"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

type programArgs struct {
	Bus        string        `short:"b" long:"bus" env:"BME280_BUS" description:"I²C bus to use (default: first available)"`
	SPI        string        `long:"spi" env:"BME280_SPI" description:"SPI port to use instead of I²C"`
	Addr       uint16        `short:"a" long:"addr" env:"BME280_ADDR" default:"76" base:"16" description:"I²C address in hex, 76 or 77"`
	Count      int           `short:"n" long:"count" env:"BME280_COUNT" default:"1" description:"Number of samples, 0 to run until interrupted"`
	Interval   time.Duration `short:"i" long:"interval" env:"BME280_INTERVAL" default:"1s" description:"Interval between samples"`
	Continuous bool          `short:"c" long:"continuous" env:"BME280_CONTINUOUS" description:"Let the device sample in normal mode"`
	Filter     uint8         `short:"f" long:"filter" env:"BME280_FILTER" default:"0" description:"IIR filter, 0 (off) to 4 (16x)"`
	Metrics    bool          `short:"m" long:"metrics" env:"BME280_METRICS" description:"Print a Prometheus scrape after sampling"`
	Verbose    bool          `short:"v" long:"verbose" env:"BME280_VERBOSE" description:"Trace register traffic"`
}

func openTransport(args *programArgs) (*bme280.Transport, io.Closer, error) {
	if args.SPI != "" {
		p, err := spireg.Open(args.SPI)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't open SPI port: %w", err)
		}
		t, err := bme280.NewSPITransport(p)
		if err != nil {
			p.Close()
			return nil, nil, err
		}
		return t, p, nil
	}
	b, err := i2creg.Open(args.Bus)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open I²C bus: %w", err)
	}
	t, err := bme280.NewI2CTransport(b, args.Addr)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return t, b, nil
}

func setupSensor(t *bme280.Transport, args *programArgs) (*bme280.Dev, error) {
	if args.Filter > uint8(bme280.F16) {
		return nil, fmt.Errorf("invalid filter %d", args.Filter)
	}
	opts := bme280.DefaultOpts
	opts.Filter = bme280.Filter(args.Filter)
	d := bme280.New(t, &opts)
	if err := d.Init(); err != nil {
		return nil, fmt.Errorf("init failed with code %#02x: %w", uint8(bme280.CodeOf(err)), err)
	}
	if err := d.Configure(opts.Registers()); err != nil {
		return nil, err
	}
	c, h, _ := d.Coefficients()
	log.WithFields(log.Fields{"T1": c.T1, "P1": c.P1, "H1": h.H1}).Debug("coefficients loaded")
	return d, nil
}

func sample(d *bme280.Dev, out *console.Dev, args *programArgs, stop <-chan os.Signal) error {
	if args.Continuous {
		ch, err := d.SenseContinuous(args.Interval)
		if err != nil {
			return err
		}
		defer d.Halt()
		for i := 0; args.Count == 0 || i < args.Count; i++ {
			select {
			case e, ok := <-ch:
				if !ok {
					return fmt.Errorf("continuous sensing stopped: %w", d.Err())
				}
				if err := out.Display(&e); err != nil {
					return err
				}
			case <-stop:
				return nil
			}
		}
		return nil
	}
	for i := 0; args.Count == 0 || i < args.Count; i++ {
		if i != 0 {
			select {
			case <-time.After(args.Interval):
			case <-stop:
				return nil
			}
		}
		e := physic.Env{}
		if err := d.Sense(&e); err != nil {
			return err
		}
		if err := out.Display(&e); err != nil {
			return err
		}
	}
	return nil
}

func dumpMetrics(d *bme280.Dev, w io.Writer) error {
	r := prometheus.NewRegistry()
	if err := r.Register(promenv.New(d, &promenv.Opts{Subsystem: "bme280"})); err != nil {
		return err
	}
	mfs, err := r.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func mainImpl() error {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}
	args := programArgs{}
	if _, err := flags.NewParser(&args, flags.Default).Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	if args.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	t, closer, err := openTransport(&args)
	if err != nil {
		return err
	}
	defer closer.Close()
	if args.Verbose {
		t.EnableDebug(log.Debugf)
	}

	d, err := setupSensor(t, &args)
	if err != nil {
		return err
	}
	log.WithField("device", d.String()).Info("sensor ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	out := console.New(&console.Opts{Timestamp: args.Count != 1})
	defer out.Halt()
	if err := sample(d, out, &args, stop); err != nil {
		return err
	}
	if args.Metrics {
		return dumpMetrics(d, os.Stdout)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		log.Fatal(err)
	}
}
