// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package promenv exports the readings of a physic.SenseEnv as Prometheus
// gauges.
//
// Each scrape triggers one Sense call, so the values are never older than the
// scrape itself.
package promenv

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"periph.io/x/conn/v3/physic"
)

// Opts names the exported metrics.
type Opts struct {
	// Namespace defaults to "sensors".
	Namespace string
	// Subsystem is usually the device name, e.g. "bme280".
	Subsystem string
	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels
	// NoPressure and NoHumidity skip quantities the sensor does not measure.
	NoPressure bool
	NoHumidity bool
}

// Collector implements prometheus.Collector.
type Collector struct {
	s    physic.SenseEnv
	opts Opts

	temperature *prometheus.Desc
	pressure    *prometheus.Desc
	humidity    *prometheus.Desc
	failures    prometheus.Counter

	mu sync.Mutex
}

// New returns a Collector sensing s. The Opts can be nil.
func New(s physic.SenseEnv, opts *Opts) *Collector {
	o := Opts{}
	if opts != nil {
		o = *opts
	}
	if o.Namespace == "" {
		o.Namespace = "sensors"
	}
	c := &Collector{
		s:    s,
		opts: o,
		temperature: prometheus.NewDesc(
			prometheus.BuildFQName(o.Namespace, o.Subsystem, "temperature_celsius"),
			"Ambient temperature.", nil, o.ConstLabels),
		pressure: prometheus.NewDesc(
			prometheus.BuildFQName(o.Namespace, o.Subsystem, "pressure_pascal"),
			"Barometric pressure.", nil, o.ConstLabels),
		humidity: prometheus.NewDesc(
			prometheus.BuildFQName(o.Namespace, o.Subsystem, "humidity_percent"),
			"Relative humidity.", nil, o.ConstLabels),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        "sense_failures_total",
			Help:        "Number of failed measurements.",
			ConstLabels: o.ConstLabels,
		}),
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.temperature
	if !c.opts.NoPressure {
		ch <- c.pressure
	}
	if !c.opts.NoHumidity {
		ch <- c.humidity
	}
	c.failures.Describe(ch)
}

// Collect implements prometheus.Collector.
//
// A failed measurement is reported as an invalid temperature metric, which
// fails the scrape, and increments the failure counter.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := physic.Env{}
	if err := c.s.Sense(&e); err != nil {
		c.failures.Inc()
		ch <- c.failures
		ch <- prometheus.NewInvalidMetric(c.temperature, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, Celsius(e.Temperature))
	if !c.opts.NoPressure {
		ch <- prometheus.MustNewConstMetric(c.pressure, prometheus.GaugeValue, Pascal(e.Pressure))
	}
	if !c.opts.NoHumidity {
		ch <- prometheus.MustNewConstMetric(c.humidity, prometheus.GaugeValue, Percent(e.Humidity))
	}
	ch <- c.failures
}

// Celsius converts t to °C.
func Celsius(t physic.Temperature) float64 {
	return float64(t-physic.ZeroCelsius) / float64(physic.Kelvin)
}

// Pascal converts p to Pa.
func Pascal(p physic.Pressure) float64 {
	return float64(p) / float64(physic.Pascal)
}

// Percent converts h to %RH.
func Percent(h physic.RelativeHumidity) float64 {
	return float64(h) / float64(physic.PercentRH)
}

var _ prometheus.Collector = &Collector{}
