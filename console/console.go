// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package console prints environmental readings to a terminal, prefixed with
// a block whose ANSI color follows the temperature.
//
// Useful to watch a sensor over ssh without any dashboard.
package console

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this display.
type Opts struct {
	// Palette defaults to ansi256.Default.
	Palette *ansi256.Palette
	// Writer defaults to a colorable stdout.
	Writer io.Writer
	// Cold and Hot bound the color scale, from blue to red. They default to
	// 0°C and 40°C.
	Cold physic.Temperature
	Hot  physic.Temperature
	// Timestamp prefixes every line with the local time.
	Timestamp bool

	_ struct{}
}

// Dev is a line oriented environmental display on the console.
type Dev struct {
	w         io.Writer
	palette   ansi256.Palette
	cold, hot physic.Temperature
	timestamp bool

	buf bytes.Buffer
}

// New returns a Dev that displays at the console. The Opts can be nil.
func New(opts *Opts) *Dev {
	o := Opts{}
	if opts != nil {
		o = *opts
	}
	p := o.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := o.Writer
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	if o.Cold == 0 && o.Hot == 0 {
		o.Cold = physic.ZeroCelsius
		o.Hot = physic.ZeroCelsius + 40*physic.Kelvin
	}
	return &Dev{w: w, palette: *p, cold: o.Cold, hot: o.Hot, timestamp: o.Timestamp}
}

func (d *Dev) String() string {
	return "Console"
}

// Halt implements conn.Resource.
//
// It resets the terminal attributes.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\033[0m\n"))
	return err
}

// Display writes one line for e.
//
// Zero pressure or humidity are considered not measured and left out.
func (d *Dev) Display(e *physic.Env) error {
	// Reuse the buffer so a long running display does not allocate per line.
	d.buf.Reset()
	_, _ = d.buf.WriteString("\033[0m")
	if d.timestamp {
		_, _ = d.buf.WriteString(now().Format("15:04:05 "))
	}
	_, _ = d.buf.WriteString(d.palette.Block(d.Color(e.Temperature)))
	_, _ = d.buf.WriteString("\033[0m ")
	_, _ = fmt.Fprintf(&d.buf, "%8s", e.Temperature)
	if e.Pressure != 0 {
		_, _ = fmt.Fprintf(&d.buf, " %10s", e.Pressure)
	}
	if e.Humidity != 0 {
		_, _ = fmt.Fprintf(&d.buf, " %9s", e.Humidity)
	}
	_ = d.buf.WriteByte('\n')
	_, err := d.buf.WriteTo(d.w)
	return err
}

// Color returns the color of t on the cold to hot scale.
func (d *Dev) Color(t physic.Temperature) color.NRGBA {
	var f float64
	if d.hot > d.cold {
		f = float64(t-d.cold) / float64(d.hot-d.cold)
	}
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	r := byte(255*f + 0.5)
	return color.NRGBA{R: r, G: 0, B: 255 - r, A: 255}
}

var now = time.Now

var _ fmt.Stringer = &Dev{}
