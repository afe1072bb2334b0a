// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of a failure.
//
// The numeric values are stable and match the codes historically reported by
// this family of drivers.
type ErrorCode uint8

// Failure kinds. They are mutually exclusive.
const (
	ErrNone            ErrorCode = 0x00
	ErrBusRead         ErrorCode = 0x01
	ErrBusWrite        ErrorCode = 0x02
	ErrBusUnavailable  ErrorCode = 0x03
	ErrNoAnswer        ErrorCode = 0x10
	ErrIdentity        ErrorCode = 0x20
	ErrNoReset         ErrorCode = 0x30
	ErrNoTable         ErrorCode = 0x40
	ErrConfig          ErrorCode = 0x50
	ErrMeasure         ErrorCode = 0x70
	// ErrNoHumidityTable covers both humidity reads, H1 at 0xA1 and the
	// block at 0xE1. Older drivers of this family reported ErrNoTable for a
	// failed 0xE1 block read.
	ErrNoHumidityTable ErrorCode = 0x80
)

func (c ErrorCode) Error() string {
	switch c {
	case ErrNone:
		return "no error"
	case ErrBusRead:
		return "bus read failed"
	case ErrBusWrite:
		return "bus write failed"
	case ErrBusUnavailable:
		return "bus unavailable"
	case ErrNoAnswer:
		return "no answer from device"
	case ErrIdentity:
		return "unexpected chip id"
	case ErrNoReset:
		return "soft reset not acknowledged"
	case ErrNoTable:
		return "compensation table read failed"
	case ErrConfig:
		return "configuration write failed"
	case ErrMeasure:
		return "measurement trigger failed"
	case ErrNoHumidityTable:
		return "humidity compensation table read failed"
	default:
		return fmt.Sprintf("ErrorCode(0x%02x)", uint8(c))
	}
}

// Error is returned by the fallible operations of Dev and Transport.
//
// errors.Is(err, code) reports whether err carries code.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	s := "bme280: " + e.Op + ": " + e.Code.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches an ErrorCode target against e.Code.
func (e *Error) Is(target error) bool {
	c, ok := target.(ErrorCode)
	return ok && c == e.Code
}

// CodeOf returns the ErrorCode carried by err. It returns ErrNone for nil
// and for errors that do not originate from this package.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c ErrorCode
	if errors.As(err, &c) {
		return c
	}
	return ErrNone
}

var (
	// ErrNotLoaded is returned when an operation requiring the compensation
	// coefficients is attempted before a successful Init.
	ErrNotLoaded = errors.New("bme280: compensation coefficients not loaded")
	// ErrTimeout is wrapped in an *Error with code ErrNoAnswer when Sense
	// gives up waiting for the device after Opts.MeasurementTimeout.
	ErrTimeout = errors.New("bme280: measurement did not complete in time")

	errSensing = errors.New("bme280: already sensing continuously")
)
