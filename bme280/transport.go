// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// DebugF the debug function type.
type DebugF func(string, ...interface{})

// Transport performs register reads and writes on a BME280.
//
// Each operation is a single bus transaction: the register pointer is written
// and followed by the read or by the value to write. The connection returns
// the full length requested or an error, so callers never see partial data.
// There are no retries.
type Transport struct {
	c     conn.Conn
	isSPI bool
	debug DebugF
}

// NewI2CTransport returns a Transport to the device at addr on b.
//
// The address must be 0x76 or 0x77 depending on the level of the SDO pin.
func NewI2CTransport(b i2c.Bus, addr uint16) (*Transport, error) {
	switch addr {
	case 0x76, 0x77:
	default:
		return nil, errors.New("bme280: given address not supported by device")
	}
	return &Transport{c: &i2c.Dev{Bus: b, Addr: addr}, debug: noop}, nil
}

// NewSPITransport connects to the device on p. The CS line must be used.
func NewSPITransport(p spi.Port) (*Transport, error) {
	// It works both in Mode0 and Mode3.
	c, err := p.Connect(10*physic.MegaHertz, spi.Mode3, 8)
	if err != nil {
		return nil, fmt.Errorf("bme280: %w", err)
	}
	return &Transport{c: c, isSPI: true, debug: noop}, nil
}

// NewTransport wraps an already established connection. isSPI selects the
// SPI framing where bit 7 of the register address selects read or write.
func NewTransport(c conn.Conn, isSPI bool) *Transport {
	return &Transport{c: c, isSPI: isSPI, debug: noop}
}

// EnableDebug sets the function used to trace every register access.
func (t *Transport) EnableDebug(f DebugF) {
	if f == nil {
		f = noop
	}
	t.debug = f
}

func (t *Transport) String() string {
	if t == nil || t.c == nil {
		return "<nil>"
	}
	return t.c.String()
}

// ReadRegister returns the value of register reg.
func (t *Transport) ReadRegister(reg byte) (byte, error) {
	var b [1]byte
	if err := t.readReg(reg, b[:]); err != nil {
		return 0, err
	}
	t.debug("read register %#x value %#x", reg, b[0])
	return b[0], nil
}

// WriteRegister sets register reg to v.
func (t *Transport) WriteRegister(reg, v byte) error {
	t.debug("write register %#x value %#x", reg, v)
	w := []byte{reg, v}
	if t.isSPI {
		// RW bit 7 is 0 for a write.
		w[0] &^= 0x80
	}
	if err := t.c.Tx(w, nil); err != nil {
		return &Error{Code: ErrBusWrite, Op: fmt.Sprintf("write %#x", reg), Err: err}
	}
	return nil
}

// ReadBlock returns n consecutive registers starting at reg.
func (t *Transport) ReadBlock(reg byte, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := t.readReg(reg, b); err != nil {
		return nil, err
	}
	t.debug("read block %#x: % x", reg, b)
	return b, nil
}

func (t *Transport) readReg(reg byte, b []byte) error {
	if t.isSPI {
		// RW bit 7 is 1 for a read. The first byte clocked back is garbage.
		read := make([]byte, len(b)+1)
		write := make([]byte, len(read))
		write[0] = reg | 0x80
		if err := t.c.Tx(write, read); err != nil {
			return &Error{Code: ErrBusRead, Op: fmt.Sprintf("read %#x", reg), Err: err}
		}
		copy(b, read[1:])
		return nil
	}
	if err := t.c.Tx([]byte{reg}, b); err != nil {
		return &Error{Code: ErrBusRead, Op: fmt.Sprintf("read %#x", reg), Err: err}
	}
	return nil
}

// available reports whether there is a bus to talk to.
func (t *Transport) available() bool {
	if t == nil || t.c == nil {
		return false
	}
	if d, ok := t.c.(*i2c.Dev); ok {
		return d.Bus != nil
	}
	return true
}

func noop(string, ...interface{}) {}
