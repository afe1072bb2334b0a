// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"fmt"

	"github.com/GermanBionicSystems/envsense/common"
)

const (
	// CoefficientsSize is the length of the temperature and pressure
	// coefficient block starting at 0x88.
	CoefficientsSize = 24
	// HumidityBlockSize is the length of the humidity coefficient block
	// starting at 0xE1. H1 lives apart at 0xA1.
	HumidityBlockSize = 7
)

// Coefficients are the temperature and pressure trimming parameters
// programmed in the factory. They are stored as little endian words.
type Coefficients struct {
	T1 uint16
	T2 int16
	T3 int16

	P1 uint16
	P2 int16
	P3 int16
	P4 int16
	P5 int16
	P6 int16
	P7 int16
	P8 int16
	P9 int16
}

// ParseCoefficients decodes the 24 byte block read from 0x88.
func ParseCoefficients(b []byte) (Coefficients, error) {
	if len(b) != CoefficientsSize {
		return Coefficients{}, fmt.Errorf("bme280: coefficient block must be %d bytes, got %d", CoefficientsSize, len(b))
	}
	return Coefficients{
		T1: common.Uint16LE(b[0:]),
		T2: common.Int16LE(b[2:]),
		T3: common.Int16LE(b[4:]),
		P1: common.Uint16LE(b[6:]),
		P2: common.Int16LE(b[8:]),
		P3: common.Int16LE(b[10:]),
		P4: common.Int16LE(b[12:]),
		P5: common.Int16LE(b[14:]),
		P6: common.Int16LE(b[16:]),
		P7: common.Int16LE(b[18:]),
		P8: common.Int16LE(b[20:]),
		P9: common.Int16LE(b[22:]),
	}, nil
}

// Bytes returns the coefficients encoded as the device stores them.
func (c *Coefficients) Bytes() []byte {
	b := make([]byte, CoefficientsSize)
	common.PutUint16LE(b[0:], c.T1)
	common.PutInt16LE(b[2:], c.T2)
	common.PutInt16LE(b[4:], c.T3)
	common.PutUint16LE(b[6:], c.P1)
	for i, p := range [...]int16{c.P2, c.P3, c.P4, c.P5, c.P6, c.P7, c.P8, c.P9} {
		common.PutInt16LE(b[8+2*i:], p)
	}
	return b
}

// HumidityCoefficients are the humidity trimming parameters.
//
// H4 and H5 are 12 bit values sharing the nibbles of one register.
type HumidityCoefficients struct {
	H1 uint8
	H2 int16
	H3 uint8
	H4 int16
	H5 int16
	H6 int8
}

// ParseHumidityCoefficients decodes h1, read from 0xA1, and the 7 byte block
// read from 0xE1.
//
//	0xE1 0xE2  H2 little endian
//	0xE3       H3
//	0xE4       H4[11:4]
//	0xE5       H5[3:0] << 4 | H4[3:0]
//	0xE6       H5[11:4]
//	0xE7       H6
func ParseHumidityCoefficients(h1 byte, b []byte) (HumidityCoefficients, error) {
	if len(b) != HumidityBlockSize {
		return HumidityCoefficients{}, fmt.Errorf("bme280: humidity block must be %d bytes, got %d", HumidityBlockSize, len(b))
	}
	return HumidityCoefficients{
		H1: h1,
		H2: common.Int16LE(b[0:]),
		H3: b[2],
		H4: int16(b[3])<<4 | int16(b[4]&0x0F),
		H5: int16(b[5])<<4 | int16(b[4]>>4),
		H6: int8(b[6]),
	}, nil
}
