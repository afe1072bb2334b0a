// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, decoding the multi-byte register values that Bosch sensors
// transmit.
package common

import "encoding/binary"

// Uint16LE returns the little-endian unsigned word stored in b[0:2].
func Uint16LE(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// Int16LE returns the little-endian two's complement word stored in b[0:2].
func Int16LE(b []byte) int16 {
	return int16(binary.LittleEndian.Uint16(b))
}

// PutUint16LE stores v in b[0:2], least significant byte first.
func PutUint16LE(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

// PutInt16LE stores v in b[0:2], least significant byte first.
func PutInt16LE(b []byte, v int16) {
	binary.LittleEndian.PutUint16(b, uint16(v))
}

// Uint16BE returns the big-endian unsigned word stored in b[0:2].
func Uint16BE(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// Uint20 returns the 20 bit value stored MSB first and left aligned in b[0:3].
// The low nibble of b[2] is discarded.
func Uint20(b []byte) uint32 {
	return (uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])) >> 4
}
