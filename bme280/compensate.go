// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"github.com/GermanBionicSystems/envsense/common"
	"periph.io/x/conn/v3/physic"
)

// maxHumidity is 100 %RH in Q22.10 before the final shift by 12.
const maxHumidity = 419430400

// RawSample is the uncompensated ADC output of one measurement.
type RawSample struct {
	Pressure    uint32 // 20 bits
	Temperature uint32 // 20 bits
	Humidity    uint32 // 16 bits
}

// parseRaw decodes the 8 byte burst read starting at 0xF7.
func parseRaw(b []byte) RawSample {
	return RawSample{
		Pressure:    common.Uint20(b[0:]),
		Temperature: common.Uint20(b[3:]),
		Humidity:    uint32(common.Uint16BE(b[6:])),
	}
}

// Sample is a compensated measurement.
type Sample struct {
	Temperature float64 // °C
	Pressure    float64 // Pa
	Humidity    float64 // %RH
}

// fixedSample holds the integer results of the compensation.
type fixedSample struct {
	tFine    int32
	centiC   int32 // 0.01 °C
	pressure int64 // Q24.8 Pa
	humidity uint32
}

// Compensate converts raw into physical units using the trimming parameters.
//
// It is a pure function: identical inputs give bit identical outputs.
func Compensate(raw RawSample, c *Coefficients, h *HumidityCoefficients) Sample {
	f := compensate(raw, c, h)
	return f.sample()
}

func compensate(raw RawSample, c *Coefficients, h *HumidityCoefficients) fixedSample {
	var f fixedSample
	f.tFine, f.centiC = compensateTemp(int32(raw.Temperature), c)
	f.pressure = compensatePressure(int32(raw.Pressure), f.tFine, c)
	f.humidity = compensateHumidity(int32(raw.Humidity), f.tFine, h)
	return f
}

// compensateTemp returns t_fine and the temperature in 0.01 °C. An output
// value of 5123 equals 51.23 °C.
func compensateTemp(adc int32, c *Coefficients) (tFine, centiC int32) {
	t1 := int32(c.T1)
	var1 := (((adc >> 3) - (t1 << 1)) * int32(c.T2)) >> 11
	var2 := (((((adc >> 4) - t1) * ((adc >> 4) - t1)) >> 12) * int32(c.T3)) >> 14
	tFine = var1 + var2
	centiC = (tFine*5 + 128) >> 8
	return tFine, centiC
}

// compensatePressure returns the pressure in Q24.8 Pa. An output value of
// 24674867 equals 24674867/256 = 96386.2 Pa.
//
// It returns 0 when the trimming parameters yield a null divisor.
func compensatePressure(adc, tFine int32, c *Coefficients) int64 {
	var1 := int64(tFine) - 128000
	var2 := var1 * var1 * int64(c.P6)
	var2 = var2 + ((var1 * int64(c.P5)) << 17)
	var2 = var2 + (int64(c.P4) << 35)
	var1 = ((var1 * var1 * int64(c.P3)) >> 8) + ((var1 * int64(c.P2)) << 12)
	var1 = (((int64(1) << 47) + var1) * int64(c.P1)) >> 33
	if var1 == 0 {
		return 0
	}
	p := 1048576 - int64(adc)
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(c.P9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(c.P8) * p) >> 19
	return ((p + var1 + var2) >> 8) + (int64(c.P7) << 4)
}

// compensateHumidity returns the humidity in Q22.10 %RH. An output value of
// 47445 equals 47445/1024 = 46.333 %RH.
func compensateHumidity(adc, tFine int32, h *HumidityCoefficients) uint32 {
	v := tFine - 76800
	v = ((((adc << 14) - (int32(h.H4) << 20) - (int32(h.H5) * v)) + 16384) >> 15) *
		(((((((v*int32(h.H6))>>10)*(((v*int32(h.H3))>>11)+32768))>>10)+2097152)*int32(h.H2) + 8192) >> 14)
	v = v - (((((v >> 15) * (v >> 15)) >> 7) * int32(h.H1)) >> 4)
	if v < 0 {
		v = 0
	}
	if v > maxHumidity {
		v = maxHumidity
	}
	return uint32(v >> 12)
}

func (f *fixedSample) sample() Sample {
	return Sample{
		Temperature: float64(f.centiC) / 100.0,
		Pressure:    float64(f.pressure) / 256.0,
		Humidity:    float64(f.humidity) / 1024.0,
	}
}

// env stores f in e without going through floating point.
func (f *fixedSample) env(e *physic.Env) {
	e.Temperature = physic.Temperature(f.centiC)*10*physic.MilliKelvin + physic.ZeroCelsius
	e.Pressure = physic.Pressure(f.pressure) * physic.Pascal / 256
	// RelativeHumidity is 32 bits; 100%RH in Q22.10 times PercentRH overflows it.
	e.Humidity = physic.RelativeHumidity(int64(f.humidity) * int64(physic.PercentRH) / 1024)
}
