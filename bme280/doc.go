// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bme280 controls a Bosch BME280 temperature, pressure and humidity
// sensor over I²C or SPI.
//
// The device stores factory trimming coefficients that are read once by
// Dev.Init. Raw readings are converted with the fixed point algorithm
// published by Bosch, reproduced bit for bit: temperature is resolved first
// and its intermediate t_fine feeds both the pressure and the humidity
// formulas.
//
// Dev exposes the register level session (Init, Configure, Standby, Measure,
// Continuous, Read, Ready) and also implements physic.SenseEnv.
//
// Every fallible operation returns an *Error carrying an ErrorCode, except
// ErrNotLoaded which is returned as is before a successful Init. The code
// of the most recent failure is latched by the Dev and reported by Err until
// it is cleared by ClearError. While a code is latched Ready reports false
// without touching the bus.
//
// # Datasheet
//
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
package bme280
