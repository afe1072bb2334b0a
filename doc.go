// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package envsense is a container for environmental sensor drivers and the
// small set of helpers built around them.
//
// The driver lives in bme280. promenv exports any physic.SenseEnv as
// Prometheus gauges and console prints readings to a terminal.
package envsense
