// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const addr uint16 = 0x76

var errNack = errors.New("fake: nack")

// fakeBus is a register file answering I²C transactions. Writes update the
// register file. Reads must match the length stored for the register.
type fakeBus struct {
	regs      map[byte][]byte
	failRead  map[byte]bool
	failWrite map[byte]bool
	count     int
	writes    [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		regs: map[byte][]byte{
			regChipID:      {chipID},
			regCalibration: calBlock,
			regHumidityH1:  {0x4B},
			regHumidity:    humBlock,
			regStatus:      {0x00},
			regCtrlMeas:    {0x6C},
			regPressMSB:    sampleBlock,
		},
		failRead:  map[byte]bool{},
		failWrite: map[byte]bool{},
	}
}

func (f *fakeBus) String() string                      { return "fake" }
func (f *fakeBus) SetSpeed(freq physic.Frequency) error { return nil }

func (f *fakeBus) Tx(a uint16, w, r []byte) error {
	f.count++
	if a != addr || len(w) == 0 {
		return errors.New("fake: invalid transaction")
	}
	if len(r) == 0 {
		if f.failWrite[w[0]] {
			return errNack
		}
		f.writes = append(f.writes, append([]byte(nil), w...))
		if len(w) == 2 {
			f.regs[w[0]] = []byte{w[1]}
		}
		return nil
	}
	if f.failRead[w[0]] {
		return errNack
	}
	v, ok := f.regs[w[0]]
	if !ok || len(v) != len(r) {
		return fmt.Errorf("fake: read of %d bytes at %#x", len(r), w[0])
	}
	copy(r, v)
	return nil
}

func TestMain(m *testing.M) {
	doSleep = func(time.Duration) {}
	os.Exit(m.Run())
}

func initOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{regChipID}, R: []byte{chipID}},
		{Addr: addr, W: []byte{regReset, resetCommand}},
		{Addr: addr, W: []byte{regCalibration}, R: calBlock},
		{Addr: addr, W: []byte{regHumidityH1}, R: []byte{0x4B}},
		{Addr: addr, W: []byte{regHumidity}, R: humBlock},
	}
}

// configOps is the configuration written for DefaultOpts.
func configOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{regCtrlHum, 0x03}},
		{Addr: addr, W: []byte{regConfig, 0x00}},
		{Addr: addr, W: []byte{regCtrlMeas, 0x6C}},
	}
}

func newFakeDev(t *testing.T, opts *Opts) (*Dev, *fakeBus) {
	bus := newFakeBus()
	tr, err := NewI2CTransport(bus, addr)
	if err != nil {
		t.Fatal(err)
	}
	d := New(tr, opts)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	return d, bus
}

func TestNewI2C(t *testing.T) {
	var slept []time.Duration
	doSleep = func(d time.Duration) { slept = append(slept, d) }
	defer func() { doSleep = func(time.Duration) {} }()

	bus := i2ctest.Playback{Ops: append(initOps(), configOps()...), DontPanic: true}
	d, err := NewI2C(&bus, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := d.State(); s != StateSleep {
		t.Errorf("state %s, expected %s", s, StateSleep)
	}
	c, h, ok := d.Coefficients()
	if !ok {
		t.Fatal("coefficients not loaded")
	}
	if c != calExpected {
		t.Errorf("coefficients %+v", c)
	}
	if h != humExpected {
		t.Errorf("humidity coefficients %+v", h)
	}
	if len(slept) != 1 || slept[0] != resetDelay {
		t.Errorf("expected a single %s settle delay, got %v", resetDelay, slept)
	}
	if err := d.Err(); err != nil {
		t.Errorf("unexpected latched error %v", err)
	}
	if s := d.String(); s != "BME280{playback(118)}" {
		t.Errorf("String()=%q", s)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestInit_IdentityMismatch(t *testing.T) {
	bus := i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: addr, W: []byte{regChipID}, R: []byte{0x58}}},
		DontPanic: true,
	}
	tr, _ := NewI2CTransport(&bus, addr)
	d := New(tr, nil)
	err := d.Init()
	if !errors.Is(err, ErrIdentity) {
		t.Fatalf("expected ErrIdentity, got %v", err)
	}
	if d.Err() != ErrIdentity {
		t.Errorf("latched %v", d.Err())
	}
	if _, _, ok := d.Coefficients(); ok {
		t.Error("coefficients must not be accessible")
	}
	if s := d.State(); s != StateUninitialized {
		t.Errorf("state %s", s)
	}
	if _, err := d.Read(); err != ErrNotLoaded {
		t.Errorf("Read() after failed Init: %v", err)
	}
	// No reset must have been issued.
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestInit_Failures(t *testing.T) {
	tests := []struct {
		name      string
		failRead  byte
		failWrite byte
		code      ErrorCode
	}{
		{"chip id", regChipID, 0, ErrNoAnswer},
		{"reset", 0, regReset, ErrNoReset},
		{"table", regCalibration, 0, ErrNoTable},
		{"h1", regHumidityH1, 0, ErrNoHumidityTable},
		{"humidity table", regHumidity, 0, ErrNoHumidityTable},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := newFakeBus()
			if test.failRead != 0 {
				bus.failRead[test.failRead] = true
			}
			if test.failWrite != 0 {
				bus.failWrite[test.failWrite] = true
			}
			tr, _ := NewI2CTransport(bus, addr)
			d := New(tr, nil)
			err := d.Init()
			if CodeOf(err) != test.code {
				t.Fatalf("got %v, expected %v", err, test.code)
			}
			if !errors.Is(err, errNack) {
				t.Errorf("%v does not wrap the bus error", err)
			}
			if d.Err() != test.code {
				t.Errorf("latched %v", d.Err())
			}
			if _, _, ok := d.Coefficients(); ok {
				t.Error("coefficients must not be accessible")
			}
		})
	}
}

func TestInit_BusUnavailable(t *testing.T) {
	tr, err := NewI2CTransport(nil, addr)
	if err != nil {
		t.Fatal(err)
	}
	d := New(tr, nil)
	if err := d.Init(); CodeOf(err) != ErrBusUnavailable {
		t.Fatalf("got %v", err)
	}
	d = New(nil, nil)
	if err := d.Init(); CodeOf(err) != ErrBusUnavailable {
		t.Fatalf("got %v", err)
	}
}

func TestInit_Reload(t *testing.T) {
	d, bus := newFakeDev(t, nil)
	bus.regs[regChipID] = []byte{0x58}
	if err := d.Init(); CodeOf(err) != ErrIdentity {
		t.Fatalf("got %v", err)
	}
	if _, _, ok := d.Coefficients(); ok {
		t.Error("a failed Init must drop the previous coefficients")
	}
}

func TestNotLoaded(t *testing.T) {
	bus := newFakeBus()
	tr, _ := NewI2CTransport(bus, addr)
	d := New(tr, nil)
	ops := map[string]func() error{
		"Configure":  func() error { return d.Configure(DefaultOpts.Registers()) },
		"Standby":    d.Standby,
		"Measure":    d.Measure,
		"Continuous": d.Continuous,
		"Read":       func() error { _, err := d.Read(); return err },
		"Sense":      func() error { return d.Sense(&physic.Env{}) },
	}
	for name, op := range ops {
		if err := op(); err != ErrNotLoaded {
			t.Errorf("%s: %v", name, err)
		}
	}
	if bus.count != 0 {
		t.Errorf("%d bus transactions issued", bus.count)
	}
	if d.Err() != nil {
		t.Errorf("latched %v", d.Err())
	}
}

func TestConfigure(t *testing.T) {
	d, bus := newFakeDev(t, nil)
	bus.writes = nil
	if err := d.Configure(0x05, 0xB7, 0xA0); err != nil {
		t.Fatal(err)
	}
	expected := [][]byte{{regCtrlHum, 0x05}, {regConfig, 0xA0}, {regCtrlMeas, 0xB7}}
	if fmt.Sprint(bus.writes) != fmt.Sprint(expected) {
		t.Errorf("writes %v, expected %v", bus.writes, expected)
	}
	if s := d.State(); s != StateNormal {
		t.Errorf("state %s", s)
	}

	bus.failWrite[regConfig] = true
	if err := d.Configure(0x05, 0xB4, 0xA0); CodeOf(err) != ErrConfig {
		t.Fatalf("got %v", err)
	}
	if d.Err() != ErrConfig {
		t.Errorf("latched %v", d.Err())
	}
}

func TestModes(t *testing.T) {
	d, bus := newFakeDev(t, nil)
	if s := d.State(); s != StateReady {
		t.Fatalf("state %s", s)
	}
	tests := []struct {
		name     string
		op       func() error
		before   byte
		after    byte
		expected State
	}{
		{"measure", d.Measure, 0x6C, 0x6E, StateForced},
		{"measure from normal", d.Measure, 0x6F, 0x6E, StateForced},
		{"continuous", d.Continuous, 0x6C, 0x6F, StateNormal},
		{"standby", d.Standby, 0x6F, 0x6C, StateSleep},
		{"standby keeps bits", d.Standby, 0xFE, 0xFC, StateSleep},
	}
	for _, test := range tests {
		bus.regs[regCtrlMeas] = []byte{test.before}
		if err := test.op(); err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if v := bus.regs[regCtrlMeas][0]; v != test.after {
			t.Errorf("%s: ctrl_meas %#x, expected %#x", test.name, v, test.after)
		}
		if s := d.State(); s != test.expected {
			t.Errorf("%s: state %s, expected %s", test.name, s, test.expected)
		}
	}
}

func TestModes_Failures(t *testing.T) {
	tests := []struct {
		name      string
		op        func(d *Dev) error
		failRead  bool
		failWrite bool
		code      ErrorCode
	}{
		{"standby read", (*Dev).Standby, true, false, ErrBusRead},
		{"standby write", (*Dev).Standby, false, true, ErrBusWrite},
		{"measure read", (*Dev).Measure, true, false, ErrBusRead},
		{"measure write", (*Dev).Measure, false, true, ErrMeasure},
		{"continuous read", (*Dev).Continuous, true, false, ErrBusRead},
		{"continuous write", (*Dev).Continuous, false, true, ErrBusWrite},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, bus := newFakeDev(t, nil)
			bus.failRead[regCtrlMeas] = test.failRead
			bus.failWrite[regCtrlMeas] = test.failWrite
			if err := test.op(d); CodeOf(err) != test.code {
				t.Fatalf("got %v, expected %v", err, test.code)
			}
			if d.Err() != test.code {
				t.Errorf("latched %v", d.Err())
			}
		})
	}
}

func TestRead(t *testing.T) {
	d, bus := newFakeDev(t, nil)
	s, err := d.Read()
	if err != nil {
		t.Fatal(err)
	}
	expected := Sample{Temperature: 25.08, Pressure: 100653.25390625, Humidity: 54.9970703125}
	if s != expected {
		t.Fatalf("got %+v, expected %+v", s, expected)
	}
	if l := d.Last(); l != expected {
		t.Fatalf("Last()=%+v", l)
	}

	bus.failRead[regPressMSB] = true
	if _, err := d.Read(); !errors.Is(err, ErrBusRead) {
		t.Fatalf("got %v", err)
	}
	if d.Err() != ErrBusRead {
		t.Errorf("latched %v", d.Err())
	}
	if l := d.Last(); l != expected {
		t.Fatalf("a failed Read must keep the previous sample, got %+v", l)
	}
}

func TestReady(t *testing.T) {
	d, bus := newFakeDev(t, nil)

	bus.regs[regStatus] = []byte{statusMeasuring}
	if d.Ready() {
		t.Error("busy device reported ready")
	}
	if d.Err() != nil {
		t.Errorf("latched %v", d.Err())
	}

	bus.regs[regStatus] = []byte{0}
	if !d.Ready() {
		t.Error("idle device reported not ready")
	}

	// Latch an error.
	bus.failWrite[regCtrlMeas] = true
	if err := d.Measure(); err == nil {
		t.Fatal("expected failure")
	}
	bus.failWrite[regCtrlMeas] = false
	count := bus.count
	for i := 0; i < 3; i++ {
		if d.Ready() {
			t.Error("Ready() with a latched error")
		}
	}
	if bus.count != count {
		t.Errorf("Ready() with a latched error issued %d transactions", bus.count-count)
	}
	if d.Err() != ErrMeasure {
		t.Errorf("latched %v", d.Err())
	}

	d.ClearError()
	if !d.Ready() {
		t.Error("idle device reported not ready after ClearError")
	}
	if d.Err() != nil {
		t.Errorf("latched %v", d.Err())
	}

	bus.failRead[regStatus] = true
	if d.Ready() {
		t.Error("Ready() with a failing bus")
	}
	if d.Err() != ErrNoAnswer {
		t.Errorf("latched %v", d.Err())
	}
}

func TestDev_Sense(t *testing.T) {
	ops := append(initOps(), configOps()...)
	ops = append(ops,
		// Trigger a forced measurement.
		i2ctest.IO{Addr: addr, W: []byte{regCtrlMeas}, R: []byte{0x6C}},
		i2ctest.IO{Addr: addr, W: []byte{regCtrlMeas, 0x6E}},
		// Still measuring, then idle.
		i2ctest.IO{Addr: addr, W: []byte{regStatus}, R: []byte{statusMeasuring}},
		i2ctest.IO{Addr: addr, W: []byte{regStatus}, R: []byte{0x00}},
		i2ctest.IO{Addr: addr, W: []byte{regPressMSB}, R: sampleBlock},
	)
	bus := i2ctest.Playback{Ops: ops, DontPanic: true}
	d, err := NewI2C(&bus, addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if expected := 25080*physic.MilliKelvin + physic.ZeroCelsius; e.Temperature != expected {
		t.Fatalf("temperature %s(%d) != %s(%d)", expected, expected, e.Temperature, e.Temperature)
	}
	if expected := 100653253906250 * physic.NanoPascal; e.Pressure != expected {
		t.Fatalf("pressure %s(%d) != %s(%d)", expected, expected, e.Pressure, e.Pressure)
	}
	if expected := 5499707 * physic.TenthMicroRH; e.Humidity != expected {
		t.Fatalf("humidity %s(%d) != %s(%d)", expected, expected, e.Humidity, e.Humidity)
	}
	if s := d.State(); s != StateForced {
		t.Errorf("state %s", s)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_SenseDisabled(t *testing.T) {
	opts := DefaultOpts
	opts.Pressure = Off
	opts.Humidity = Off
	d, _ := newFakeDev(t, &opts)
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if e.Pressure != 0 || e.Humidity != 0 {
		t.Fatalf("disabled measurements reported: %+v", e)
	}
	if expected := 25080*physic.MilliKelvin + physic.ZeroCelsius; e.Temperature != expected {
		t.Fatalf("temperature %s", e.Temperature)
	}
}

func TestDev_SenseTimeout(t *testing.T) {
	opts := DefaultOpts
	opts.MeasurementTimeout = time.Nanosecond
	d, bus := newFakeDev(t, &opts)
	bus.regs[regStatus] = []byte{statusMeasuring}
	err := d.Sense(&physic.Env{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v", err)
	}
	if CodeOf(err) != ErrNoAnswer {
		t.Errorf("code %v", CodeOf(err))
	}
	if d.Err() != ErrNoAnswer {
		t.Errorf("latched %v", d.Err())
	}
}

func TestDev_SenseContinuousFirstConversion(t *testing.T) {
	waiting := make(chan time.Duration)
	release := make(chan time.Time)
	after = func(d time.Duration) <-chan time.Time {
		waiting <- d
		return release
	}
	defer func() { after = time.After }()

	d, bus := newFakeDev(t, nil)
	// Power on reset values of the data registers.
	bus.regs[regPressMSB] = []byte{0x80, 0, 0, 0x80, 0, 0, 0x80, 0}
	ch, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if w := <-waiting; w != DefaultOpts.measurementDuration() {
		t.Errorf("waited %s, expected %s", w, DefaultOpts.measurementDuration())
	}
	// The reader is blocked until the conversion time elapsed.
	bus.regs[regPressMSB] = sampleBlock
	close(release)
	e := <-ch
	if expected := 25080*physic.MilliKelvin + physic.ZeroCelsius; e.Temperature != expected {
		t.Fatalf("temperature %s", e.Temperature)
	}
	if expected := 5499707 * physic.TenthMicroRH; e.Humidity != expected {
		t.Fatalf("humidity %s", e.Humidity)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_HaltBeforeFirstConversion(t *testing.T) {
	waiting := make(chan time.Duration)
	after = func(d time.Duration) <-chan time.Time {
		waiting <- d
		return nil
	}
	defer func() { after = time.After }()

	d, _ := newFakeDev(t, nil)
	ch, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	<-waiting
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected no measurement")
	}
}

func TestDev_SenseContinuous(t *testing.T) {
	d, bus := newFakeDev(t, nil)
	ch, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Sense(&physic.Env{}); err != errSensing {
		t.Errorf("Sense() while sensing continuously: %v", err)
	}
	for i := 0; i < 3; i++ {
		e := <-ch
		if expected := 25080*physic.MilliKelvin + physic.ZeroCelsius; e.Temperature != expected {
			t.Fatalf("temperature %s", e.Temperature)
		}
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	for range ch {
	}
	if v := bus.regs[regCtrlMeas][0]; v != 0x6C {
		t.Errorf("ctrl_meas %#x after Halt", v)
	}
	if v := bus.regs[regConfig][0]; v != 0x00 {
		t.Errorf("config %#x", v)
	}
	if s := d.State(); s != StateSleep {
		t.Errorf("state %s", s)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_SenseContinuousReadFailure(t *testing.T) {
	d, bus := newFakeDev(t, nil)
	var traces int
	d.t.EnableDebug(func(string, ...interface{}) { traces++ })
	bus.failRead[regPressMSB] = true
	ch, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to be closed")
	}
	if d.Err() != ErrBusRead {
		t.Errorf("latched %v", d.Err())
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if traces == 0 {
		t.Error("failure not traced")
	}
}

func TestChooseStandby(t *testing.T) {
	tests := []struct {
		interval time.Duration
		expected byte
	}{
		{0, 0},
		{time.Millisecond, 0},
		{15 * time.Millisecond, 6},
		{20 * time.Millisecond, 7},
		{100 * time.Millisecond, 1},
		{300 * time.Millisecond, 3},
		{time.Minute, 5},
	}
	for _, test := range tests {
		if v := chooseStandby(test.interval); v != test.expected {
			t.Errorf("chooseStandby(%s)=%d expected %d", test.interval, v, test.expected)
		}
	}
}

func TestOptsRegisters(t *testing.T) {
	o := Opts{Temperature: O2x, Pressure: O16x, Humidity: O1x, Filter: F16}
	hum, meas, config := o.registers(modeNormal, 5)
	if hum != 0x01 || meas != 0x57 || config != 0xB0 {
		t.Fatalf("registers %#x %#x %#x", hum, meas, config)
	}
	if d := DefaultOpts.measurementDuration(); d != 30*time.Millisecond {
		t.Errorf("measurementDuration()=%s", d)
	}
}

func TestStrings(t *testing.T) {
	if s := O16x.String(); s != "16x" {
		t.Error(s)
	}
	if s := Oversampling(9).String(); s != "Oversampling(9)" {
		t.Error(s)
	}
	if s := F16.String(); s != "F16" {
		t.Error(s)
	}
	if s := NoFilter.String(); s != "NoFilter" {
		t.Error(s)
	}
	if s := StateUninitialized.String(); s != "Uninitialized" {
		t.Error(s)
	}
	if s := StateNormal.String(); s != "Normal" {
		t.Error(s)
	}
	if s := ErrIdentity.Error(); s != "unexpected chip id" {
		t.Error(s)
	}
	err := &Error{Code: ErrNoTable, Op: "init", Err: errNack}
	if s := err.Error(); s != "bme280: init: compensation table read failed: fake: nack" {
		t.Error(s)
	}
}

func TestPrecision(t *testing.T) {
	d := New(nil, nil)
	e := physic.Env{}
	d.Precision(&e)
	if e.Temperature != 10*physic.MilliKelvin || e.Pressure != 3906250*physic.NanoPascal || e.Humidity != 97*physic.TenthMicroRH {
		t.Fatalf("%+v", e)
	}
}
