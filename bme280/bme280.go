// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme280

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Register map.
const (
	regCalibration byte = 0x88 // 24 bytes, T1..P9
	regHumidityH1  byte = 0xA1
	regChipID      byte = 0xD0
	regReset       byte = 0xE0
	regHumidity    byte = 0xE1 // 7 bytes, H2..H6
	regCtrlHum     byte = 0xF2
	regStatus      byte = 0xF3
	regCtrlMeas    byte = 0xF4
	regConfig      byte = 0xF5
	regPressMSB    byte = 0xF7 // 8 bytes, press[3] temp[3] hum[2]
)

const (
	chipID       byte = 0x60
	resetCommand byte = 0xB6
	// resetDelay leaves the device time to copy its NVM after a soft reset.
	resetDelay = 250 * time.Millisecond

	sampleSize = 8

	modeMask   byte = 0x03
	modeSleep  byte = 0x00
	modeForced byte = 0x02
	modeNormal byte = 0x03

	statusMeasuring byte = 1 << 3
	statusImUpdate  byte = 1 << 0
)

// State is the state of the session with the device.
type State uint8

// Session states. Only a successful Init leaves StateUninitialized.
const (
	StateUninitialized State = iota
	StateReady
	StateSleep
	StateForced
	StateNormal
)

const stateName = "UninitializedReadySleepForcedNormal"

var stateIndex = [...]uint8{0, 13, 18, 23, 29, 35}

func (s State) String() string {
	if s >= State(len(stateIndex)-1) {
		return fmt.Sprintf("State(%d)", s)
	}
	return stateName[stateIndex[s]:stateIndex[s+1]]
}

func modeState(ctrlMeas byte) State {
	switch ctrlMeas & modeMask {
	case modeSleep:
		return StateSleep
	case modeNormal:
		return StateNormal
	default:
		return StateForced
	}
}

// Oversampling affects how much time is taken to measure each of temperature,
// pressure and humidity.
type Oversampling uint8

// Possible oversampling values.
//
// The higher the more time and power it takes to take a measurement. Even at
// 16x for all 3 sensors, it is less than 120ms.
const (
	Off  Oversampling = 0
	O1x  Oversampling = 1
	O2x  Oversampling = 2
	O4x  Oversampling = 3
	O8x  Oversampling = 4
	O16x Oversampling = 5
)

const oversamplingName = "Off1x2x4x8x16x"

var oversamplingIndex = [...]uint8{0, 3, 5, 7, 9, 11, 14}

func (o Oversampling) String() string {
	if o >= Oversampling(len(oversamplingIndex)-1) {
		return fmt.Sprintf("Oversampling(%d)", o)
	}
	return oversamplingName[oversamplingIndex[o]:oversamplingIndex[o+1]]
}

func (o Oversampling) asValue() int {
	switch o {
	case O1x:
		return 1
	case O2x:
		return 2
	case O4x:
		return 4
	case O8x:
		return 8
	case O16x:
		return 16
	default:
		return 0
	}
}

// Filter specifies the internal IIR filter to get steadier measurements.
type Filter uint8

// Possible filtering values.
const (
	NoFilter Filter = 0
	F2       Filter = 1
	F4       Filter = 2
	F8       Filter = 3
	F16      Filter = 4
)

const filterName = "NoFilterF2F4F8F16"

var filterIndex = [...]uint8{0, 8, 10, 12, 14, 17}

func (f Filter) String() string {
	if f >= Filter(len(filterIndex)-1) {
		return fmt.Sprintf("Filter(%d)", f)
	}
	return filterName[filterIndex[f]:filterIndex[f+1]]
}

// standbyDurations is t_sb of the config register, indexed by its value.
var standbyDurations = [...]time.Duration{
	500 * time.Microsecond,
	62500 * time.Microsecond,
	125 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	10 * time.Millisecond,
	20 * time.Millisecond,
}

// chooseStandby returns the t_sb value of the longest standby period not
// exceeding interval.
func chooseStandby(interval time.Duration) byte {
	best := byte(0)
	for i, d := range standbyDurations {
		if d <= interval && d > standbyDurations[best] {
			best = byte(i)
		}
	}
	return best
}

// Opts defines the options for the device.
type Opts struct {
	// Temperature must be measured for pressure and humidity to be measured.
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	// Filter is only used while using SenseContinuous().
	Filter Filter
	// MeasurementTimeout bounds the time Sense waits for the device to become
	// idle after the expected conversion time elapsed. 0 means no timeout.
	MeasurementTimeout time.Duration
	// PollInterval is the delay between status reads while waiting. Default
	// is 2ms.
	PollInterval time.Duration
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Temperature:        O4x,
	Pressure:           O4x,
	Humidity:           O4x,
	MeasurementTimeout: 200 * time.Millisecond,
	PollInterval:       2 * time.Millisecond,
}

// Registers returns the ctrl_hum, ctrl_meas and config values selecting the
// options with the device put to sleep. They can be passed to Dev.Configure.
func (o *Opts) Registers() (ctrlHum, ctrlMeas, config byte) {
	return o.registers(modeSleep, 0)
}

func (o *Opts) registers(mode, standby byte) (ctrlHum, ctrlMeas, config byte) {
	ctrlHum = byte(o.Humidity) & 0x07
	ctrlMeas = byte(o.Temperature)<<5 | byte(o.Pressure)<<2 | mode
	config = standby<<5 | byte(o.Filter)<<2
	return ctrlHum, ctrlMeas, config
}

// measurementDuration is the maximum conversion time per the datasheet
// appendix B.
func (o *Opts) measurementDuration() time.Duration {
	d := 1250 * time.Microsecond
	d += time.Duration(o.Temperature.asValue()) * 2300 * time.Microsecond
	if o.Pressure != Off {
		d += time.Duration(o.Pressure.asValue())*2300*time.Microsecond + 575*time.Microsecond
	}
	if o.Humidity != Off {
		d += time.Duration(o.Humidity.asValue())*2300*time.Microsecond + 575*time.Microsecond
	}
	return d
}

// Dev is a handle to a BME280 session.
type Dev struct {
	t    *Transport
	opts Opts

	mu    sync.Mutex
	state State
	// err is the latched code of the last failure.
	err  ErrorCode
	cal  *Coefficients
	hum  *HumidityCoefficients
	last Sample

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns an uninitialized session over t. It does not touch the device;
// call Init before anything else. The Opts can be nil.
func New(t *Transport, opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{t: t, opts: *opts}
	if d.opts.PollInterval <= 0 {
		d.opts.PollInterval = 2 * time.Millisecond
	}
	return d
}

// NewI2C returns an initialized device that communicates over I²C.
//
// The address must be 0x76 or 0x77. The device is reset, its coefficients
// are loaded and it is configured per opts in sleep mode. The Opts can be nil.
//
// It is recommended to call Halt() when done with the device so it stops
// sampling.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	t, err := NewI2CTransport(b, addr)
	if err != nil {
		return nil, err
	}
	return newDev(t, opts)
}

// NewSPI returns an initialized device that communicates over SPI.
//
// When using SPI, the CS line must be used.
func NewSPI(p spi.Port, opts *Opts) (*Dev, error) {
	t, err := NewSPITransport(p)
	if err != nil {
		return nil, err
	}
	return newDev(t, opts)
}

func newDev(t *Transport, opts *Opts) (*Dev, error) {
	d := New(t, opts)
	if err := d.Init(); err != nil {
		return nil, err
	}
	if err := d.Configure(d.opts.Registers()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("BME280{%s}", d.t)
}

// Init verifies the chip id, soft resets the device and loads the
// compensation coefficients.
//
// On failure no coefficients are kept and the session stays uninitialized.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.init()
}

func (d *Dev) init() error {
	d.cal, d.hum = nil, nil
	d.state = StateUninitialized
	if !d.t.available() {
		return d.fail("init", ErrBusUnavailable, nil)
	}
	id, err := d.t.ReadRegister(regChipID)
	if err != nil {
		return d.fail("init", ErrNoAnswer, err)
	}
	if id != chipID {
		return d.fail("init", ErrIdentity, fmt.Errorf("got %#x, expected %#x", id, chipID))
	}
	if err := d.t.WriteRegister(regReset, resetCommand); err != nil {
		return d.fail("init", ErrNoReset, err)
	}
	doSleep(resetDelay)

	b, err := d.t.ReadBlock(regCalibration, CoefficientsSize)
	if err != nil {
		return d.fail("init", ErrNoTable, err)
	}
	cal, err := ParseCoefficients(b)
	if err != nil {
		return d.fail("init", ErrNoTable, err)
	}
	h1, err := d.t.ReadRegister(regHumidityH1)
	if err != nil {
		return d.fail("init", ErrNoHumidityTable, err)
	}
	if b, err = d.t.ReadBlock(regHumidity, HumidityBlockSize); err != nil {
		return d.fail("init", ErrNoHumidityTable, err)
	}
	hum, err := ParseHumidityCoefficients(h1, b)
	if err != nil {
		return d.fail("init", ErrNoHumidityTable, err)
	}
	d.cal, d.hum = &cal, &hum
	d.state = StateReady
	return nil
}

// Configure writes the raw ctrl_hum, ctrl_meas and config register values.
//
// ctrl_hum only takes effect after ctrl_meas is written, so ctrl_meas is
// written last. The mode bits of ctrlMeas select the new state.
func (d *Dev) Configure(ctrlHum, ctrlMeas, config byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configure(ctrlHum, ctrlMeas, config)
}

func (d *Dev) configure(ctrlHum, ctrlMeas, config byte) error {
	if d.cal == nil {
		return ErrNotLoaded
	}
	for _, w := range [...][2]byte{{regCtrlHum, ctrlHum}, {regConfig, config}, {regCtrlMeas, ctrlMeas}} {
		if err := d.t.WriteRegister(w[0], w[1]); err != nil {
			return d.fail("configure", ErrConfig, err)
		}
	}
	d.state = modeState(ctrlMeas)
	return nil
}

// Standby puts the device to sleep, preserving the oversampling settings.
func (d *Dev) Standby() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMode("standby", func(v byte) byte { return v & 0xFC }, ErrBusWrite)
}

// Measure starts a single forced mode conversion. The device returns to sleep
// when done; poll Ready then call Read.
func (d *Dev) Measure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.measure()
}

func (d *Dev) measure() error {
	return d.setMode("measure", func(v byte) byte { return (v & 0xFC) | modeForced }, ErrMeasure)
}

// Continuous puts the device in normal mode where it converts periodically
// per the standby time of the config register.
func (d *Dev) Continuous() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMode("continuous", func(v byte) byte { return v | modeNormal }, ErrBusWrite)
}

// setMode does a read-modify-write of ctrl_meas.
func (d *Dev) setMode(op string, f func(byte) byte, writeCode ErrorCode) error {
	if d.cal == nil {
		return ErrNotLoaded
	}
	v, err := d.t.ReadRegister(regCtrlMeas)
	if err != nil {
		return d.fail(op, ErrBusRead, err)
	}
	v = f(v)
	if err := d.t.WriteRegister(regCtrlMeas, v); err != nil {
		return d.fail(op, writeCode, err)
	}
	d.state = modeState(v)
	return nil
}

// Read burst reads the data registers and returns the compensated sample. It
// also becomes the value returned by Last.
func (d *Dev) Read() (Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.read()
	if err != nil {
		return Sample{}, err
	}
	return f.sample(), nil
}

func (d *Dev) read() (fixedSample, error) {
	if d.cal == nil {
		return fixedSample{}, ErrNotLoaded
	}
	b, err := d.t.ReadBlock(regPressMSB, sampleSize)
	if err != nil {
		d.err = CodeOf(err)
		return fixedSample{}, err
	}
	f := compensate(parseRaw(b), d.cal, d.hum)
	d.last = f.sample()
	return f, nil
}

// Last returns the sample of the last successful Read or Sense.
func (d *Dev) Last() Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Ready reports whether the device is idle, that is neither converting nor
// copying its NVM.
//
// While an error is latched it returns false without accessing the bus. A
// status of zero clears the latched error.
func (d *Dev) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != ErrNone {
		return false
	}
	s, err := d.t.ReadRegister(regStatus)
	if err != nil {
		d.err = ErrNoAnswer
		return false
	}
	if s == 0 {
		d.err = ErrNone
		return true
	}
	return false
}

// Err returns the latched code of the last failure, or nil.
func (d *Dev) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == ErrNone {
		return nil
	}
	return d.err
}

// ClearError clears the latched error.
func (d *Dev) ClearError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = ErrNone
}

// State returns the session state.
func (d *Dev) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Coefficients returns the trimming parameters loaded by Init. ok is false
// when none are loaded.
func (d *Dev) Coefficients() (c Coefficients, h HumidityCoefficients, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cal == nil {
		return c, h, false
	}
	return *d.cal, *d.hum, true
}

// Sense requests a one time measurement as °C, Pa and % of relative humidity.
//
// It triggers a forced conversion, waits for the device to be idle and reads
// the result. The very first measurements may be of poor quality.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return errSensing
	}
	if err := d.measure(); err != nil {
		return err
	}
	doSleep(d.opts.measurementDuration())
	if err := d.waitIdle(); err != nil {
		return err
	}
	f, err := d.read()
	if err != nil {
		return err
	}
	d.store(&f, e)
	return nil
}

// waitIdle polls the status register until the conversion is done.
func (d *Dev) waitIdle() error {
	end := time.Now().Add(d.opts.MeasurementTimeout)
	for {
		s, err := d.t.ReadRegister(regStatus)
		if err != nil {
			return d.fail("sense", ErrNoAnswer, err)
		}
		if s&(statusMeasuring|statusImUpdate) == 0 {
			return nil
		}
		if d.opts.MeasurementTimeout > 0 && time.Now().After(end) {
			return d.fail("sense", ErrNoAnswer, ErrTimeout)
		}
		doSleep(d.opts.PollInterval)
	}
}

// store fills e, leaving the disabled measurements to 0.
func (d *Dev) store(f *fixedSample, e *physic.Env) {
	f.env(e)
	if d.opts.Pressure == Off {
		e.Pressure = 0
	}
	if d.opts.Humidity == Off {
		e.Humidity = 0
	}
}

// SenseContinuous returns measurements as °C, Pa and % of relative humidity
// on a continuous basis.
//
// The device is put in normal mode with the standby time closest to interval
// and the configured filter. The application must call Halt() to stop the
// sensing when done to stop the sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.stopSensing()
	d.mu.Lock()
	defer d.mu.Unlock()
	hum, meas, config := d.opts.registers(modeNormal, chooseStandby(interval))
	if err := d.configure(hum, meas, config); err != nil {
		return nil, err
	}

	sensing := make(chan physic.Env)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}(d.stop)
	return sensing, nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	// The data registers hold reset values until the first conversion is done.
	select {
	case <-stop:
		return
	case <-after(d.opts.measurementDuration()):
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		e := physic.Env{}
		d.mu.Lock()
		f, err := d.read()
		if err == nil {
			d.store(&f, &e)
		}
		d.mu.Unlock()
		if err != nil {
			d.t.debug("%s: failed to sense: %v", d, err)
			return
		}
		select {
		case sensing <- e:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// stopSensing terminates the SenseContinuous goroutine if running. It must
// be called without d.mu held since the goroutine takes it.
func (d *Dev) stopSensing() bool {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return false
	}
	close(stop)
	d.wg.Wait()
	return true
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = 10 * physic.MilliKelvin
	e.Pressure = physic.Pascal / 256
	e.Humidity = physic.PercentRH / 1024
}

// Halt stops the BME280 from acquiring measurements as initiated by
// SenseContinuous() and puts it back to sleep.
//
// It is recommended to call this function before terminating the process to
// reduce idle power usage and a goroutine leak.
func (d *Dev) Halt() error {
	if !d.stopSensing() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMode("halt", func(v byte) byte { return v & 0xFC }, ErrBusWrite)
}

// fail latches code and returns it as an *Error.
func (d *Dev) fail(op string, code ErrorCode, err error) error {
	d.err = code
	return &Error{Code: code, Op: op, Err: err}
}

var doSleep = time.Sleep

var after = time.After

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
