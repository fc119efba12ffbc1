// Package ina219 drives the INA219 high-side voltage and current monitor
// over a register bus. The chip stores its registers big-endian, so all
// word access is byte-swapped relative to SMBus order. Current and power
// conversions depend on the calibration register, which the chip drops on
// configuration writes; the driver rewrites it before every current or
// power read.
package ina219

import (
	"errors"
	"fmt"
	"sync"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/sensor"
)

// DefaultAddr is the lowest of the 16 strap-selectable addresses
// (0x40..0x4F).
const DefaultAddr uint16 = 0x40

// Register map.
const (
	regConfig      = 0x00
	regShunt       = 0x01 // LSB 10 µV
	regBus         = 0x02 // value >> 3, LSB 4 mV
	regPower       = 0x03
	regCurrent     = 0x04
	regCalibration = 0x05
)

// resetBit in the config register triggers a full chip reset.
const resetBit = 1 << 15

// ErrOption reports a configuration value the chip cannot encode.
var ErrOption = errors.New("unsupported acquisition option")

// Operating modes (3 bit field of the config register).
const (
	ModePowerDown = 0
	ModeADCOff    = 4
	ModeShuntBus  = 7 // continuous shunt and bus, the default
)

// ADC codes for the BADC/SADC fields: 9..12 select single-sample
// resolution, 2..128 select 12 bit multi-sample averaging. The averaging
// codes are the 4 bit datasheet values 0x9..0xF.
var adcCodes = map[int]uint16{
	9:   0x0,
	10:  0x1,
	11:  0x2,
	12:  0x3,
	2:   0x9,
	4:   0xA,
	8:   0xB,
	16:  0xC,
	32:  0xD,
	64:  0xE,
	128: 0xF,
}

// PGA gain codes: the divider doubles the shunt voltage range per step,
// 1 = ±40 mV up to 8 = ±320 mV.
var gainCodes = map[int]uint16{1: 0x0, 2: 0x1, 4: 0x2, 8: 0x3}

// Dev is one INA219 on a register bus.
type Dev struct {
	mu   sync.Mutex
	bus  bus.Bus
	addr uint16
	name string

	mode     int
	shuntADC int
	busADC   int
	gain     int
	vrange   int

	currentLSB  float64 // mA per count
	powerLSB    float64 // W per count
	calibration uint16
}

// New constructs a driver for the chip at addr with the default
// configuration (32 V range, gain 8, 12 bit ADCs, continuous shunt and
// bus) and the 32 V / 2 A calibration profile.
func New(name string, b bus.Bus, addr uint16) (*Dev, error) {
	d := &Dev{bus: b, addr: addr, name: name}
	d.initParams()
	if err := d.writeConfig(); err != nil {
		return nil, err
	}
	if err := d.Calibrate32V2A(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) initParams() {
	d.mode = ModeShuntBus
	d.shuntADC = 12
	d.busADC = 12
	d.gain = 8
	d.vrange = 32
	d.currentLSB = 0
	d.powerLSB = 0
	d.calibration = 0
}

func (d *Dev) Name() string {
	return d.name
}

// configWord encodes the current parameter set into the config register.
func (d *Dev) configWord() (uint16, error) {
	sadc, ok := adcCodes[d.shuntADC]
	if !ok {
		return 0, fmt.Errorf("%w: shunt ADC mode %d", ErrOption, d.shuntADC)
	}
	badc, ok := adcCodes[d.busADC]
	if !ok {
		return 0, fmt.Errorf("%w: bus ADC mode %d", ErrOption, d.busADC)
	}
	pg, ok := gainCodes[d.gain]
	if !ok {
		return 0, fmt.Errorf("%w: gain %d", ErrOption, d.gain)
	}
	var brng uint16
	if d.vrange == 32 {
		brng = 1
	} else if d.vrange != 16 {
		return 0, fmt.Errorf("%w: voltage range %d V", ErrOption, d.vrange)
	}
	if d.mode < 0 || d.mode > 7 {
		return 0, fmt.Errorf("%w: mode %d", ErrOption, d.mode)
	}
	return uint16(d.mode) | sadc<<3 | badc<<7 | pg<<11 | brng<<13, nil
}

func (d *Dev) writeConfig() error {
	word, err := d.configWord()
	if err != nil {
		return err
	}
	return d.bus.WriteWordSwapped(d.addr, regConfig, word)
}

// SetMode selects the operating mode (0 power-down .. 7 continuous shunt
// and bus) and writes the config register.
func (d *Dev) SetMode(mode int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.mode
	d.mode = mode
	if err := d.writeConfig(); err != nil {
		d.mode = old
		return err
	}
	return nil
}

// SetADC selects the shunt and bus ADC modes (bit depth 9..12 or sample
// count 2..128) and writes the config register.
func (d *Dev) SetADC(shunt, busMode int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	oldShunt, oldBus := d.shuntADC, d.busADC
	d.shuntADC, d.busADC = shunt, busMode
	if err := d.writeConfig(); err != nil {
		d.shuntADC, d.busADC = oldShunt, oldBus
		return err
	}
	return nil
}

// SetGain selects the shunt PGA divider (1, 2, 4 or 8) and writes the
// config register.
func (d *Dev) SetGain(gain int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.gain
	d.gain = gain
	if err := d.writeConfig(); err != nil {
		d.gain = old
		return err
	}
	return nil
}

// SetVoltageRange selects the bus voltage range, 16 or 32 volts, and
// writes the config register.
func (d *Dev) SetVoltageRange(volts int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.vrange
	d.vrange = volts
	if err := d.writeConfig(); err != nil {
		d.vrange = old
		return err
	}
	return nil
}

// Reset resets the chip and restores the default parameter set. The
// calibration profile must be applied again afterwards.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bus.WriteWordSwapped(d.addr, regConfig, resetBit); err != nil {
		return err
	}
	d.initParams()
	return nil
}

// Calibrate32V2A applies the 32 V / 2 A profile: calibration word 10240,
// 0.04 mA current resolution, 0.8 mW power resolution, overflow at 3.2 A.
func (d *Dev) Calibrate32V2A() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentLSB = 0.04
	d.powerLSB = 0.0008
	d.calibration = 10240
	return d.writeCalibration()
}

func (d *Dev) writeCalibration() error {
	return d.bus.WriteWordSwapped(d.addr, regCalibration, d.calibration)
}

// ShuntVoltage returns the voltage across the shunt resistor in volts.
func (d *Dev) ShuntVoltage() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	value, err := d.bus.ReadWordSwapped(d.addr, regShunt)
	if err != nil {
		return 0, err
	}
	return float64(value) * 0.00001, nil
}

// BusVoltage returns the voltage between V- and ground in volts.
func (d *Dev) BusVoltage() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busVoltage()
}

func (d *Dev) busVoltage() (float64, error) {
	value, err := d.bus.ReadWordSwapped(d.addr, regBus)
	if err != nil {
		return 0, err
	}
	// Bits 0-2 are the overflow and conversion-ready flags.
	return float64(value>>3) * 0.004, nil
}

// Current returns the shunt current in milliamps. The calibration
// register is rewritten first; the chip silently zeroes it on config
// changes, which would make the reading garbage.
func (d *Dev) Current() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current()
}

func (d *Dev) current() (float64, error) {
	if err := d.writeCalibration(); err != nil {
		return 0, err
	}
	value, err := d.bus.ReadWordSwapped(d.addr, regCurrent)
	if err != nil {
		return 0, err
	}
	return float64(value) * d.currentLSB, nil
}

// Power returns the power consumed by the load in watts, with the same
// calibration rewrite as Current.
func (d *Dev) Power() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power()
}

func (d *Dev) power() (float64, error) {
	if err := d.writeCalibration(); err != nil {
		return 0, err
	}
	value, err := d.bus.ReadWordSwapped(d.addr, regPower)
	if err != nil {
		return 0, err
	}
	return float64(value) * d.powerLSB, nil
}

// Sense reads bus voltage, current and power in one cycle.
func (d *Dev) Sense() ([]sensor.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	voltage, err := d.busVoltage()
	if err != nil {
		return nil, err
	}
	current, err := d.current()
	if err != nil {
		return nil, err
	}
	power, err := d.power()
	if err != nil {
		return nil, err
	}
	return []sensor.Reading{
		sensor.New(d.name, sensor.Voltage, voltage, "V"),
		sensor.New(d.name, sensor.Current, current, "mA"),
		sensor.New(d.name, sensor.Power, power, "W"),
	}, nil
}
