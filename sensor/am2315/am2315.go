// Package am2315 drives the AM2315 outdoor temperature and humidity
// sensor. The chip speaks a Modbus-flavored protocol over I2C: a read is
// a function-code write naming the start register and count, followed by
// a block read returning a framed response (function code, length, data,
// CRC16 trailer). Unlike a plain register chip there is no random
// register access; every transaction goes through the frame exchange.
package am2315

import (
	"errors"
	"fmt"
	"sync"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/sensor"
)

// DefaultAddr is the chip's fixed I2C address.
const DefaultAddr uint16 = 0x5C

// fnReadRegisters is the only function code the driver uses.
const fnReadRegisters = 0x03

// Register map.
const (
	regHumidity    = 0x00 // 2 bytes, big-endian, tenths of %RH
	regTemperature = 0x02 // 2 bytes, sign-magnitude, tenths of °C
	regModel       = 0x08 // 2 bytes
	regVersion     = 0x0A // 1 byte
	regID          = 0x0B // 4 bytes
)

// ErrResponse reports a malformed or corrupted response frame.
var ErrResponse = errors.New("invalid response frame")

// Dev is one AM2315 on a register bus.
type Dev struct {
	mu   sync.Mutex
	bus  bus.Bus
	addr uint16
	name string
}

// New constructs a driver for the chip. No construction-time I/O
// happens; the chip sleeps between transactions and has no identity
// register worth probing.
func New(name string, b bus.Bus, addr uint16) *Dev {
	return &Dev{bus: b, addr: addr, name: name}
}

func (d *Dev) Name() string {
	return d.name
}

// CRC16 computes the reflected CRC16 (poly 0xA001, init 0xFFFF) the chip
// appends to every response frame. Exported for response emulation.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// readData runs one frame exchange: request count bytes starting at reg,
// read the count+4 byte response and verify header and CRC. The CRC
// trailer is little-endian.
func (d *Dev) readData(reg uint8, count int) ([]byte, error) {
	if err := d.bus.WriteReg(d.addr, fnReadRegisters, []byte{reg, byte(count)}); err != nil {
		return nil, err
	}
	frame := make([]byte, count+4)
	if err := d.bus.ReadReg(d.addr, 0x00, frame); err != nil {
		return nil, err
	}
	if frame[0] != fnReadRegisters || int(frame[1]) != count {
		return nil, fmt.Errorf("%w: header %02x %02x, want %02x %02x",
			ErrResponse, frame[0], frame[1], fnReadRegisters, count)
	}
	got := uint16(frame[count+2]) | uint16(frame[count+3])<<8
	want := CRC16(frame[:count+2])
	if got != want {
		return nil, fmt.Errorf("%w: crc 0x%04x, want 0x%04x", ErrResponse, got, want)
	}
	return frame[2 : count+2], nil
}

// Humidity returns the measured relative humidity in percent.
func (d *Dev) Humidity() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.humidity()
}

func (d *Dev) humidity() (float64, error) {
	data, err := d.readData(regHumidity, 2)
	if err != nil {
		return 0, err
	}
	return float64(uint16(data[0])<<8|uint16(data[1])) / 10, nil
}

// Temperature returns the measured temperature in degrees Celsius. The
// chip encodes negative temperatures sign-magnitude: bit 15 flags the
// sign, the low 15 bits carry tenths of a degree.
func (d *Dev) Temperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.temperature()
}

func (d *Dev) temperature() (float64, error) {
	data, err := d.readData(regTemperature, 2)
	if err != nil {
		return 0, err
	}
	value := uint16(data[0])<<8 | uint16(data[1])
	t := float64(value&0x7FFF) / 10
	if value&0x8000 != 0 {
		t = -t
	}
	return t, nil
}

// Model returns the chip's model number.
func (d *Dev) Model() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.readData(regModel, 2)
	if err != nil {
		return 0, err
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

// Version returns the chip's firmware version.
func (d *Dev) Version() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.readData(regVersion, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ID returns the chip's device id.
func (d *Dev) ID() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.readData(regID, 4)
	if err != nil {
		return 0, err
	}
	return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]), nil
}

// Sense reads temperature and humidity in one cycle.
func (d *Dev) Sense() ([]sensor.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	temp, err := d.temperature()
	if err != nil {
		return nil, err
	}
	hum, err := d.humidity()
	if err != nil {
		return nil, err
	}
	return []sensor.Reading{
		sensor.New(d.name, sensor.Temperature, temp, "°C"),
		sensor.New(d.name, sensor.Humidity, hum, "%RH"),
	}, nil
}
