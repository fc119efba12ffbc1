// Package tsl2561 drives the TSL2561 ambient light sensor over a
// register bus. The chip measures two channels, broadband (visible +
// infrared) and infrared only; visible light is the difference of the
// two, taken from a single acquisition. Channel values are gain-scaled
// ADC counts; the package does not compose them into lux.
package tsl2561

import (
	"errors"
	"fmt"
	"sync"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/sensor"
)

// I2C addresses selected by the ADDR pin.
const (
	DefaultAddr uint16 = 0x39
	LowAddr     uint16 = 0x29
	HighAddr    uint16 = 0x49
)

// Every register access sets the command bit.
const cmdBit = 0x80

// Register map.
const (
	regControl = 0x00
	regTiming  = 0x01
	regID      = 0x0A
	regData0   = 0x0C // ..0x0D broadband, little-endian word
	regData1   = 0x0E // ..0x0F infrared, little-endian word
)

const (
	powerOn  = 0x03
	powerOff = 0x00
)

// ErrOption reports a timing option the chip cannot encode.
var ErrOption = errors.New("unsupported acquisition option")

// Integration time codes for the 2 bit field of the timing register.
var integrationCodes = map[int]byte{
	14:  0x00, // 13.7 ms nominal
	101: 0x01,
	402: 0x02,
}

// Opts selects the timing register contents written at construction.
type Opts struct {
	Gain          int  // 1 or 16
	IntegrationMS int  // 14, 101 or 402
	Manual        bool // manual integration control
}

// DefaultOpts selects low gain with the longest integration time.
func DefaultOpts() *Opts {
	return &Opts{Gain: 1, IntegrationMS: 402}
}

// encode resolves the options into the timing register value.
func (o *Opts) encode() (byte, error) {
	var data byte
	switch o.Gain {
	case 1:
	case 16:
		data |= 1 << 4
	default:
		return 0, fmt.Errorf("%w: gain %dx", ErrOption, o.Gain)
	}
	integr, ok := integrationCodes[o.IntegrationMS]
	if !ok {
		return 0, fmt.Errorf("%w: integration time %d ms", ErrOption, o.IntegrationMS)
	}
	if o.Manual {
		data |= 1 << 3
	}
	return data | integr, nil
}

// Validate resolves the options without touching a device.
func (o *Opts) Validate() error {
	_, err := o.encode()
	return err
}

// Dev is one TSL2561 on a register bus.
type Dev struct {
	mu     sync.Mutex
	bus    bus.Bus
	addr   uint16
	name   string
	gain16 bool
}

// New constructs a driver for the chip at addr, powers it up and writes
// the timing register. A nil opts selects DefaultOpts.
func New(name string, b bus.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	timing, err := opts.encode()
	if err != nil {
		return nil, fmt.Errorf("tsl2561 %s: %w", name, err)
	}
	d := &Dev{
		bus:    b,
		addr:   addr,
		name:   name,
		gain16: opts.Gain == 16,
	}
	if err := d.Power(true); err != nil {
		return nil, err
	}
	if err := b.WriteByteReg(addr, cmdBit|regTiming, timing); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) Name() string {
	return d.name
}

// Power switches the chip on or off.
func (d *Dev) Power(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	value := byte(powerOff)
	if on {
		value = powerOn
	}
	return d.bus.WriteByteReg(d.addr, cmdBit|regControl, value)
}

// ID reads the part and revision number nibbles of the ID register.
func (d *Dev) ID() (part, revision byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.bus.ReadByteReg(d.addr, cmdBit|regID)
	if err != nil {
		return 0, 0, err
	}
	return data >> 4 & 0x0F, data & 0x0F, nil
}

// Data reads both channels of one acquisition, scaled down by 16 when
// high gain is active so values are comparable across gain settings.
func (d *Dev) Data() (broadband, infrared float64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data()
}

func (d *Dev) data() (float64, float64, error) {
	ch0, err := d.bus.ReadWordReg(d.addr, cmdBit|regData0)
	if err != nil {
		return 0, 0, err
	}
	ch1, err := d.bus.ReadWordReg(d.addr, cmdBit|regData1)
	if err != nil {
		return 0, 0, err
	}
	broadband, infrared := float64(ch0), float64(ch1)
	if d.gain16 {
		broadband /= 16
		infrared /= 16
	}
	return broadband, infrared, nil
}

// Sense reads both channels once and derives the visible light count
// from that single acquisition.
func (d *Dev) Sense() ([]sensor.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	broadband, infrared, err := d.data()
	if err != nil {
		return nil, err
	}
	return []sensor.Reading{
		sensor.New(d.name, sensor.Broadband, broadband, "counts"),
		sensor.New(d.name, sensor.Infrared, infrared, "counts"),
		sensor.New(d.name, sensor.Visible, broadband-infrared, "counts"),
	}, nil
}
