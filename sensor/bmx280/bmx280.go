package bmx280

import (
	"fmt"
	"sync"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/sensor"
)

// I2C addresses. The SDO pin selects between them.
const (
	DefaultAddr uint16 = 0x77
	AltAddr     uint16 = 0x76
)

// Chip ID register values, used to tag the humidity capability.
const (
	ChipIDBMP280 = 0x58
	ChipIDBME280 = 0x60
)

// Register map shared by both chips.
const (
	regCalibration = 0x88 // ..0x9F: T1-T3 and P1-P9, 24 bytes
	regCalibH1     = 0xA1 // BME280 only
	regCalibHX     = 0xE1 // ..0xE7: H2-H6, 7 bytes, BME280 only
	regID          = 0xD0
	regReset       = 0xE0
	regCtrlHum     = 0xF2 // BME280 only, latches on the next ctrl_meas write
	regStatus      = 0xF3
	regCtrlMeas    = 0xF4
	regConfig      = 0xF5
	regPress       = 0xF7 // ..0xF9: msb, lsb, xlsb
	regTemp        = 0xFA // ..0xFC: msb, lsb, xlsb
	regHum         = 0xFD // ..0xFE: msb, lsb, BME280 only

	softReset = 0xB6
)

// Dev is one BMP280 or BME280 on a register bus. It owns the chip's
// calibration and compensation engine; all public methods serialize on an
// internal mutex, so one in-flight call sequence runs per chip.
type Dev struct {
	mu     sync.Mutex
	bus    bus.Bus
	addr   uint16
	name   string
	chipID byte
	cal    *Calibration
	engine *Engine
}

// New constructs a driver for the chip at addr. It reads the ID register
// to detect the variant (BMP280 or BME280, anything else is rejected),
// loads the calibration blocks, and applies the acquisition options
// (ctrl_hum first where present, then ctrl_meas, then config). A nil opts
// selects DefaultOpts.
func New(name string, b bus.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	id, err := b.ReadByteReg(addr, regID)
	if err != nil {
		return nil, err
	}
	if id != ChipIDBMP280 && id != ChipIDBME280 {
		return nil, fmt.Errorf("bmx280 %s: unexpected chip id 0x%02x", name, id)
	}
	humidity := id == ChipIDBME280

	tp := make([]byte, calibTPLen)
	if err := b.ReadReg(addr, regCalibration, tp); err != nil {
		return nil, err
	}
	var hum []byte
	if humidity {
		hum = make([]byte, calibHumLen)
		if err := b.ReadReg(addr, regCalibH1, hum[:1]); err != nil {
			return nil, err
		}
		if err := b.ReadReg(addr, regCalibHX, hum[1:]); err != nil {
			return nil, err
		}
	}
	cal, err := ParseCalibration(tp, hum)
	if err != nil {
		return nil, fmt.Errorf("bmx280 %s: %w", name, err)
	}

	d := &Dev{
		bus:    b,
		addr:   addr,
		name:   name,
		chipID: id,
		cal:    cal,
		engine: NewEngine(cal),
	}
	if err := d.configure(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// configure writes the acquisition options. The ctrl_hum write must come
// before ctrl_meas: the chip only latches humidity oversampling on a
// ctrl_meas write.
func (d *Dev) configure(opts *Opts) error {
	ctrlHum, ctrlMeas, cfg, err := opts.encode(d.HasHumidity())
	if err != nil {
		return fmt.Errorf("bmx280 %s: %w", d.name, err)
	}
	if d.HasHumidity() {
		if err := d.bus.WriteByteReg(d.addr, regCtrlHum, ctrlHum); err != nil {
			return err
		}
	}
	if err := d.bus.WriteByteReg(d.addr, regCtrlMeas, ctrlMeas); err != nil {
		return err
	}
	return d.bus.WriteByteReg(d.addr, regConfig, cfg)
}

func (d *Dev) Name() string {
	return d.name
}

// HasHumidity reports whether the chip is the humidity-capable variant.
func (d *Dev) HasHumidity() bool {
	return d.chipID == ChipIDBME280
}

// Calibration returns the chip's decoded coefficient store (read-only).
func (d *Dev) Calibration() *Calibration {
	return d.cal
}

// ID reads the chip ID register (0x58 BMP280, 0x60 BME280).
func (d *Dev) ID() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bus.ReadByteReg(d.addr, regID)
}

// Reset soft-resets the chip, reverting all registers to their defaults.
// Acquisition options must be applied again afterwards.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bus.WriteByteReg(d.addr, regReset, softReset)
}

// Status reads the status register: measuring is set while a conversion
// runs, imUpdate while calibration data is being copied from NVM.
func (d *Dev) Status() (measuring, imUpdate bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.bus.ReadByteReg(d.addr, regStatus)
	if err != nil {
		return false, false, err
	}
	return data&0x08 != 0, data&0x01 != 0, nil
}

// rawSample reads one 3-byte 20 bit ADC sample starting at reg.
func (d *Dev) rawSample(reg uint8) (uint32, error) {
	var buf [3]byte
	if err := d.bus.ReadReg(d.addr, reg, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0])<<12 | uint32(buf[1])<<4 | uint32(buf[2])>>4, nil
}

// rawHumidity reads the 2-byte humidity ADC sample (big-endian).
func (d *Dev) rawHumidity() (uint16, error) {
	var buf [2]byte
	if err := d.bus.ReadReg(d.addr, regHum, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// Temperature reads and compensates one temperature sample (°C, 2
// decimals), refreshing the engine's fine temperature.
func (d *Dev) Temperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.rawSample(regTemp)
	if err != nil {
		return 0, err
	}
	return d.engine.Temperature(raw), nil
}

// Pressure reads and compensates one pressure sample (Pa, 1 decimal).
// The temperature sample is read in the same cycle; refresh controls
// whether it recomputes the fine temperature or an existing one is
// reused.
func (d *Dev) Pressure(refresh bool) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rawT, err := d.rawSample(regTemp)
	if err != nil {
		return 0, err
	}
	raw, err := d.rawSample(regPress)
	if err != nil {
		return 0, err
	}
	return d.engine.Pressure(raw, rawT, refresh), nil
}

// Humidity reads and compensates one humidity sample (%RH, 3 decimals,
// clamped to [0, 100]). ErrNoHumidity on the pressure-only variant. The
// refresh rule matches Pressure.
func (d *Dev) Humidity(refresh bool) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.HasHumidity() {
		return 0, ErrNoHumidity
	}
	rawT, err := d.rawSample(regTemp)
	if err != nil {
		return 0, err
	}
	raw, err := d.rawHumidity()
	if err != nil {
		return 0, err
	}
	return d.engine.Humidity(raw, rawT, refresh)
}

// Sense performs one acquisition cycle: it reads all raw samples, runs
// one temperature compensation and lets pressure and humidity reuse the
// resulting fine temperature.
func (d *Dev) Sense() ([]sensor.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rawT, err := d.rawSample(regTemp)
	if err != nil {
		return nil, err
	}
	rawP, err := d.rawSample(regPress)
	if err != nil {
		return nil, err
	}

	temp := d.engine.Temperature(rawT)
	press := d.engine.Pressure(rawP, rawT, false)
	readings := []sensor.Reading{
		sensor.New(d.name, sensor.Temperature, temp, "°C"),
		sensor.New(d.name, sensor.Pressure, press, "Pa"),
	}

	if d.HasHumidity() {
		rawH, err := d.rawHumidity()
		if err != nil {
			return nil, err
		}
		hum, err := d.engine.Humidity(rawH, rawT, false)
		if err != nil {
			return nil, err
		}
		readings = append(readings, sensor.New(d.name, sensor.Humidity, hum, "%RH"))
	}
	return readings, nil
}
