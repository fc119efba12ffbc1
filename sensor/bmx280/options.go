package bmx280

import (
	"errors"
	"fmt"
)

// ErrOption reports an acquisition option value the chip cannot encode.
var ErrOption = errors.New("unsupported acquisition option")

// Power modes for the Mode option.
const (
	ModeSleep  = "sleep"
	ModeForced = "forced"
	ModeNormal = "normal"
)

// Opts selects the acquisition options written to ctrl_hum, ctrl_meas and
// config at construction. Oversampling values are ratios (0 skips the
// measurement), Standby is milliseconds of inactive time in normal mode,
// Filter is the IIR filter constant. HumidityOversampling is ignored on a
// pressure-only chip.
type Opts struct {
	TemperatureOversampling int
	PressureOversampling    int
	HumidityOversampling    int
	Standby                 int
	Filter                  int
	Mode                    string
}

// DefaultOpts is the weather-station profile used when New gets a nil
// Opts: normal mode, 2x/16x/1x oversampling, 250 ms standby, filter 4.
func DefaultOpts() *Opts {
	return &Opts{
		TemperatureOversampling: 2,
		PressureOversampling:    16,
		HumidityOversampling:    1,
		Standby:                 250,
		Filter:                  4,
		Mode:                    ModeNormal,
	}
}

// Register code tables. Unknown inputs are validation errors, never
// panics; Validate resolves every option before any register is written.
var (
	oversamplingCodes = map[int]byte{
		0:  0x00, // measurement skipped
		1:  0x01,
		2:  0x02,
		4:  0x03,
		8:  0x04,
		16: 0x05,
	}

	filterCodes = map[int]byte{
		0:  0x00,
		1:  0x00, // the chip has no 1x setting, off behaves the same
		2:  0x01,
		4:  0x02,
		8:  0x03,
		16: 0x04,
	}

	// t_sb codes shared by both chips. Codes 0x06/0x07 diverge: on the
	// BMP280 they mean 2000/4000 ms, on the BME280 10/20 ms.
	standbyCommon = map[int]byte{
		0:    0x00,
		1:    0x00,
		63:   0x01,
		125:  0x02,
		250:  0x03,
		500:  0x04,
		1000: 0x05,
	}
	standbyBMP280 = map[int]byte{2000: 0x06, 4000: 0x07}
	standbyBME280 = map[int]byte{10: 0x06, 20: 0x07}

	modeCodes = map[string]byte{
		ModeSleep:  0x00,
		ModeForced: 0x01,
		ModeNormal: 0x03,
	}
)

func oversamplingCode(kind string, ratio int) (byte, error) {
	code, ok := oversamplingCodes[ratio]
	if !ok {
		return 0, fmt.Errorf("%w: %s oversampling %dx", ErrOption, kind, ratio)
	}
	return code, nil
}

func filterCode(constant int) (byte, error) {
	code, ok := filterCodes[constant]
	if !ok {
		return 0, fmt.Errorf("%w: filter constant %d", ErrOption, constant)
	}
	return code, nil
}

func standbyCode(ms int, humidity bool) (byte, error) {
	if code, ok := standbyCommon[ms]; ok {
		return code, nil
	}
	variant := standbyBMP280
	if humidity {
		variant = standbyBME280
	}
	if code, ok := variant[ms]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("%w: standby time %d ms", ErrOption, ms)
}

func modeCode(mode string) (byte, error) {
	if mode == "" {
		mode = ModeNormal
	}
	code, ok := modeCodes[mode]
	if !ok {
		return 0, fmt.Errorf("%w: mode %q", ErrOption, mode)
	}
	return code, nil
}

// encode resolves the options into the ctrl_hum, ctrl_meas and config
// register values for a chip with or without the humidity capability.
func (o *Opts) encode(humidity bool) (ctrlHum, ctrlMeas, cfg byte, err error) {
	osrsT, err := oversamplingCode("temperature", o.TemperatureOversampling)
	if err != nil {
		return 0, 0, 0, err
	}
	osrsP, err := oversamplingCode("pressure", o.PressureOversampling)
	if err != nil {
		return 0, 0, 0, err
	}
	mode, err := modeCode(o.Mode)
	if err != nil {
		return 0, 0, 0, err
	}
	tSb, err := standbyCode(o.Standby, humidity)
	if err != nil {
		return 0, 0, 0, err
	}
	filter, err := filterCode(o.Filter)
	if err != nil {
		return 0, 0, 0, err
	}
	if humidity {
		osrsH, err := oversamplingCode("humidity", o.HumidityOversampling)
		if err != nil {
			return 0, 0, 0, err
		}
		ctrlHum = osrsH & 0x07
	}
	ctrlMeas = osrsT<<5 | osrsP<<2 | mode
	cfg = tSb<<5 | filter<<2
	return ctrlHum, ctrlMeas, cfg, nil
}

// Validate resolves every option against the register tables without
// touching a device, so configs fail before hardware is opened. humidity
// selects the BME280 variant tables (standby 10/20 ms instead of the
// BMP280's 2000/4000 ms).
func (o *Opts) Validate(humidity bool) error {
	_, _, _, err := o.encode(humidity)
	return err
}
