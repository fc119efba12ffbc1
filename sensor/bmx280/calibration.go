package bmx280

import (
	"errors"
	"fmt"
)

// Calibration block sizes as laid out in the chip's non-volatile memory.
const (
	calibTPLen  = 24 // registers 0x88..0x9F, twelve little-endian 16 bit words
	calibHumLen = 8  // register 0xA1 plus the 0xE1..0xE7 block, BME280 only
)

// ErrCalibration reports calibration data that does not match the
// documented layout. A chip whose calibration cannot be decoded is
// unusable; no compensation runs against a partial coefficient store.
var ErrCalibration = errors.New("invalid calibration data")

// Calibration holds the factory compensation coefficients of one chip.
// It is immutable after ParseCalibration. Hum is nil on the pressure-only
// BMP280; on the BME280 it tags the humidity capability and carries the
// extra coefficients.
type Calibration struct {
	T1 uint16
	T2 int16
	T3 int16
	P1 uint16
	P2 int16
	P3 int16
	P4 int16
	P5 int16
	P6 int16
	P7 int16
	P8 int16
	P9 int16

	Hum *HumidityCalibration
}

// HumidityCalibration holds the additional coefficients of the
// humidity-capable variant. H4 and H5 are 12 bit values sharing the middle
// byte of the 0xE1 block: H4 is E4<<4 | E5[3:0], H5 is E6<<4 | E5[7:4],
// each kept in a 16 bit field exactly as assembled.
type HumidityCalibration struct {
	H1 uint8
	H2 int16
	H3 uint8
	H4 int16
	H5 int16
	H6 int8
}

func u16(lo, hi byte) uint16 {
	return uint16(lo) | uint16(hi)<<8
}

func s16(lo, hi byte) int16 {
	return int16(uint16(lo) | uint16(hi)<<8)
}

// ParseCalibration decodes the raw calibration blocks read from the chip.
// tp must be exactly 24 bytes (registers 0x88..0x9F); hum must be nil for
// the BMP280, or exactly 8 bytes (register 0xA1 followed by 0xE1..0xE7)
// for the BME280. No bus I/O happens here; callers supply the blocks.
func ParseCalibration(tp, hum []byte) (*Calibration, error) {
	if len(tp) != calibTPLen {
		return nil, fmt.Errorf("%w: temperature/pressure block is %d bytes, want %d",
			ErrCalibration, len(tp), calibTPLen)
	}
	cal := &Calibration{
		T1: u16(tp[0], tp[1]),
		T2: s16(tp[2], tp[3]),
		T3: s16(tp[4], tp[5]),
		P1: u16(tp[6], tp[7]),
		P2: s16(tp[8], tp[9]),
		P3: s16(tp[10], tp[11]),
		P4: s16(tp[12], tp[13]),
		P5: s16(tp[14], tp[15]),
		P6: s16(tp[16], tp[17]),
		P7: s16(tp[18], tp[19]),
		P8: s16(tp[20], tp[21]),
		P9: s16(tp[22], tp[23]),
	}
	if hum == nil {
		return cal, nil
	}
	if len(hum) != calibHumLen {
		return nil, fmt.Errorf("%w: humidity block is %d bytes, want %d",
			ErrCalibration, len(hum), calibHumLen)
	}
	cal.Hum = &HumidityCalibration{
		H1: hum[0],
		H2: s16(hum[1], hum[2]),
		H3: hum[3],
		H4: int16(hum[4])<<4 | int16(hum[5]&0x0F),
		H5: int16(hum[6])<<4 | int16(hum[5]>>4),
		H6: int8(hum[7]),
	}
	return cal, nil
}
