package bmx280

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le16(v uint16) (byte, byte) {
	return byte(v), byte(v >> 8)
}

// encodeTP builds the 24-byte temperature/pressure calibration block in
// the chip's byte layout.
func encodeTP(cal *Calibration) []byte {
	words := []uint16{
		cal.T1, uint16(cal.T2), uint16(cal.T3),
		cal.P1, uint16(cal.P2), uint16(cal.P3), uint16(cal.P4), uint16(cal.P5),
		uint16(cal.P6), uint16(cal.P7), uint16(cal.P8), uint16(cal.P9),
	}
	buf := make([]byte, 0, calibTPLen)
	for _, w := range words {
		lo, hi := le16(w)
		buf = append(buf, lo, hi)
	}
	return buf
}

// encodeHum builds the 8-byte humidity block (register 0xA1 followed by
// 0xE1..0xE7), including the shared H4/H5 nibble byte.
func encodeHum(h *HumidityCalibration) []byte {
	h2lo, h2hi := le16(uint16(h.H2))
	// Bytes E4..E6 carry H4 and H5 with the shared middle nibble byte.
	return []byte{
		h.H1,
		h2lo, h2hi,
		h.H3,
		byte(h.H4 >> 4),
		byte(h.H4&0x0F) | byte(h.H5&0x0F)<<4,
		byte(h.H5 >> 4),
		byte(h.H6),
	}
}

func TestParseCalibrationRoundTrip(t *testing.T) {
	want := &Calibration{
		T1: 27504, T2: 26435, T3: -1000,
		P1: 36477, P2: -10685, P3: 3024, P4: 2855, P5: 140,
		P6: -7, P7: 15500, P8: -14600, P9: 6000,
	}
	got, err := ParseCalibration(encodeTP(want), nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Nil(t, got.Hum)
}

func TestParseCalibrationHumidityRoundTrip(t *testing.T) {
	wantHum := &HumidityCalibration{
		H1: 75, H2: -1234, H3: 0, H4: 339, H5: 679, H6: -56,
	}
	tp := encodeTP(&Calibration{T1: 1})
	got, err := ParseCalibration(tp, encodeHum(wantHum))
	require.NoError(t, err)
	require.NotNil(t, got.Hum)
	assert.Equal(t, wantHum, got.Hum)
}

func TestParseCalibrationNibblePacking(t *testing.T) {
	// H4 = E4<<4 | E5[3:0], H5 = E6<<4 | E5[7:4]. E4=0x15, E5=0x73,
	// E6=0x2A gives H4=0x153 and H5=0x2A7.
	hum := []byte{0, 0, 0, 0, 0x15, 0x73, 0x2A, 0}
	cal, err := ParseCalibration(encodeTP(&Calibration{}), hum)
	require.NoError(t, err)
	assert.Equal(t, int16(0x153), cal.Hum.H4)
	assert.Equal(t, int16(0x2A7), cal.Hum.H5)
}

func TestParseCalibrationBadLengths(t *testing.T) {
	tests := []struct {
		name string
		tp   int
		hum  int // -1 means nil
	}{
		{"tp too short", 23, -1},
		{"tp too long", 25, -1},
		{"tp empty", 0, -1},
		{"hum too short", 24, 7},
		{"hum too long", 24, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hum []byte
			if tt.hum >= 0 {
				hum = make([]byte, tt.hum)
			}
			_, err := ParseCalibration(make([]byte, tt.tp), hum)
			assert.ErrorIs(t, err, ErrCalibration)
		})
	}
}
