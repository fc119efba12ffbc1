package ina219

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/sensor"
)

// newSimDev backs the chip with word cells: the INA219 is a
// word-addressed chip, so adjacent register numbers must not overlap
// the way they would in the byte register file.
func newSimDev(t *testing.T) (*Dev, *bus.SimWordDev, *bus.SimDev) {
	t.Helper()
	sim := bus.NewSim()
	w := sim.WordDevice(DefaultAddr)
	simdev := sim.Device(DefaultAddr)
	d, err := New("solar", sim, DefaultAddr)
	require.NoError(t, err)
	return d, w, simdev
}

func TestNewWritesDefaultConfigAndCalibration(t *testing.T) {
	_, w, _ := newSimDev(t)

	// mode 7, 12 bit ADCs (0x3), gain 8 (0x3), 32 V range.
	want := uint16(7) | 0x3<<3 | 0x3<<7 | 0x3<<11 | 1<<13
	assert.Equal(t, want, w.Get(regConfig))
	assert.Equal(t, uint16(10240), w.Get(regCalibration))
}

func TestConfigWordADCCodes(t *testing.T) {
	d, _, _ := newSimDev(t)

	// Averaging modes use the 4 bit datasheet codes 0x9..0xF.
	require.NoError(t, d.SetADC(128, 2))
	word, err := d.configWord()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xF), word>>3&0xF)
	assert.Equal(t, uint16(0x9), word>>7&0xF)

	assert.ErrorIs(t, d.SetADC(13, 12), ErrOption)
}

func TestSettersRejectBadValues(t *testing.T) {
	d, _, _ := newSimDev(t)
	assert.ErrorIs(t, d.SetGain(3), ErrOption)
	assert.ErrorIs(t, d.SetVoltageRange(24), ErrOption)
	assert.ErrorIs(t, d.SetMode(8), ErrOption)

	// A rejected value must not stick: the next valid write still
	// carries the old setting.
	require.NoError(t, d.SetMode(ModeShuntBus))
	word, err := d.configWord()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3), word>>11&0xF, "gain must still be 8")
}

func TestBusVoltage(t *testing.T) {
	d, w, _ := newSimDev(t)
	// 12.8 V: 12.8/0.004 = 3200 counts, shifted left past the flag bits.
	w.Set(regBus, 3200<<3)
	got, err := d.BusVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 12.8, got, 1e-9)
}

func TestShuntVoltage(t *testing.T) {
	d, w, _ := newSimDev(t)
	w.Set(regShunt, 1000) // 1000 counts of 10 µV
	got, err := d.ShuntVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 0.01, got, 1e-9)
}

func TestCurrentRewritesCalibration(t *testing.T) {
	d, w, simdev := newSimDev(t)
	w.Set(regCurrent, 500)
	simdev.ClearWrites()

	// The calibration rewrite lands in its own word cell and must not
	// disturb the adjacent current register.
	got, err := d.Current()
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got, 1e-9) // 500 * 0.04 mA

	calWrites := simdev.WritesTo(regCalibration)
	require.Len(t, calWrites, 1)
	assert.Equal(t, []byte{0x28, 0x00}, calWrites[0]) // 10240 big-endian
	assert.Equal(t, uint16(500), w.Get(regCurrent))
}

func TestPower(t *testing.T) {
	d, w, _ := newSimDev(t)
	w.Set(regPower, 5000)
	got, err := d.Power()
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-9) // 5000 * 0.8 mW
}

func TestResetRequiresRecalibration(t *testing.T) {
	d, w, simdev := newSimDev(t)
	simdev.ClearWrites()

	require.NoError(t, d.Reset())
	writes := simdev.WritesTo(regConfig)
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{0x80, 0x00}, writes[0])

	// After reset the calibration is zero until a profile is applied.
	w.Set(regCurrent, 500)
	got, err := d.Current()
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	require.NoError(t, d.Calibrate32V2A())
	got, err = d.Current()
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got, 1e-9)
}

func TestSense(t *testing.T) {
	d, w, _ := newSimDev(t)
	w.Set(regBus, 3200<<3)
	w.Set(regCurrent, 500)
	w.Set(regPower, 5000)

	readings, err := d.Sense()
	require.NoError(t, err)
	require.Len(t, readings, 3)

	byQuantity := make(map[string]sensor.Reading)
	for _, r := range readings {
		assert.Equal(t, "solar", r.Device)
		byQuantity[r.Quantity] = r
	}
	assert.InDelta(t, 12.8, byQuantity[sensor.Voltage].Value, 1e-9)
	assert.Equal(t, "V", byQuantity[sensor.Voltage].Unit)
	assert.InDelta(t, 20.0, byQuantity[sensor.Current].Value, 1e-9)
	assert.Equal(t, "mA", byQuantity[sensor.Current].Unit)
	assert.InDelta(t, 4.0, byQuantity[sensor.Power].Value, 1e-9)
	assert.Equal(t, "W", byQuantity[sensor.Power].Unit)
}

func TestBusErrorPropagates(t *testing.T) {
	d, _, simdev := newSimDev(t)
	simdev.FailRead(regBus, bus.ErrNotResponding)
	_, err := d.BusVoltage()
	assert.ErrorIs(t, err, bus.ErrNotResponding)
}
