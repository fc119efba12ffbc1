package bmx280

import (
	"errors"
	"math"
)

// ErrNoHumidity is returned when humidity is requested from a chip whose
// calibration carries no humidity block (a BMP280).
var ErrNoHumidity = errors.New("no humidity calibration")

// Engine applies the factory compensation formulas to raw ADC samples.
//
// The temperature computation leaves behind the chip's fine temperature,
// an intermediate the pressure and humidity formulas consume. The engine
// keeps it as explicit optional state: unset until the first Temperature
// call, overwritten by every later one. Pressure and Humidity never read
// it while unset; when it is missing, or when the caller requests a
// refresh, they first run the temperature computation from the raw
// temperature sample supplied alongside (both samples come out of the same
// acquisition cycle).
//
// An Engine is not safe for concurrent use. Dev owns one engine per chip
// and serializes access; standalone users must do the same.
type Engine struct {
	cal         *Calibration
	fineTemp    float64
	fineTempSet bool
}

// NewEngine returns an engine over a decoded calibration store. The
// calibration is shared read-only; the engine never mutates it.
func NewEngine(cal *Calibration) *Engine {
	return &Engine{cal: cal}
}

// FineTemperature returns the fine temperature left behind by the last
// Temperature call, and whether one has happened yet.
func (e *Engine) FineTemperature() (float64, bool) {
	return e.fineTemp, e.fineTempSet
}

// HasHumidity reports whether the calibration carries the humidity block.
func (e *Engine) HasHumidity() bool {
	return e.cal.Hum != nil
}

// Temperature compensates a raw 20 bit temperature sample and returns
// degrees Celsius rounded to 2 decimal places. It unconditionally
// overwrites the stored fine temperature.
func (e *Engine) Temperature(raw uint32) float64 {
	adc := float64(raw)
	var1 := (adc/16384.0 - float64(e.cal.T1)/1024.0) * float64(e.cal.T2)
	d := adc/131072.0 - float64(e.cal.T1)/8192.0
	var2 := d * d * float64(e.cal.T3)
	e.fineTemp = var1 + var2
	e.fineTempSet = true
	return roundTo((var1+var2)/5120.0, 2)
}

// Pressure compensates a raw 20 bit pressure sample and returns Pascals
// rounded to 1 decimal place. rawTemp is the temperature sample taken in
// the same acquisition cycle; it feeds a temperature computation when
// refresh is true or no fine temperature exists yet.
//
// A calibration whose P1-normalized first term collapses to exactly zero
// would make the formula divide by zero; the method returns exactly 0.0 in
// that case, the chip's documented "no valid pressure" convention.
func (e *Engine) Pressure(raw, rawTemp uint32, refresh bool) float64 {
	if refresh || !e.fineTempSet {
		e.Temperature(rawTemp)
	}
	var1 := e.fineTemp/2.0 - 64000.0
	var2 := var1 * var1 * float64(e.cal.P6) / 32768.0
	var2 += var1 * float64(e.cal.P5) * 2.0
	var2 = var2/4.0 + float64(e.cal.P4)*65536.0
	var1 = (float64(e.cal.P3)*var1*var1/524288.0 + float64(e.cal.P2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(e.cal.P1)
	if var1 == 0.0 {
		return 0.0
	}
	p := 1048576.0 - float64(raw)
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = float64(e.cal.P9) * p * p / 2147483648.0
	var2 = p * float64(e.cal.P8) / 32768.0
	p += (var1 + var2 + float64(e.cal.P7)) / 16.0
	return roundTo(p, 1)
}

// Humidity compensates a raw 16 bit humidity sample and returns relative
// humidity in percent, clamped to [0, 100] before rounding to 3 decimal
// places. Only the humidity-capable variant supports it; ErrNoHumidity
// otherwise. The fine temperature refresh rule matches Pressure.
func (e *Engine) Humidity(raw uint16, rawTemp uint32, refresh bool) (float64, error) {
	h := e.cal.Hum
	if h == nil {
		return 0, ErrNoHumidity
	}
	if refresh || !e.fineTempSet {
		e.Temperature(rawTemp)
	}
	varH := e.fineTemp - 76800.0
	varH = (float64(raw) - (float64(h.H4)*64.0 + float64(h.H5)/16384.0*varH)) *
		(float64(h.H2) / 65536.0 *
			(1.0 + float64(h.H6)/67108864.0*varH*
				(1.0+float64(h.H3)/67108864.0*varH)))
	varH *= 1.0 - float64(h.H1)*varH/524288.0
	if varH > 100.0 {
		varH = 100.0
	} else if varH < 0.0 {
		varH = 0.0
	}
	return roundTo(varH, 3), nil
}

// roundTo rounds half away from zero at the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
