// Package bmx280 drives the Bosch BMP280 and BME280 environment sensors
// over a register bus.
//
// The two chips share one register map and one calibrated decode pipeline:
// factory compensation coefficients are read once at construction into an
// immutable Calibration, and an Engine converts raw ADC samples into °C,
// Pa and %RH using the vendor's double-precision formulas. The temperature
// computation leaves behind a "fine temperature" intermediate that the
// pressure and humidity formulas consume.
//
// The BME280 additionally measures humidity. The variant is detected from
// the chip ID register at construction and tagged on the calibration as an
// optional coefficient block; there is no separate device type.
//
// Datasheets:
//
//	https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bmp280-ds001.pdf
//	https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
package bmx280
