// Package sensor defines the reading model and the polling contract shared
// by all chip drivers and the platforms that schedule them.
package sensor

import (
	"time"
)

// Quantity names used in Reading.Quantity. The viewer and the HTTP API
// group readings by these.
const (
	Temperature = "temperature"
	Pressure    = "pressure"
	Humidity    = "humidity"
	Broadband   = "broadband"
	Infrared    = "infrared"
	Visible     = "visible"
	Voltage     = "voltage"
	Current     = "current"
	Power       = "power"
)

// Reading is one compensated sample taken from one instrument.
type Reading struct {
	Device   string    `json:"device"`
	Quantity string    `json:"quantity"`
	Value    float64   `json:"value"`
	Unit     string    `json:"unit"`
	Time     time.Time `json:"time"`
}

// New builds a Reading stamped with the current time.
func New(device, quantity string, value float64, unit string) Reading {
	return Reading{
		Device:   device,
		Quantity: quantity,
		Value:    value,
		Unit:     unit,
		Time:     time.Now(),
	}
}

// Instrument is a constructed chip driver bound to a bus address. Sense
// performs one acquisition cycle and returns the compensated readings.
// Implementations serialize their own bus access; Sense may be called from
// a single polling goroutine at a time per instrument.
type Instrument interface {
	Name() string
	Sense() ([]Reading, error)
}
