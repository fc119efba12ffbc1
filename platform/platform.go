// Package platform schedules the configured instruments: it opens the
// buses, constructs the chip drivers, polls them on the configured
// interval (with a slower schedule at night) and publishes the batched
// readings. Two platforms exist, the Raspberry Pi one talking to real
// hardware and a simulation running the same drivers against in-memory
// register files.
package platform

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/config"
	"lautenbacher.net/gosense/sensor"
	"lautenbacher.net/gosense/sensor/am2315"
	"lautenbacher.net/gosense/sensor/bmx280"
	"lautenbacher.net/gosense/sensor/ina219"
	"lautenbacher.net/gosense/sensor/tsl2561"
)

// Platform abstracts the polling host away from the application: real
// hardware or the TUI simulation.
type Platform interface {
	// Start opens the buses, constructs the instruments and starts the
	// polling loop.
	Start() error

	// Stop cleans up all platform resources.
	Stop()

	// Readings returns the channel delivering one batch per acquisition
	// cycle.
	Readings() <-chan []sensor.Reading

	// Ready is closed once the platform (including an attached viewer)
	// is fully up.
	Ready() <-chan bool

	// ForceUpdate requests an immediate acquisition cycle outside the
	// regular schedule.
	ForceUpdate()
}

// NewPlatform selects the platform implementation from the config.
func NewPlatform(conf *config.Config, ossignal chan os.Signal, withViewer bool) Platform {
	if conf.Simulation {
		// The simulation is only useful with its dashboard attached.
		return NewSimPlatform(conf, ossignal, true)
	}
	return NewRaspberryPiPlatform(conf, ossignal, withViewer)
}

// newInstrument constructs the driver for one configured device.
func newInstrument(name string, cfg config.DeviceConfig, b bus.Bus) (sensor.Instrument, error) {
	switch strings.ToUpper(cfg.Type) {
	case config.TypeBMP280, config.TypeBME280:
		return bmx280.New(name, b, cfg.Address, cfg.BMX280Opts())
	case config.TypeTSL2561:
		return tsl2561.New(name, b, cfg.Address, cfg.TSL2561Opts())
	case config.TypeINA219:
		return ina219.New(name, b, cfg.Address)
	case config.TypeAM2315:
		return am2315.New(name, b, cfg.Address), nil
	default:
		return nil, fmt.Errorf("unknown device type: %s", cfg.Type)
	}
}

// sortedDeviceNames returns the configured device names in stable order,
// so construction and polling are deterministic.
func sortedDeviceNames(devices map[string]config.DeviceConfig) []string {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
