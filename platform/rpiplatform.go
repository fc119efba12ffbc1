package platform

import (
	"fmt"
	"log/slog"
	"os"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/config"
)

// RaspberryPiPlatform polls real chips over the host's I2C and SPI
// buses. Buses are opened once and shared between the devices configured
// on them.
type RaspberryPiPlatform struct {
	*AbstractPlatform
	buses map[string]bus.Bus
}

func NewRaspberryPiPlatform(conf *config.Config, ossignal chan os.Signal, withViewer bool) *RaspberryPiPlatform {
	inst := &RaspberryPiPlatform{
		buses: make(map[string]bus.Bus),
	}
	inst.AbstractPlatform = newAbstractPlatform(conf)
	if withViewer {
		inst.viewer = NewReadingsViewer(ossignal, false)
	}
	return inst
}

func (s *RaspberryPiPlatform) Start() error {
	slog.Info("Initialise I2C and SPI buses...")
	for _, name := range sortedDeviceNames(s.config.Devices) {
		cfg := s.config.Devices[name]
		b, err := s.openBus(cfg)
		if err != nil {
			return err
		}
		inst, err := newInstrument(name, cfg, b)
		if err != nil {
			return fmt.Errorf("failed to set up device %s: %w", name, err)
		}
		slog.Info("Device initialised", "device", name, "type", cfg.Type, "bus", cfg.Bus, "address", fmt.Sprintf("0x%02x", cfg.Address))
		s.addInstrument(name, inst)
	}

	if s.viewer != nil {
		s.viewer.Start()
	}
	s.markReady()

	s.pollWg.Add(1)
	go s.pollLoop()
	return nil
}

// openBus returns the shared bus for a device config, opening it on
// first use. The literal bus name "spi" selects the SPI port configured
// in the Hardware section; everything else is an I2C bus name.
func (s *RaspberryPiPlatform) openBus(cfg config.DeviceConfig) (bus.Bus, error) {
	if b, ok := s.buses[cfg.Bus]; ok {
		return b, nil
	}
	var (
		b   bus.Bus
		err error
	)
	if cfg.Bus == "spi" {
		hw := s.config.Hardware
		b, err = bus.OpenSPI(hw.SPIDevice, hw.SPIFrequency, hw.SPILibrary)
	} else {
		b, err = bus.OpenI2C(cfg.Bus)
	}
	if err != nil {
		return nil, err
	}
	s.buses[cfg.Bus] = b
	return b, nil
}

func (s *RaspberryPiPlatform) Stop() {
	s.setInShutdown()

	close(s.pollStopChan)
	s.pollWg.Wait()

	for name, b := range s.buses {
		if err := b.Close(); err != nil {
			slog.Error("Error closing bus", "bus", name, "error", err)
		}
	}
	s.buses = nil

	if s.viewer != nil {
		s.viewer.Stop()
	}
}
