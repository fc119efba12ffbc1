// Package config loads and validates the daemon's YAML configuration and
// serves the runtime-tunable subset plus the latest readings over HTTP.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lautenbacher.net/gosense/sensor/bmx280"
	"lautenbacher.net/gosense/sensor/tsl2561"
)

// Device types accepted in DeviceConfig.Type.
const (
	TypeBMP280  = "BMP280"
	TypeBME280  = "BME280"
	TypeTSL2561 = "TSL2561"
	TypeINA219  = "INA219"
	TypeAM2315  = "AM2315"
)

type Config struct {
	Configfile string `yaml:"-" json:"-"`
	Simulation bool   `yaml:"-" json:"-"`

	Polling   PollingConfig           `yaml:"Polling" json:"Polling"`
	Night     NightConfig             `yaml:"Night" json:"Night"`
	HTTP      HTTPConfig              `yaml:"HTTP" json:"HTTP"`
	Telemetry TelemetryConfig         `yaml:"Telemetry" json:"Telemetry"`
	Logging   LoggingConfig           `yaml:"Logging" json:"Logging"`
	Hardware  HardwareConfig          `yaml:"Hardware" json:"Hardware"`
	Devices   map[string]DeviceConfig `yaml:"Devices" json:"Devices"`
}

type PollingConfig struct {
	Interval      time.Duration `yaml:"Interval" json:"Interval"`
	NightInterval time.Duration `yaml:"NightInterval" json:"NightInterval"`
	Smoothing     int           `yaml:"Smoothing" json:"Smoothing"`
}

type NightConfig struct {
	Enabled   bool    `yaml:"Enabled" json:"Enabled"`
	Latitude  float64 `yaml:"Latitude" json:"Latitude"`
	Longitude float64 `yaml:"Longitude" json:"Longitude"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"Enabled" json:"Enabled"`
	Listen  string `yaml:"Listen" json:"Listen"`
}

type TelemetryConfig struct {
	Serial SerialConfig `yaml:"Serial" json:"Serial"`
}

type SerialConfig struct {
	Enabled bool   `yaml:"Enabled" json:"Enabled"`
	Device  string `yaml:"Device" json:"Device"`
	Baud    int    `yaml:"Baud" json:"Baud"`
}

type LoggingConfig struct {
	Level  string `yaml:"Level" json:"Level"`
	Format string `yaml:"Format" json:"Format"`
	File   string `yaml:"File" json:"File"`
}

type HardwareConfig struct {
	SPIDevice    string `yaml:"SPIDevice" json:"SPIDevice"`
	SPIFrequency int64  `yaml:"SPIFrequency" json:"SPIFrequency"`
	SPILibrary   string `yaml:"SPILibrary" json:"SPILibrary"`
}

// DeviceConfig describes one instrument. Bus names an I2C bus ("", "1",
// "/dev/i2c-1") or the literal "spi" for the shared SPI port configured
// in Hardware.
type DeviceConfig struct {
	Type    string `yaml:"Type" json:"Type"`
	Bus     string `yaml:"Bus" json:"Bus"`
	Address uint16 `yaml:"Address" json:"Address"`

	BMX280  *BMX280Config  `yaml:"BMX280,omitempty" json:"BMX280,omitempty"`
	TSL2561 *TSL2561Config `yaml:"TSL2561,omitempty" json:"TSL2561,omitempty"`
}

type BMX280Config struct {
	TemperatureOversampling int    `yaml:"TemperatureOversampling" json:"TemperatureOversampling"`
	PressureOversampling    int    `yaml:"PressureOversampling" json:"PressureOversampling"`
	HumidityOversampling    int    `yaml:"HumidityOversampling" json:"HumidityOversampling"`
	Standby                 int    `yaml:"Standby" json:"Standby"`
	Filter                  int    `yaml:"Filter" json:"Filter"`
	Mode                    string `yaml:"Mode" json:"Mode"`
}

type TSL2561Config struct {
	Gain          int `yaml:"Gain" json:"Gain"`
	IntegrationMS int `yaml:"IntegrationMS" json:"IntegrationMS"`
}

// BMX280Opts resolves the per-device section into driver options, with
// the driver defaults when the section is absent.
func (d DeviceConfig) BMX280Opts() *bmx280.Opts {
	if d.BMX280 == nil {
		return bmx280.DefaultOpts()
	}
	return &bmx280.Opts{
		TemperatureOversampling: d.BMX280.TemperatureOversampling,
		PressureOversampling:    d.BMX280.PressureOversampling,
		HumidityOversampling:    d.BMX280.HumidityOversampling,
		Standby:                 d.BMX280.Standby,
		Filter:                  d.BMX280.Filter,
		Mode:                    d.BMX280.Mode,
	}
}

// TSL2561Opts resolves the per-device section into driver options.
func (d DeviceConfig) TSL2561Opts() *tsl2561.Opts {
	if d.TSL2561 == nil {
		return tsl2561.DefaultOpts()
	}
	return &tsl2561.Opts{
		Gain:          d.TSL2561.Gain,
		IntegrationMS: d.TSL2561.IntegrationMS,
	}
}

// ReadConfig loads and validates the configuration file. An invalid file
// never yields a Config.
func ReadConfig(cfile string) (*Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("can't open config file %s: %w", cfile, err)
	}
	defer f.Close()

	var conf Config
	if err := yaml.NewDecoder(f).Decode(&conf); err != nil {
		return nil, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	conf.Configfile = cfile
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks the whole configuration, resolving every device option
// through the driver register tables so bad values fail here and not
// against hardware.
func (c *Config) Validate() error {
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("Polling.Interval must be positive, got %v", c.Polling.Interval)
	}
	if c.Polling.NightInterval < 0 {
		return fmt.Errorf("Polling.NightInterval must be non-negative, got %v", c.Polling.NightInterval)
	}
	if c.Polling.Smoothing < 0 {
		return fmt.Errorf("Polling.Smoothing must be non-negative, got %d", c.Polling.Smoothing)
	}
	if c.Night.Enabled {
		if c.Night.Latitude < -90 || c.Night.Latitude > 90 {
			return fmt.Errorf("Night.Latitude must be between -90 and 90, got %v", c.Night.Latitude)
		}
		if c.Night.Longitude < -180 || c.Night.Longitude > 180 {
			return fmt.Errorf("Night.Longitude must be between -180 and 180, got %v", c.Night.Longitude)
		}
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return fmt.Errorf("HTTP.Listen must be set when the HTTP API is enabled")
	}
	if c.Telemetry.Serial.Enabled {
		if c.Telemetry.Serial.Device == "" {
			return fmt.Errorf("Telemetry.Serial.Device must be set when serial telemetry is enabled")
		}
		if c.Telemetry.Serial.Baud <= 0 {
			return fmt.Errorf("Telemetry.Serial.Baud must be positive, got %d", c.Telemetry.Serial.Baud)
		}
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}
	for name, dev := range c.Devices {
		if err := dev.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (d DeviceConfig) validate(name string) error {
	devType := strings.ToUpper(d.Type)
	switch devType {
	case TypeBMP280, TypeBME280:
		if err := d.BMX280Opts().Validate(devType == TypeBME280); err != nil {
			return fmt.Errorf("device %s: %w", name, err)
		}
	case TypeTSL2561:
		if err := d.TSL2561Opts().Validate(); err != nil {
			return fmt.Errorf("device %s: %w", name, err)
		}
	case TypeINA219, TypeAM2315:
		// No per-device options.
	default:
		return fmt.Errorf("device %s: unknown device type %q", name, d.Type)
	}
	if d.Address == 0 && d.Bus != "spi" {
		return fmt.Errorf("device %s: address must be set", name)
	}
	return nil
}
