package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const commonSections = `
Polling:
  Interval: 30s
  NightInterval: 5m
  Smoothing: 3
Night:
  Enabled: true
  Latitude: 48.14
  Longitude: 11.57
HTTP:
  Enabled: true
  Listen: "localhost:8080"
Telemetry:
  Serial:
    Enabled: false
    Device: ""
    Baud: 0
Logging:
  Level: "DEBUG"
  Format: "text"
  File: "/tmp/gosense.log"
Hardware:
  SPIDevice: "/dev/spidev0.0"
  SPIFrequency: 1000000
  SPILibrary: "periph"
`

const validDevices = `
Devices:
  livingroom:
    Type: BME280
    Bus: "1"
    Address: 0x77
    BMX280:
      TemperatureOversampling: 2
      PressureOversampling: 16
      HumidityOversampling: 1
      Standby: 250
      Filter: 4
      Mode: normal
  light:
    Type: TSL2561
    Bus: "1"
    Address: 0x39
    TSL2561:
      Gain: 16
      IntegrationMS: 402
  power:
    Type: INA219
    Bus: "1"
    Address: 0x40
  outdoor:
    Type: AM2315
    Bus: "1"
    Address: 0x5C
`

func getBaseConfig() string {
	return commonSections + validDevices
}

func createConfigFile(t *testing.T, configData string) string {
	tempDir, err := os.MkdirTemp("", "gosense-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	// We schedule cleanup of the directory, but return the file path
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	configFile := filepath.Join(tempDir, "config.yml")
	err = os.WriteFile(configFile, []byte(configData), 0o644)
	if err != nil {
		t.Fatalf("Failed to write dummy config file: %v", err)
	}
	return configFile
}

func TestReadConfig(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())

	conf, err := ReadConfig(configFile)
	assert.NoError(t, err, "ReadConfig should not return an error")

	assert.Equal(t, 30*time.Second, conf.Polling.Interval, "Polling.Interval should be 30s")
	assert.Equal(t, 5*time.Minute, conf.Polling.NightInterval, "Polling.NightInterval should be 5m")
	assert.Equal(t, 3, conf.Polling.Smoothing, "Polling.Smoothing should be 3")

	assert.True(t, conf.Night.Enabled, "Night.Enabled should be true")
	assert.InDelta(t, 48.14, conf.Night.Latitude, 1e-9)
	assert.InDelta(t, 11.57, conf.Night.Longitude, 1e-9)

	assert.Equal(t, "DEBUG", conf.Logging.Level, "Logging.Level should be DEBUG")
	assert.Equal(t, "text", conf.Logging.Format, "Logging.Format should be text")
	assert.Equal(t, "/tmp/gosense.log", conf.Logging.File, "Logging.File should be /tmp/gosense.log")

	assert.Len(t, conf.Devices, 4)
	dev := conf.Devices["livingroom"]
	assert.Equal(t, TypeBME280, dev.Type)
	assert.Equal(t, uint16(0x77), dev.Address)
	assert.Equal(t, 16, dev.BMX280.PressureOversampling)
}

func TestReadConfig_NoDevices(t *testing.T) {
	configFile := createConfigFile(t, commonSections+"\nDevices: {}\n")

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should return an error")
	assert.Contains(t, err.Error(), "at least one device", "Error message should indicate that no devices are configured")
}

func TestReadConfig_UnknownDeviceType(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "Type: AM2315", "Type: DHT22", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should return an error for unknown device types")
	assert.Contains(t, err.Error(), "unknown device type")
}

func TestReadConfig_InvalidOversampling(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "PressureOversampling: 16", "PressureOversampling: 3", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should reject oversampling values without a register encoding")
	assert.Contains(t, err.Error(), "oversampling")
}

func TestReadConfig_BMP280StandbyRejected(t *testing.T) {
	// 10ms standby exists on the BME280 only; the BMP280 uses that code
	// for 2000ms.
	configData := strings.Replace(getBaseConfig(), "Type: BME280", "Type: BMP280", 1)
	configData = strings.Replace(configData, "Standby: 250", "Standby: 10", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should reject a BME280-only standby on a BMP280")
	assert.Contains(t, err.Error(), "standby")
}

func TestReadConfig_BMP280StandbyAccepted(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "Type: BME280", "Type: BMP280", 1)
	configData = strings.Replace(configData, "Standby: 250", "Standby: 2000", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.NoError(t, err, "2000ms standby is valid on the BMP280")
}

func TestReadConfig_InvalidIntegration(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "IntegrationMS: 402", "IntegrationMS: 100", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should reject integration times without a register encoding")
	assert.Contains(t, err.Error(), "integration")
}

func TestReadConfig_MissingAddress(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "Address: 0x40", "Address: 0x00", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should require an address on I2C devices")
	assert.Contains(t, err.Error(), "address must be set")
}

func TestReadConfig_SPIDeviceWithoutAddress(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "Bus: \"1\"\n    Address: 0x77", "Bus: \"spi\"\n    Address: 0x00", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.NoError(t, err, "SPI devices are chip-selected, not addressed")
}

func TestReadConfig_NegativeInterval(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "Interval: 30s", "Interval: -5s", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should reject a non-positive polling interval")
	assert.Contains(t, err.Error(), "must be positive")
}

func TestReadConfig_LatitudeOutOfRange(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "Latitude: 48.14", "Latitude: 123.4", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should reject an out-of-range latitude")
	assert.Contains(t, err.Error(), "Latitude")
}

func TestReadConfig_TelemetryWithoutDevice(t *testing.T) {
	configData := strings.Replace(getBaseConfig(), "Enabled: false\n    Device: \"\"", "Enabled: true\n    Device: \"\"", 1)
	configFile := createConfigFile(t, configData)

	_, err := ReadConfig(configFile)
	assert.Error(t, err, "ReadConfig should require a serial device when telemetry is enabled")
	assert.Contains(t, err.Error(), "Telemetry.Serial.Device")
}

func TestDeviceConfigOptionDefaults(t *testing.T) {
	dev := DeviceConfig{Type: TypeBME280, Bus: "1", Address: 0x76}

	opts := dev.BMX280Opts()
	assert.Equal(t, 2, opts.TemperatureOversampling)
	assert.Equal(t, 16, opts.PressureOversampling)
	assert.Equal(t, "normal", opts.Mode)

	lightOpts := DeviceConfig{Type: TypeTSL2561}.TSL2561Opts()
	assert.Equal(t, 1, lightOpts.Gain)
	assert.Equal(t, 402, lightOpts.IntegrationMS)
}
