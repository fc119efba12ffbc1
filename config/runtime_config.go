package config

// RuntimeConfig defines the subset of the configuration that can be
// safely modified at runtime through the HTTP API. It excludes the
// hardware wiring and device definitions; changing those needs a
// deliberate edit and restart.
type RuntimeConfig struct {
	Polling   PollingConfig   `yaml:"Polling" json:"Polling"`
	Night     NightConfig     `yaml:"Night" json:"Night"`
	Telemetry TelemetryConfig `yaml:"Telemetry" json:"Telemetry"`
}
