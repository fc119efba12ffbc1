package config

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lautenbacher.net/gosense/sensor"
)

func getValidRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Polling: PollingConfig{
			Interval:      30 * time.Second,
			NightInterval: 5 * time.Minute,
			Smoothing:     3,
		},
		Night: NightConfig{
			Enabled:   true,
			Latitude:  48.14,
			Longitude: 11.57,
		},
		Telemetry: TelemetryConfig{
			Serial: SerialConfig{Enabled: false},
		},
	}
}

func TestConfigHandler_Get(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())
	handler := ConfigHandler(configFile)

	req := httptest.NewRequest("GET", "/api/config", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got RuntimeConfig
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 30*time.Second, got.Polling.Interval)
	assert.InDelta(t, 48.14, got.Night.Latitude, 1e-9)
}

func TestConfigHandler_MethodNotAllowed(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())
	handler := ConfigHandler(configFile)

	req := httptest.NewRequest("DELETE", "/api/config", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestConfigHandler_SetValidation(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())

	tests := []struct {
		name         string
		payload      RuntimeConfig
		wantStatus   int
		wantErrorMsg string
		shouldModify bool
	}{
		{
			name: "Valid Update",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.Polling.Interval = 1 * time.Minute
				c.Polling.Smoothing = 5
				return c
			}(),
			wantStatus:   http.StatusOK,
			shouldModify: true,
		},
		{
			name: "Non-Positive Interval",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.Polling.Interval = 0
				return c
			}(),
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "must be positive",
			shouldModify: false,
		},
		{
			name: "Negative Smoothing",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.Polling.Smoothing = -1
				return c
			}(),
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "must be non-negative",
			shouldModify: false,
		},
		{
			name: "Latitude Out of Range",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.Night.Latitude = 95
				return c
			}(),
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "Latitude",
			shouldModify: false,
		},
		{
			name: "Telemetry Without Device",
			payload: func() RuntimeConfig {
				c := getValidRuntimeConfig()
				c.Telemetry.Serial.Enabled = true
				c.Telemetry.Serial.Device = ""
				return c
			}(),
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "Telemetry.Serial.Device",
			shouldModify: false,
		},
	}

	handler := ConfigHandler(configFile)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.payload)
			req := httptest.NewRequest("POST", "/api/config", bytes.NewBuffer(body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErrorMsg != "" {
				assert.Contains(t, w.Body.String(), tt.wantErrorMsg)
			}

			// A rejected update must leave the file loadable and the
			// device section intact.
			currentConfig, err := ReadConfig(configFile)
			assert.NoError(t, err)
			assert.Len(t, currentConfig.Devices, 4, "Device section should survive runtime updates")

			if tt.shouldModify {
				assert.Equal(t, tt.payload.Polling.Interval, currentConfig.Polling.Interval)
				assert.Equal(t, tt.payload.Polling.Smoothing, currentConfig.Polling.Smoothing)
			} else {
				assert.NotEqual(t, tt.payload.Polling.Smoothing, currentConfig.Polling.Smoothing, "File should not pick up rejected values")
			}
		})
	}
}

func TestReadingsHandler(t *testing.T) {
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	latest := func() map[string][]sensor.Reading {
		return map[string][]sensor.Reading{
			"livingroom": {
				{Device: "livingroom", Quantity: sensor.Temperature, Value: 21.37, Unit: "°C", Time: now},
				{Device: "livingroom", Quantity: sensor.Pressure, Value: 98765.43, Unit: "Pa", Time: now},
			},
		}
	}
	handler := ReadingsHandler(latest)

	req := httptest.NewRequest("GET", "/api/readings", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got map[string][]sensor.Reading
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got["livingroom"], 2)
	assert.InDelta(t, 21.37, got["livingroom"][0].Value, 1e-9)

	req = httptest.NewRequest("POST", "/api/readings", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRuntimeConfigRoundTrip(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())
	handler := ConfigHandler(configFile)

	payload := getValidRuntimeConfig()
	payload.Polling.NightInterval = 10 * time.Minute
	body, _ := json.Marshal(payload)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/config", bytes.NewBuffer(body)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/config", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var got RuntimeConfig
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 10*time.Minute, got.Polling.NightInterval)
}
