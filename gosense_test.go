package main

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pl "lautenbacher.net/gosense/platform"
	"lautenbacher.net/gosense/sensor"
)

// MockPlatform feeds the app with hand-crafted batches.
type MockPlatform struct {
	readings chan []sensor.Reading
	ready    chan bool
	started  bool
	stopped  bool
	forced   int
}

var _ pl.Platform = (*MockPlatform)(nil)

func newMockPlatform() *MockPlatform {
	ready := make(chan bool)
	close(ready)
	return &MockPlatform{
		readings: make(chan []sensor.Reading),
		ready:    ready,
	}
}

func (m *MockPlatform) Start() error {
	m.started = true
	return nil
}

func (m *MockPlatform) Stop() {
	m.stopped = true
}

func (m *MockPlatform) Readings() <-chan []sensor.Reading {
	return m.readings
}

func (m *MockPlatform) Ready() <-chan bool {
	return m.ready
}

func (m *MockPlatform) ForceUpdate() {
	m.forced++
}

// recordingReporter captures telemetry batches for inspection.
type recordingReporter struct {
	mu      sync.Mutex
	batches [][]sensor.Reading
	closed  bool
	fail    error
}

func (r *recordingReporter) Report(batch []sensor.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingReporter) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func newTestApp(t *testing.T) (*App, *MockPlatform) {
	t.Helper()
	app := NewApp(make(chan os.Signal, 1))
	app.platform = newMockPlatform()
	app.stopsignal = make(chan struct{})
	t.Cleanup(func() {
		close(app.stopsignal)
		app.shutdownWg.Wait()
	})
	return app, app.platform.(*MockPlatform)
}

func TestDistributeReadings(t *testing.T) {
	app, mock := newTestApp(t)
	app.shutdownWg.Add(1)
	go app.distributeReadings()

	batch := []sensor.Reading{
		sensor.New("lounge", sensor.Temperature, 21.4, "°C"),
		sensor.New("lounge", sensor.Pressure, 98432.1, "Pa"),
		sensor.New("outdoor", sensor.Temperature, 4.2, "°C"),
	}
	mock.readings <- batch

	require.Eventually(t, func() bool {
		return len(app.latest.Value()) == 2
	}, time.Second, 5*time.Millisecond)

	latest := app.latest.Value()
	assert.Len(t, latest["lounge"], 2)
	assert.Len(t, latest["outdoor"], 1)
	assert.InDelta(t, 4.2, latest["outdoor"][0].Value, 1e-9)
	assert.Len(t, app.cycle.Value(), 3)
}

func TestReportTelemetry(t *testing.T) {
	app, mock := newTestApp(t)
	reporter := &recordingReporter{}
	app.reporter = reporter

	app.shutdownWg.Add(2)
	go app.distributeReadings()
	go app.reportTelemetry()

	mock.readings <- []sensor.Reading{
		sensor.New("lounge", sensor.Temperature, 21.4, "°C"),
	}

	require.Eventually(t, func() bool {
		return reporter.batchCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "lounge", reporter.batches[0][0].Device)
}

func TestReportTelemetryKeepsRunningOnError(t *testing.T) {
	app, mock := newTestApp(t)
	reporter := &recordingReporter{fail: errors.New("port gone")}
	app.reporter = reporter

	app.shutdownWg.Add(2)
	go app.distributeReadings()
	go app.reportTelemetry()

	mock.readings <- []sensor.Reading{sensor.New("lounge", sensor.Temperature, 21.4, "°C")}

	// The failed report must not kill the loop; a later healthy cycle
	// still gets delivered.
	time.Sleep(20 * time.Millisecond)
	reporter.mu.Lock()
	reporter.fail = nil
	reporter.mu.Unlock()

	mock.readings <- []sensor.Reading{sensor.New("lounge", sensor.Temperature, 22.0, "°C")}
	require.Eventually(t, func() bool {
		return reporter.batchCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSignalLoop(t *testing.T) {
	tests := []struct {
		name   string
		signal os.Signal
		reload bool
	}{
		{"Interrupt Exits", os.Interrupt, false},
		{"SIGTERM Exits", syscall.SIGTERM, false},
		{"SIGHUP Reloads", syscall.SIGHUP, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(make(chan os.Signal, 1))
			result := make(chan bool, 1)
			go func() { result <- app.signalLoop() }()

			app.ossignal <- tt.signal
			select {
			case reload := <-result:
				assert.Equal(t, tt.reload, reload)
			case <-time.After(time.Second):
				t.Fatal("signal loop did not return")
			}
		})
	}
}
