// Package telemetry streams readings out over a serial line, one
// key=value record per reading, for downstream collectors that tap the
// UART instead of the HTTP API.
package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	c "lautenbacher.net/gosense/config"
	"lautenbacher.net/gosense/sensor"
)

// Reporter writes reading batches to a serial port.
type Reporter struct {
	out    io.WriteCloser
	device string
}

// NewReporter opens the configured serial device.
func NewReporter(cfg c.SerialConfig) (*Reporter, error) {
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", cfg.Device, err)
	}
	return &Reporter{out: port, device: cfg.Device}, nil
}

// newReporterTo wires the reporter to an arbitrary writer, for tests.
func newReporterTo(out io.WriteCloser) *Reporter {
	return &Reporter{out: out}
}

// Report writes one line per reading. A write failure aborts the batch;
// the remaining readings of the batch are dropped, not retried.
func (r *Reporter) Report(batch []sensor.Reading) error {
	for _, reading := range batch {
		_, err := fmt.Fprintf(r.out, "gosense device=%s quantity=%s value=%.3f unit=%s time=%s\r\n",
			reading.Device, reading.Quantity, reading.Value, reading.Unit,
			reading.Time.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("serial write failed: %w", err)
		}
	}
	return nil
}

func (r *Reporter) Close() error {
	return r.out.Close()
}
