// gosense is an environment sensor daemon for the Raspberry Pi. It polls
// the configured instruments (BMP280/BME280, TSL2561, INA219, AM2315)
// over I2C and SPI, serves the latest compensated readings over HTTP and
// optionally streams them out over a serial line. A simulation mode runs
// the same drivers against in-memory register files.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	c "lautenbacher.net/gosense/config"
	"lautenbacher.net/gosense/logging"
	pl "lautenbacher.net/gosense/platform"
	"lautenbacher.net/gosense/sensor"
	"lautenbacher.net/gosense/telemetry"
	u "lautenbacher.net/gosense/util"
)

// readingReporter is the telemetry sink the app feeds with every cycle.
type readingReporter interface {
	Report(batch []sensor.Reading) error
	Close() error
}

// App wires the platform, the readings stores, the HTTP API, the
// telemetry reporter and the config reload handling together.
type App struct {
	config     *c.Config
	platform   pl.Platform
	latest     *u.AtomicMapEvent[[]sensor.Reading]
	cycle      *u.AtomicEvent[[]sensor.Reading]
	httpServer *http.Server
	reporter   readingReporter
	watcher    *fsnotify.Watcher
	ossignal   chan os.Signal
	stopsignal chan struct{}
	shutdownWg sync.WaitGroup
}

func NewApp(ossignal chan os.Signal) *App {
	return &App{
		ossignal: ossignal,
		latest:   u.NewAtomicMapEvent[[]sensor.Reading](),
		cycle:    u.NewAtomicEvent[[]sensor.Reading](),
	}
}

func main() {
	cfile := flag.String("config", "gosense.yml", "Path to the config file")
	sim := flag.Bool("sim", false, "Run against simulated sensors instead of real hardware")
	viewer := flag.Bool("viewer", false, "Show the readings viewer TUI")
	dump := flag.Bool("dump", false, "Run one acquisition cycle, print it as JSON and exit")
	flag.Parse()

	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		conf, err := c.ReadConfig(*cfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
		conf.Simulation = *sim
		withViewer := *viewer || *sim

		if *dump {
			if err := dumpOnce(conf); err != nil {
				fmt.Fprintf(os.Stderr, "Error dumping readings: %v\n", err)
				os.Exit(1)
			}
			return
		}

		// With a TUI attached, early log lines are buffered until the
		// log pane exists.
		if err := logging.Init(withViewer, conf.Logging.Level, conf.Logging.Format, conf.Logging.File); err != nil {
			fmt.Fprintf(os.Stderr, "Error initialising logging: %v\n", err)
			os.Exit(1)
		}

		app := NewApp(ossignal)
		if err := app.initialise(conf, withViewer); err != nil {
			slog.Error("Error starting up", "error", err)
			logging.Close()
			os.Exit(1)
		}

		reload := app.signalLoop()
		app.shutdown()
		logging.Close()
		if !reload {
			return
		}
	}
}

// dumpOnce runs one acquisition cycle without viewer, HTTP or telemetry
// and prints the batch as JSON.
func dumpOnce(conf *c.Config) error {
	if err := logging.Init(false, "ERROR", "text", ""); err != nil {
		return err
	}
	var p pl.Platform
	if conf.Simulation {
		p = pl.NewSimPlatform(conf, nil, false)
	} else {
		p = pl.NewRaspberryPiPlatform(conf, nil, false)
	}
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Stop()

	select {
	case batch := <-p.Readings():
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for an acquisition cycle")
	}
}

func (a *App) initialise(conf *c.Config, withViewer bool) error {
	slog.Info("Starting gosense...", "config", conf.Configfile, "simulation", conf.Simulation)
	a.config = conf
	a.stopsignal = make(chan struct{})

	a.platform = pl.NewPlatform(conf, a.ossignal, withViewer)
	if err := a.platform.Start(); err != nil {
		return err
	}

	if conf.Telemetry.Serial.Enabled {
		reporter, err := telemetry.NewReporter(conf.Telemetry.Serial)
		if err != nil {
			return err
		}
		a.reporter = reporter
		a.shutdownWg.Add(1)
		go a.reportTelemetry()
	}

	a.shutdownWg.Add(1)
	go a.distributeReadings()

	if conf.HTTP.Enabled {
		a.startHTTPServer(conf)
	}
	if err := a.watchConfig(conf.Configfile); err != nil {
		slog.Warn("Config file watching disabled", "error", err)
	}

	<-a.platform.Ready()
	slog.Info("gosense is up")
	return nil
}

// distributeReadings fans every acquisition batch out into the per-device
// latest store and the cycle event.
func (a *App) distributeReadings() {
	defer a.shutdownWg.Done()
	for {
		select {
		case <-a.stopsignal:
			slog.Info("Ending reading distribution go-routine...")
			return
		case batch := <-a.platform.Readings():
			byDevice := make(map[string][]sensor.Reading)
			for _, r := range batch {
				byDevice[r.Device] = append(byDevice[r.Device], r)
			}
			for device, readings := range byDevice {
				a.latest.Send(device, readings)
			}
			a.cycle.Send(batch)
		}
	}
}

// reportTelemetry forwards cycles to the serial reporter. It consumes
// the cycle event, so a slow serial line drops stale cycles instead of
// backing up the platform.
func (a *App) reportTelemetry() {
	defer a.shutdownWg.Done()
	for {
		select {
		case <-a.stopsignal:
			slog.Info("Ending telemetry go-routine...")
			return
		case <-a.cycle.Channel():
			if err := a.reporter.Report(a.cycle.Value()); err != nil {
				slog.Error("Telemetry report failed", "error", err)
			}
		}
	}
}

func (a *App) startHTTPServer(conf *c.Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", c.ConfigHandler(conf.Configfile))
	mux.HandleFunc("/api/readings", c.ReadingsHandler(a.latest.Value))
	a.httpServer = &http.Server{Addr: conf.HTTP.Listen, Handler: mux}

	a.shutdownWg.Add(1)
	go func() {
		defer a.shutdownWg.Done()
		slog.Info("Starting HTTP server", "listen", conf.HTTP.Listen)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
}

// watchConfig maps writes to the config file onto SIGHUP, so edits from
// the HTTP API or an editor trigger a reload.
func (a *App) watchConfig(cfile string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(cfile); err != nil {
		watcher.Close()
		return err
	}
	a.watcher = watcher

	a.shutdownWg.Add(1)
	go func() {
		defer a.shutdownWg.Done()
		for {
			select {
			case <-a.stopsignal:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					slog.Info("Config file changed, reloading", "file", event.Name)
					select {
					case a.ossignal <- syscall.SIGHUP:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// signalLoop blocks until the process should exit (false) or reload its
// configuration (true).
func (a *App) signalLoop() bool {
	for sig := range a.ossignal {
		switch sig {
		case os.Interrupt, syscall.SIGTERM:
			slog.Info("Shutting down...", "signal", sig)
			return false
		case syscall.SIGHUP:
			slog.Info("Reloading configuration...")
			return true
		}
	}
	return false
}

func (a *App) shutdown() {
	close(a.stopsignal)
	a.platform.Stop()

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
		cancel()
		a.httpServer = nil
	}
	if a.watcher != nil {
		a.watcher.Close()
		a.watcher = nil
	}

	a.shutdownWg.Wait()

	if a.reporter != nil {
		if err := a.reporter.Close(); err != nil {
			slog.Error("Error closing telemetry reporter", "error", err)
		}
		a.reporter = nil
	}
}
