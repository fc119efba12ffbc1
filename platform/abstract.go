package platform

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"

	c "lautenbacher.net/gosense/config"
	"lautenbacher.net/gosense/sensor"
)

// AbstractPlatform is the base both platforms embed: it owns the
// instrument registry, the polling loop with its day/night schedule, the
// per-quantity smoothing state and the readings channel.
type AbstractPlatform struct {
	config          *c.Config
	instruments     map[string]sensor.Instrument
	instrumentOrder []string
	readings        chan []sensor.Reading
	smoothers       map[string]*smoother
	viewer          *ReadingsViewer
	forceChan       chan struct{}
	pollStopChan    chan bool
	pollWg          sync.WaitGroup
	readyChan       chan bool
	shutdownMutex   sync.RWMutex
	isShuttingDown  bool
}

func newAbstractPlatform(conf *c.Config) *AbstractPlatform {
	return &AbstractPlatform{
		config:       conf,
		instruments:  make(map[string]sensor.Instrument),
		readings:     make(chan []sensor.Reading),
		smoothers:    make(map[string]*smoother),
		forceChan:    make(chan struct{}, 1),
		pollStopChan: make(chan bool),
		readyChan:    make(chan bool),
	}
}

func (s *AbstractPlatform) Readings() <-chan []sensor.Reading {
	return s.readings
}

func (s *AbstractPlatform) Ready() <-chan bool {
	return s.readyChan
}

// ForceUpdate schedules one extra acquisition cycle. It never blocks; a
// pending request is enough.
func (s *AbstractPlatform) ForceUpdate() {
	select {
	case s.forceChan <- struct{}{}:
	default:
	}
}

func (s *AbstractPlatform) addInstrument(name string, inst sensor.Instrument) {
	s.instruments[name] = inst
	s.instrumentOrder = append(s.instrumentOrder, name)
}

func (s *AbstractPlatform) setInShutdown() {
	s.shutdownMutex.Lock()
	s.isShuttingDown = true
	s.shutdownMutex.Unlock()
}

// markReady closes the ready channel once the viewer (if any) has drawn
// its first frame.
func (s *AbstractPlatform) markReady() {
	if s.viewer == nil {
		close(s.readyChan)
		return
	}
	go func() {
		<-s.viewer.Ready()
		close(s.readyChan)
	}()
}

// pollLoop runs acquisition cycles until stopped. The first cycle runs
// immediately; the ticker is re-armed whenever the day/night schedule
// changes the interval.
func (s *AbstractPlatform) pollLoop() {
	defer s.pollWg.Done()

	interval := s.pollInterval(time.Now())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.pollOnce()
	for {
		select {
		case <-s.pollStopChan:
			slog.Info("Ending polling go-routine...")
			return
		case <-s.forceChan:
			s.pollOnce()
		case <-ticker.C:
			s.pollOnce()
			if next := s.pollInterval(time.Now()); next != interval {
				slog.Info("Switching polling interval", "from", interval, "to", next)
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// pollInterval selects the polling interval for the given point in time:
// the night interval applies between sunset and sunrise at the
// configured location.
func (s *AbstractPlatform) pollInterval(now time.Time) time.Duration {
	polling := s.config.Polling
	if !s.config.Night.Enabled || polling.NightInterval <= 0 {
		return polling.Interval
	}
	if isNight(s.config.Night.Latitude, s.config.Night.Longitude, now) {
		return polling.NightInterval
	}
	return polling.Interval
}

// isNight reports whether now lies outside the local sunrise..sunset
// window.
func isNight(latitude, longitude float64, now time.Time) bool {
	rise, set := sunrise.SunriseSunset(latitude, longitude, now.Year(), now.Month(), now.Day())
	return now.Before(rise) || now.After(set)
}

// pollOnce runs one acquisition cycle over all instruments and publishes
// the batch. A failing instrument is logged and skipped; the cycle goes
// on with the remaining ones.
func (s *AbstractPlatform) pollOnce() {
	batch := make([]sensor.Reading, 0, 3*len(s.instrumentOrder))
	for _, name := range s.instrumentOrder {
		readings, err := s.instruments[name].Sense()
		if err != nil {
			slog.Error("Instrument read failed", "device", name, "error", err)
			continue
		}
		for i := range readings {
			r := &readings[i]
			if r.Quantity == sensor.Pressure && r.Value == 0 {
				slog.Warn("Pressure compensated to exactly zero, check the calibration data", "device", name)
			}
			r.Value = s.smoothed(name, r.Quantity, r.Value)
		}
		batch = append(batch, readings...)
	}
	if len(batch) == 0 {
		return
	}

	if s.viewer != nil {
		s.viewer.Update(batch)
	}

	s.shutdownMutex.RLock()
	shuttingDown := s.isShuttingDown
	s.shutdownMutex.RUnlock()
	if shuttingDown {
		return
	}
	select {
	case s.readings <- batch:
	case <-s.pollStopChan:
	}
}

// smoothed runs a value through the moving-average window of its
// device/quantity channel. A window of 1 (or 0) passes values through.
func (s *AbstractPlatform) smoothed(device, quantity string, value float64) float64 {
	size := s.config.Polling.Smoothing
	if size <= 1 {
		return value
	}
	key := device + "/" + quantity
	sm, ok := s.smoothers[key]
	if !ok {
		sm = newSmoother(size)
		s.smoothers[key] = sm
	}
	return sm.smoothedValue(value)
}

// smoother is a fixed-size moving-average ring buffer.
type smoother struct {
	values   []float64
	index    int
	sum      float64
	capacity int
}

func newSmoother(size int) *smoother {
	return &smoother{
		values:   make([]float64, size),
		capacity: size,
	}
}

func (s *smoother) smoothedValue(value float64) float64 {
	oldValue := s.values[s.index]
	s.sum = s.sum - oldValue + value
	s.values[s.index] = value
	s.index = (s.index + 1) % s.capacity
	return s.sum / float64(s.capacity)
}
