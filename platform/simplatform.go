package platform

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"lautenbacher.net/gosense/bus"
	"lautenbacher.net/gosense/config"
	"lautenbacher.net/gosense/sensor/am2315"
	"lautenbacher.net/gosense/sensor/bmx280"
)

// SimPlatform runs the real chip drivers against simulated register
// files. Devices are primed with realistic calibration images; a
// background generator random-walks the raw data registers so the whole
// decode pipeline runs end-to-end without hardware.
type SimPlatform struct {
	*AbstractPlatform
	sim         *bus.Sim
	channels    []*simChannel
	chanMu      sync.Mutex
	rng         *rand.Rand
	genStopChan chan bool
	genWg       sync.WaitGroup
}

// simChannel is one random-walked raw data register group. value is kept
// in raw register units; write stores it into the register file.
type simChannel struct {
	value float64
	min   float64
	max   float64
	step  float64
	write func(raw float64)
}

func NewSimPlatform(conf *config.Config, ossignal chan os.Signal, withViewer bool) *SimPlatform {
	inst := &SimPlatform{
		sim:         bus.NewSim(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		genStopChan: make(chan bool),
	}
	inst.AbstractPlatform = newAbstractPlatform(conf)
	if withViewer {
		inst.viewer = NewReadingsViewer(ossignal, true)
		inst.viewer.SetNudgeFunc(inst.Nudge)
	}
	return inst
}

func (s *SimPlatform) Start() error {
	slog.Info("Starting simulation platform...")
	names := sortedDeviceNames(s.config.Devices)
	for _, name := range names {
		if err := s.primeDevice(s.config.Devices[name]); err != nil {
			return fmt.Errorf("failed to prime simulated device %s: %w", name, err)
		}
	}
	for _, name := range names {
		inst, err := newInstrument(name, s.config.Devices[name], s.sim)
		if err != nil {
			return fmt.Errorf("failed to set up simulated device %s: %w", name, err)
		}
		s.addInstrument(name, inst)
	}

	if s.viewer != nil {
		s.viewer.Start()
	}
	s.markReady()

	s.genWg.Add(1)
	go s.generator()
	s.pollWg.Add(1)
	go s.pollLoop()
	return nil
}

func (s *SimPlatform) Stop() {
	s.setInShutdown()

	close(s.pollStopChan)
	close(s.genStopChan)
	s.pollWg.Wait()
	s.genWg.Wait()

	s.sim.Close()

	if s.viewer != nil {
		s.viewer.Stop()
	}
}

// generator random-walks every channel once per polling interval.
func (s *SimPlatform) generator() {
	defer s.genWg.Done()
	ticker := time.NewTicker(s.config.Polling.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.genStopChan:
			slog.Info("Ending simulation data generator...")
			return
		case <-ticker.C:
			s.chanMu.Lock()
			for _, ch := range s.channels {
				ch.value = clamp(ch.value+(s.rng.Float64()*2-1)*ch.step, ch.min, ch.max)
				ch.write(ch.value)
			}
			s.chanMu.Unlock()
		}
	}
}

// Nudge shifts every generator channel by a few steps in the given
// direction. Bound to the viewer's '+'/'-' keys.
func (s *SimPlatform) Nudge(delta float64) {
	s.chanMu.Lock()
	for _, ch := range s.channels {
		ch.value = clamp(ch.value+delta*5*ch.step, ch.min, ch.max)
		ch.write(ch.value)
	}
	s.chanMu.Unlock()
	s.ForceUpdate()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *SimPlatform) addChannel(center, min, max, step float64, write func(raw float64)) {
	write(center)
	s.channels = append(s.channels, &simChannel{
		value: center,
		min:   min,
		max:   max,
		step:  step,
		write: write,
	})
}

// bmxTPImage is the temperature/pressure calibration block from the
// Bosch datasheet example, in register byte order.
func bmxTPImage() []byte {
	words := []int{27504, 26435, -1000, 36477, -10685, 3024, 2855, 140, -7, 15500, -14600, 6000}
	img := make([]byte, 0, 2*len(words))
	for _, w := range words {
		img = append(img, byte(uint16(w)), byte(uint16(w)>>8))
	}
	return img
}

// bmxHumImage encodes H1=75, H2=355, H3=0, H4=339, H5=50, H6=30,
// including the shared H4/H5 nibble byte.
var bmxHumImage = []byte{75, 0x63, 0x01, 0x00, 0x15, 0x23, 0x03, 30}

// primeDevice loads a realistic register image for one configured device
// and registers its raw data channels with the generator. Baselines are
// chosen so the compensated values land in everyday ranges.
func (s *SimPlatform) primeDevice(cfg config.DeviceConfig) error {
	dev := s.sim.Device(cfg.Address)
	switch devType := strings.ToUpper(cfg.Type); devType {
	case config.TypeBMP280, config.TypeBME280:
		humidity := devType == config.TypeBME280
		id := byte(bmx280.ChipIDBMP280)
		if humidity {
			id = bmx280.ChipIDBME280
		}
		dev.Prime(0xD0, id)
		dev.Prime(0x88, bmxTPImage()...)
		if humidity {
			dev.Prime(0xA1, bmxHumImage[0])
			dev.Prime(0xE1, bmxHumImage[1:]...)
		}
		// 20 bit samples at 0xFA (temperature, ~25 °C) and 0xF7
		// (pressure, ~100 kPa), 16 bit humidity at 0xFD (~46 %RH).
		s.addChannel(519888, 480000, 560000, 600, func(raw float64) {
			v := uint32(raw)
			dev.Prime(0xFA, byte(v>>12), byte(v>>4), byte(v<<4))
		})
		s.addChannel(415148, 390000, 440000, 400, func(raw float64) {
			v := uint32(raw)
			dev.Prime(0xF7, byte(v>>12), byte(v>>4), byte(v<<4))
		})
		if humidity {
			s.addChannel(30000, 26000, 34000, 150, func(raw float64) {
				v := uint16(raw)
				dev.Prime(0xFD, byte(v>>8), byte(v))
			})
		}
	case config.TypeTSL2561:
		// Channel words at 0x8C/0x8E (command bit included),
		// little-endian.
		s.addChannel(620, 50, 4000, 40, func(raw float64) {
			v := uint16(raw)
			dev.Prime(0x8C, byte(v), byte(v>>8))
		})
		s.addChannel(180, 10, 1500, 20, func(raw float64) {
			v := uint16(raw)
			dev.Prime(0x8E, byte(v), byte(v>>8))
		})
	case config.TypeINA219:
		// The chip is word-addressed, so its registers live in word
		// cells; byte cells would let register N+1 clobber register N.
		// Baselines: bus voltage ~12.3 V (4 mV LSB shifted past the
		// flag bits), shunt ~10 mV, current ~500 mA at 0.04 mA LSB,
		// power ~6 W at 0.8 mW LSB.
		w := s.sim.WordDevice(cfg.Address)
		s.addChannel(3075, 2500, 3250, 10, func(raw float64) {
			w.Set(0x02, uint16(raw)<<3)
		})
		s.addChannel(1000, 0, 3000, 40, func(raw float64) {
			w.Set(0x01, uint16(raw))
		})
		s.addChannel(12500, 2000, 25000, 300, func(raw float64) {
			w.Set(0x04, uint16(raw))
		})
		s.addChannel(7700, 1000, 20000, 200, func(raw float64) {
			w.Set(0x03, uint16(raw))
		})
	case config.TypeAM2315:
		frame := &am2315Sim{}
		frame.install(dev)
		frame.prime(0x08, 0x09, 0x0B) // model
		frame.prime(0x0A, 0x02)       // version
		frame.prime(0x0B, 0xDE, 0xAD, 0xBE, 0xEF)
		// Tenths of °C (sign-magnitude) and %RH.
		s.addChannel(253, -200, 450, 4, func(raw float64) {
			frame.set16(0x02, signMagnitude(raw))
		})
		s.addChannel(652, 0, 999, 6, func(raw float64) {
			frame.set16(0x00, uint16(raw))
		})
	default:
		return fmt.Errorf("unknown device type: %s", cfg.Type)
	}
	return nil
}

func signMagnitude(tenths float64) uint16 {
	if tenths < 0 {
		return 0x8000 | uint16(-tenths)
	}
	return uint16(tenths)
}

// am2315Sim emulates the chip's framed read protocol on a simulated
// device: the function-code write selects a register window, the
// following block read returns header, data and CRC trailer.
type am2315Sim struct {
	mu   sync.Mutex
	regs [16]byte
}

func (a *am2315Sim) install(dev *bus.SimDev) {
	var start uint8
	var count int
	dev.SetWriteFunc(func(reg uint8, data []byte) bool {
		if reg == 0x03 && len(data) == 2 {
			start = data[0]
			count = int(data[1])
			return true
		}
		return false
	})
	dev.SetReadFunc(func(reg uint8, buf []byte) bool {
		if reg != 0x00 || len(buf) != count+4 {
			return false
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		buf[0] = 0x03
		buf[1] = byte(count)
		copy(buf[2:], a.regs[start:int(start)+count])
		crc := am2315.CRC16(buf[:count+2])
		buf[count+2] = byte(crc)
		buf[count+3] = byte(crc >> 8)
		return true
	})
}

func (a *am2315Sim) prime(reg uint8, data ...byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.regs[reg:], data)
}

func (a *am2315Sim) set16(reg uint8, value uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regs[reg] = byte(value >> 8)
	a.regs[reg+1] = byte(value)
}
