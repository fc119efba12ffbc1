package bus

import (
	"sync"
)

// Sim implements Bus against in-memory register files, one per device
// address. Driver tests and the simulation platform prime devices with
// register images, inject failures, and hook reads/writes where a chip's
// behavior is not plain register storage.
type Sim struct {
	mu     sync.Mutex
	devs   map[uint16]*SimDev
	closed bool
}

// SimWrite records one write transaction against a simulated device.
type SimWrite struct {
	Reg  uint8
	Data []byte
}

// SimDev is the register file of one simulated device.
type SimDev struct {
	mu        sync.Mutex
	regs      [256]byte
	readErr   map[uint8]error
	writeErr  map[uint8]error
	writes    []SimWrite
	readFunc  func(reg uint8, buf []byte) bool
	writeFunc func(reg uint8, data []byte) bool
}

func NewSim() *Sim {
	return &Sim{devs: make(map[uint16]*SimDev)}
}

// Device returns the register file at addr, creating it on first use.
// A device never touched by Device does not exist on the bus; transactions
// against it fail with ErrNotResponding.
func (s *Sim) Device(addr uint16) *SimDev {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devs[addr]
	if !ok {
		dev = &SimDev{
			readErr:  make(map[uint8]error),
			writeErr: make(map[uint8]error),
		}
		s.devs[addr] = dev
	}
	return dev
}

func (s *Sim) lookup(op string, addr uint16, reg uint8) (*SimDev, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, newError(op, addr, reg, ErrNotOpen)
	}
	dev, ok := s.devs[addr]
	if !ok {
		return nil, newError(op, addr, reg, ErrNotResponding)
	}
	return dev, nil
}

func (s *Sim) read(op string, addr uint16, reg uint8, buf []byte) error {
	dev, err := s.lookup(op, addr, reg)
	if err != nil {
		return err
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.readErr[reg]; err != nil {
		return newError(op, addr, reg, err)
	}
	if dev.readFunc != nil && dev.readFunc(reg, buf) {
		return nil
	}
	for i := range buf {
		buf[i] = dev.regs[reg+uint8(i)]
	}
	return nil
}

func (s *Sim) write(op string, addr uint16, reg uint8, data []byte) error {
	dev, err := s.lookup(op, addr, reg)
	if err != nil {
		return err
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.writeErr[reg]; err != nil {
		return newError(op, addr, reg, err)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	dev.writes = append(dev.writes, SimWrite{Reg: reg, Data: cp})
	if dev.writeFunc != nil && dev.writeFunc(reg, data) {
		return nil
	}
	for i, v := range data {
		dev.regs[reg+uint8(i)] = v
	}
	return nil
}

func (s *Sim) ReadReg(addr uint16, reg uint8, buf []byte) error {
	return s.read("read-reg", addr, reg, buf)
}

func (s *Sim) ReadByteReg(addr uint16, reg uint8) (byte, error) {
	var buf [1]byte
	if err := s.read("read-byte", addr, reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (s *Sim) ReadWordReg(addr uint16, reg uint8) (uint16, error) {
	var buf [2]byte
	if err := s.read("read-word", addr, reg, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (s *Sim) ReadWordSwapped(addr uint16, reg uint8) (uint16, error) {
	var buf [2]byte
	if err := s.read("read-word-swapped", addr, reg, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (s *Sim) WriteReg(addr uint16, reg uint8, data []byte) error {
	return s.write("write-reg", addr, reg, data)
}

func (s *Sim) WriteByteReg(addr uint16, reg uint8, value byte) error {
	return s.write("write-byte", addr, reg, []byte{value})
}

func (s *Sim) WriteWordReg(addr uint16, reg uint8, value uint16) error {
	return s.write("write-word", addr, reg, []byte{byte(value), byte(value >> 8)})
}

func (s *Sim) WriteWordSwapped(addr uint16, reg uint8, value uint16) error {
	return s.write("write-word-swapped", addr, reg, []byte{byte(value >> 8), byte(value)})
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SimWordDev emulates a chip whose registers are 16 bit words rather
// than bytes. In the byte register file adjacent word registers would
// overlap (register N at bytes N and N+1 shares a cell with register
// N+1); here every register number addresses its own word cell. Values
// are held big-endian, the order the swapped word operations use.
type SimWordDev struct {
	mu   sync.Mutex
	regs map[uint8]uint16
}

// WordDevice installs a word-register emulation on the device at addr,
// creating the device on first use. Two-byte transactions are served
// from the word cells; any other access falls through to the byte
// register file.
func (s *Sim) WordDevice(addr uint16) *SimWordDev {
	w := &SimWordDev{regs: make(map[uint8]uint16)}
	dev := s.Device(addr)
	dev.SetReadFunc(func(reg uint8, buf []byte) bool {
		if len(buf) != 2 {
			return false
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		value, ok := w.regs[reg]
		if !ok {
			return false
		}
		buf[0] = byte(value >> 8)
		buf[1] = byte(value)
		return true
	})
	dev.SetWriteFunc(func(reg uint8, data []byte) bool {
		if len(data) != 2 {
			return false
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		w.regs[reg] = uint16(data[0])<<8 | uint16(data[1])
		return true
	})
	return w
}

// Set stores a word register value from the chip side.
func (w *SimWordDev) Set(reg uint8, value uint16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.regs[reg] = value
}

// Get returns the current word register value.
func (w *SimWordDev) Get(reg uint8) uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.regs[reg]
}

// Prime stores data into consecutive registers starting at reg.
func (d *SimDev) Prime(reg uint8, data ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range data {
		d.regs[reg+uint8(i)] = v
	}
}

// Reg returns the current value of a register.
func (d *SimDev) Reg(reg uint8) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[reg]
}

// FailRead makes every read touching reg fail with err until cleared with
// a nil err.
func (d *SimDev) FailRead(reg uint8, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.readErr, reg)
		return
	}
	d.readErr[reg] = err
}

// FailWrite makes every write starting at reg fail with err until cleared.
func (d *SimDev) FailWrite(reg uint8, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.writeErr, reg)
		return
	}
	d.writeErr[reg] = err
}

// Writes returns a copy of all recorded write transactions in order.
func (d *SimDev) Writes() []SimWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]SimWrite, len(d.writes))
	copy(ret, d.writes)
	return ret
}

// WritesTo returns the data of every write that started at reg, in order.
func (d *SimDev) WritesTo(reg uint8) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ret [][]byte
	for _, w := range d.writes {
		if w.Reg == reg {
			ret = append(ret, w.Data)
		}
	}
	return ret
}

// ClearWrites drops the recorded write log.
func (d *SimDev) ClearWrites() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = nil
}

// SetReadFunc installs a hook consulted before the register file on every
// read. Returning true means the hook filled buf and the register file is
// bypassed. The write log is still maintained for hooked devices.
func (d *SimDev) SetReadFunc(f func(reg uint8, buf []byte) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readFunc = f
}

// SetWriteFunc installs a hook consulted on every write. Returning true
// means the hook consumed the write and the register file stays untouched.
func (d *SimDev) SetWriteFunc(f func(reg uint8, data []byte) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeFunc = f
}
