package bus

import (
	"errors"
	"fmt"
	"sync"
	"syscall"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

// initHost loads the periph.io host drivers exactly once per process.
func initHost() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// I2C is a Bus backed by a periph.io I2C bus.
type I2C struct {
	mu     sync.Mutex
	name   string
	bus    i2c.BusCloser
	closed bool
}

// OpenI2C opens the named I2C bus. The empty name selects the first
// available bus on the host.
func OpenI2C(name string) (*I2C, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to init periph: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", name, err)
	}
	return &I2C{name: name, bus: b}, nil
}

func (b *I2C) String() string {
	return fmt.Sprintf("i2c(%s)", b.name)
}

// tx runs one write-then-read transaction with the register address
// prepended to the write part, mapping failures into *Error.
func (b *I2C) tx(op string, addr uint16, reg uint8, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return newError(op, addr, reg, ErrNotOpen)
	}
	buf := make([]byte, 0, len(w)+1)
	buf = append(buf, reg)
	buf = append(buf, w...)
	if err := b.bus.Tx(addr, buf, r); err != nil {
		if errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ENXIO) {
			err = fmt.Errorf("%w: %v", ErrNotResponding, err)
		}
		return newError(op, addr, reg, err)
	}
	return nil
}

func (b *I2C) ReadReg(addr uint16, reg uint8, buf []byte) error {
	return b.tx("read-reg", addr, reg, nil, buf)
}

func (b *I2C) ReadByteReg(addr uint16, reg uint8) (byte, error) {
	var buf [1]byte
	if err := b.tx("read-byte", addr, reg, nil, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *I2C) ReadWordReg(addr uint16, reg uint8) (uint16, error) {
	var buf [2]byte
	if err := b.tx("read-word", addr, reg, nil, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (b *I2C) ReadWordSwapped(addr uint16, reg uint8) (uint16, error) {
	var buf [2]byte
	if err := b.tx("read-word-swapped", addr, reg, nil, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (b *I2C) WriteReg(addr uint16, reg uint8, data []byte) error {
	return b.tx("write-reg", addr, reg, data, nil)
}

func (b *I2C) WriteByteReg(addr uint16, reg uint8, value byte) error {
	return b.tx("write-byte", addr, reg, []byte{value}, nil)
}

func (b *I2C) WriteWordReg(addr uint16, reg uint8, value uint16) error {
	return b.tx("write-word", addr, reg, []byte{byte(value), byte(value >> 8)}, nil)
}

func (b *I2C) WriteWordSwapped(addr uint16, reg uint8, value uint16) error {
	return b.tx("write-word-swapped", addr, reg, []byte{byte(value >> 8), byte(value)}, nil)
}

func (b *I2C) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.bus.Close()
}
