package bus

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// spiConn is the full-duplex exchange the register adapter runs on. Two
// backends exist, selected by the Library config field exactly like the
// GPIO library used to be chosen: "periph.io" or "go-rpio".
type spiConn interface {
	exchange(w []byte) ([]byte, error)
	close() error
}

type periphSPI struct {
	port spi.PortCloser
	conn spi.Conn
}

func openPeriphSPI(device string, speedHz int64) (*periphSPI, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to init periph: %w", err)
	}
	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi: %w", err)
	}
	conn, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect to spi device: %w", err)
	}
	return &periphSPI{port: port, conn: conn}, nil
}

func (s *periphSPI) exchange(w []byte) ([]byte, error) {
	r := make([]byte, len(w))
	if err := s.conn.Tx(w, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *periphSPI) close() error {
	return s.port.Close()
}

type rpioSPI struct{}

func openRpioSPI(speedHz int64) (*rpioSPI, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open rpio: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return nil, fmt.Errorf("failed to begin spi: %w", err)
	}
	rpio.SpiSpeed(int(speedHz))
	return &rpioSPI{}, nil
}

func (s *rpioSPI) exchange(w []byte) ([]byte, error) {
	buf := make([]byte, len(w))
	copy(buf, w)
	rpio.SpiExchange(buf)
	return buf, nil
}

func (s *rpioSPI) close() error {
	rpio.SpiEnd(rpio.Spi0)
	return rpio.Close()
}

// SPI adapts a full-duplex SPI connection to the register Bus. It follows
// the Bosch sensor convention: reads set the register MSB (0x80), writes
// clear it, and multi-byte writes are sent as address/value pairs. The
// device address argument is ignored; SPI has one device per chip select.
type SPI struct {
	mu     sync.Mutex
	dev    string
	conn   spiConn
	closed bool
}

// OpenSPI opens the given SPI device (e.g. "/dev/spidev0.0") at the given
// clock speed. library selects the backend, "periph.io" or "go-rpio"; the
// empty string means periph.io.
func OpenSPI(device string, speedHz int64, library string) (*SPI, error) {
	var (
		conn spiConn
		err  error
	)
	switch library {
	case "", "periph.io":
		conn, err = openPeriphSPI(device, speedHz)
	case "go-rpio":
		conn, err = openRpioSPI(speedHz)
	default:
		return nil, fmt.Errorf("unknown spi library: %s", library)
	}
	if err != nil {
		return nil, err
	}
	return &SPI{dev: device, conn: conn}, nil
}

func (b *SPI) String() string {
	return fmt.Sprintf("spi(%s)", b.dev)
}

func (b *SPI) read(op string, addr uint16, reg uint8, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return newError(op, addr, reg, ErrNotOpen)
	}
	w := make([]byte, len(buf)+1)
	w[0] = reg | 0x80
	r, err := b.conn.exchange(w)
	if err != nil {
		return newError(op, addr, reg, err)
	}
	copy(buf, r[1:])
	return nil
}

func (b *SPI) write(op string, addr uint16, reg uint8, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return newError(op, addr, reg, ErrNotOpen)
	}
	w := make([]byte, 0, 2*len(data))
	for i, v := range data {
		w = append(w, (reg+uint8(i))&0x7F, v)
	}
	if _, err := b.conn.exchange(w); err != nil {
		return newError(op, addr, reg, err)
	}
	return nil
}

func (b *SPI) ReadReg(addr uint16, reg uint8, buf []byte) error {
	return b.read("read-reg", addr, reg, buf)
}

func (b *SPI) ReadByteReg(addr uint16, reg uint8) (byte, error) {
	var buf [1]byte
	if err := b.read("read-byte", addr, reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *SPI) ReadWordReg(addr uint16, reg uint8) (uint16, error) {
	var buf [2]byte
	if err := b.read("read-word", addr, reg, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (b *SPI) ReadWordSwapped(addr uint16, reg uint8) (uint16, error) {
	var buf [2]byte
	if err := b.read("read-word-swapped", addr, reg, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (b *SPI) WriteReg(addr uint16, reg uint8, data []byte) error {
	return b.write("write-reg", addr, reg, data)
}

func (b *SPI) WriteByteReg(addr uint16, reg uint8, value byte) error {
	return b.write("write-byte", addr, reg, []byte{value})
}

func (b *SPI) WriteWordReg(addr uint16, reg uint8, value uint16) error {
	return b.write("write-word", addr, reg, []byte{byte(value), byte(value >> 8)})
}

func (b *SPI) WriteWordSwapped(addr uint16, reg uint8, value uint16) error {
	return b.write("write-word-swapped", addr, reg, []byte{byte(value >> 8), byte(value)})
}

func (b *SPI) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.close()
}
