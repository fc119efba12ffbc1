// Package bus provides the register-level transaction interface the sensor
// drivers are written against, with backends for I2C (periph.io) and SPI
// (periph.io or go-rpio, selectable in the config), plus an in-memory
// simulated bus used by tests and the simulation platform.
//
// The operation set mirrors the SMBus access patterns the supported chips
// need: byte, word (both byte orders) and block transfers, always qualified
// by device address and register. All failures are reported as *Error.
package bus

import (
	"errors"
	"fmt"
)

// Failure causes wrapped inside *Error. ErrNotResponding covers transfers
// the device did not acknowledge, ErrNotOpen transfers attempted on a bus
// that is closed (or was never opened).
var (
	ErrNotResponding = errors.New("device not responding")
	ErrNotOpen       = errors.New("bus not open")
)

// Bus is a shared register-transaction bus. One Bus value represents one
// physical bus; all devices on it are addressed per call. Implementations
// serialize transactions internally, so a Bus may be shared between
// drivers without further locking.
type Bus interface {
	// ReadReg fills buf with len(buf) bytes starting at reg.
	ReadReg(addr uint16, reg uint8, buf []byte) error
	ReadByteReg(addr uint16, reg uint8) (byte, error)
	// ReadWordReg reads a 16 bit value in SMBus byte order (low byte first).
	ReadWordReg(addr uint16, reg uint8) (uint16, error)
	// ReadWordSwapped reads a 16 bit value high byte first, for chips that
	// store registers big-endian.
	ReadWordSwapped(addr uint16, reg uint8) (uint16, error)
	// WriteReg writes len(data) bytes starting at reg.
	WriteReg(addr uint16, reg uint8, data []byte) error
	WriteByteReg(addr uint16, reg uint8, value byte) error
	WriteWordReg(addr uint16, reg uint8, value uint16) error
	WriteWordSwapped(addr uint16, reg uint8, value uint16) error
	Close() error
}

// Error describes a failed bus transaction. Drivers propagate it unchanged;
// no retries happen below the application layer.
type Error struct {
	Op   string // "read-reg", "write-byte", ...
	Addr uint16
	Reg  uint8
	Err  error // ErrNotResponding, ErrNotOpen or the raw transport error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bus %s addr 0x%02x reg 0x%02x: %v", e.Op, e.Addr, e.Reg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, addr uint16, reg uint8, err error) *Error {
	return &Error{Op: op, Addr: addr, Reg: reg, Err: err}
}
