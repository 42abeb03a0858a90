// Package i2c serializes access to the card's SMBus-style side
// channel and models the "busy window" a bus retrain
// (RestartSmba) imposes on every other transaction.
//
// Grounded on drivers/ltc4015's Tx-based register access idiom
// (fixed-size scratch buffers, no per-call allocation) and on the
// original I2cBase.cpp/I2cAccess.cpp two-mutex arbiter: a fast
// busyMu guards the "is a restart outstanding" check, while a
// slower busMu serializes the actual register transaction so only
// one SMBus transfer is ever in flight.
package i2c

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// RestartWait is the default settle time a bus retrain imposes,
// matching SMBA_RESTART_WAIT_MS from the wire protocol header.
const RestartWait = 5000 * time.Millisecond

// RestartRegister is the SMBA control register a restart is issued
// through.
const RestartRegister = 0x17

// DefaultSlaveAddr is the SMC slave address used by generic
// read/write requests, matching write_slave == read_slave == 0x28 in
// the original arbiter.
const DefaultSlaveAddr uint16 = 0x28

const maxBlockLen = 32

// ErrDeviceBusy is returned by ReadU32/WriteU32 while a restart's busy
// window has not yet elapsed.
var ErrDeviceBusy = fmt.Errorf("i2c: device busy")

// ErrRestartInProgress is returned by RestartDevice itself when a
// restart is already outstanding; it never queues behind one.
var ErrRestartInProgress = fmt.Errorf("i2c: restart in progress")

// Arbiter serializes all access to one SMBus-style bus.
type Arbiter struct {
	bus i2c.Bus

	busyMu    sync.Mutex
	busy      bool
	busyUntil time.Time

	busMu sync.Mutex

	w [3 + maxBlockLen]byte
	r [2 + maxBlockLen]byte
}

// New wraps an already-opened periph.io I2C bus (typically
// periph.io/x/host/v3's sysfs driver against /dev/i2c-N).
func New(bus i2c.Bus) *Arbiter {
	return &Arbiter{bus: bus}
}

// isBusy reports whether a restart's busy window is still open,
// lazily clearing it once the wait given to RestartDevice has
// elapsed — mirrors
// is_device_busy's lazy-clear behavior in the original arbiter.
func (a *Arbiter) isBusy() (bool, time.Duration) {
	a.busyMu.Lock()
	defer a.busyMu.Unlock()
	if !a.busy {
		return false, 0
	}
	remaining := time.Until(a.busyUntil)
	if remaining <= 0 {
		a.busy = false
		return false, 0
	}
	return true, remaining
}

// RestartDevice issues a bus retrain by writing the slave address
// into the restart register, then arms the busy window. The address
// byte is passed through opaquely. It fails immediately with
// ErrRestartInProgress if a restart is already outstanding — it never
// queues behind one.
func (a *Arbiter) RestartDevice(addr uint16, wait time.Duration) error {
	a.busyMu.Lock()
	if a.busy && time.Now().Before(a.busyUntil) {
		a.busyMu.Unlock()
		return ErrRestartInProgress
	}
	a.busy = true
	a.busyUntil = time.Now().Add(wait)
	a.busyMu.Unlock()

	a.busMu.Lock()
	defer a.busMu.Unlock()
	return a.writeRegister(DefaultSlaveAddr, RestartRegister, uint32(addr))
}

// IsBusy reports the outstanding busy window and time remaining, for
// GetSmbaInfo.
func (a *Arbiter) IsBusy() (bool, time.Duration) {
	return a.isBusy()
}

// ReadU32 reads a little-endian 32-bit register over SMBus block read.
func (a *Arbiter) ReadU32(addr uint16, reg byte) (uint32, error) {
	if busy, remaining := a.isBusy(); busy {
		return 0, fmt.Errorf("i2c: %w (%s remaining)", ErrDeviceBusy, remaining.Round(time.Millisecond))
	}
	a.busMu.Lock()
	defer a.busMu.Unlock()
	return a.readRegister(addr, reg)
}

// ReadBytes reads n bytes starting at reg. Lengths beyond the SMBus
// block limit truncate to 32.
func (a *Arbiter) ReadBytes(addr uint16, reg byte, n int) ([]byte, error) {
	if busy, remaining := a.isBusy(); busy {
		return nil, fmt.Errorf("i2c: %w (%s remaining)", ErrDeviceBusy, remaining.Round(time.Millisecond))
	}
	if n > maxBlockLen {
		n = maxBlockLen
	}
	a.busMu.Lock()
	defer a.busMu.Unlock()
	a.w[0] = reg
	if err := a.bus.Tx(addr, a.w[:1], a.r[:n]); err != nil {
		return nil, fmt.Errorf("i2c: read %d bytes @0x%x: %w", n, reg, err)
	}
	out := make([]byte, n)
	copy(out, a.r[:n])
	return out, nil
}

// WriteBytes writes data starting at reg. Lengths beyond the SMBus
// block limit truncate to 32.
func (a *Arbiter) WriteBytes(addr uint16, reg byte, data []byte) error {
	if busy, remaining := a.isBusy(); busy {
		return fmt.Errorf("i2c: %w (%s remaining)", ErrDeviceBusy, remaining.Round(time.Millisecond))
	}
	if len(data) > maxBlockLen {
		data = data[:maxBlockLen]
	}
	a.busMu.Lock()
	defer a.busMu.Unlock()
	a.w[0] = reg
	copy(a.w[1:], data)
	if err := a.bus.Tx(addr, a.w[:1+len(data)], nil); err != nil {
		return fmt.Errorf("i2c: write %d bytes @0x%x: %w", len(data), reg, err)
	}
	return nil
}

// WriteU32 writes a little-endian 32-bit register over SMBus block write.
func (a *Arbiter) WriteU32(addr uint16, reg byte, val uint32) error {
	if busy, remaining := a.isBusy(); busy {
		return fmt.Errorf("i2c: %w (%s remaining)", ErrDeviceBusy, remaining.Round(time.Millisecond))
	}
	a.busMu.Lock()
	defer a.busMu.Unlock()
	return a.writeRegister(addr, reg, val)
}

// readRegister must be called with busMu held.
func (a *Arbiter) readRegister(addr uint16, reg byte) (uint32, error) {
	a.w[0] = reg
	if err := a.bus.Tx(addr, a.w[:1], a.r[:4]); err != nil {
		return 0, fmt.Errorf("i2c: read reg 0x%x: %w", reg, err)
	}
	return buf2u32(a.r[:4]), nil
}

// writeRegister must be called with busMu held.
func (a *Arbiter) writeRegister(addr uint16, reg byte, val uint32) error {
	a.w[0] = reg
	a.w[1] = byte(val)
	a.w[2] = byte(val >> 8)
	a.w[3] = byte(val >> 16)
	a.w[4] = byte(val >> 24)
	if err := a.bus.Tx(addr, a.w[:5], nil); err != nil {
		return fmt.Errorf("i2c: write reg 0x%x: %w", reg, err)
	}
	return nil
}

func buf2u32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
