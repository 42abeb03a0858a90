package i2c

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

// fakeBus is a minimal periph.io/x/conn/v3/i2c.Bus for testing the
// arbiter's locking and register encode/decode without real hardware.
// It models the device as 256 bytes of register memory: a write is
// command byte + payload, a read is command byte then payload.
type fakeBus struct {
	mu   sync.Mutex
	mem  [256]byte
	fail error
}

func newFakeBus() *fakeBus {
	return &fakeBus{}
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	if len(w) < 1 {
		return errors.New("fakeBus: missing command byte")
	}
	reg := int(w[0])
	if len(w) > 1 {
		copy(b.mem[reg:], w[1:])
	}
	if len(r) > 0 {
		copy(r, b.mem[reg:])
	}
	return nil
}

func (b *fakeBus) SetSpeed(f physic.Frequency) error {
	return nil
}

func (b *fakeBus) String() string {
	return "fakeBus"
}

func TestArbiterReadWriteRoundTrip(t *testing.T) {
	bus := newFakeBus()
	a := New(bus)

	require.NoError(t, a.WriteU32(DefaultSlaveAddr, 0x10, 0xDEADBEEF))
	v, err := a.ReadU32(DefaultSlaveAddr, 0x10)
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, v)
}

func TestArbiterRestartBusyWindowRejectsAccessThenClears(t *testing.T) {
	bus := newFakeBus()
	a := New(bus)

	require.NoError(t, a.RestartDevice(DefaultSlaveAddr, 30*time.Millisecond))

	_, err := a.ReadU32(DefaultSlaveAddr, 0x10)
	require.ErrorIs(t, err, ErrDeviceBusy)

	time.Sleep(40 * time.Millisecond)
	_, err = a.ReadU32(DefaultSlaveAddr, 0x10)
	require.NoError(t, err)
}

func TestArbiterRestartWhileBusyFails(t *testing.T) {
	bus := newFakeBus()
	a := New(bus)

	require.NoError(t, a.RestartDevice(DefaultSlaveAddr, 50*time.Millisecond))
	err := a.RestartDevice(DefaultSlaveAddr, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrRestartInProgress)
}

func TestArbiterReadWriteBytesRoundTrip(t *testing.T) {
	bus := newFakeBus()
	a := New(bus)

	data := []byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, a.WriteBytes(DefaultSlaveAddr, 0x30, data))
	got, err := a.ReadBytes(DefaultSlaveAddr, 0x30, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestArbiterReadBytesTruncatesToBlockLimit(t *testing.T) {
	bus := newFakeBus()
	a := New(bus)

	got, err := a.ReadBytes(DefaultSlaveAddr, 0x00, 64)
	require.NoError(t, err)
	require.Len(t, got, maxBlockLen)
}

func TestArbiterSerializesConcurrentAccess(t *testing.T) {
	bus := newFakeBus()
	a := New(bus)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = a.WriteU32(DefaultSlaveAddr, 0x20, uint32(n))
			_, _ = a.ReadU32(DefaultSlaveAddr, 0x20)
		}(i)
	}
	wg.Wait()
}
