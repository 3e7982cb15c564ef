package relay

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/microscpi/pkg"
)

// latch returns the two writes that latch a port value.
func latch(addr uint16, data byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{RegWrite, data | 0xC0}},
		{Addr: addr, W: []byte{RegWrite, data}},
	}
}

func openAll(addr uint16) []i2ctest.IO {
	return append(latch(addr, 0x40), latch(addr, 0x80)...)
}

func TestPort(t *testing.T) {
	p := Port{select_: 2}.With(0, true).With(5, true)
	if got := p.Data(); got != 0xA1 {
		t.Errorf("Data() = %#x, want %#x", got, 0xA1)
	}
	if got := p.Clock(); got != 0xE1 {
		t.Errorf("Clock() = %#x, want %#x", got, 0xE1)
	}
	if q := p.With(5, false); q.Bit(5) || !p.Bit(5) {
		t.Error("With() modified the receiver")
	}
}

func TestNewOpensAll(t *testing.T) {
	bus := &i2ctest.Playback{Ops: openAll(0x48), DontPanic: true}
	c, err := New(bus, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Address() != 0x48 {
		t.Errorf("Address() = %#x, want %#x", c.Address(), 0x48)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("playback not drained: %v", err)
	}
}

func TestNewBadAddress(t *testing.T) {
	_, err := New(&i2ctest.Playback{DontPanic: true}, 4)
	if !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("New(4) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

func TestCloseCrosspoints(t *testing.T) {
	tests := []struct {
		ch   Channel
		data byte // port value after closing ch from all-open
	}{
		{101, 0x81},
		{102, 0x84},
		{103, 0x90},
		{104, 0x60},
		{105, 0x48},
		{106, 0x42},
		{201, 0x82},
		{202, 0x88},
		{203, 0xA0},
		{204, 0x50},
		{205, 0x44},
		{206, 0x41},
	}

	for _, tt := range tests {
		t.Run(tt.ch.String(), func(t *testing.T) {
			ops := append(openAll(BaseAddress), latch(BaseAddress, tt.data)...)
			bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
			c, err := New(bus, 0)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := c.Close(tt.ch); err != nil {
				t.Fatalf("Close(%v) error = %v", tt.ch, err)
			}
			if closed, _ := c.IsClosed(tt.ch); !closed {
				t.Errorf("IsClosed(%v) = false, want true", tt.ch)
			}
			if err := bus.Close(); err != nil {
				t.Errorf("playback not drained: %v", err)
			}
		})
	}
}

func TestCycles(t *testing.T) {
	ops := openAll(BaseAddress)
	ops = append(ops, latch(BaseAddress, 0x81)...) // close 101
	ops = append(ops, latch(BaseAddress, 0x80)...) // open 101
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	c, err := New(bus, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c.Close(101)
	c.Close(101) // already closed, no bus traffic
	c.Open(101)
	c.Open(101)
	if got := c.Cycles(); got != 2 {
		t.Errorf("Cycles() = %d, want 2", got)
	}
	c.ResetCycles()
	if got := c.Cycles(); got != 0 {
		t.Errorf("Cycles() after reset = %d, want 0", got)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("playback not drained: %v", err)
	}
}

func TestInvalidChannel(t *testing.T) {
	bus := &i2ctest.Playback{Ops: openAll(BaseAddress), DontPanic: true}
	c, err := New(bus, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, ch := range []Channel{0, 100, 107, 301} {
		if err := c.Close(ch); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("Close(%d) error = %v, want %v", ch, err, pkg.ErrInvalidParameter)
		}
		if _, err := c.IsClosed(ch); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("IsClosed(%d) error = %v, want %v", ch, err, pkg.ErrInvalidParameter)
		}
	}
}

type failingBus struct {
	fail bool
}

var errBus = errors.New("nak")

func (b *failingBus) String() string                  { return "failing" }
func (b *failingBus) SetSpeed(physic.Frequency) error { return nil }
func (b *failingBus) Close() error                    { return nil }
func (b *failingBus) Tx(addr uint16, w, r []byte) error {
	if b.fail {
		return errBus
	}
	return nil
}

func TestBusErrorKeepsState(t *testing.T) {
	bus := &failingBus{}
	c, err := New(bus, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bus.fail = true
	if err := c.Close(104); !errors.Is(err, errBus) {
		t.Errorf("Close() error = %v, want %v", err, errBus)
	}
	if closed, _ := c.IsClosed(104); closed {
		t.Error("IsClosed() = true after failed write")
	}
	if c.Cycles() != 0 {
		t.Errorf("Cycles() = %d after failed write, want 0", c.Cycles())
	}
}

func TestReadPort(t *testing.T) {
	ops := append(openAll(BaseAddress),
		i2ctest.IO{Addr: BaseAddress, W: []byte{RegPort1}, R: []byte{0x15}})
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	c, err := New(bus, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := c.ReadPort(1)
	if err != nil {
		t.Fatalf("ReadPort(1) error = %v", err)
	}
	if got != 0x15 {
		t.Errorf("ReadPort(1) = %#x, want %#x", got, 0x15)
	}
}
