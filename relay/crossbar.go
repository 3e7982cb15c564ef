package relay

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"

	"github.com/ardnew/microscpi/pkg"
)

// SLG46826 addressing and registers.
const (
	BaseAddress = 0x08 // 7-bit, before the two address select bits
	RegWrite    = 0x7A
	RegPort0    = 0x76
	RegPort1    = 0x79
)

// Crossbar geometry.
const (
	Rows    = 2
	Columns = 6
)

// Port is the 6-bit relay state of one expander port. It is a value type:
// With returns a new Port instead of modifying the receiver.
type Port struct {
	select_ uint8 // port select bits written above the data bits
	bits    uint8
}

// With returns p with bit set or cleared.
func (p Port) With(bit int, on bool) Port {
	if on {
		p.bits |= 1 << bit
	} else {
		p.bits &^= 1 << bit
	}
	return p
}

// Bit reports whether bit is set.
func (p Port) Bit(bit int) bool {
	return p.bits&(1<<bit) != 0
}

// Data returns the register value that latches the port.
func (p Port) Data() byte {
	return p.bits&0x3F | p.select_<<6
}

// Clock returns the register value written before Data.
func (p Port) Clock() byte {
	return p.Data() | 0xC0
}

type crosspoint struct {
	port int
	bit  int
}

// crosspoints maps [row-1][column-1] to a port bit.
var crosspoints = [Rows][Columns]crosspoint{
	{{1, 0}, {1, 2}, {1, 4}, {0, 5}, {0, 3}, {0, 1}},
	{{1, 1}, {1, 3}, {1, 5}, {0, 4}, {0, 2}, {0, 0}},
}

// Crossbar drives a 2x6 relay matrix behind an SLG46826 I/O expander.
type Crossbar struct {
	mutex  sync.Mutex
	dev    i2c.Dev
	ports  [2]Port
	cycles uint64
}

// AddressFor returns the I2C address the expander answers on with address
// select a.
func AddressFor(a uint8) uint16 {
	return BaseAddress | uint16(a)<<6
}

// New opens every relay of the expander at address select a (0-3) on bus.
func New(bus i2c.Bus, a uint8) (*Crossbar, error) {
	if a > 3 {
		return nil, fmt.Errorf("%w: address select %d", pkg.ErrInvalidParameter, a)
	}
	c := &Crossbar{
		dev: i2c.Dev{Bus: bus, Addr: AddressFor(a)},
		ports: [2]Port{
			{select_: 1},
			{select_: 2},
		},
	}
	if err := c.OpenAll(); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentRelay, "crossbar ready", "addr", c.dev.Addr, "bus", bus.String())
	return c, nil
}

// Address returns the expander's 7-bit I2C address.
func (c *Crossbar) Address() uint16 {
	return c.dev.Addr
}

// send latches port i.
func (c *Crossbar) send(i int) error {
	p := c.ports[i]
	if err := c.dev.Tx([]byte{RegWrite, p.Clock()}, nil); err != nil {
		return fmt.Errorf("relay port %d clock: %w", i, err)
	}
	if err := c.dev.Tx([]byte{RegWrite, p.Data()}, nil); err != nil {
		return fmt.Errorf("relay port %d data: %w", i, err)
	}
	return nil
}

func (c *Crossbar) set(ch Channel, on bool) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: channel %d", pkg.ErrInvalidParameter, ch)
	}
	xp := crosspoints[ch.Row()-1][ch.Column()-1]

	c.mutex.Lock()
	defer c.mutex.Unlock()
	prev := c.ports[xp.port]
	if prev.Bit(xp.bit) == on {
		return nil
	}
	c.ports[xp.port] = prev.With(xp.bit, on)
	if err := c.send(xp.port); err != nil {
		c.ports[xp.port] = prev
		return err
	}
	c.cycles++
	pkg.LogDebug(pkg.ComponentRelay, "relay switched", "channel", ch, "closed", on)
	return nil
}

// Close connects the crosspoint ch.
func (c *Crossbar) Close(ch Channel) error {
	return c.set(ch, true)
}

// Open disconnects the crosspoint ch.
func (c *Crossbar) Open(ch Channel) error {
	return c.set(ch, false)
}

// IsClosed reports the latched state of ch.
func (c *Crossbar) IsClosed(ch Channel) (bool, error) {
	if !ch.Valid() {
		return false, fmt.Errorf("%w: channel %d", pkg.ErrInvalidParameter, ch)
	}
	xp := crosspoints[ch.Row()-1][ch.Column()-1]
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ports[xp.port].Bit(xp.bit), nil
}

// OpenAll disconnects every crosspoint.
func (c *Crossbar) OpenAll() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i := range c.ports {
		c.ports[i] = Port{select_: c.ports[i].select_}
		if err := c.send(i); err != nil {
			return err
		}
	}
	return nil
}

// ReadPort reads back the input register of port i.
func (c *Crossbar) ReadPort(i int) (byte, error) {
	reg := byte(RegPort0)
	if i == 1 {
		reg = RegPort1
	}
	var r [1]byte
	if err := c.dev.Tx([]byte{reg}, r[:]); err != nil {
		return 0, fmt.Errorf("relay port %d read: %w", i, err)
	}
	return r[0], nil
}

// Cycles returns the number of relay state changes since the last reset.
func (c *Crossbar) Cycles() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.cycles
}

// ResetCycles clears the cycle counter.
func (c *Crossbar) ResetCycles() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cycles = 0
}
