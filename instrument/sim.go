package instrument

import (
	"fmt"
	"slices"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/microscpi/pkg"
)

// Simulated hardware backs the instrument when no board is attached. The
// simulator command and tests use it.

type simPin struct {
	mode  PinMode
	level bool
	freq  physic.Frequency
	duty  uint16
}

// SimPins is an in-memory GPIO bank. Input pins read the level last set
// with [SimPins.Drive].
type SimPins struct {
	mutex sync.Mutex
	pins  map[int]*simPin
}

// NewSimPins returns a bank with the given pins, all inputs.
func NewSimPins(pins ...int) *SimPins {
	s := &SimPins{pins: make(map[int]*simPin, len(pins))}
	for _, p := range pins {
		s.pins[p] = &simPin{}
	}
	return s
}

func (s *SimPins) pin(n int) (*simPin, error) {
	p, ok := s.pins[n]
	if !ok {
		return nil, fmt.Errorf("%w: pin %d", pkg.ErrInvalidParameter, n)
	}
	return p, nil
}

// SetMode implements [Pins].
func (s *SimPins) SetMode(n int, mode PinMode) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, err := s.pin(n)
	if err != nil {
		return err
	}
	if mode > ModePWM {
		return fmt.Errorf("%w: mode %v", pkg.ErrInvalidParameter, mode)
	}
	switch {
	case mode != ModePWM:
		p.freq, p.duty = 0, 0
	case p.mode != ModePWM:
		p.freq, p.duty = DefaultPWMFrequency, 0
	}
	p.mode = mode
	return nil
}

// Mode implements [Pins].
func (s *SimPins) Mode(n int) (PinMode, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, err := s.pin(n)
	if err != nil {
		return 0, err
	}
	return p.mode, nil
}

// Write implements [Pins].
func (s *SimPins) Write(n int, high bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, err := s.pin(n)
	if err != nil {
		return err
	}
	if p.mode != ModeOutput && p.mode != ModeOpenDrain {
		return fmt.Errorf("%w: pin %d is %v", pkg.ErrBusy, n, p.mode)
	}
	p.level = high
	return nil
}

// Read implements [Pins].
func (s *SimPins) Read(n int) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, err := s.pin(n)
	if err != nil {
		return false, err
	}
	return p.level, nil
}

// SetPWM implements [Pins].
func (s *SimPins) SetPWM(n int, freq physic.Frequency, duty uint16) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, err := s.pin(n)
	if err != nil {
		return err
	}
	if p.mode != ModePWM {
		return fmt.Errorf("%w: pin %d is %v", pkg.ErrBusy, n, p.mode)
	}
	if freq < 8*physic.Hertz || freq > 62500*physic.KiloHertz {
		return fmt.Errorf("%w: pwm frequency %v", pkg.ErrInvalidParameter, freq)
	}
	p.freq, p.duty = freq, duty
	return nil
}

// PWM implements [Pins].
func (s *SimPins) PWM(n int) (physic.Frequency, uint16, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, err := s.pin(n)
	if err != nil {
		return 0, 0, err
	}
	return p.freq, p.duty, nil
}

// Drive sets the level an input pin reads.
func (s *SimPins) Drive(n int, high bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if p, ok := s.pins[n]; ok {
		p.level = high
	}
}

// SimADC returns preset readings.
type SimADC struct {
	mutex    sync.Mutex
	channels map[int]uint16
}

// NewSimADC returns an ADC with the given channels reading zero.
func NewSimADC(channels ...int) *SimADC {
	a := &SimADC{channels: make(map[int]uint16, len(channels))}
	for _, c := range channels {
		a.channels[c] = 0
	}
	return a
}

// Set presets the reading of channel.
func (a *SimADC) Set(channel int, v uint16) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.channels[channel] = v
}

// Read implements [ADC].
func (a *SimADC) Read(channel int) (uint16, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	v, ok := a.channels[channel]
	if !ok {
		return 0, fmt.Errorf("%w: adc channel %d", pkg.ErrInvalidParameter, channel)
	}
	return v, nil
}

// SimClock accepts frequencies between Min and Max.
type SimClock struct {
	Min, Max physic.Frequency

	mutex sync.Mutex
	freq  physic.Frequency
}

// NewSimClock returns a clock running at [DefaultClock] that accepts
// 10 MHz to 250 MHz.
func NewSimClock() *SimClock {
	return &SimClock{Min: 10 * physic.MegaHertz, Max: 250 * physic.MegaHertz, freq: DefaultClock}
}

// SetFrequency implements [Clock].
func (c *SimClock) SetFrequency(f physic.Frequency) error {
	if f < c.Min || f > c.Max {
		return fmt.Errorf("%w: clock %v", pkg.ErrInvalidParameter, f)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.freq = f
	return nil
}

// Frequency implements [Clock].
func (c *SimClock) Frequency() physic.Frequency {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.freq
}

// SimLED records the error lamp state and identification pulses.
type SimLED struct {
	mutex  sync.Mutex
	on     bool
	pulses int
}

// SetError implements scpi.Indicator.
func (l *SimLED) SetError(on bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.on = on
}

// On reports whether the lamp is lit.
func (l *SimLED) On() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.on
}

// Pulse flashes the lamp for INDICATOR_PULSE.
func (l *SimLED) Pulse() {
	l.mutex.Lock()
	l.pulses++
	l.mutex.Unlock()
	pkg.LogInfo(pkg.ComponentInstrument, "indicator pulse")
}

// Pulses returns the number of identification pulses seen.
func (l *SimLED) Pulses() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.pulses
}

// SimBus is an I2C bus with register-file targets. A write sets the
// register pointer from its first byte and stores the rest from there; a
// read returns bytes from the pointer. Addresses without a target NAK.
type SimBus struct {
	mutex   sync.Mutex
	name    string
	speed   physic.Frequency
	targets map[uint16]*simTarget
}

type simTarget struct {
	regs [256]byte
	ptr  byte
}

// NewSimBus returns a bus with a target at each address.
func NewSimBus(name string, addrs ...uint16) *SimBus {
	b := &SimBus{name: name, speed: DefaultI2CFrequency, targets: make(map[uint16]*simTarget)}
	for _, a := range addrs {
		b.targets[a] = &simTarget{}
	}
	return b
}

// String implements [i2c.Bus].
func (b *SimBus) String() string {
	return b.name
}

// SetSpeed implements [i2c.Bus].
func (b *SimBus) SetSpeed(f physic.Frequency) error {
	if f < 10*physic.KiloHertz || f > 1*physic.MegaHertz {
		return fmt.Errorf("%w: i2c speed %v", pkg.ErrInvalidParameter, f)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.speed = f
	return nil
}

// Speed returns the last speed set.
func (b *SimBus) Speed() physic.Frequency {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.speed
}

// Tx implements [i2c.Bus].
func (b *SimBus) Tx(addr uint16, w, r []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	t, ok := b.targets[addr]
	if !ok {
		return fmt.Errorf("%w: no ack from %#x", pkg.ErrNotConnected, addr)
	}
	if len(w) > 0 {
		t.ptr = w[0]
		for _, v := range w[1:] {
			t.regs[t.ptr] = v
			t.ptr++
		}
	}
	for i := range r {
		r[i] = t.regs[t.ptr]
		t.ptr++
	}
	return nil
}

// Register returns the content of reg at addr.
func (b *SimBus) Register(addr uint16, reg byte) byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if t, ok := b.targets[addr]; ok {
		return t.regs[reg]
	}
	return 0
}

// Targets returns the populated addresses in ascending order.
func (b *SimBus) Targets() []uint16 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	addrs := make([]uint16, 0, len(b.targets))
	for a := range b.targets {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	return addrs
}

// SimSPI loops MOSI back to MISO.
type SimSPI struct {
	mutex  sync.Mutex
	freq   physic.Frequency
	mode   spi.Mode
	csHigh bool
	sent   [][]byte
}

// Configure implements [SPI].
func (s *SimSPI) Configure(f physic.Frequency, mode spi.Mode) error {
	if f <= 0 || f > 62500*physic.KiloHertz {
		return fmt.Errorf("%w: spi frequency %v", pkg.ErrInvalidParameter, f)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.freq, s.mode = f, mode
	return nil
}

// Tx implements [SPI].
func (s *SimSPI) Tx(w, r []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sent = append(s.sent, slices.Clone(w))
	copy(r, w)
	return nil
}

// SetChipSelect implements [SPI].
func (s *SimSPI) SetChipSelect(activeHigh bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.csHigh = activeHigh
	return nil
}

// ChipSelectActiveHigh reports the configured chip-select polarity.
func (s *SimSPI) ChipSelectActiveHigh() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.csHigh
}

// Sent returns every buffer written so far.
func (s *SimSPI) Sent() [][]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return slices.Clone(s.sent)
}

var (
	_ Pins    = (*SimPins)(nil)
	_ ADC     = (*SimADC)(nil)
	_ Clock   = (*SimClock)(nil)
	_ SPI     = (*SimSPI)(nil)
	_ i2c.Bus = (*SimBus)(nil)
)
