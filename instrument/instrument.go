package instrument

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/relay"
	"github.com/ardnew/microscpi/scpi"
)

// SCPIVersion is reported by SYSTem:VERSion?.
const SCPIVersion = "1999.0"

// Default header suffixes.
var (
	DefaultPins        = []int{6, 7, 14, 15, 20, 21, 22}
	DefaultADCChannels = []int{0, 1, 2}
)

// Identity is the *IDN? response.
type Identity struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Serial       string `yaml:"serial"`
	Firmware     string `yaml:"firmware"`
}

// String joins the four fields with commas.
func (id Identity) String() string {
	return strings.Join([]string{id.Manufacturer, id.Model, id.Serial, id.Firmware}, ",")
}

// Config selects the hardware behind the command set. Commands are only
// registered for the hardware that is present.
type Config struct {
	Identity    Identity
	Description string

	Pins        Pins
	PinNumbers  []int // defaults to DefaultPins
	ADC         ADC
	ADCChannels []int // defaults to DefaultADCChannels
	Clock       Clock

	// I2C and SPI are indexed by header suffix: I2C0 is I2C[0].
	I2C []i2c.Bus
	SPI []SPI

	Crossbar *relay.Crossbar

	Indicator scpi.Indicator
	Observer  scpi.Observer
}

type i2cPort struct {
	bus    i2c.Bus
	freq   physic.Frequency
	tenBit bool
}

type spiPort struct {
	dev    SPI
	freq   physic.Frequency
	mode   spi.Mode
	csHigh bool
}

// Instrument is the reference command set bound to an engine.
type Instrument struct {
	cfg    Config
	engine *scpi.Engine
	status Status
	i2c    []i2cPort
	spi    []spiPort
}

// New builds the command table for cfg and applies default bus settings.
func New(cfg Config) *Instrument {
	if len(cfg.PinNumbers) == 0 {
		cfg.PinNumbers = DefaultPins
	}
	if len(cfg.ADCChannels) == 0 {
		cfg.ADCChannels = DefaultADCChannels
	}
	in := &Instrument{cfg: cfg}
	for _, b := range cfg.I2C {
		in.i2c = append(in.i2c, i2cPort{bus: b})
	}
	for _, d := range cfg.SPI {
		in.spi = append(in.spi, spiPort{dev: d})
	}
	if err := in.resetBuses(); err != nil {
		pkg.LogWarn(pkg.ComponentInstrument, "bus defaults not applied", "error", err)
	}

	table := scpi.NewTable()
	in.registerCommon(table)
	in.registerSystem(table)
	if cfg.Pins != nil {
		in.registerPins(table)
	}
	if cfg.Clock != nil {
		in.registerMachine(table)
	}
	if len(in.i2c) > 0 {
		in.registerI2C(table)
	}
	if len(in.spi) > 0 {
		in.registerSPI(table)
	}
	if cfg.ADC != nil {
		in.registerADC(table)
	}
	if cfg.Crossbar != nil {
		in.registerRoute(table)
	}

	in.engine = scpi.NewEngine(scpi.Config{
		Table:     table,
		Indicator: cfg.Indicator,
		Observer:  scpi.Observers{&in.status, cfg.Observer},
	})
	pkg.LogDebug(pkg.ComponentInstrument, "command table built",
		"commands", table.Len(),
		"identity", cfg.Identity.String())
	return in
}

// Engine returns the SCPI engine running the command set.
func (in *Instrument) Engine() *scpi.Engine {
	return in.engine
}

// Status returns the IEEE 488.2 status registers.
func (in *Instrument) Status() *Status {
	return &in.status
}

// Reset returns the hardware to its power-on state: pins become inputs, bus
// settings return to defaults and every relay opens. The error queue is
// left alone.
func (in *Instrument) Reset() error {
	var errs []error
	if in.cfg.Pins != nil {
		for _, p := range in.cfg.PinNumbers {
			if err := in.cfg.Pins.SetMode(p, ModeInput); err != nil {
				errs = append(errs, fmt.Errorf("pin %d: %w", p, err))
			}
		}
	}
	if err := in.resetBuses(); err != nil {
		errs = append(errs, err)
	}
	if in.cfg.Crossbar != nil {
		if err := in.cfg.Crossbar.OpenAll(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (in *Instrument) resetBuses() error {
	var errs []error
	for i := range in.i2c {
		p := &in.i2c[i]
		p.freq, p.tenBit = DefaultI2CFrequency, false
		if p.bus == nil {
			continue
		}
		if err := p.bus.SetSpeed(p.freq); err != nil {
			errs = append(errs, fmt.Errorf("i2c%d: %w", i, err))
		}
	}
	for i := range in.spi {
		p := &in.spi[i]
		p.freq, p.mode, p.csHigh = DefaultSPIFrequency, spi.Mode0, false
		if p.dev == nil {
			continue
		}
		if err := p.dev.Configure(p.freq, p.mode); err != nil {
			errs = append(errs, fmt.Errorf("spi%d: %w", i, err))
		}
		if err := p.dev.SetChipSelect(false); err != nil {
			errs = append(errs, fmt.Errorf("spi%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func kw(long, short string, options ...string) scpi.Keyword {
	return scpi.NewKeyword(long, short, options...)
}

func suffixes(ns []int) []string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = strconv.Itoa(n)
	}
	return s
}

// queryOnly rejects the set form of a command whose keyword also matches
// without a suffix.
func queryOnly(fn scpi.Callback) scpi.Callback {
	return func(c *scpi.Context) {
		if !c.IsQuery() {
			c.Push(scpi.ErrUndefinedHeader)
			return
		}
		fn(c)
	}
}

// requireParam returns the parameter, pushing a missing parameter error
// when there is none.
func requireParam(c *scpi.Context) (string, bool) {
	p, ok := c.Param()
	if !ok {
		c.Push(scpi.ErrMissingParameter)
		return "", false
	}
	return p, true
}

// suffix returns the numeric header suffix at keyword position i.
func suffix(c *scpi.Context, i int) (int, bool) {
	n, err := strconv.Atoi(c.Option(i))
	if err != nil {
		c.Push(scpi.ErrHeaderSuffixOutOfRange)
		return 0, false
	}
	return n, true
}

// intParam parses s as an integer in [lo, hi].
func intParam(c *scpi.Context, s string, lo, hi int64) (int64, bool) {
	v, ok := scpi.ParseInt(s)
	if !ok {
		c.Push(scpi.ErrDataType)
		return 0, false
	}
	if v < lo || v > hi {
		c.Push(scpi.ErrDataOutOfRange)
		return 0, false
	}
	return v, true
}

// frequencyParam parses s as a frequency.
func frequencyParam(c *scpi.Context, s string) (physic.Frequency, bool) {
	f, err := ParseFrequency(s)
	if err != nil {
		c.Push(scpi.ErrDataType)
		return 0, false
	}
	return f, true
}

// hardwareError converts a collaborator error into the error record pushed
// for it.
func hardwareError(err error) scpi.Error {
	switch {
	case errors.Is(err, pkg.ErrInvalidParameter):
		return scpi.ErrDataOutOfRange
	case errors.Is(err, pkg.ErrBusy):
		return scpi.ErrSettingsConflict
	}
	return scpi.ErrExecution
}

func (in *Instrument) fail(c *scpi.Context, err error) {
	pkg.LogWarn(pkg.ComponentInstrument, "command failed",
		"command", c.Command().Path(),
		"error", err)
	c.Push(hardwareError(err))
}

func (in *Instrument) busFail(c *scpi.Context, bus scpi.Bus, n int, err error) {
	pkg.LogWarn(pkg.ComponentInstrument, "bus access failed",
		"bus", bus.String(),
		"index", n,
		"error", err)
	if errors.Is(err, pkg.ErrInvalidParameter) {
		c.Push(scpi.ErrDataOutOfRange)
		return
	}
	c.Push(scpi.BusError(bus))
}

// formatBytes renders data as comma separated decimal values.
func formatBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ",")
}

// byteParams parses each element of params as a byte.
func byteParams(c *scpi.Context, params []string) ([]byte, bool) {
	data := make([]byte, len(params))
	for i, p := range params {
		v, ok := intParam(c, p, 0, 255)
		if !ok {
			return nil, false
		}
		data[i] = byte(v)
	}
	return data, true
}
