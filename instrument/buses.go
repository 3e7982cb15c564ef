package instrument

import (
	"strconv"
	"strings"

	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/microscpi/scpi"
)

// Addresses probed by I2C<n>:SCAN?. The rest are reserved.
const (
	firstScanAddress = 0x08
	lastScanAddress  = 0x77
)

// maxTransfer bounds the byte count of a single bus read.
const maxTransfer = 256

func (in *Instrument) registerI2C(t *scpi.Table) {
	q := scpi.QueryOption
	idx := make([]int, len(in.i2c))
	for i := range idx {
		idx[i] = i
	}
	bus := kw("I2C", "I2C", suffixes(idx)...)
	t.Register(
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("SCAN", "SCAN", q)},
			Callback: queryOnly(in.i2cScan),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("FREQuency", "FREQ", q)},
			Callback: in.i2cFrequency,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("ADDRess", "ADDR"), kw("BIT", "BIT", q)},
			Callback: in.i2cAddressBit,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("WRITE", "WRITE")},
			Callback: in.i2cWrite,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("READ", "READ", q)},
			Callback: queryOnly(in.i2cRead),
		},
	)
}

// i2cAt resolves the header suffix to a populated port.
func (in *Instrument) i2cAt(c *scpi.Context) (*i2cPort, int, bool) {
	n, ok := suffix(c, 0)
	if !ok {
		return nil, 0, false
	}
	if n >= len(in.i2c) || in.i2c[n].bus == nil {
		c.Push(scpi.ErrHeaderSuffixOutOfRange)
		return nil, 0, false
	}
	return &in.i2c[n], n, true
}

func (in *Instrument) i2cScan(c *scpi.Context) {
	p, _, ok := in.i2cAt(c)
	if !ok {
		return
	}
	var found []string
	var probe [1]byte
	for addr := uint16(firstScanAddress); addr <= lastScanAddress; addr++ {
		if p.bus.Tx(addr, nil, probe[:]) == nil {
			found = append(found, strconv.Itoa(int(addr)))
		}
	}
	c.Println(strings.Join(found, ","))
}

func (in *Instrument) i2cFrequency(c *scpi.Context) {
	p, n, ok := in.i2cAt(c)
	if !ok {
		return
	}
	if c.IsQuery() {
		c.Println(formatHertz(p.freq))
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	f, ok := frequencyParam(c, param)
	if !ok {
		return
	}
	if err := p.bus.SetSpeed(f); err != nil {
		in.busFail(c, scpi.BusI2C, n, err)
		return
	}
	p.freq = f
}

// i2cAddressBit selects 7-bit (0) or 10-bit (1) addressing.
func (in *Instrument) i2cAddressBit(c *scpi.Context) {
	p, _, ok := in.i2cAt(c)
	if !ok {
		return
	}
	if c.IsQuery() {
		if p.tenBit {
			c.Println(1)
		} else {
			c.Println(0)
		}
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	if kw("DEFault", "DEF").Match(param).Matched {
		p.tenBit = false
		return
	}
	v, ok := intParam(c, param, 0, 1)
	if !ok {
		return
	}
	p.tenBit = v == 1
}

// address parses a target address valid for the port's addressing mode.
func (p *i2cPort) address(c *scpi.Context, s string) (uint16, bool) {
	hi := int64(0x7F)
	if p.tenBit {
		hi = 0x3FF
	}
	v, ok := intParam(c, s, 0, hi)
	return uint16(v), ok
}

// i2cWrite sends I2C<n>:WRITE <addr>,<byte>[,<byte>...].
func (in *Instrument) i2cWrite(c *scpi.Context) {
	p, n, ok := in.i2cAt(c)
	if !ok {
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	args := scpi.SplitParams(param)
	addr, ok := p.address(c, args[0])
	if !ok {
		return
	}
	data, ok := byteParams(c, args[1:])
	if !ok {
		return
	}
	if err := p.bus.Tx(addr, data, nil); err != nil {
		in.busFail(c, scpi.BusI2C, n, err)
	}
}

// i2cRead answers I2C<n>:READ? <addr>,<count>[,<byte>...]. Bytes after the
// count are written before the read in the same transaction, typically a
// register number.
func (in *Instrument) i2cRead(c *scpi.Context) {
	p, n, ok := in.i2cAt(c)
	if !ok {
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	args := scpi.SplitParams(param)
	if len(args) < 2 {
		c.Push(scpi.ErrMissingParameter)
		return
	}
	addr, ok := p.address(c, args[0])
	if !ok {
		return
	}
	count, ok := intParam(c, args[1], 1, maxTransfer)
	if !ok {
		return
	}
	w, ok := byteParams(c, args[2:])
	if !ok {
		return
	}
	r := make([]byte, count)
	if err := p.bus.Tx(addr, w, r); err != nil {
		in.busFail(c, scpi.BusI2C, n, err)
		return
	}
	c.Println(formatBytes(r))
}

func (in *Instrument) registerSPI(t *scpi.Table) {
	q := scpi.QueryOption
	idx := make([]int, len(in.spi))
	for i := range idx {
		idx[i] = i
	}
	bus := kw("SPI", "SPI", suffixes(idx)...)
	t.Register(
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("MODE", "MODE", q)},
			Callback: in.spiMode,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("FREQuency", "FREQ", q)},
			Callback: in.spiFrequency,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("TRANSfer", "TRANS", q)},
			Callback: in.spiTransfer,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{bus, kw("CSEL", "CS"), kw("POLarity", "POL", q)},
			Callback: in.spiPolarity,
		},
	)
}

func (in *Instrument) spiAt(c *scpi.Context) (*spiPort, int, bool) {
	n, ok := suffix(c, 0)
	if !ok {
		return nil, 0, false
	}
	if n >= len(in.spi) || in.spi[n].dev == nil {
		c.Push(scpi.ErrHeaderSuffixOutOfRange)
		return nil, 0, false
	}
	return &in.spi[n], n, true
}

var spiModes = [...]spi.Mode{spi.Mode0, spi.Mode1, spi.Mode2, spi.Mode3}

func (in *Instrument) spiMode(c *scpi.Context) {
	p, n, ok := in.spiAt(c)
	if !ok {
		return
	}
	if c.IsQuery() {
		for i, m := range spiModes {
			if m == p.mode {
				c.Println(i)
				return
			}
		}
		c.Println(0)
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	v, ok := intParam(c, param, 0, int64(len(spiModes)-1))
	if !ok {
		return
	}
	if err := p.dev.Configure(p.freq, spiModes[v]); err != nil {
		in.busFail(c, scpi.BusSPI, n, err)
		return
	}
	p.mode = spiModes[v]
}

func (in *Instrument) spiFrequency(c *scpi.Context) {
	p, n, ok := in.spiAt(c)
	if !ok {
		return
	}
	if c.IsQuery() {
		c.Println(formatHertz(p.freq))
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	f, ok := frequencyParam(c, param)
	if !ok {
		return
	}
	if err := p.dev.Configure(f, p.mode); err != nil {
		in.busFail(c, scpi.BusSPI, n, err)
		return
	}
	p.freq = f
}

// spiPolarity selects an active-low (0) or active-high (1) chip select.
func (in *Instrument) spiPolarity(c *scpi.Context) {
	p, n, ok := in.spiAt(c)
	if !ok {
		return
	}
	if c.IsQuery() {
		if p.csHigh {
			c.Println(1)
		} else {
			c.Println(0)
		}
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	high := false
	if !kw("DEFault", "DEF").Match(param).Matched {
		v, ok := intParam(c, param, 0, 1)
		if !ok {
			return
		}
		high = v == 1
	}
	if err := p.dev.SetChipSelect(high); err != nil {
		in.busFail(c, scpi.BusSPI, n, err)
		return
	}
	p.csHigh = high
}

// spiTransfer clocks out the parameter bytes. The query form reports the
// bytes clocked in.
func (in *Instrument) spiTransfer(c *scpi.Context) {
	p, n, ok := in.spiAt(c)
	if !ok {
		return
	}
	param, ok := requireParam(c)
	if !ok {
		return
	}
	w, ok := byteParams(c, scpi.SplitParams(param))
	if !ok {
		return
	}
	if len(w) > maxTransfer {
		c.Push(scpi.ErrTooMuchData)
		return
	}
	r := make([]byte, len(w))
	if err := p.dev.Tx(w, r); err != nil {
		in.busFail(c, scpi.BusSPI, n, err)
		return
	}
	if c.IsQuery() {
		c.Println(formatBytes(r))
	}
}

func (in *Instrument) registerADC(t *scpi.Table) {
	t.Register(scpi.Command{
		Keywords: []scpi.Keyword{
			kw("ADC", "ADC", suffixes(in.cfg.ADCChannels)...),
			kw("READ", "READ", scpi.QueryOption),
		},
		Callback: queryOnly(func(c *scpi.Context) {
			n, ok := suffix(c, 0)
			if !ok {
				return
			}
			v, err := in.cfg.ADC.Read(n)
			if err != nil {
				in.busFail(c, scpi.BusADC, n, err)
				return
			}
			c.Println(v)
		}),
	})
}
