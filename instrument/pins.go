package instrument

import (
	"github.com/ardnew/microscpi/scpi"
)

// registerPins adds the PIN<n> subsystem.
func (in *Instrument) registerPins(t *scpi.Table) {
	q := scpi.QueryOption
	pin := kw("PIN", "PIN", suffixes(in.cfg.PinNumbers)...)
	pwm := kw("PWM", "PWM")
	t.Register(
		scpi.Command{
			Keywords: []scpi.Keyword{pin, kw("MODE", "MODE", q)},
			Callback: in.pinMode,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{pin, kw("VALue", "VAL", q)},
			Callback: in.pinValue,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{pin, kw("ON", "ON")},
			Callback: func(c *scpi.Context) { in.pinWrite(c, true) },
		},
		scpi.Command{
			Keywords: []scpi.Keyword{pin, kw("OFF", "OFF")},
			Callback: func(c *scpi.Context) { in.pinWrite(c, false) },
		},
		scpi.Command{
			Keywords: []scpi.Keyword{pin, pwm, kw("FREQuency", "FREQ", q)},
			Callback: in.pwmFrequency,
		},
		scpi.Command{
			Keywords: []scpi.Keyword{pin, pwm, kw("DUTY", "DUTY", q)},
			Callback: in.pwmDuty,
		},
	)
}

func (in *Instrument) pinMode(c *scpi.Context) {
	n, ok := suffix(c, 0)
	if !ok {
		return
	}
	if c.IsQuery() {
		m, err := in.cfg.Pins.Mode(n)
		if err != nil {
			in.fail(c, err)
			return
		}
		c.Println(m)
		return
	}
	p, ok := requireParam(c)
	if !ok {
		return
	}
	m, ok := ParsePinMode(p)
	if !ok {
		c.Push(scpi.ErrIllegalParameterValue)
		return
	}
	if err := in.cfg.Pins.SetMode(n, m); err != nil {
		in.fail(c, err)
	}
}

func (in *Instrument) pinValue(c *scpi.Context) {
	n, ok := suffix(c, 0)
	if !ok {
		return
	}
	if c.IsQuery() {
		high, err := in.cfg.Pins.Read(n)
		if err != nil {
			in.fail(c, err)
			return
		}
		if high {
			c.Println(1)
		} else {
			c.Println(0)
		}
		return
	}
	p, ok := requireParam(c)
	if !ok {
		return
	}
	high, ok := scpi.ParseBool(p)
	if !ok {
		c.Push(scpi.ErrIllegalParameterValue)
		return
	}
	if err := in.cfg.Pins.Write(n, high); err != nil {
		in.fail(c, err)
	}
}

func (in *Instrument) pinWrite(c *scpi.Context, high bool) {
	n, ok := suffix(c, 0)
	if !ok {
		return
	}
	if _, ok := c.Param(); ok {
		c.Push(scpi.ErrParameterNotAllowed)
		return
	}
	if err := in.cfg.Pins.Write(n, high); err != nil {
		in.fail(c, err)
	}
}

func (in *Instrument) pwmFrequency(c *scpi.Context) {
	n, ok := suffix(c, 0)
	if !ok {
		return
	}
	freq, duty, err := in.cfg.Pins.PWM(n)
	if err != nil {
		in.fail(c, err)
		return
	}
	if c.IsQuery() {
		c.Println(formatHertz(freq))
		return
	}
	p, ok := requireParam(c)
	if !ok {
		return
	}
	if freq, ok = frequencyParam(c, p); !ok {
		return
	}
	if err := in.cfg.Pins.SetPWM(n, freq, duty); err != nil {
		in.fail(c, err)
	}
}

func (in *Instrument) pwmDuty(c *scpi.Context) {
	n, ok := suffix(c, 0)
	if !ok {
		return
	}
	freq, duty, err := in.cfg.Pins.PWM(n)
	if err != nil {
		in.fail(c, err)
		return
	}
	if c.IsQuery() {
		c.Println(duty)
		return
	}
	p, ok := requireParam(c)
	if !ok {
		return
	}
	v, ok := intParam(c, p, 0, 65535)
	if !ok {
		return
	}
	if err := in.cfg.Pins.SetPWM(n, freq, uint16(v)); err != nil {
		in.fail(c, err)
	}
}

// registerMachine adds MACHINE:FREQuency.
func (in *Instrument) registerMachine(t *scpi.Table) {
	t.Register(scpi.Command{
		Keywords: []scpi.Keyword{kw("MACHINE", "MACHINE"), kw("FREQuency", "FREQ", scpi.QueryOption)},
		Callback: func(c *scpi.Context) {
			if c.IsQuery() {
				c.Println(formatHertz(in.cfg.Clock.Frequency()))
				return
			}
			p, ok := requireParam(c)
			if !ok {
				return
			}
			f, ok := frequencyParam(c, p)
			if !ok {
				return
			}
			if err := in.cfg.Clock.SetFrequency(f); err != nil {
				in.fail(c, err)
			}
		},
	})
}
