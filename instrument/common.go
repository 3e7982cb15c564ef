package instrument

import (
	"strconv"

	"github.com/ardnew/microscpi/scpi"
)

// registerCommon adds the IEEE 488.2 common commands.
func (in *Instrument) registerCommon(t *scpi.Table) {
	q := scpi.QueryOption
	t.Register(
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*CLS", "*CLS")},
			Callback: func(c *scpi.Context) {
				c.ClearErrors()
				in.status.Clear()
			},
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*ESE", "*ESE", q)},
			Callback: in.register8(in.status.EventEnable, in.status.SetEventEnable),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*ESR", "*ESR", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(in.status.ReadEvents())
			}),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*IDN", "*IDN", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(in.cfg.Identity.String())
			}),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*OPC", "*OPC", q)},
			Callback: func(c *scpi.Context) {
				// Commands run to completion before the next one is parsed.
				if c.IsQuery() {
					c.Println(1)
					return
				}
				in.status.Set(ESROperationComplete)
			},
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*RST", "*RST")},
			Callback: func(c *scpi.Context) {
				if err := in.Reset(); err != nil {
					in.fail(c, err)
				}
			},
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*SRE", "*SRE", q)},
			Callback: in.register8(in.status.ServiceEnable, in.status.SetServiceEnable),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*STB", "*STB", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(in.status.Byte(c.ErrorCount()))
			}),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*TST", "*TST", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(0)
			}),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{kw("*WAI", "*WAI")},
		},
	)
}

// register8 serves an 8-bit enable register in set and query form.
func (in *Instrument) register8(get func() uint8, set func(uint8)) scpi.Callback {
	return func(c *scpi.Context) {
		if c.IsQuery() {
			c.Println(get())
			return
		}
		p, ok := requireParam(c)
		if !ok {
			return
		}
		if v, ok := intParam(c, p, 0, 255); ok {
			set(uint8(v))
		}
	}
}

// registerSystem adds the SYSTem subsystem.
func (in *Instrument) registerSystem(t *scpi.Table) {
	q := scpi.QueryOption
	system := kw("SYSTem", "SYST")
	popError := func(c *scpi.Context) {
		c.Println(c.PopError())
	}
	t.Register(
		scpi.Command{
			Keywords: []scpi.Keyword{system, kw("ERRor", "ERR", q)},
			Callback: queryOnly(popError),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{system, kw("ERRor", "ERR"), kw("NEXT", "NEXT", q)},
			Callback: queryOnly(popError),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{system, kw("ERRor", "ERR"), kw("COUNt", "COUN", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(c.ErrorCount())
			}),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{system, kw("VERSion", "VERS", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(SCPIVersion)
			}),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{system, kw("CDEScription", "CDES", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(strconv.Quote(in.cfg.Description))
			}),
		},
	)
}
