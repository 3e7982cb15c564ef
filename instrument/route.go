package instrument

import (
	"strings"

	"github.com/ardnew/microscpi/relay"
	"github.com/ardnew/microscpi/scpi"
)

// registerRoute adds ROUTe and DIAGnostic:RELay for the crossbar.
func (in *Instrument) registerRoute(t *scpi.Table) {
	q := scpi.QueryOption
	route := kw("ROUTe", "ROUT")
	diag, rel := kw("DIAGnostic", "DIAG"), kw("RELay", "REL")
	t.Register(
		scpi.Command{
			Keywords: []scpi.Keyword{route, kw("CLOSe", "CLOS", q)},
			Callback: func(c *scpi.Context) { in.route(c, true) },
		},
		scpi.Command{
			Keywords: []scpi.Keyword{route, kw("OPEN", "OPEN", q)},
			Callback: func(c *scpi.Context) { in.route(c, false) },
		},
		scpi.Command{
			Keywords: []scpi.Keyword{diag, rel, kw("CYCLes", "CYCL", q)},
			Callback: queryOnly(func(c *scpi.Context) {
				c.Println(in.cfg.Crossbar.Cycles())
			}),
		},
		scpi.Command{
			Keywords: []scpi.Keyword{diag, rel, kw("CYCLes", "CYCL"), kw("CLEar", "CLE")},
			Callback: func(c *scpi.Context) {
				in.cfg.Crossbar.ResetCycles()
			},
		},
	)
}

// route closes or opens every channel in the list. The query form reports
// 1 for each channel already in the named state and 0 otherwise.
func (in *Instrument) route(c *scpi.Context, closed bool) {
	p, ok := requireParam(c)
	if !ok {
		return
	}
	list, err := relay.ParseChannelList(p)
	if err != nil {
		c.Push(scpi.ErrIllegalParameterValue)
		return
	}

	if c.IsQuery() {
		states := make([]string, len(list))
		for i, ch := range list {
			on, err := in.cfg.Crossbar.IsClosed(ch)
			if err != nil {
				in.fail(c, err)
				return
			}
			if on == closed {
				states[i] = "1"
			} else {
				states[i] = "0"
			}
		}
		c.Println(strings.Join(states, ","))
		return
	}

	for _, ch := range list {
		if closed {
			err = in.cfg.Crossbar.Close(ch)
		} else {
			err = in.cfg.Crossbar.Open(ch)
		}
		if err != nil {
			in.busFail(c, scpi.BusI2C, 0, err)
			return
		}
	}
}
