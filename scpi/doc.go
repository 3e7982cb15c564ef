// Package scpi implements the command side of the instrument: keyword
// matching, the command table, and the engine that lexes lines, dispatches
// callbacks and keeps the error queue.
//
// A keyword accepts any spelling between its short and long form, plus an
// optional suffix from a declared set. Declaring [QueryOption] lets the same
// keyword resolve both PIN14:MODE and PIN14:MODE?:
//
//	pin := scpi.NewKeyword("PIN", "PIN", "6", "14")
//	mode := scpi.NewKeyword("MODE", "MODE", scpi.QueryOption)
//	table := scpi.NewTable(scpi.Command{
//	    Keywords: []scpi.Keyword{pin, mode},
//	    Callback: func(c *scpi.Context) {
//	        if c.IsQuery() {
//	            c.Println("OUTP")
//	        }
//	    },
//	})
//	engine := scpi.NewEngine(scpi.Config{Table: table})
//	engine.ProcessTo(os.Stdout, "pin14:mode?")
//
// Callbacks never return errors. They push [Error] records, which hosts
// read back with SYSTem:ERRor?.
package scpi
