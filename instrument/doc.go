// Package instrument is the reference command set of the SCPI engine: the
// IEEE 488.2 common commands, the SYSTem subsystem, and commands that drive
// GPIO pins, PWM, the core clock, I2C and SPI buses, ADC channels and the
// relay crossbar.
//
// Hardware sits behind the [Pins], [ADC], [Clock] and [SPI] interfaces and
// periph's i2c.Bus. The Sim types implement them in memory for the
// simulator and for tests.
//
//	in := instrument.New(instrument.Config{
//	    Identity: instrument.Identity{Manufacturer: "Acme", Model: "X1"},
//	    Pins:     instrument.NewSimPins(instrument.DefaultPins...),
//	})
//	in.Engine().ProcessTo(os.Stdout, "PIN14:MODE OUT")
package instrument
