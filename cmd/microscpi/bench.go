package main

import (
	"context"
	"fmt"
	"slices"

	"periph.io/x/conn/v3/i2c"

	"github.com/ardnew/microscpi/bridge"
	"github.com/ardnew/microscpi/config"
	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/device/hal/loopback"
	"github.com/ardnew/microscpi/host/usbtmc"
	"github.com/ardnew/microscpi/instrument"
	"github.com/ardnew/microscpi/metrics"
	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/relay"
	"github.com/ardnew/microscpi/scpi"
)

// bench is a complete simulated instrument: hardware models, the command
// set, and the USBTMC function on a loopback controller.
type bench struct {
	led      *instrument.SimLED
	pins     *instrument.SimPins
	adc      *instrument.SimADC
	buses    []*instrument.SimBus
	inst     *instrument.Instrument
	bridge   *bridge.Bridge
	usb      *loopback.HAL
	function *tmc.Function
	usbCfg   config.USBConfig
}

// newBench builds the instrument described by cfg. m may be nil.
func newBench(cfg *config.Config, m *metrics.Metrics) (*bench, error) {
	ic := cfg.Instrument
	b := &bench{
		led:    &instrument.SimLED{},
		pins:   instrument.NewSimPins(ic.Pins...),
		adc:    instrument.NewSimADC(ic.ADCChannels...),
		usbCfg: cfg.USB,
	}

	var buses []i2c.Bus
	for i := range ic.I2CBuses {
		targets := slices.Clone(ic.I2CTargets)
		if i == 0 && ic.Relay {
			targets = append(targets, relay.AddressFor(ic.RelaySelect))
		}
		bus := instrument.NewSimBus(fmt.Sprintf("I2C%d", i), targets...)
		b.buses = append(b.buses, bus)
		buses = append(buses, bus)
	}

	var crossbar *relay.Crossbar
	if ic.Relay {
		if len(buses) == 0 {
			return nil, fmt.Errorf("%w: relay needs an I2C bus", pkg.ErrInvalidParameter)
		}
		var err error
		if crossbar, err = relay.New(buses[0], ic.RelaySelect); err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
	}

	var spis []instrument.SPI
	for range ic.SPIBuses {
		spis = append(spis, &instrument.SimSPI{})
	}

	icfg := instrument.Config{
		Identity:    cfg.Identity,
		Description: cfg.Description,
		Pins:        b.pins,
		PinNumbers:  ic.Pins,
		ADC:         b.adc,
		ADCChannels: ic.ADCChannels,
		Clock:       instrument.NewSimClock(),
		I2C:         buses,
		SPI:         spis,
		Crossbar:    crossbar,
		Indicator:   b.led,
	}
	bcfg := cfg.USB.Bridge()
	tcfg := cfg.USB.TMC()
	tcfg.Pulser = b.led
	if m != nil {
		icfg.Observer = m
		bcfg.Observer = m
		tcfg.Observer = m
	}

	b.inst = instrument.New(icfg)
	b.bridge = bridge.New(b.inst.Engine(), bcfg)
	b.usb = loopback.New(cfg.USB.HALSpeed(), 0)
	b.function = tmc.New(b.usb, b.bridge, tcfg)
	return b, nil
}

// engine returns the engine shared by every transport.
func (b *bench) engine() *scpi.Engine {
	return b.inst.Engine()
}

// start runs the USBTMC function until ctx is done or stop is called.
func (b *bench) start(ctx context.Context) error {
	return b.function.Start(ctx)
}

func (b *bench) stop() error {
	return b.function.Stop()
}

// hostConfig describes the loopback interface to a host client.
func (b *bench) hostConfig() usbtmc.Config {
	c := usbtmc.DefaultConfig()
	c.InterfaceNumber = b.usbCfg.InterfaceNumber
	c.BulkOutEndpoint = b.usbCfg.BulkOutEndpoint
	c.BulkInEndpoint = b.usbCfg.BulkInEndpoint
	c.MaxTransferSize = uint32(b.usbCfg.MaxTransferSize)
	return c
}
