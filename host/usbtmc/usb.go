package usbtmc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

// Info identifies an attached USBTMC device.
type Info struct {
	Bus      int
	Address  int
	Vendor   uint16
	Product  uint16
	Protocol tmc.Protocol
}

// String returns the bus location and VID:PID.
func (i Info) String() string {
	return fmt.Sprintf("bus %03d device %03d %04x:%04x %s",
		i.Bus, i.Address, i.Vendor, i.Product, i.Protocol)
}

// tmcSetting returns the first USBTMC alternate setting of desc.
func tmcSetting(desc *gousb.DeviceDesc) (gousb.InterfaceSetting, bool) {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.Class(tmc.InterfaceClass) &&
					alt.SubClass == gousb.Class(tmc.InterfaceSubClass) {
					return alt, true
				}
			}
		}
	}
	return gousb.InterfaceSetting{}, false
}

// List returns the attached devices that expose a USBTMC interface.
func List() ([]Info, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []Info
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if alt, ok := tmcSetting(desc); ok {
			found = append(found, Info{
				Bus:      desc.Bus,
				Address:  desc.Address,
				Vendor:   uint16(desc.Vendor),
				Product:  uint16(desc.Product),
				Protocol: tmc.Protocol(alt.Protocol),
			})
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	return found, err
}

// Device is a USBTMC interface claimed through libusb.
type Device struct {
	*Client
	info Info
	pipe *usbPipe
}

// Open claims the USBTMC interface of the first device matching vid and
// pid. Endpoint addresses and the interface number are taken from the
// descriptors, overriding those in cfg.
func Open(vid, pid uint16, cfg Config) (*Device, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("open %04x:%04x: %w", vid, pid, pkg.ErrNotConnected)
	}

	p := &usbPipe{ctx: ctx, dev: dev}
	info, err := p.claim(&cfg)
	if err != nil {
		p.close()
		return nil, err
	}
	if cfg.Timeout > 0 {
		dev.ControlTimeout = cfg.Timeout
	}
	p.inBuf = make([]byte, tmc.PaddedLen(tmc.HeaderSize+int(cfg.MaxTransferSize)))

	pkg.LogInfo(pkg.ComponentHost, "usbtmc device opened", "device", info.String())
	return &Device{Client: New(p, cfg), info: info, pipe: p}, nil
}

// Info returns the device location and identity.
func (d *Device) Info() Info {
	return d.info
}

// Close releases the interface and the device.
func (d *Device) Close() error {
	return d.pipe.close()
}

// usbPipe implements [Pipe] on gousb.
type usbPipe struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	conf  *gousb.Config
	intf  *gousb.Interface
	out   *gousb.OutEndpoint
	in    *gousb.InEndpoint
	inBuf []byte
}

func (p *usbPipe) claim(cfg *Config) (Info, error) {
	desc := p.dev.Desc
	alt, ok := tmcSetting(desc)
	if !ok {
		return Info{}, fmt.Errorf("%s: no USBTMC interface: %w", desc.String(), pkg.ErrNotConfigured)
	}
	if err := p.dev.SetAutoDetach(true); err != nil {
		return Info{}, fmt.Errorf("auto detach: %w", err)
	}
	num, err := p.dev.ActiveConfigNum()
	if err != nil {
		return Info{}, fmt.Errorf("active config: %w", err)
	}
	if p.conf, err = p.dev.Config(num); err != nil {
		return Info{}, fmt.Errorf("config %d: %w", num, err)
	}
	if p.intf, err = p.conf.Interface(alt.Number, alt.Alternate); err != nil {
		return Info{}, fmt.Errorf("interface %d: %w", alt.Number, err)
	}

	for _, ep := range alt.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if p.out, err = p.intf.OutEndpoint(ep.Number); err != nil {
				return Info{}, err
			}
			cfg.BulkOutEndpoint = uint8(ep.Address)
		case gousb.EndpointDirectionIn:
			if p.in, err = p.intf.InEndpoint(ep.Number); err != nil {
				return Info{}, err
			}
			cfg.BulkInEndpoint = uint8(ep.Address)
		}
	}
	if p.out == nil || p.in == nil {
		return Info{}, fmt.Errorf("interface %d: missing bulk endpoint: %w", alt.Number, pkg.ErrNotConfigured)
	}
	cfg.InterfaceNumber = uint8(alt.Number)
	if cfg.MaxTransferSize == 0 {
		cfg.MaxTransferSize = tmc.DefaultMaxTransferSize
	}

	return Info{
		Bus:      desc.Bus,
		Address:  desc.Address,
		Vendor:   uint16(desc.Vendor),
		Product:  uint16(desc.Product),
		Protocol: tmc.Protocol(alt.Protocol),
	}, nil
}

func (p *usbPipe) close() error {
	if p.intf != nil {
		p.intf.Close()
	}
	var errs []error
	if p.conf != nil {
		errs = append(errs, p.conf.Close())
	}
	errs = append(errs, p.dev.Close(), p.ctx.Close())
	return errors.Join(errs...)
}

func (p *usbPipe) Control(ctx context.Context, setup *hal.SetupPacket) ([]byte, error) {
	buf := make([]byte, setup.Length)
	n, err := p.dev.Control(setup.RequestType, setup.Request, setup.Value, setup.Index, buf)
	if err != nil {
		if errors.Is(err, gousb.ErrorPipe) {
			return nil, fmt.Errorf("%s: %w", setup.String(), pkg.ErrStall)
		}
		return nil, err
	}
	return buf[:n], nil
}

func (p *usbPipe) BulkOut(ctx context.Context, transfer []byte) error {
	if _, err := p.out.WriteContext(ctx, transfer); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *usbPipe) ReadTransfer(ctx context.Context) ([]byte, error) {
	n, err := p.in.ReadContext(ctx, p.inBuf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return append([]byte(nil), p.inBuf[:n]...), nil
}

var _ Pipe = (*usbPipe)(nil)
