package capture

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/pkg"
)

// Direction is the bulk pipe a transfer travelled on.
type Direction uint8

// Transfer directions.
const (
	Out Direction = iota // Host to device
	In                   // Device to host
)

// String returns "OUT" or "IN".
func (d Direction) String() string {
	if d == In {
		return "IN"
	}
	return "OUT"
}

// Transfer is one USBTMC bulk transfer found in a capture.
type Transfer struct {
	Time      time.Time
	Bus       uint16
	Device    uint8
	Endpoint  uint8
	Direction Direction
	Header    tmc.Header

	// Payload is the message data, without header or alignment padding.
	// It is empty for requests and triggers.
	Payload []byte
}

// String renders the transfer on one line.
func (t *Transfer) String() string {
	name := tmc.MsgName(t.Header.MsgID)
	if t.Direction == In {
		name = tmc.InMsgName(t.Header.MsgID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %03d:%03d:%d %-3s %s tag=%d",
		t.Time.Format("15:04:05.000000"), t.Bus, t.Device, t.Endpoint,
		t.Direction, name, t.Header.Tag)
	switch {
	case t.Direction == Out && t.Header.MsgID == tmc.MsgRequestDevDepMsgIn:
		fmt.Fprintf(&b, " max=%d", t.Header.TransferSize())
		if t.Header.Attributes()&tmc.AttrTermCharEnabled != 0 {
			fmt.Fprintf(&b, " term=%s", strconv.QuoteRune(rune(t.Header.TermChar())))
		}
	case t.hasPayload():
		fmt.Fprintf(&b, " size=%d", t.Header.TransferSize())
		if t.Header.Attributes()&tmc.AttrEOM != 0 {
			b.WriteString(" EOM")
		}
		if t.Direction == In && t.Header.Attributes()&tmc.AttrInTermCharHit != 0 {
			b.WriteString(" TERM")
		}
		fmt.Fprintf(&b, " %q", t.Payload)
	}
	return b.String()
}

func (t *Transfer) hasPayload() bool {
	return t.Direction == In || t.Header.CarriesPayload()
}

// Filter selects transfers by bus and device address. Zero matches any.
type Filter struct {
	Bus    uint16
	Device uint8
}

func (f Filter) match(bus uint16, device uint8) bool {
	return (f.Bus == 0 || f.Bus == bus) && (f.Device == 0 || f.Device == device)
}

// Decoder reads USBTMC transfers from a usbmon capture.
type Decoder struct {
	source  *gopacket.PacketSource
	filter  Filter
	skipped int
}

// NewDecoder reads the pcap file header from r. The capture must use a
// Linux USB link type.
func NewDecoder(r io.Reader, filter Filter) (*Decoder, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if pr.LinkType() != layers.LinkTypeLinuxUSB {
		return nil, fmt.Errorf("%w: link type %s is not usbmon",
			pkg.ErrInvalidParameter, pr.LinkType())
	}
	source := gopacket.NewPacketSource(pr, pr.LinkType())
	source.NoCopy = true
	return &Decoder{source: source, filter: filter}, nil
}

// Skipped returns the number of bulk URBs with data that did not start
// with a USBTMC header.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Next returns the next transfer, or io.EOF at the end of the capture.
func (d *Decoder) Next() (*Transfer, error) {
	for {
		packet, err := d.source.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read packet: %w", err)
		}
		if t, ok := d.decode(packet); ok {
			return t, nil
		}
	}
}

func (d *Decoder) decode(packet gopacket.Packet) (*Transfer, bool) {
	layer := packet.Layer(layers.LayerTypeUSB)
	if layer == nil {
		return nil, false
	}
	usb := layer.(*layers.USB)
	if usb.TransferType != layers.USBTransportTypeBulk || usb.UrbDataLength == 0 {
		return nil, false
	}
	if !d.filter.match(usb.BusID, usb.DeviceAddress) {
		return nil, false
	}

	raw := packet.Data()
	if int(usb.UrbDataLength) > len(raw) {
		return nil, false
	}
	data := raw[len(raw)-int(usb.UrbDataLength):]

	t := &Transfer{
		Time:      packet.Metadata().Timestamp,
		Bus:       usb.BusID,
		Device:    usb.DeviceAddress,
		Endpoint:  usb.EndpointNumber,
		Direction: Out,
	}
	if usb.Direction == layers.USBDirectionTypeIn {
		t.Direction = In
	}
	if err := tmc.ParseHeader(data, &t.Header); err != nil || !known(t.Direction, t.Header.MsgID) {
		d.skipped++
		pkg.LogDebug(pkg.ComponentHost, "bulk data without usbtmc header",
			"bus", usb.BusID,
			"device", usb.DeviceAddress,
			"size", len(data))
		return nil, false
	}

	if t.hasPayload() {
		end := min(tmc.HeaderSize+int(t.Header.TransferSize()), len(data))
		t.Payload = append([]byte(nil), data[tmc.HeaderSize:end]...)
	}
	return t, true
}

func known(dir Direction, msgID uint8) bool {
	if dir == In {
		return msgID == tmc.MsgDevDepMsgIn || msgID == tmc.MsgVendorSpecificIn
	}
	switch msgID {
	case tmc.MsgDevDepMsgOut, tmc.MsgRequestDevDepMsgIn, tmc.MsgVendorSpecificOut,
		tmc.MsgRequestVendorSpecificIn, tmc.MsgTrigger:
		return true
	}
	return false
}

// Decode returns every transfer in the capture read from r.
func Decode(r io.Reader, filter Filter) ([]*Transfer, error) {
	d, err := NewDecoder(r, filter)
	if err != nil {
		return nil, err
	}
	var transfers []*Transfer
	for {
		t, err := d.Next()
		if errors.Is(err, io.EOF) {
			return transfers, nil
		}
		if err != nil {
			return transfers, err
		}
		transfers = append(transfers, t)
	}
}
