package tmc

import "encoding/binary"

// CapabilitiesSize is the length of a GET_CAPABILITIES response.
const CapabilitiesSize = 24

// Specification releases reported in GET_CAPABILITIES.
const (
	BCDUSBTMC = 0x0100
	BCDUSB488 = 0x0100
)

// USB488Capabilities are the subclass bits of GET_CAPABILITIES.
type USB488Capabilities struct {
	// Interface capabilities (byte 14).
	IEEE4882    bool // D2: 488.2 interface
	RemoteLocal bool // D1: REN_CONTROL, GO_TO_LOCAL, LOCAL_LOCKOUT
	Trigger     bool // D0: accepts the TRIGGER MsgID

	// Device capabilities (byte 15).
	SCPI           bool // D3: understands SCPI
	ServiceRequest bool // D2: SR1
	RemoteLocalDev bool // D1: RL1
	DeviceTrigger  bool // D0: DT1
}

// Capabilities describes what the function declares to the host.
type Capabilities struct {
	Protocol Protocol

	IndicatorPulse bool // interface D2
	TalkOnly       bool // interface D1
	ListenOnly     bool // interface D0
	TermChar       bool // device D0

	USB488 USB488Capabilities
}

// DefaultCapabilities returns the declaration of a USB488 SCPI instrument.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Protocol:       ProtocolUSB488,
		IndicatorPulse: true,
		TermChar:       true,
		USB488: USB488Capabilities{
			IEEE4882:       true,
			SCPI:           true,
			ServiceRequest: true,
		},
	}
}

func bit(on bool, n uint) uint8 {
	if on {
		return 1 << n
	}
	return 0
}

// InterfaceBits returns byte 4 of the response.
func (c *Capabilities) InterfaceBits() uint8 {
	return bit(c.IndicatorPulse, 2) | bit(c.TalkOnly, 1) | bit(c.ListenOnly, 0)
}

// DeviceBits returns byte 5 of the response.
func (c *Capabilities) DeviceBits() uint8 {
	return bit(c.TermChar, 0)
}

// USB488InterfaceBits returns byte 14 of the response.
func (c *Capabilities) USB488InterfaceBits() uint8 {
	u := &c.USB488
	return bit(u.IEEE4882, 2) | bit(u.RemoteLocal, 1) | bit(u.Trigger, 0)
}

// USB488DeviceBits returns byte 15 of the response.
func (c *Capabilities) USB488DeviceBits() uint8 {
	u := &c.USB488
	return bit(u.SCPI, 3) | bit(u.ServiceRequest, 2) | bit(u.RemoteLocalDev, 1) | bit(u.DeviceTrigger, 0)
}

// AcceptsTrigger reports whether TRIGGER messages are part of the protocol.
func (c *Capabilities) AcceptsTrigger() bool {
	return c.Protocol == ProtocolUSB488 && c.USB488.Trigger
}

// MarshalTo writes a GET_CAPABILITIES response with the given status.
// The USB488 block is present only for [ProtocolUSB488].
// Returns the number of bytes written, or 0 if buf is too small.
func (c *Capabilities) MarshalTo(buf []byte, status Status) int {
	if len(buf) < CapabilitiesSize {
		return 0
	}
	clear(buf[:CapabilitiesSize])
	buf[0] = uint8(status)
	binary.LittleEndian.PutUint16(buf[2:4], BCDUSBTMC)
	buf[4] = c.InterfaceBits()
	buf[5] = c.DeviceBits()
	if c.Protocol == ProtocolUSB488 {
		binary.LittleEndian.PutUint16(buf[12:14], BCDUSB488)
		buf[14] = c.USB488InterfaceBits()
		buf[15] = c.USB488DeviceBits()
	}
	return CapabilitiesSize
}

// ParseCapabilities decodes a GET_CAPABILITIES response. Hosts use it to
// learn what the instrument supports.
func ParseCapabilities(data []byte, out *Capabilities) (Status, bool) {
	if len(data) < CapabilitiesSize {
		return 0, false
	}
	*out = Capabilities{
		Protocol:       ProtocolTMC,
		IndicatorPulse: data[4]&(1<<2) != 0,
		TalkOnly:       data[4]&(1<<1) != 0,
		ListenOnly:     data[4]&1 != 0,
		TermChar:       data[5]&1 != 0,
	}
	if binary.LittleEndian.Uint16(data[12:14]) != 0 {
		out.Protocol = ProtocolUSB488
		out.USB488 = USB488Capabilities{
			IEEE4882:       data[14]&(1<<2) != 0,
			RemoteLocal:    data[14]&(1<<1) != 0,
			Trigger:        data[14]&1 != 0,
			SCPI:           data[15]&(1<<3) != 0,
			ServiceRequest: data[15]&(1<<2) != 0,
			RemoteLocalDev: data[15]&(1<<1) != 0,
			DeviceTrigger:  data[15]&1 != 0,
		}
	}
	return Status(data[0]), true
}
