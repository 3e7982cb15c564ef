package tmc

import "encoding/binary"

// Descriptor types and sizes used by the interface fragment.
const (
	descriptorTypeInterface = 0x04
	descriptorTypeEndpoint  = 0x05

	InterfaceDescriptorSize = 9
	EndpointDescriptorSize  = 7

	endpointTypeBulk = 0x02
)

// DescriptorsSize is the length of the fragment written by
// [MarshalDescriptors]: one interface and two bulk endpoints.
const DescriptorsSize = InterfaceDescriptorSize + 2*EndpointDescriptorSize

// MarshalDescriptors writes the function's interface and endpoint
// descriptors for the platform controller stack to splice into its
// configuration descriptor. stringIndex names the interface string.
// Returns the number of bytes written, or 0 if buf is too small.
func MarshalDescriptors(buf []byte, cfg *Config, maxPacket uint16, stringIndex uint8) int {
	if len(buf) < DescriptorsSize {
		return 0
	}
	b := buf[:InterfaceDescriptorSize]
	b[0] = InterfaceDescriptorSize
	b[1] = descriptorTypeInterface
	b[2] = cfg.InterfaceNumber
	b[3] = 0 // bAlternateSetting
	b[4] = 2 // bNumEndpoints
	b[5] = InterfaceClass
	b[6] = InterfaceSubClass
	b[7] = uint8(cfg.Capabilities.Protocol)
	b[8] = stringIndex

	off := InterfaceDescriptorSize
	for _, addr := range []uint8{cfg.BulkOutEndpoint, cfg.BulkInEndpoint} {
		e := buf[off : off+EndpointDescriptorSize]
		e[0] = EndpointDescriptorSize
		e[1] = descriptorTypeEndpoint
		e[2] = addr
		e[3] = endpointTypeBulk
		binary.LittleEndian.PutUint16(e[4:6], maxPacket)
		e[6] = 0 // bInterval
		off += EndpointDescriptorSize
	}
	return off
}
