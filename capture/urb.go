package capture

import (
	"encoding/binary"
	"time"

	"github.com/google/gopacket/layers"
)

// urbHeaderSize is the length of the memory-mapped usbmon header that
// precedes URB data in LINKTYPE_USB_LINUX_MMAPPED captures.
const urbHeaderSize = 64

// usbmon event types.
const (
	eventSubmit   = 'S'
	eventComplete = 'C'
)

const (
	setupAbsent = '-'
	dataPresent = 0
)

// urb describes one usbmon record.
type urb struct {
	id       uint64
	event    byte
	in       bool
	endpoint uint8
	device   uint8
	bus      uint16
	time     time.Time
	length   uint32
	data     []byte
}

// marshal encodes u with the 64-byte usbmon header.
func (u *urb) marshal() []byte {
	buf := make([]byte, urbHeaderSize+len(u.data))
	binary.LittleEndian.PutUint64(buf[0:8], u.id)
	buf[8] = u.event
	buf[9] = byte(layers.USBTransportTypeBulk)
	buf[10] = u.endpoint & 0x7F
	if u.in {
		buf[10] |= 0x80
	}
	buf[11] = u.device
	binary.LittleEndian.PutUint16(buf[12:14], u.bus)
	buf[14] = setupAbsent
	buf[15] = dataPresent
	binary.LittleEndian.PutUint64(buf[16:24], uint64(u.time.Unix()))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(u.time.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(buf[32:36], u.length)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(len(u.data)))
	copy(buf[urbHeaderSize:], u.data)
	return buf
}
