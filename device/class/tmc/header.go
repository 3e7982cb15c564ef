package tmc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/microscpi/pkg"
)

// Header is the 12-byte header that starts every bulk transfer in either
// direction. Specific holds bytes 4-11, whose meaning depends on MsgID.
type Header struct {
	MsgID      uint8
	Tag        uint8
	TagInverse uint8
	Specific   [8]byte
}

// NewHeader returns a header for msgID with a consistent tag complement.
func NewHeader(msgID, tag uint8) Header {
	return Header{MsgID: msgID, Tag: tag, TagInverse: ^tag}
}

// ParseHeader parses the first [HeaderSize] bytes of data into out.
// It fails when data is short or the tag complement does not match.
func ParseHeader(data []byte, out *Header) error {
	if len(data) < HeaderSize {
		return pkg.ErrHeaderTooShort
	}
	out.MsgID = data[0]
	out.Tag = data[1]
	out.TagInverse = data[2]
	copy(out.Specific[:], data[4:HeaderSize])
	if !out.Valid() {
		return fmt.Errorf("tag 0x%02X inverse 0x%02X: %w", out.Tag, out.TagInverse, pkg.ErrTagMismatch)
	}
	return nil
}

// MarshalTo writes the header to buf. The reserved byte is always zero.
// Returns the number of bytes written, or 0 if buf is too small.
func (h *Header) MarshalTo(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}
	buf[0] = h.MsgID
	buf[1] = h.Tag
	buf[2] = h.TagInverse
	buf[3] = 0
	copy(buf[4:HeaderSize], h.Specific[:])
	return HeaderSize
}

// Valid reports whether the tag complement matches the tag.
func (h *Header) Valid() bool {
	return h.Tag^h.TagInverse == 0xFF
}

// TransferSize returns the little-endian size at bytes 4-7.
func (h *Header) TransferSize() uint32 {
	return binary.LittleEndian.Uint32(h.Specific[0:4])
}

// SetTransferSize sets bytes 4-7.
func (h *Header) SetTransferSize(n uint32) {
	binary.LittleEndian.PutUint32(h.Specific[0:4], n)
}

// Attributes returns bmTransferAttributes (byte 8).
func (h *Header) Attributes() uint8 {
	return h.Specific[4]
}

// SetAttributes sets bmTransferAttributes (byte 8).
func (h *Header) SetAttributes(a uint8) {
	h.Specific[4] = a
}

// TermChar returns the termination character of a REQUEST_DEV_DEP_MSG_IN
// (byte 9).
func (h *Header) TermChar() uint8 {
	return h.Specific[5]
}

// SetTermChar sets byte 9.
func (h *Header) SetTermChar(c uint8) {
	h.Specific[5] = c
}

// CarriesPayload reports whether TransferSize bytes of message data follow
// the header on the wire.
func (h *Header) CarriesPayload() bool {
	return h.MsgID == MsgDevDepMsgOut || h.MsgID == MsgVendorSpecificOut
}

// String returns a human-readable representation of the header.
func (h *Header) String() string {
	return fmt.Sprintf("BULK[%s tag=%d size=%d attr=0x%02X]",
		MsgName(h.MsgID), h.Tag, h.TransferSize(), h.Attributes())
}

// MsgName returns the name of a Bulk-OUT MsgID.
func MsgName(id uint8) string {
	switch id {
	case MsgDevDepMsgOut:
		return "DEV_DEP_MSG_OUT"
	case MsgRequestDevDepMsgIn:
		return "REQUEST_DEV_DEP_MSG_IN"
	case MsgVendorSpecificOut:
		return "VENDOR_SPECIFIC_OUT"
	case MsgRequestVendorSpecificIn:
		return "REQUEST_VENDOR_SPECIFIC_IN"
	case MsgTrigger:
		return "TRIGGER"
	default:
		return fmt.Sprintf("MSG_%d", id)
	}
}

// InMsgName returns the name of a Bulk-IN MsgID.
func InMsgName(id uint8) string {
	switch id {
	case MsgDevDepMsgIn:
		return "DEV_DEP_MSG_IN"
	case MsgVendorSpecificIn:
		return "VENDOR_SPECIFIC_IN"
	default:
		return fmt.Sprintf("MSG_%d", id)
	}
}

// PaddedLen rounds n up to the next multiple of 4.
func PaddedLen(n int) int {
	return (n + 3) &^ 3
}

// NextTag returns the tag after tag, skipping zero.
func NextTag(tag uint8) uint8 {
	tag++
	if tag == 0 {
		tag = 1
	}
	return tag
}

// EncodeDevDepMsgIn writes a complete DEV_DEP_MSG_IN transfer into buf:
// header, payload and zero padding to a 4-byte boundary. Returns the number
// of bytes written, or 0 if buf is too small.
func EncodeDevDepMsgIn(buf []byte, tag uint8, attributes uint8, payload []byte) int {
	n := PaddedLen(HeaderSize + len(payload))
	if len(buf) < n {
		return 0
	}
	h := NewHeader(MsgDevDepMsgIn, tag)
	h.SetTransferSize(uint32(len(payload)))
	h.SetAttributes(attributes)
	h.MarshalTo(buf)
	copy(buf[HeaderSize:], payload)
	clear(buf[HeaderSize+len(payload) : n])
	return n
}

// EncodeDevDepMsgOut writes a complete DEV_DEP_MSG_OUT transfer into buf.
// Hosts use it to frame commands.
func EncodeDevDepMsgOut(buf []byte, tag uint8, eom bool, payload []byte) int {
	n := PaddedLen(HeaderSize + len(payload))
	if len(buf) < n {
		return 0
	}
	h := NewHeader(MsgDevDepMsgOut, tag)
	h.SetTransferSize(uint32(len(payload)))
	if eom {
		h.SetAttributes(AttrEOM)
	}
	h.MarshalTo(buf)
	copy(buf[HeaderSize:], payload)
	clear(buf[HeaderSize+len(payload) : n])
	return n
}

// EncodeRequestDevDepMsgIn writes a REQUEST_DEV_DEP_MSG_IN header into buf.
// A termChar of -1 leaves TermChar disabled.
func EncodeRequestDevDepMsgIn(buf []byte, tag uint8, maxSize uint32, termChar int) int {
	h := NewHeader(MsgRequestDevDepMsgIn, tag)
	h.SetTransferSize(maxSize)
	if termChar >= 0 {
		h.SetAttributes(AttrTermCharEnabled)
		h.SetTermChar(uint8(termChar))
	}
	return h.MarshalTo(buf)
}
