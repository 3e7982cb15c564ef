package tmc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/microscpi/pkg"
)

func TestParseHeader(t *testing.T) {
	data := []byte{
		MsgDevDepMsgOut, 0x05, 0xFA, 0x00,
		0x06, 0x00, 0x00, 0x00,
		AttrEOM, 0x00, 0x00, 0x00,
	}

	var h Header
	if err := ParseHeader(data, &h); err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.MsgID != MsgDevDepMsgOut {
		t.Errorf("MsgID = %d, want %d", h.MsgID, MsgDevDepMsgOut)
	}
	if h.Tag != 5 {
		t.Errorf("Tag = %d, want 5", h.Tag)
	}
	if h.TransferSize() != 6 {
		t.Errorf("TransferSize() = %d, want 6", h.TransferSize())
	}
	if h.Attributes() != AttrEOM {
		t.Errorf("Attributes() = 0x%02X, want 0x%02X", h.Attributes(), AttrEOM)
	}
	if !h.CarriesPayload() {
		t.Error("CarriesPayload() = false, want true")
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, pkg.ErrHeaderTooShort},
		{"short", make([]byte, HeaderSize-1), pkg.ErrHeaderTooShort},
		{"tag mismatch", []byte{1, 5, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0}, pkg.ErrTagMismatch},
		{"zero inverse of zero", make([]byte, HeaderSize), pkg.ErrTagMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Header
			err := ParseHeader(tt.data, &h)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseHeader() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHeaderMarshalTo(t *testing.T) {
	h := NewHeader(MsgDevDepMsgIn, 0x42)
	h.SetTransferSize(0x01020304)
	h.SetAttributes(AttrInEOM)

	var buf [HeaderSize]byte
	if n := h.MarshalTo(buf[:]); n != HeaderSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, HeaderSize)
	}
	want := []byte{MsgDevDepMsgIn, 0x42, 0xBD, 0x00, 0x04, 0x03, 0x02, 0x01, AttrInEOM, 0, 0, 0}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf[:], want)
	}

	if n := h.MarshalTo(make([]byte, HeaderSize-1)); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestPaddedLen(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0}, {1, 4}, {3, 4}, {4, 4}, {12, 12}, {18, 20}, {19, 20},
	}
	for _, tt := range tests {
		if got := PaddedLen(tt.in); got != tt.want {
			t.Errorf("PaddedLen(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNextTag(t *testing.T) {
	tests := []struct{ in, want uint8 }{
		{0, 1}, {1, 2}, {254, 255}, {255, 1},
	}
	for _, tt := range tests {
		if got := NextTag(tt.in); got != tt.want {
			t.Errorf("NextTag(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeDevDepMsgIn(t *testing.T) {
	payload := []byte("ACME,SCPI-1,0,1.0\n")
	buf := make([]byte, 64)

	n := EncodeDevDepMsgIn(buf, 7, AttrInEOM, payload)
	if n != PaddedLen(HeaderSize+len(payload)) {
		t.Fatalf("EncodeDevDepMsgIn() = %d, want %d", n, PaddedLen(HeaderSize+len(payload)))
	}
	if n%4 != 0 {
		t.Errorf("encoded length %d is not 4-byte aligned", n)
	}

	var h Header
	if err := ParseHeader(buf[:n], &h); err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.MsgID != MsgDevDepMsgIn || h.Tag != 7 {
		t.Errorf("header = %s, want DEV_DEP_MSG_IN tag 7", h.String())
	}
	if int(h.TransferSize()) != len(payload) {
		t.Errorf("TransferSize() = %d, want %d", h.TransferSize(), len(payload))
	}
	if !bytes.Equal(buf[HeaderSize:HeaderSize+len(payload)], payload) {
		t.Errorf("payload = %q, want %q", buf[HeaderSize:HeaderSize+len(payload)], payload)
	}
	for i := HeaderSize + len(payload); i < n; i++ {
		if buf[i] != 0 {
			t.Errorf("padding byte %d = 0x%02X, want 0", i, buf[i])
		}
	}

	if n := EncodeDevDepMsgIn(make([]byte, 8), 7, 0, payload); n != 0 {
		t.Errorf("EncodeDevDepMsgIn(short) = %d, want 0", n)
	}
}

func TestEncodeRequestDevDepMsgIn(t *testing.T) {
	var buf [HeaderSize]byte

	EncodeRequestDevDepMsgIn(buf[:], 3, 256, -1)
	var h Header
	if err := ParseHeader(buf[:], &h); err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.TransferSize() != 256 {
		t.Errorf("TransferSize() = %d, want 256", h.TransferSize())
	}
	if h.Attributes()&AttrTermCharEnabled != 0 {
		t.Error("TermChar enabled without a term char")
	}
	if h.CarriesPayload() {
		t.Error("CarriesPayload() = true for a request")
	}

	EncodeRequestDevDepMsgIn(buf[:], 4, 256, '\n')
	if err := ParseHeader(buf[:], &h); err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.Attributes()&AttrTermCharEnabled == 0 {
		t.Error("TermChar not enabled")
	}
	if h.TermChar() != '\n' {
		t.Errorf("TermChar() = %q, want %q", h.TermChar(), '\n')
	}
}

func TestNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{MsgName(MsgDevDepMsgOut), "DEV_DEP_MSG_OUT"},
		{MsgName(MsgTrigger), "TRIGGER"},
		{MsgName(200), "MSG_200"},
		{InMsgName(MsgDevDepMsgIn), "DEV_DEP_MSG_IN"},
		{InMsgName(MsgVendorSpecificIn), "VENDOR_SPECIFIC_IN"},
		{RequestName(RequestInitiateClear), "INITIATE_CLEAR"},
		{RequestName(RequestIndicatorPulse), "INDICATOR_PULSE"},
		{RequestName(99), "REQUEST_99"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("name = %q, want %q", tt.got, tt.want)
		}
	}
}
