package tmc

import (
	"testing"
)

func TestCapabilitiesMarshalTo(t *testing.T) {
	caps := DefaultCapabilities()
	var buf [CapabilitiesSize]byte

	if n := caps.MarshalTo(buf[:], StatusSuccess); n != CapabilitiesSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, CapabilitiesSize)
	}

	tests := []struct {
		name  string
		index int
		want  uint8
	}{
		{"status", 0, uint8(StatusSuccess)},
		{"bcdUSBTMC low", 2, 0x00},
		{"bcdUSBTMC high", 3, 0x01},
		{"interface caps", 4, 0x04},
		{"device caps", 5, 0x01},
		{"bcdUSB488 low", 12, 0x00},
		{"bcdUSB488 high", 13, 0x01},
		{"usb488 interface caps", 14, 0x04},
		{"usb488 device caps", 15, 0x0C},
	}
	for _, tt := range tests {
		if buf[tt.index] != tt.want {
			t.Errorf("%s: byte %d = 0x%02X, want 0x%02X", tt.name, tt.index, buf[tt.index], tt.want)
		}
	}

	for _, i := range []int{1, 6, 7, 8, 9, 10, 11, 16, 17, 18, 19, 20, 21, 22, 23} {
		if buf[i] != 0 {
			t.Errorf("reserved byte %d = 0x%02X, want 0", i, buf[i])
		}
	}
}

func TestCapabilitiesPlainTMC(t *testing.T) {
	caps := Capabilities{Protocol: ProtocolTMC, ListenOnly: true}
	buf := make([]byte, CapabilitiesSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	caps.MarshalTo(buf, StatusSuccess)

	if buf[4] != 0x01 {
		t.Errorf("interface caps = 0x%02X, want 0x01", buf[4])
	}
	if buf[12] != 0 || buf[13] != 0 || buf[14] != 0 || buf[15] != 0 {
		t.Errorf("usb488 block = % X, want zeros", buf[12:16])
	}
	if caps.AcceptsTrigger() {
		t.Error("AcceptsTrigger() = true for plain USBTMC")
	}
}

func TestParseCapabilities(t *testing.T) {
	want := DefaultCapabilities()
	want.USB488.Trigger = true
	want.USB488.DeviceTrigger = true

	buf := make([]byte, CapabilitiesSize)
	want.MarshalTo(buf, StatusSuccess)

	var got Capabilities
	status, ok := ParseCapabilities(buf, &got)
	if !ok {
		t.Fatal("ParseCapabilities() failed")
	}
	if status != StatusSuccess {
		t.Errorf("status = %v, want %v", status, StatusSuccess)
	}
	if got != want {
		t.Errorf("ParseCapabilities() = %+v, want %+v", got, want)
	}
	if !got.AcceptsTrigger() {
		t.Error("AcceptsTrigger() = false, want true")
	}

	if _, ok := ParseCapabilities(buf[:10], &got); ok {
		t.Error("ParseCapabilities(short) succeeded")
	}
}

func TestMarshalDescriptors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterfaceNumber = 2
	buf := make([]byte, DescriptorsSize)

	if n := MarshalDescriptors(buf, &cfg, 64, 4); n != DescriptorsSize {
		t.Fatalf("MarshalDescriptors() = %d, want %d", n, DescriptorsSize)
	}

	iface := buf[:InterfaceDescriptorSize]
	want := []byte{9, 0x04, 2, 0, 2, InterfaceClass, InterfaceSubClass, uint8(ProtocolUSB488), 4}
	for i := range want {
		if iface[i] != want[i] {
			t.Errorf("interface byte %d = 0x%02X, want 0x%02X", i, iface[i], want[i])
		}
	}

	out := buf[InterfaceDescriptorSize:]
	in := buf[InterfaceDescriptorSize+EndpointDescriptorSize:]
	if out[2] != 0x01 || in[2] != 0x81 {
		t.Errorf("endpoint addresses = 0x%02X 0x%02X, want 0x01 0x81", out[2], in[2])
	}
	if out[3] != 0x02 || in[3] != 0x02 {
		t.Error("endpoints are not bulk")
	}
	if out[4] != 64 || out[5] != 0 {
		t.Errorf("wMaxPacketSize = % X, want 40 00", out[4:6])
	}

	if n := MarshalDescriptors(make([]byte, 10), &cfg, 64, 0); n != 0 {
		t.Errorf("MarshalDescriptors(short) = %d, want 0", n)
	}
}
