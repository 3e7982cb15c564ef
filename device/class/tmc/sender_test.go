package tmc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/device/hal/loopback"
)

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

func TestSenderChunking(t *testing.T) {
	tests := []struct {
		name    string
		payload int
		packets []int
	}{
		{"single short packet", 6, []int{20}},
		{"exact packet adds zlp", 52, []int{64, 0}},
		{"two packets", 100, []int{64, 48}},
		{"two full packets", 116, []int{64, 64, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := loopback.New(hal.SpeedFull, 8)
			s := newSender(lb, 0x81, 64, 256)

			h := NewHeader(MsgDevDepMsgIn, 3)
			payload := payloadOf(tt.payload)
			if err := s.load(&h, payload); err != nil {
				t.Fatalf("load() error = %v", err)
			}
			blocked, err := s.pump(context.Background())
			if err != nil || blocked {
				t.Fatalf("pump() = %v, %v; want false, nil", blocked, err)
			}
			if s.active {
				t.Error("sender still active after full transfer")
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			var got []byte
			for i, want := range tt.packets {
				p, err := lb.BulkIn(ctx)
				if err != nil {
					t.Fatalf("BulkIn() %d error = %v", i, err)
				}
				if len(p) != want {
					t.Errorf("packet %d length = %d, want %d", i, len(p), want)
				}
				got = append(got, p...)
			}

			var parsed Header
			if err := ParseHeader(got, &parsed); err != nil {
				t.Fatalf("ParseHeader() error = %v", err)
			}
			if int(parsed.TransferSize()) != tt.payload {
				t.Errorf("TransferSize() = %d, want %d", parsed.TransferSize(), tt.payload)
			}
			if !bytes.Equal(got[HeaderSize:HeaderSize+tt.payload], payload) {
				t.Error("payload mismatch")
			}
		})
	}
}

func TestSenderBackpressure(t *testing.T) {
	lb := loopback.New(hal.SpeedFull, 1)
	s := newSender(lb, 0x81, 64, 256)

	h := NewHeader(MsgDevDepMsgIn, 9)
	payload := payloadOf(200) // 212 framed bytes, four packets
	if err := s.load(&h, payload); err != nil {
		t.Fatalf("load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	blocked, err := s.pump(ctx)
	if err != nil || !blocked {
		t.Fatalf("pump() = %v, %v; want true, nil", blocked, err)
	}
	if got := s.sent(); got != 64-HeaderSize {
		t.Errorf("sent() = %d, want %d", got, 64-HeaderSize)
	}

	var got []byte
	for s.active {
		p, err := lb.BulkIn(ctx)
		if err != nil {
			t.Fatalf("BulkIn() error = %v", err)
		}
		got = append(got, p...)
		if _, err := s.pump(ctx); err != nil {
			t.Fatalf("pump() error = %v", err)
		}
	}
	p, err := lb.BulkIn(ctx)
	if err != nil {
		t.Fatalf("BulkIn() error = %v", err)
	}
	got = append(got, p...)

	if len(got) != PaddedLen(HeaderSize+len(payload)) {
		t.Fatalf("received %d bytes, want %d", len(got), PaddedLen(HeaderSize+len(payload)))
	}
	if !bytes.Equal(got[HeaderSize:HeaderSize+len(payload)], payload) {
		t.Error("payload mismatch after backpressure")
	}
}

func TestSenderTooLarge(t *testing.T) {
	lb := loopback.New(hal.SpeedFull, 1)
	s := newSender(lb, 0x81, 64, 16)

	h := NewHeader(MsgDevDepMsgIn, 1)
	if err := s.load(&h, payloadOf(64)); err == nil {
		t.Error("load() accepted a payload larger than the buffer")
	}
	if s.active {
		t.Error("sender active after failed load")
	}
}
