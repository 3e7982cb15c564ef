package tmc

import (
	"testing"
)

// frameOut returns a padded DEV_DEP_MSG_OUT transfer.
func frameOut(tag uint8, payload string) []byte {
	buf := make([]byte, PaddedLen(HeaderSize+len(payload)))
	EncodeDevDepMsgOut(buf, tag, true, []byte(payload))
	return buf
}

func TestReassemblerSingleChunk(t *testing.T) {
	r := NewReassembler(64, false)
	chunk := frameOut(1, "*IDN?\n")

	msg, ok := r.Feed(chunk)
	if !ok {
		t.Fatal("Feed() did not complete the transfer")
	}
	if string(msg.Payload) != "*IDN?\n" {
		t.Errorf("Payload = %q, want %q", msg.Payload, "*IDN?\n")
	}
	if msg.Header.Tag != 1 {
		t.Errorf("Tag = %d, want 1", msg.Header.Tag)
	}
	if r.State() != StateAwaitingHeader {
		t.Errorf("State() = %v, want %v", r.State(), StateAwaitingHeader)
	}
}

func TestReassemblerSplitChunks(t *testing.T) {
	r := NewReassembler(64, false)
	chunk := frameOut(2, "*IDN?\n")

	if _, ok := r.Feed(chunk[:HeaderSize+3]); ok {
		t.Fatal("Feed() completed after 3 of 6 bytes")
	}
	if r.State() != StateAccumulatingPayload {
		t.Errorf("State() = %v, want %v", r.State(), StateAccumulatingPayload)
	}
	if !r.InProgress(2) {
		t.Error("InProgress(2) = false, want true")
	}
	if r.Received() != 3 {
		t.Errorf("Received() = %d, want 3", r.Received())
	}

	msg, ok := r.Feed(chunk[HeaderSize+3:])
	if !ok {
		t.Fatal("Feed() did not complete after the second chunk")
	}
	if string(msg.Payload) != "*IDN?\n" {
		t.Errorf("Payload = %q, want %q", msg.Payload, "*IDN?\n")
	}
	if r.InProgress(2) {
		t.Error("InProgress(2) = true after completion")
	}
}

func TestReassemblerManyPackets(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = 'A' + byte(i%26)
	}
	r := NewReassembler(512, false)
	chunk := frameOut(9, string(payload))

	var msg Message
	var done bool
	for off := 0; off < len(chunk); off += 64 {
		if done {
			t.Fatalf("transfer completed early at offset %d", off)
		}
		msg, done = r.Feed(chunk[off:min(off+64, len(chunk))])
	}
	if !done {
		t.Fatal("transfer never completed")
	}
	if string(msg.Payload) != string(payload) {
		t.Error("reassembled payload differs from the sent payload")
	}
}

func TestReassemblerDropsBadTag(t *testing.T) {
	r := NewReassembler(64, false)

	bad := frameOut(5, "*RST\n")
	bad[2] = 0x00 // wrong tag complement

	if _, ok := r.Feed(bad); ok {
		t.Fatal("Feed() accepted a header with a bad tag complement")
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}
	if r.State() != StateAwaitingHeader {
		t.Errorf("State() = %v, want %v", r.State(), StateAwaitingHeader)
	}

	msg, ok := r.Feed(frameOut(6, "*IDN?\n"))
	if !ok {
		t.Fatal("Feed() did not accept the next well-formed header")
	}
	if msg.Header.Tag != 6 || string(msg.Payload) != "*IDN?\n" {
		t.Errorf("message = tag %d %q, want tag 6 %q", msg.Header.Tag, msg.Payload, "*IDN?\n")
	}
}

func TestReassemblerDrops(t *testing.T) {
	trigger := make([]byte, HeaderSize)
	h := NewHeader(MsgTrigger, 3)
	h.MarshalTo(trigger)

	unknown := make([]byte, HeaderSize)
	h = NewHeader(42, 3)
	h.MarshalTo(unknown)

	tests := []struct {
		name  string
		chunk []byte
	}{
		{"short chunk", []byte{1, 2, 3}},
		{"oversize transfer", frameOut(1, "0123456789ABCDEF")},
		{"unknown msgid", unknown},
		{"trigger without usb488 trigger", trigger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler(8, false)
			if _, ok := r.Feed(tt.chunk); ok {
				t.Error("Feed() completed a transfer that should be dropped")
			}
			if r.Dropped() != 1 {
				t.Errorf("Dropped() = %d, want 1", r.Dropped())
			}
			if r.State() != StateAwaitingHeader {
				t.Errorf("State() = %v, want %v", r.State(), StateAwaitingHeader)
			}
		})
	}
}

func TestReassemblerRequestIn(t *testing.T) {
	r := NewReassembler(64, false)
	var buf [HeaderSize]byte
	EncodeRequestDevDepMsgIn(buf[:], 8, 128, -1)

	msg, ok := r.Feed(buf[:])
	if !ok {
		t.Fatal("Feed() did not complete a REQUEST_DEV_DEP_MSG_IN header")
	}
	if msg.Header.MsgID != MsgRequestDevDepMsgIn {
		t.Errorf("MsgID = %d, want %d", msg.Header.MsgID, MsgRequestDevDepMsgIn)
	}
	if len(msg.Payload) != 0 {
		t.Errorf("len(Payload) = %d, want 0", len(msg.Payload))
	}
	if msg.Header.TransferSize() != 128 {
		t.Errorf("TransferSize() = %d, want 128", msg.Header.TransferSize())
	}
}

func TestReassemblerTrigger(t *testing.T) {
	r := NewReassembler(64, true)
	var buf [HeaderSize]byte
	h := NewHeader(MsgTrigger, 4)
	h.MarshalTo(buf[:])

	msg, ok := r.Feed(buf[:])
	if !ok {
		t.Fatal("Feed() did not accept TRIGGER")
	}
	if msg.Header.MsgID != MsgTrigger {
		t.Errorf("MsgID = %d, want %d", msg.Header.MsgID, MsgTrigger)
	}
}

func TestReassemblerZeroLengthMessage(t *testing.T) {
	r := NewReassembler(64, false)
	msg, ok := r.Feed(frameOut(1, ""))
	if !ok {
		t.Fatal("Feed() did not complete an empty message")
	}
	if len(msg.Payload) != 0 {
		t.Errorf("len(Payload) = %d, want 0", len(msg.Payload))
	}
}

func TestReassemblerReset(t *testing.T) {
	r := NewReassembler(64, false)
	chunk := frameOut(2, "*IDN?\n")
	r.Feed(chunk[:HeaderSize+2])

	r.Reset()
	if r.State() != StateAwaitingHeader {
		t.Errorf("State() = %v, want %v", r.State(), StateAwaitingHeader)
	}

	// The remainder of the abandoned transfer is not a header.
	if _, ok := r.Feed(chunk[HeaderSize+2:]); ok {
		t.Error("Feed() completed the abandoned transfer")
	}
	if _, ok := r.Feed(frameOut(3, "*CLS\n")); !ok {
		t.Error("Feed() did not accept a fresh transfer after Reset")
	}
}

func TestReassemblerCapacity(t *testing.T) {
	if got := NewReassembler(0, false).Capacity(); got != DefaultMaxTransferSize {
		t.Errorf("Capacity() = %d, want %d", got, DefaultMaxTransferSize)
	}
	if got := NewReassembler(100, false).Capacity(); got != 100 {
		t.Errorf("Capacity() = %d, want 100", got)
	}
}

func TestReassemblerSkipsRefusedPayload(t *testing.T) {
	r := NewReassembler(8, false)

	// The refused payload carries bytes that parse as a valid header.
	inner := frameOut(5, "AB")
	outer := frameOut(1, "zzzz"+string(inner))

	if _, ok := r.Feed(outer[:HeaderSize+4]); ok {
		t.Fatal("Feed() completed an oversize transfer")
	}
	if r.State() != StateSkippingPayload {
		t.Errorf("State() = %v, want %v", r.State(), StateSkippingPayload)
	}
	if !r.InProgress(1) {
		t.Error("InProgress(1) = false while skipping")
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}

	if msg, ok := r.Feed(outer[HeaderSize+4:]); ok {
		t.Fatalf("Feed() parsed payload as a transfer: tag %d %q", msg.Header.Tag, msg.Payload)
	}
	if r.State() != StateAwaitingHeader {
		t.Errorf("State() = %v, want %v", r.State(), StateAwaitingHeader)
	}
	if r.Received() != uint32(4+len(inner)) {
		t.Errorf("Received() = %d, want %d", r.Received(), 4+len(inner))
	}

	msg, ok := r.Feed(frameOut(6, "ok"))
	if !ok || string(msg.Payload) != "ok" {
		t.Errorf("Feed() after skip = %q, %v; want %q, true", msg.Payload, ok, "ok")
	}
}
