package tmc

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

// fakeState stands in for the function's worker. With deferred set, reset
// operations wait for flush.
type fakeState struct {
	outTag    uint8
	outActive bool
	inTag     uint8
	inActive  bool
	received  uint32
	sent      uint32

	deferred bool
	pending  []func()
	clears   int

	// unavailable makes every reset fail to schedule.
	unavailable error
}

func (s *fakeState) bulkOut() (uint8, bool) { return s.outTag, s.outActive }
func (s *fakeState) bulkIn() (uint8, bool)  { return s.inTag, s.inActive }

func (s *fakeState) run(fn func()) error {
	if s.unavailable != nil {
		return s.unavailable
	}
	if s.deferred {
		s.pending = append(s.pending, fn)
		return nil
	}
	fn()
	return nil
}

func (s *fakeState) flush() {
	pending := s.pending
	s.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func (s *fakeState) clear(done func()) error {
	return s.run(func() {
		s.clears++
		s.outActive, s.inActive = false, false
		done()
	})
}

func (s *fakeState) abortBulkOut(done func(uint32)) error {
	return s.run(func() {
		s.outActive = false
		done(s.received)
	})
}

func (s *fakeState) abortBulkIn(done func(uint32, bool)) error {
	return s.run(func() {
		s.inActive = false
		done(s.sent, false)
	})
}

type pulseCounter struct{ n int }

func (p *pulseCounter) Pulse() { p.n++ }

func newTestControl(state transferState, pulser Pulser) *ControlHandler {
	cfg := DefaultConfig()
	cfg.Pulser = pulser
	return newControlHandler(&cfg, state)
}

func ifaceSetup(request uint8, length uint16) *hal.SetupPacket {
	var s hal.SetupPacket
	hal.ClassInSetup(&s, hal.RequestRecipientInterface, request, 0, 0, length)
	return &s
}

func endpointSetup(request uint8, tag uint8, ep uint8, length uint16) *hal.SetupPacket {
	var s hal.SetupPacket
	hal.ClassInSetup(&s, hal.RequestRecipientEndpoint, request, uint16(tag), uint16(ep), length)
	return &s
}

func TestControlGetCapabilities(t *testing.T) {
	c := newTestControl(&fakeState{}, nil)

	resp, err := c.HandleSetup(ifaceSetup(RequestGetCapabilities, CapabilitiesSize))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if len(resp) != CapabilitiesSize {
		t.Fatalf("len(resp) = %d, want %d", len(resp), CapabilitiesSize)
	}
	if Status(resp[0]) != StatusSuccess {
		t.Errorf("status = %v, want %v", Status(resp[0]), StatusSuccess)
	}
	if resp[4]&0x04 == 0 {
		t.Error("INDICATOR_PULSE not declared")
	}
}

func TestControlStalls(t *testing.T) {
	var hostToDevice hal.SetupPacket
	hal.ClassInSetup(&hostToDevice, hal.RequestRecipientInterface, RequestGetCapabilities, 0, 0, 24)
	hostToDevice.RequestType &^= hal.RequestDirectionDeviceToHost

	var standard hal.SetupPacket
	hal.ClassInSetup(&standard, hal.RequestRecipientInterface, RequestGetCapabilities, 0, 0, 24)
	standard.RequestType &^= hal.RequestTypeClass

	var otherIface hal.SetupPacket
	hal.ClassInSetup(&otherIface, hal.RequestRecipientInterface, RequestGetCapabilities, 0, 3, 24)

	var device hal.SetupPacket
	hal.ClassInSetup(&device, hal.RequestRecipientDevice, RequestGetCapabilities, 0, 0, 24)

	tests := []struct {
		name  string
		setup *hal.SetupPacket
	}{
		{"unknown interface request", ifaceSetup(0x99, 8)},
		{"host to device", &hostToDevice},
		{"standard type", &standard},
		{"other interface", &otherIface},
		{"device recipient", &device},
		{"short wLength", ifaceSetup(RequestGetCapabilities, 8)},
		{"abort out on bulk-in endpoint", endpointSetup(RequestInitiateAbortBulkOut, 1, 0x81, 2)},
		{"abort in on bulk-out endpoint", endpointSetup(RequestInitiateAbortBulkIn, 1, 0x01, 2)},
		{"interface request to endpoint", endpointSetup(RequestInitiateClear, 0, 0x01, 1)},
		{"check abort short wLength", endpointSetup(RequestCheckAbortBulkOutStatus, 0, 0x01, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestControl(&fakeState{}, nil)
			resp, err := c.HandleSetup(tt.setup)
			if !errors.Is(err, pkg.ErrStall) {
				t.Errorf("HandleSetup() error = %v, want %v", err, pkg.ErrStall)
			}
			if resp != nil {
				t.Errorf("HandleSetup() resp = % X, want nil", resp)
			}
		})
	}
}

func TestControlIndicatorPulse(t *testing.T) {
	p := &pulseCounter{}
	c := newTestControl(&fakeState{}, p)

	resp, err := c.HandleSetup(ifaceSetup(RequestIndicatorPulse, 1))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusSuccess {
		t.Errorf("status = %v, want %v", Status(resp[0]), StatusSuccess)
	}
	if p.n != 1 {
		t.Errorf("pulses = %d, want 1", p.n)
	}

	cfg := DefaultConfig()
	cfg.Capabilities.IndicatorPulse = false
	cfg.Pulser = p
	c = newControlHandler(&cfg, &fakeState{})
	if _, err := c.HandleSetup(ifaceSetup(RequestIndicatorPulse, 1)); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("undeclared INDICATOR_PULSE error = %v, want %v", err, pkg.ErrStall)
	}
	if p.n != 1 {
		t.Errorf("pulses = %d after undeclared request, want 1", p.n)
	}
}

func TestControlClear(t *testing.T) {
	state := &fakeState{deferred: true}
	c := newTestControl(state, nil)

	status := func(request uint8, length uint16) Status {
		t.Helper()
		resp, err := c.HandleSetup(ifaceSetup(request, length))
		if err != nil {
			t.Fatalf("HandleSetup(%d) error = %v", request, err)
		}
		return Status(resp[0])
	}

	if got := status(RequestCheckClearStatus, 2); got != StatusSplitNotInProgress {
		t.Errorf("CHECK_CLEAR_STATUS before clear = %v, want %v", got, StatusSplitNotInProgress)
	}
	if got := status(RequestInitiateClear, 1); got != StatusSuccess {
		t.Errorf("INITIATE_CLEAR = %v, want %v", got, StatusSuccess)
	}
	if got := status(RequestInitiateClear, 1); got != StatusSplitInProgress {
		t.Errorf("second INITIATE_CLEAR = %v, want %v", got, StatusSplitInProgress)
	}
	if got := status(RequestCheckClearStatus, 2); got != StatusPending {
		t.Errorf("CHECK_CLEAR_STATUS while clearing = %v, want %v", got, StatusPending)
	}

	state.flush()
	if state.clears != 1 {
		t.Errorf("clears = %d, want 1", state.clears)
	}
	if got := status(RequestCheckClearStatus, 2); got != StatusSuccess {
		t.Errorf("CHECK_CLEAR_STATUS after clear = %v, want %v", got, StatusSuccess)
	}
	if got := status(RequestCheckClearStatus, 2); got != StatusSplitNotInProgress {
		t.Errorf("repeated CHECK_CLEAR_STATUS = %v, want %v", got, StatusSplitNotInProgress)
	}
}

func TestControlAbortBulkOut(t *testing.T) {
	state := &fakeState{outTag: 7, outActive: true, received: 3}
	c := newTestControl(state, nil)

	resp, err := c.HandleSetup(endpointSetup(RequestInitiateAbortBulkOut, 6, 0x01, 2))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusTransferNotInProgress {
		t.Errorf("abort wrong tag = %v, want %v", Status(resp[0]), StatusTransferNotInProgress)
	}
	if resp[1] != 7 {
		t.Errorf("reported tag = %d, want 7", resp[1])
	}
	if !state.outActive {
		t.Fatal("mismatched abort reset the transfer")
	}

	resp, err = c.HandleSetup(endpointSetup(RequestInitiateAbortBulkOut, 7, 0x01, 2))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusSuccess || resp[1] != 7 {
		t.Errorf("abort = [%v %d], want [%v 7]", Status(resp[0]), resp[1], StatusSuccess)
	}
	if state.outActive {
		t.Error("transfer still active after abort")
	}

	resp, err = c.HandleSetup(endpointSetup(RequestCheckAbortBulkOutStatus, 0, 0x01, 8))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if len(resp) != 8 {
		t.Fatalf("len(resp) = %d, want 8", len(resp))
	}
	if Status(resp[0]) != StatusSuccess {
		t.Errorf("check status = %v, want %v", Status(resp[0]), StatusSuccess)
	}
	if got := binary.LittleEndian.Uint32(resp[4:8]); got != 3 {
		t.Errorf("NBYTES_RXD = %d, want 3", got)
	}
}

func TestControlAbortBulkIn(t *testing.T) {
	state := &fakeState{deferred: true, inTag: 4, inActive: true, sent: 10}
	c := newTestControl(state, nil)

	resp, err := c.HandleSetup(endpointSetup(RequestInitiateAbortBulkIn, 4, 0x81, 2))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusSuccess || resp[1] != 4 {
		t.Errorf("abort = [%v %d], want [%v 4]", Status(resp[0]), resp[1], StatusSuccess)
	}

	resp, err = c.HandleSetup(endpointSetup(RequestCheckAbortBulkInStatus, 0, 0x81, 8))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusPending {
		t.Errorf("check status = %v, want %v", Status(resp[0]), StatusPending)
	}

	// Another split request waits for the first to finish.
	resp, err = c.HandleSetup(ifaceSetup(RequestInitiateClear, 1))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusSplitInProgress {
		t.Errorf("clear during abort = %v, want %v", Status(resp[0]), StatusSplitInProgress)
	}

	state.flush()
	resp, err = c.HandleSetup(endpointSetup(RequestCheckAbortBulkInStatus, 0, 0x81, 8))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusSuccess {
		t.Errorf("check status = %v, want %v", Status(resp[0]), StatusSuccess)
	}
	if resp[1] != 0 {
		t.Errorf("bmAbortBulkIn = 0x%02X, want 0", resp[1])
	}
	if got := binary.LittleEndian.Uint32(resp[4:8]); got != 10 {
		t.Errorf("NBYTES_TXD = %d, want 10", got)
	}
}

func TestControlAbortIdle(t *testing.T) {
	c := newTestControl(&fakeState{inTag: 2}, nil)

	resp, err := c.HandleSetup(endpointSetup(RequestInitiateAbortBulkIn, 2, 0x81, 2))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusTransferNotInProgress {
		t.Errorf("abort idle = %v, want %v", Status(resp[0]), StatusTransferNotInProgress)
	}

	resp, err = c.HandleSetup(endpointSetup(RequestCheckAbortBulkInStatus, 0, 0x81, 8))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusSplitNotInProgress {
		t.Errorf("check idle = %v, want %v", Status(resp[0]), StatusSplitNotInProgress)
	}
}

func TestControlUnscheduledSplit(t *testing.T) {
	state := &fakeState{outTag: 5, outActive: true, inTag: 6, inActive: true, unavailable: context.Canceled}
	c := newTestControl(state, nil)

	tests := []struct {
		name     string
		initiate *hal.SetupPacket
		check    *hal.SetupPacket
	}{
		{"clear", ifaceSetup(RequestInitiateClear, 1), ifaceSetup(RequestCheckClearStatus, 2)},
		{"abort bulk-out", endpointSetup(RequestInitiateAbortBulkOut, 5, 0x01, 2), endpointSetup(RequestCheckAbortBulkOutStatus, 0, 0x01, 8)},
		{"abort bulk-in", endpointSetup(RequestInitiateAbortBulkIn, 6, 0x81, 2), endpointSetup(RequestCheckAbortBulkInStatus, 0, 0x81, 8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.HandleSetup(tt.initiate)
			if err != nil {
				t.Fatalf("HandleSetup() error = %v", err)
			}
			if Status(resp[0]) != StatusFailed {
				t.Errorf("initiate = %v, want %v", Status(resp[0]), StatusFailed)
			}
			resp, err = c.HandleSetup(tt.check)
			if err != nil {
				t.Fatalf("HandleSetup() error = %v", err)
			}
			if Status(resp[0]) != StatusSplitNotInProgress {
				t.Errorf("check = %v, want %v", Status(resp[0]), StatusSplitNotInProgress)
			}
		})
	}

	// Nothing is left holding the split.
	state.unavailable = nil
	resp, err := c.HandleSetup(ifaceSetup(RequestInitiateClear, 1))
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if Status(resp[0]) != StatusSuccess {
		t.Errorf("INITIATE_CLEAR after failures = %v, want %v", Status(resp[0]), StatusSuccess)
	}
}
