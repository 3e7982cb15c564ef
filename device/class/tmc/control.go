package tmc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

// Pulser flashes an identification indicator on INDICATOR_PULSE.
type Pulser interface {
	Pulse()
}

// transferState is what the control handler inspects and resets. The
// reset operations run later on the function's worker and call done once
// finished, so the handler answers CHECK requests with PENDING until then.
// An error means the operation was not scheduled and done will not be
// called.
type transferState interface {
	bulkOut() (tag uint8, active bool)
	bulkIn() (tag uint8, active bool)
	clear(done func()) error
	abortBulkOut(done func(received uint32)) error
	abortBulkIn(done func(sent uint32, queued bool)) error
}

// split tracks one INITIATE/CHECK request pair.
type split struct {
	active bool   // INITIATE accepted, work not finished
	done   bool   // work finished, CHECK not yet answered with success
	count  uint32 // NBYTES_RXD or NBYTES_TXD
	queued bool   // bmAbortBulkIn D0
}

// ControlHandler answers USBTMC class requests on the control endpoint.
// Anything it does not recognize is rejected with [pkg.ErrStall].
type ControlHandler struct {
	caps      Capabilities
	iface     uint8
	bulkOutEP uint8
	bulkInEP  uint8
	pulser    Pulser
	state     transferState

	mutex    sync.Mutex
	clearOp  split
	abortOut split
	abortIn  split

	buf [CapabilitiesSize]byte
}

func newControlHandler(cfg *Config, state transferState) *ControlHandler {
	return &ControlHandler{
		caps:      cfg.Capabilities,
		iface:     cfg.InterfaceNumber,
		bulkOutEP: cfg.BulkOutEndpoint,
		bulkInEP:  cfg.BulkInEndpoint,
		pulser:    cfg.Pulser,
		state:     state,
	}
}

// HandleSetup returns the data stage for setup, or an error wrapping
// [pkg.ErrStall]. The returned slice is valid until the next call.
func (c *ControlHandler) HandleSetup(setup *hal.SetupPacket) ([]byte, error) {
	if !setup.IsClass() || !setup.IsDeviceToHost() {
		return nil, c.stall(setup)
	}

	switch {
	case setup.IsInterfaceRecipient():
		if setup.InterfaceNumber() != c.iface {
			return nil, c.stall(setup)
		}
		return c.handleInterface(setup)
	case setup.IsEndpointRecipient():
		return c.handleEndpoint(setup)
	}
	return nil, c.stall(setup)
}

func (c *ControlHandler) stall(setup *hal.SetupPacket) error {
	return fmt.Errorf("%s: %w", setup.String(), pkg.ErrStall)
}

// reply checks wLength against the fixed response size and returns the
// response slice.
func (c *ControlHandler) reply(setup *hal.SetupPacket, n int) ([]byte, error) {
	if int(setup.Length) < n {
		return nil, c.stall(setup)
	}
	return c.buf[:n], nil
}

func (c *ControlHandler) handleInterface(setup *hal.SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetCapabilities:
		resp, err := c.reply(setup, CapabilitiesSize)
		if err != nil {
			return nil, err
		}
		c.caps.MarshalTo(resp, StatusSuccess)
		return resp, nil

	case RequestInitiateClear:
		resp, err := c.reply(setup, 1)
		if err != nil {
			return nil, err
		}
		resp[0] = uint8(c.initiateClear())
		return resp, nil

	case RequestCheckClearStatus:
		resp, err := c.reply(setup, 2)
		if err != nil {
			return nil, err
		}
		resp[0] = uint8(c.checkClear())
		resp[1] = 0
		return resp, nil

	case RequestIndicatorPulse:
		if !c.caps.IndicatorPulse {
			return nil, c.stall(setup)
		}
		resp, err := c.reply(setup, 1)
		if err != nil {
			return nil, err
		}
		if c.pulser != nil {
			c.pulser.Pulse()
		}
		resp[0] = uint8(StatusSuccess)
		return resp, nil
	}
	return nil, c.stall(setup)
}

func (c *ControlHandler) handleEndpoint(setup *hal.SetupPacket) ([]byte, error) {
	ep := setup.EndpointAddress()
	switch setup.Request {
	case RequestInitiateAbortBulkOut:
		if ep != c.bulkOutEP {
			break
		}
		resp, err := c.reply(setup, 2)
		if err != nil {
			return nil, err
		}
		status, tag := c.initiateAbortOut(uint8(setup.Value))
		resp[0] = uint8(status)
		resp[1] = tag
		return resp, nil

	case RequestCheckAbortBulkOutStatus:
		if ep != c.bulkOutEP {
			break
		}
		resp, err := c.reply(setup, 8)
		if err != nil {
			return nil, err
		}
		status, count, _ := c.check(&c.abortOut)
		clear(resp)
		resp[0] = uint8(status)
		binary.LittleEndian.PutUint32(resp[4:8], count)
		return resp, nil

	case RequestInitiateAbortBulkIn:
		if ep != c.bulkInEP {
			break
		}
		resp, err := c.reply(setup, 2)
		if err != nil {
			return nil, err
		}
		status, tag := c.initiateAbortIn(uint8(setup.Value))
		resp[0] = uint8(status)
		resp[1] = tag
		return resp, nil

	case RequestCheckAbortBulkInStatus:
		if ep != c.bulkInEP {
			break
		}
		resp, err := c.reply(setup, 8)
		if err != nil {
			return nil, err
		}
		status, count, queued := c.check(&c.abortIn)
		clear(resp)
		resp[0] = uint8(status)
		if queued {
			resp[1] = 1
		}
		binary.LittleEndian.PutUint32(resp[4:8], count)
		return resp, nil
	}
	return nil, c.stall(setup)
}

func (c *ControlHandler) busy() bool {
	return c.clearOp.active || c.abortOut.active || c.abortIn.active
}

func (c *ControlHandler) initiateClear() Status {
	c.mutex.Lock()
	if c.busy() {
		c.mutex.Unlock()
		return StatusSplitInProgress
	}
	c.clearOp = split{active: true}
	c.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentTMC, "initiate clear")
	err := c.state.clear(func() {
		c.finish(&c.clearOp, split{done: true})
	})
	if err != nil {
		c.finish(&c.clearOp, split{})
		return StatusFailed
	}
	return StatusSuccess
}

func (c *ControlHandler) checkClear() Status {
	status, _, _ := c.check(&c.clearOp)
	return status
}

// initiateAbortOut returns the status and the tag of the current or most
// recent transfer.
func (c *ControlHandler) initiateAbortOut(tag uint8) (Status, uint8) {
	c.mutex.Lock()
	current, active := c.state.bulkOut()
	if c.busy() {
		c.mutex.Unlock()
		return StatusSplitInProgress, current
	}
	if !active || current != tag {
		c.mutex.Unlock()
		return StatusTransferNotInProgress, current
	}
	c.abortOut = split{active: true}
	c.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentTMC, "initiate abort bulk-out", "tag", tag)
	err := c.state.abortBulkOut(func(received uint32) {
		c.finish(&c.abortOut, split{done: true, count: received})
	})
	if err != nil {
		c.finish(&c.abortOut, split{})
		return StatusFailed, current
	}
	return StatusSuccess, current
}

// initiateAbortIn returns the status and the tag of the current or most
// recent transfer.
func (c *ControlHandler) initiateAbortIn(tag uint8) (Status, uint8) {
	c.mutex.Lock()
	current, active := c.state.bulkIn()
	if c.busy() {
		c.mutex.Unlock()
		return StatusSplitInProgress, current
	}
	if !active || current != tag {
		c.mutex.Unlock()
		return StatusTransferNotInProgress, current
	}
	c.abortIn = split{active: true}
	c.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentTMC, "initiate abort bulk-in", "tag", tag)
	err := c.state.abortBulkIn(func(sent uint32, queued bool) {
		c.finish(&c.abortIn, split{done: true, count: sent, queued: queued})
	})
	if err != nil {
		c.finish(&c.abortIn, split{})
		return StatusFailed, current
	}
	return StatusSuccess, current
}

func (c *ControlHandler) finish(s *split, result split) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	*s = result
}

// check answers a CHECK request for s.
func (c *ControlHandler) check(s *split) (Status, uint32, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch {
	case s.active:
		return StatusPending, 0, false
	case s.done:
		count, queued := s.count, s.queued
		*s = split{}
		return StatusSuccess, count, queued
	}
	return StatusSplitNotInProgress, 0, false
}
