package usbtmc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

// Pipe is the host's view of one USBTMC interface: the default control
// pipe and the two bulk endpoints.
type Pipe interface {
	// Control issues a device-to-host class request and returns its data
	// stage. A stalled request returns an error wrapping [pkg.ErrStall].
	Control(ctx context.Context, setup *hal.SetupPacket) ([]byte, error)

	// BulkOut sends one complete transfer on the Bulk-OUT endpoint.
	BulkOut(ctx context.Context, transfer []byte) error

	// ReadTransfer returns one complete transfer from the Bulk-IN endpoint.
	ReadTransfer(ctx context.Context) ([]byte, error)
}

// Defaults for [Config].
const (
	DefaultTimeout    = 2 * time.Second
	DefaultClearPolls = 50
)

// Config describes the interface a [Client] talks to.
type Config struct {
	InterfaceNumber uint8
	BulkOutEndpoint uint8
	BulkInEndpoint  uint8

	// MaxTransferSize bounds the payload of one transfer in either
	// direction.
	MaxTransferSize uint32

	// TermChar asks the device to end Bulk-IN transfers after this byte.
	// -1 disables it.
	TermChar int

	// Timeout bounds each bulk or control exchange when the caller's
	// context has no earlier deadline.
	Timeout time.Duration
}

// DefaultConfig matches the defaults of the device function.
func DefaultConfig() Config {
	return Config{
		InterfaceNumber: 0,
		BulkOutEndpoint: 0x01,
		BulkInEndpoint:  0x81,
		MaxTransferSize: tmc.DefaultMaxTransferSize,
		TermChar:        -1,
		Timeout:         DefaultTimeout,
	}
}

// Client exchanges USBTMC messages with one instrument. Its methods are
// safe for concurrent use and are serialized.
type Client struct {
	mutex sync.Mutex
	pipe  Pipe
	cfg   Config
	tag   uint8
	last  uint8
	buf   []byte
}

// New returns a client on pipe.
func New(pipe Pipe, cfg Config) *Client {
	if cfg.MaxTransferSize == 0 {
		cfg.MaxTransferSize = tmc.DefaultMaxTransferSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		pipe: pipe,
		cfg:  cfg,
		buf:  make([]byte, tmc.PaddedLen(tmc.HeaderSize+int(cfg.MaxTransferSize))),
	}
}

// LastTag returns the tag of the most recent bulk transfer.
func (c *Client) LastTag() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.last
}

func (c *Client) nextTag() uint8 {
	c.tag = tmc.NextTag(c.tag)
	c.last = c.tag
	return c.tag
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// timeout maps an expired deadline to [pkg.ErrTimeout].
func timeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	}
	return err
}

// Write sends msg as one device-dependent message, split into transfers
// of at most MaxTransferSize bytes with EOM set on the last.
func (c *Client) Write(ctx context.Context, msg []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.write(ctx, msg)
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	limit := int(c.cfg.MaxTransferSize)
	for off := 0; off == 0 || off < len(msg); off += limit {
		end := min(off+limit, len(msg))
		eom := end == len(msg)
		tag := c.nextTag()
		n := tmc.EncodeDevDepMsgOut(c.buf, tag, eom, msg[off:end])
		if err := c.pipe.BulkOut(ctx, c.buf[:n]); err != nil {
			return fmt.Errorf("bulk-out tag %d: %w", tag, timeout(err))
		}
		pkg.LogDebug(pkg.ComponentHost, "message out",
			"tag", tag,
			"size", end-off,
			"eom", eom)
		if eom {
			break
		}
	}
	return nil
}

// Read requests Bulk-IN transfers until the device marks the end of the
// response message and returns the collected payload.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.read(ctx)
}

func (c *Client) read(ctx context.Context) ([]byte, error) {
	var msg []byte
	for {
		payload, attr, err := c.readTransfer(ctx)
		if err != nil {
			return msg, err
		}
		msg = append(msg, payload...)
		if attr&tmc.AttrInEOM != 0 {
			return msg, nil
		}
	}
}

func (c *Client) readTransfer(ctx context.Context) ([]byte, uint8, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tag := c.nextTag()
	var req [tmc.HeaderSize]byte
	tmc.EncodeRequestDevDepMsgIn(req[:], tag, c.cfg.MaxTransferSize, c.cfg.TermChar)
	if err := c.pipe.BulkOut(ctx, req[:]); err != nil {
		return nil, 0, fmt.Errorf("request tag %d: %w", tag, timeout(err))
	}

	transfer, err := c.pipe.ReadTransfer(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("bulk-in tag %d: %w", tag, timeout(err))
	}
	var h tmc.Header
	if err := tmc.ParseHeader(transfer, &h); err != nil {
		return nil, 0, err
	}
	if h.MsgID != tmc.MsgDevDepMsgIn || h.Tag != tag {
		return nil, 0, fmt.Errorf("%w: got %s tag %d, want %s tag %d",
			pkg.ErrProtocol, tmc.InMsgName(h.MsgID), h.Tag, tmc.InMsgName(tmc.MsgDevDepMsgIn), tag)
	}
	size := int(h.TransferSize())
	if size > int(c.cfg.MaxTransferSize) || tmc.HeaderSize+size > len(transfer) {
		return nil, 0, fmt.Errorf("%w: transfer size %d in %d bytes",
			pkg.ErrProtocol, size, len(transfer))
	}
	pkg.LogDebug(pkg.ComponentHost, "message in",
		"tag", tag,
		"size", size,
		"attributes", h.Attributes())
	return transfer[tmc.HeaderSize : tmc.HeaderSize+size], h.Attributes(), nil
}

// Query writes msg, terminated by a newline if it lacks one, and reads the
// response.
func (c *Client) Query(ctx context.Context, msg string) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	if err := c.write(ctx, []byte(msg)); err != nil {
		return "", err
	}
	resp, err := c.read(ctx)
	return string(resp), err
}

// Trigger sends a USB488 TRIGGER message.
func (c *Client) Trigger(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	h := tmc.NewHeader(tmc.MsgTrigger, c.nextTag())
	var buf [tmc.HeaderSize]byte
	h.MarshalTo(buf[:])
	if err := c.pipe.BulkOut(ctx, buf[:]); err != nil {
		return fmt.Errorf("trigger: %w", timeout(err))
	}
	return nil
}

func (c *Client) control(ctx context.Context, recipient, request uint8, value, index, length uint16) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var setup hal.SetupPacket
	hal.ClassInSetup(&setup, recipient, request, value, index, length)
	resp, err := c.pipe.Control(ctx, &setup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tmc.RequestName(request), timeout(err))
	}
	if len(resp) < int(length) {
		return nil, fmt.Errorf("%s: %w: %d of %d bytes",
			tmc.RequestName(request), pkg.ErrProtocol, len(resp), length)
	}
	pkg.LogDebug(pkg.ComponentHost, "control request",
		"request", tmc.RequestName(request),
		"status", tmc.Status(resp[0]).String())
	return resp, nil
}

func (c *Client) interfaceRequest(ctx context.Context, request uint8, length uint16) ([]byte, error) {
	return c.control(ctx, hal.RequestRecipientInterface, request, 0, uint16(c.cfg.InterfaceNumber), length)
}

// statusError reports a non-success USBTMC_status.
type statusError struct {
	request uint8
	status  tmc.Status
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: status %s", tmc.RequestName(e.request), e.status)
}

// StatusOf returns the USBTMC_status carried by err, if any.
func StatusOf(err error) (tmc.Status, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.status, true
	}
	return 0, false
}

func expect(request uint8, got tmc.Status) error {
	if got != tmc.StatusSuccess {
		return &statusError{request: request, status: got}
	}
	return nil
}

// Capabilities issues GET_CAPABILITIES.
func (c *Client) Capabilities(ctx context.Context) (tmc.Capabilities, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var caps tmc.Capabilities
	resp, err := c.interfaceRequest(ctx, tmc.RequestGetCapabilities, tmc.CapabilitiesSize)
	if err != nil {
		return caps, err
	}
	status, ok := tmc.ParseCapabilities(resp, &caps)
	if !ok {
		return caps, fmt.Errorf("%w: capabilities response", pkg.ErrProtocol)
	}
	return caps, expect(tmc.RequestGetCapabilities, status)
}

// Pulse issues INDICATOR_PULSE.
func (c *Client) Pulse(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	resp, err := c.interfaceRequest(ctx, tmc.RequestIndicatorPulse, 1)
	if err != nil {
		return err
	}
	return expect(tmc.RequestIndicatorPulse, tmc.Status(resp[0]))
}

// Clear issues INITIATE_CLEAR and polls CHECK_CLEAR_STATUS until the device
// finishes.
func (c *Client) Clear(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	resp, err := c.interfaceRequest(ctx, tmc.RequestInitiateClear, 1)
	if err != nil {
		return err
	}
	if err := expect(tmc.RequestInitiateClear, tmc.Status(resp[0])); err != nil {
		return err
	}
	return c.poll(ctx, func() (tmc.Status, error) {
		resp, err := c.interfaceRequest(ctx, tmc.RequestCheckClearStatus, 2)
		if err != nil {
			return 0, err
		}
		return tmc.Status(resp[0]), nil
	}, tmc.RequestCheckClearStatus)
}

// AbortBulkOut aborts the Bulk-OUT transfer carrying tag and returns the
// number of bytes the device had received.
func (c *Client) AbortBulkOut(ctx context.Context, tag uint8) (uint32, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.abort(ctx, c.cfg.BulkOutEndpoint, tag,
		tmc.RequestInitiateAbortBulkOut, tmc.RequestCheckAbortBulkOutStatus)
}

// AbortBulkIn aborts the Bulk-IN transfer carrying tag and returns the
// number of bytes the device had sent.
func (c *Client) AbortBulkIn(ctx context.Context, tag uint8) (uint32, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.abort(ctx, c.cfg.BulkInEndpoint, tag,
		tmc.RequestInitiateAbortBulkIn, tmc.RequestCheckAbortBulkInStatus)
}

func (c *Client) abort(ctx context.Context, ep, tag, initiate, check uint8) (uint32, error) {
	resp, err := c.control(ctx, hal.RequestRecipientEndpoint, initiate, uint16(tag), uint16(ep), 2)
	if err != nil {
		return 0, err
	}
	if err := expect(initiate, tmc.Status(resp[0])); err != nil {
		return 0, err
	}

	var count uint32
	err = c.poll(ctx, func() (tmc.Status, error) {
		resp, err := c.control(ctx, hal.RequestRecipientEndpoint, check, 0, uint16(ep), 8)
		if err != nil {
			return 0, err
		}
		count = binary.LittleEndian.Uint32(resp[4:8])
		return tmc.Status(resp[0]), nil
	}, check)
	return count, err
}

// poll repeats check while it reports pending.
func (c *Client) poll(ctx context.Context, check func() (tmc.Status, error), request uint8) error {
	interval := c.cfg.Timeout / DefaultClearPolls
	for range DefaultClearPolls {
		status, err := check()
		if err != nil {
			return err
		}
		if status != tmc.StatusPending {
			return expect(request, status)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return timeout(ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w: still pending", tmc.RequestName(request), pkg.ErrTimeout)
}
