package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

// DefaultTxDepth is the number of Bulk-IN packets the simulated controller
// buffers before pushing back.
const DefaultTxDepth = 4

type ep0Result struct {
	data []byte
	err  error
}

type controlXfer struct {
	setup hal.SetupPacket
	done  chan ep0Result
}

// HAL is an in-memory device controller with a host attached. The device
// side implements [hal.DeviceHAL]; the host side is exposed through
// Control, BulkOut and BulkIn.
type HAL struct {
	speed     hal.Speed
	maxPacket int

	setups  chan *controlXfer
	current *controlXfer // owned by the device control loop

	out chan []byte // host to device packets
	in  chan []byte // device to host packets, buffered to the TX depth

	mutex    sync.Mutex
	writable []func()
	initDone bool

	connected atomic.Bool
	connectCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
}

// New returns a loopback controller at the given speed whose Bulk-IN
// endpoint buffers txDepth packets.
func New(speed hal.Speed, txDepth int) *HAL {
	if speed.MaxPacketSize() == 0 {
		speed = hal.SpeedFull
	}
	if txDepth <= 0 {
		txDepth = DefaultTxDepth
	}
	return &HAL{
		speed:     speed,
		maxPacket: speed.MaxPacketSize(),
		setups:    make(chan *controlXfer),
		out:       make(chan []byte),
		in:        make(chan []byte, txDepth),
		connectCh: make(chan struct{}),
		closeCh:   make(chan struct{}),
	}
}

// MaxPacketSize returns the bulk packet size of both endpoints.
func (h *HAL) MaxPacketSize() int {
	return h.maxPacket
}

// Init prepares the controller. It fails if called twice.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.initDone {
		return pkg.ErrAlreadyRunning
	}
	h.initDone = true
	return nil
}

// Start attaches the simulated host.
func (h *HAL) Start() error {
	if h.connected.CompareAndSwap(false, true) {
		close(h.connectCh)
		pkg.LogDebug(pkg.ComponentHAL, "loopback attached", "speed", h.speed.String())
	}
	return nil
}

// Stop detaches the host and fails pending host-side calls.
func (h *HAL) Stop() error {
	h.connected.Store(false)
	h.closeOnce.Do(func() { close(h.closeCh) })
	return nil
}

// ReadSetup waits for the host to issue a control request.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case x := <-h.setups:
		h.current = x
		*out = x.setup
		return nil
	case <-h.closeCh:
		return pkg.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HAL) complete(r ep0Result) error {
	x := h.current
	if x == nil {
		return pkg.ErrInvalidRequest
	}
	h.current = nil
	x.done <- r
	return nil
}

// WriteEP0 delivers the data stage to the host.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return h.complete(ep0Result{data: buf})
}

// ReadEP0 returns no data; USBTMC requests have no OUT data stage.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	return 0, nil
}

// StallEP0 rejects the pending request.
func (h *HAL) StallEP0() error {
	return h.complete(ep0Result{err: pkg.ErrStall})
}

// AckEP0 completes the pending request without data.
func (h *HAL) AckEP0() error {
	return h.complete(ep0Result{})
}

// Read waits for the host's next Bulk-OUT packet.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	if address&0x80 != 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	select {
	case p := <-h.out:
		return copy(buf, p), nil
	case <-h.closeCh:
		return 0, pkg.ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write queues one packet for the host. A full transmit buffer returns
// [pkg.ErrBusy] without blocking.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	if address&0x80 == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	if len(data) > h.maxPacket {
		data = data[:h.maxPacket]
	}
	p := make([]byte, len(data))
	copy(p, data)
	select {
	case h.in <- p:
		return len(p), nil
	default:
		return 0, pkg.ErrBusy
	}
}

// NotifyWritable calls fn once the host has drained a Bulk-IN packet, or
// right away if there is room already.
func (h *HAL) NotifyWritable(address uint8, fn func()) {
	h.mutex.Lock()
	if len(h.in) < cap(h.in) {
		h.mutex.Unlock()
		go fn()
		return
	}
	h.writable = append(h.writable, fn)
	h.mutex.Unlock()
}

// IsConnected returns true after Start and before Stop.
func (h *HAL) IsConnected() bool {
	return h.connected.Load()
}

// GetSpeed returns the simulated bus speed.
func (h *HAL) GetSpeed() hal.Speed {
	return h.speed
}

// WaitConnect blocks until Start is called.
func (h *HAL) WaitConnect(ctx context.Context) error {
	select {
	case <-h.connectCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Host side

// Control issues a class request and returns its data stage. A stalled
// request returns [pkg.ErrStall].
func (h *HAL) Control(ctx context.Context, setup *hal.SetupPacket) ([]byte, error) {
	x := &controlXfer{setup: *setup, done: make(chan ep0Result, 1)}
	select {
	case h.setups <- x:
	case <-h.closeCh:
		return nil, pkg.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-x.done:
		return r.data, r.err
	case <-h.closeCh:
		return nil, pkg.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BulkOut sends data as one transfer, split into max-size packets and
// terminated by a zero-length packet when it fills the last one.
func (h *HAL) BulkOut(ctx context.Context, data []byte) error {
	for off := 0; off < len(data); off += h.maxPacket {
		end := min(off+h.maxPacket, len(data))
		if err := h.sendOut(ctx, data[off:end]); err != nil {
			return err
		}
	}
	if len(data)%h.maxPacket == 0 {
		return h.sendOut(ctx, nil)
	}
	return nil
}

// BulkOutPacket sends exactly one packet, letting tests control
// fragmentation.
func (h *HAL) BulkOutPacket(ctx context.Context, packet []byte) error {
	return h.sendOut(ctx, packet)
}

func (h *HAL) sendOut(ctx context.Context, p []byte) error {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case h.out <- buf:
		return nil
	case <-h.closeCh:
		return pkg.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BulkIn waits for one Bulk-IN packet.
func (h *HAL) BulkIn(ctx context.Context) ([]byte, error) {
	select {
	case p := <-h.in:
		h.drained()
		return p, nil
	case <-h.closeCh:
		return nil, pkg.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadTransfer collects Bulk-IN packets until a short packet ends the
// transfer.
func (h *HAL) ReadTransfer(ctx context.Context) ([]byte, error) {
	var transfer []byte
	for {
		p, err := h.BulkIn(ctx)
		if err != nil {
			return transfer, err
		}
		transfer = append(transfer, p...)
		if len(p) < h.maxPacket {
			return transfer, nil
		}
	}
}

func (h *HAL) drained() {
	h.mutex.Lock()
	waiters := h.writable
	h.writable = nil
	h.mutex.Unlock()
	for _, fn := range waiters {
		fn()
	}
}

var (
	_ hal.DeviceHAL     = (*HAL)(nil)
	_ hal.WriteNotifier = (*HAL)(nil)
)
