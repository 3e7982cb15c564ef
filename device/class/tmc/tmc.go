package tmc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

// Transmitter sends Bulk-IN transfers. It is handed to message handlers and
// must only be used from within a handler call.
type Transmitter interface {
	// Busy reports whether a previous transfer is still draining.
	Busy() bool

	// MaxPayload returns the largest payload one Send accepts.
	MaxPayload() int

	// Send frames h and payload and starts streaming them. The header's
	// TransferSize is set from payload.
	Send(h *Header, payload []byte) error
}

// MessageHandler consumes completed bulk-OUT messages. Calls are made from
// the function's worker, one at a time.
type MessageHandler interface {
	OnDeviceDependentOut(msg *Message)
	OnRequestDeviceDependentIn(msg *Message, tx Transmitter)
}

// VendorHandler is implemented by handlers that accept the vendor-specific
// MsgIDs. Without it those messages complete and are discarded.
type VendorHandler interface {
	OnVendorSpecificOut(msg *Message)
	OnRequestVendorSpecificIn(msg *Message, tx Transmitter)
}

// TriggerHandler is implemented by handlers that act on USB488 TRIGGER.
type TriggerHandler interface {
	OnTrigger(msg *Message)
}

// Clearer is implemented by handlers that hold state INITIATE_CLEAR must
// discard, such as queued responses.
type Clearer interface {
	Clear()
}

// Observer receives transport events. Implementations must not block.
type Observer interface {
	MessageReceived(msgID uint8, size int)
	ChunkDropped()
	TransferSent(size int)
	ControlRequest(request uint8, stalled bool)
}

// Config describes the function's interface and bounded resources.
type Config struct {
	Capabilities    Capabilities
	InterfaceNumber uint8
	BulkOutEndpoint uint8
	BulkInEndpoint  uint8

	// MaxPacketSize overrides the bulk packet size implied by the
	// connection speed.
	MaxPacketSize int

	MaxTransferSize int
	RxRingPackets   int
	WorkQueueSize   int

	// RetryInterval paces Bulk-IN resumption on HALs that do not implement
	// [hal.WriteNotifier].
	RetryInterval time.Duration

	Pulser   Pulser
	Observer Observer
}

// DefaultConfig returns a USB488 configuration on endpoints 0x01/0x81.
func DefaultConfig() Config {
	return Config{
		Capabilities:    DefaultCapabilities(),
		BulkOutEndpoint: 0x01,
		BulkInEndpoint:  0x81,
		MaxTransferSize: DefaultMaxTransferSize,
		RxRingPackets:   DefaultRxRingPackets,
		WorkQueueSize:   DefaultWorkQueueSize,
		RetryInterval:   time.Millisecond,
	}
}

// Function is a USBTMC interface bound to a device HAL.
//
// Three goroutines cooperate. The control loop answers class requests. The
// receive loop only moves bulk-OUT packets into a ring and schedules a
// drain. The worker runs the reassembler, the message handler and the
// Bulk-IN sender, so none of them ever run concurrently.
type Function struct {
	cfg     Config
	hal     hal.DeviceHAL
	handler MessageHandler
	control *ControlHandler

	reasm *Reassembler
	ring  *PacketRing
	work  *WorkQueue
	tx    *sender

	// Snapshots published by the worker for the control loop:
	// bit 8 set while active, low byte the tag.
	outState atomic.Uint32
	inState  atomic.Uint32

	drainPending atomic.Bool
	pumpPending  atomic.Bool

	running bool
	mutex   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	setupBuf hal.SetupPacket
	rxBuf    []byte
	pktBuf   []byte
}

// New returns a function that delivers messages to handler.
func New(h hal.DeviceHAL, handler MessageHandler, cfg Config) *Function {
	def := DefaultConfig()
	if cfg.BulkOutEndpoint == 0 {
		cfg.BulkOutEndpoint = def.BulkOutEndpoint
	}
	if cfg.BulkInEndpoint == 0 {
		cfg.BulkInEndpoint = def.BulkInEndpoint
	}
	if cfg.MaxTransferSize <= 0 {
		cfg.MaxTransferSize = def.MaxTransferSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	f := &Function{
		cfg:     cfg,
		hal:     h,
		handler: handler,
		reasm:   NewReassembler(cfg.MaxTransferSize, cfg.Capabilities.AcceptsTrigger()),
		work:    NewWorkQueue(cfg.WorkQueueSize),
	}
	f.control = newControlHandler(&f.cfg, f)
	return f
}

// Control returns the class request handler.
func (f *Function) Control() *ControlHandler {
	return f.control
}

// Start initializes the HAL and starts the control, receive and worker
// goroutines.
func (f *Function) Start(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.running {
		return pkg.ErrAlreadyRunning
	}

	if err := f.hal.Init(ctx); err != nil {
		return err
	}
	if err := f.hal.Start(); err != nil {
		return err
	}

	maxPacket := f.cfg.MaxPacketSize
	if maxPacket <= 0 {
		maxPacket = f.hal.GetSpeed().MaxPacketSize()
	}
	if maxPacket <= 0 {
		maxPacket = hal.SpeedFull.MaxPacketSize()
	}
	f.ring = NewPacketRing(f.cfg.RxRingPackets, maxPacket)
	f.tx = newSender(f.hal, f.cfg.BulkInEndpoint, maxPacket, f.cfg.MaxTransferSize)
	f.rxBuf = make([]byte, maxPacket)
	f.pktBuf = make([]byte, maxPacket)

	f.ctx, f.cancel = context.WithCancel(ctx)
	f.running = true
	f.wg.Add(3)
	go func() {
		defer f.wg.Done()
		f.work.Run(f.ctx)
	}()
	go f.controlLoop()
	go f.receiveLoop()

	pkg.LogInfo(pkg.ComponentTMC, "usbtmc function started",
		"protocol", f.cfg.Capabilities.Protocol.String(),
		"maxPacket", maxPacket,
		"maxTransfer", f.cfg.MaxTransferSize)
	return nil
}

// Stop cancels the goroutines and detaches the HAL.
func (f *Function) Stop() error {
	f.mutex.Lock()
	if !f.running {
		f.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	f.running = false
	f.cancel()
	f.mutex.Unlock()

	f.wg.Wait()
	pkg.LogInfo(pkg.ComponentTMC, "usbtmc function stopped")
	return f.hal.Stop()
}

// Run starts the function and blocks until ctx is done.
func (f *Function) Run(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := f.Stop(); err != nil && !errors.Is(err, pkg.ErrNotRunning) {
		return err
	}
	return ctx.Err()
}

// controlLoop answers class requests on EP0.
func (f *Function) controlLoop() {
	defer f.wg.Done()
	for {
		if err := f.hal.ReadSetup(f.ctx, &f.setupBuf); err != nil {
			if f.ctx.Err() != nil {
				return
			}
			pkg.LogWarn(pkg.ComponentTMC, "error reading setup", "error", err)
			continue
		}

		setup := f.setupBuf
		resp, err := f.control.HandleSetup(&setup)
		if f.cfg.Observer != nil {
			f.cfg.Observer.ControlRequest(setup.Request, err != nil)
		}
		if err != nil {
			pkg.LogDebug(pkg.ComponentTMC, "control request stalled", "error", err)
			if serr := f.hal.StallEP0(); serr != nil {
				pkg.LogWarn(pkg.ComponentTMC, "stall failed", "error", serr)
			}
			continue
		}
		if len(resp) > 0 {
			err = f.hal.WriteEP0(f.ctx, resp)
		} else {
			err = f.hal.AckEP0()
		}
		if err != nil && f.ctx.Err() == nil {
			pkg.LogWarn(pkg.ComponentTMC, "error completing control transfer",
				"error", err,
				"request", setup.String())
		}
	}
}

// receiveLoop is the interrupt side: it moves packets into the ring and
// schedules a drain, nothing more.
func (f *Function) receiveLoop() {
	defer f.wg.Done()
	for {
		n, err := f.hal.Read(f.ctx, f.cfg.BulkOutEndpoint, f.rxBuf)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			pkg.LogWarn(pkg.ComponentTMC, "bulk-out read failed", "error", err)
			continue
		}
		if n == 0 {
			continue // zero-length packet ends a transfer, carries nothing
		}
		if err := f.ring.PutWait(f.ctx, f.rxBuf[:n]); err != nil {
			return
		}
		f.scheduleDrain()
	}
}

func (f *Function) scheduleDrain() {
	if !f.drainPending.CompareAndSwap(false, true) {
		return
	}
	if !f.work.Schedule(f.drain) {
		f.drainPending.Store(false)
		pkg.LogWarn(pkg.ComponentTMC, "work queue full, drain deferred")
		time.AfterFunc(f.cfg.RetryInterval, func() {
			if f.ctx.Err() == nil {
				f.scheduleDrain()
			}
		})
	}
}

// drain feeds every waiting packet to the reassembler.
func (f *Function) drain() {
	f.drainPending.Store(false)
	for {
		n, ok := f.ring.Get(f.pktBuf)
		if !ok {
			return
		}
		dropped := f.reasm.Dropped()
		msg, done := f.reasm.Feed(f.pktBuf[:n])
		f.publishOut()
		if f.cfg.Observer != nil && f.reasm.Dropped() != dropped {
			f.cfg.Observer.ChunkDropped()
		}
		if done {
			f.dispatch(&msg)
		}
	}
}

func (f *Function) dispatch(msg *Message) {
	if f.cfg.Observer != nil {
		f.cfg.Observer.MessageReceived(msg.Header.MsgID, len(msg.Payload))
	}
	switch msg.Header.MsgID {
	case MsgDevDepMsgOut:
		f.handler.OnDeviceDependentOut(msg)
	case MsgRequestDevDepMsgIn:
		f.handler.OnRequestDeviceDependentIn(msg, f)
	case MsgVendorSpecificOut:
		if vh, ok := f.handler.(VendorHandler); ok {
			vh.OnVendorSpecificOut(msg)
		}
	case MsgRequestVendorSpecificIn:
		if vh, ok := f.handler.(VendorHandler); ok {
			vh.OnRequestVendorSpecificIn(msg, f)
		}
	case MsgTrigger:
		if th, ok := f.handler.(TriggerHandler); ok {
			th.OnTrigger(msg)
		}
	}
}

// Busy reports whether a Bulk-IN transfer is still draining.
func (f *Function) Busy() bool {
	return f.tx != nil && f.tx.active
}

// MaxPayload returns the largest payload [Function.Send] accepts.
func (f *Function) MaxPayload() int {
	return f.cfg.MaxTransferSize
}

// Send starts a Bulk-IN transfer. It must be called from the worker.
func (f *Function) Send(h *Header, payload []byte) error {
	if f.tx == nil {
		return pkg.ErrNotRunning
	}
	if f.tx.active {
		return pkg.ErrBusy
	}
	if err := f.tx.load(h, payload); err != nil {
		return err
	}
	f.publishIn()
	if f.cfg.Observer != nil {
		f.cfg.Observer.TransferSent(len(payload))
	}
	f.pump()
	return nil
}

// pump advances the Bulk-IN transfer and arranges to resume it when the
// controller pushes back.
func (f *Function) pump() {
	f.pumpPending.Store(false)
	blocked, err := f.tx.pump(f.ctx)
	if err != nil {
		pkg.LogWarn(pkg.ComponentTMC, "bulk-in write failed", "error", err)
	}
	f.publishIn()
	if blocked {
		f.resumeLater()
	}
}

func (f *Function) resumeLater() {
	if !f.pumpPending.CompareAndSwap(false, true) {
		return
	}
	schedule := func() {
		if !f.work.Schedule(f.pump) {
			f.pumpPending.Store(false)
			time.AfterFunc(f.cfg.RetryInterval, f.resumeLater)
		}
	}
	if wn, ok := f.hal.(hal.WriteNotifier); ok {
		wn.NotifyWritable(f.cfg.BulkInEndpoint, schedule)
		return
	}
	time.AfterFunc(f.cfg.RetryInterval, schedule)
}

func snapshot(tag uint8, active bool) uint32 {
	v := uint32(tag)
	if active {
		v |= 1 << 8
	}
	return v
}

func (f *Function) publishOut() {
	f.outState.Store(snapshot(f.reasm.LastTag(), f.reasm.Active()))
}

func (f *Function) publishIn() {
	f.inState.Store(snapshot(f.tx.tag, f.tx.active))
}

func (f *Function) bulkOut() (uint8, bool) {
	v := f.outState.Load()
	return uint8(v), v&(1<<8) != 0
}

func (f *Function) bulkIn() (uint8, bool) {
	v := f.inState.Load()
	return uint8(v), v&(1<<8) != 0
}

// submit runs fn on the worker, or immediately when the function is not
// running and there is no worker to race with. When it returns an error fn
// will never run.
func (f *Function) submit(fn func()) error {
	f.mutex.Lock()
	running, ctx := f.running, f.ctx
	f.mutex.Unlock()
	if !running {
		fn()
		return nil
	}
	if err := f.work.Submit(ctx, fn); err != nil {
		pkg.LogWarn(pkg.ComponentTMC, "control work dropped", "error", err)
		return err
	}
	return nil
}

func (f *Function) clear(done func()) error {
	return f.submit(func() {
		f.reasm.Reset()
		if f.ring != nil {
			f.ring.Reset()
		}
		if f.tx != nil {
			f.tx.reset()
			f.publishIn()
		}
		f.publishOut()
		if c, ok := f.handler.(Clearer); ok {
			c.Clear()
		}
		done()
	})
}

func (f *Function) abortBulkOut(done func(received uint32)) error {
	return f.submit(func() {
		received := f.reasm.Received()
		f.reasm.Reset()
		f.publishOut()
		done(received)
	})
}

func (f *Function) abortBulkIn(done func(sent uint32, queued bool)) error {
	return f.submit(func() {
		var sent uint32
		if f.tx != nil {
			sent = f.tx.sent()
			f.tx.reset()
			f.publishIn()
		}
		done(sent, false)
	})
}

var (
	_ Transmitter   = (*Function)(nil)
	_ transferState = (*Function)(nil)
)
