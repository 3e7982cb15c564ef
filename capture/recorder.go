package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/host/usbtmc"
)

// snapLen is the snapshot length declared in recorded captures.
const snapLen = 1 << 18

// Recorder is a [usbtmc.Pipe] that passes traffic through to another pipe
// and writes each bulk transfer to a usbmon capture. Control requests are
// passed through unrecorded.
type Recorder struct {
	mutex  sync.Mutex
	pipe   usbtmc.Pipe
	w      *pcapgo.Writer
	bus    uint16
	device uint8
	out    uint8
	in     uint8
	id     uint64
	now    func() time.Time
}

// NewRecorder writes a pcap file header to w and returns a recorder that
// labels transfers with the given bus, device address and endpoints.
func NewRecorder(w io.Writer, pipe usbtmc.Pipe, bus uint16, device uint8, cfg usbtmc.Config) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeLinuxUSB); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{
		pipe:   pipe,
		w:      pw,
		bus:    bus,
		device: device,
		out:    cfg.BulkOutEndpoint,
		in:     cfg.BulkInEndpoint,
		now:    time.Now,
	}, nil
}

func (r *Recorder) record(in bool, data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.id++
	ep, event := r.out, byte(eventSubmit)
	if in {
		ep, event = r.in, eventComplete
	}
	u := urb{
		id:       r.id,
		event:    event,
		in:       in,
		endpoint: ep,
		device:   r.device,
		bus:      r.bus,
		time:     r.now(),
		length:   uint32(len(data)),
		data:     data,
	}
	frame := u.marshal()
	ci := gopacket.CaptureInfo{
		Timestamp:     u.time,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := r.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	return nil
}

// Control implements [usbtmc.Pipe].
func (r *Recorder) Control(ctx context.Context, setup *hal.SetupPacket) ([]byte, error) {
	return r.pipe.Control(ctx, setup)
}

// BulkOut implements [usbtmc.Pipe].
func (r *Recorder) BulkOut(ctx context.Context, transfer []byte) error {
	if err := r.pipe.BulkOut(ctx, transfer); err != nil {
		return err
	}
	return r.record(false, transfer)
}

// ReadTransfer implements [usbtmc.Pipe].
func (r *Recorder) ReadTransfer(ctx context.Context) ([]byte, error) {
	data, err := r.pipe.ReadTransfer(ctx)
	if err != nil {
		return data, err
	}
	return data, r.record(true, data)
}

var _ usbtmc.Pipe = (*Recorder)(nil)
