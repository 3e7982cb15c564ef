package tmc

import (
	"fmt"

	"github.com/ardnew/microscpi/pkg"
)

// State is the reassembler's position in the bulk-OUT protocol.
type State uint8

// Reassembler states.
const (
	StateAwaitingHeader State = iota
	StateAccumulatingPayload
	StateSkippingPayload
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting-header"
	case StateAccumulatingPayload:
		return "accumulating-payload"
	case StateSkippingPayload:
		return "skipping-payload"
	default:
		return "unknown"
	}
}

// Message is a completed bulk-OUT transfer. Payload aliases the
// reassembler's arena and is valid until the next call to Feed.
type Message struct {
	Header  Header
	Payload []byte
}

// pending describes the transfer being accumulated. Each step builds a new
// value instead of editing the previous one.
type pending struct {
	header Header
	size   int  // declared payload bytes
	filled int  // payload bytes consumed so far
	skip   bool // refused transfer, payload is discarded
}

func (p pending) with(filled int) pending {
	p.filled = filled
	return p
}

func (p pending) complete() bool {
	return p.filled >= p.size
}

// Reassembler turns bulk-OUT packets into complete messages.
//
// A transfer starts on a packet boundary with a 12-byte header, and its
// payload may span any number of following packets. The payload arena is
// allocated once; transfers declaring more than its capacity are refused
// and their payload packets are skipped, never parsed as headers.
// Malformed or unsupported headers are dropped and never reach the SCPI
// error queue.
type Reassembler struct {
	arena   []byte
	state   State
	pending pending

	trigger bool

	lastTag  uint8
	received uint32 // payload bytes of the current or most recent transfer
	dropped  uint64
}

// NewReassembler returns a reassembler whose arena holds maxTransferSize
// payload bytes. When trigger is true the USB488 TRIGGER MsgID is accepted.
func NewReassembler(maxTransferSize int, trigger bool) *Reassembler {
	if maxTransferSize <= 0 {
		maxTransferSize = DefaultMaxTransferSize
	}
	return &Reassembler{
		arena:   make([]byte, maxTransferSize),
		trigger: trigger,
	}
}

// State returns the current state.
func (r *Reassembler) State() State {
	return r.state
}

// LastTag returns the tag of the most recently accepted header.
func (r *Reassembler) LastTag() uint8 {
	return r.lastTag
}

// Active reports whether a transfer is being accumulated or skipped.
func (r *Reassembler) Active() bool {
	return r.state != StateAwaitingHeader
}

// InProgress reports whether a transfer with tag is being accumulated or
// skipped.
func (r *Reassembler) InProgress(tag uint8) bool {
	return r.Active() && r.pending.header.Tag == tag
}

// Received returns the payload byte count of the current or most recent
// transfer.
func (r *Reassembler) Received() uint32 {
	return r.received
}

// Dropped returns the number of chunks discarded as malformed or unsupported.
func (r *Reassembler) Dropped() uint64 {
	return r.dropped
}

// Capacity returns the largest payload the arena accepts.
func (r *Reassembler) Capacity() int {
	return len(r.arena)
}

// Reset abandons any partial transfer.
func (r *Reassembler) Reset() {
	r.state = StateAwaitingHeader
	r.pending = pending{}
}

// Feed consumes one packet. It returns the completed message when this
// packet finishes a transfer. Bytes past the declared size, such as
// alignment padding, are discarded.
func (r *Reassembler) Feed(chunk []byte) (Message, bool) {
	if r.state == StateAwaitingHeader {
		p, err := r.begin(chunk)
		if err != nil {
			r.dropped++
			pkg.LogDebug(pkg.ComponentTMC, "bulk-out chunk dropped",
				"error", err,
				"length", len(chunk))
			if !p.skip {
				return Message{}, false
			}
		}
		r.pending = p
		r.state = StateAccumulatingPayload
		if p.skip {
			r.state = StateSkippingPayload
		}
		r.lastTag = p.header.Tag
		r.received = 0
		chunk = chunk[HeaderSize:]
	}
	if r.state == StateSkippingPayload {
		return r.skip(chunk)
	}
	return r.accumulate(chunk)
}

// begin validates a header and builds the pending transfer for it.
func (r *Reassembler) begin(chunk []byte) (pending, error) {
	var h Header
	if err := ParseHeader(chunk, &h); err != nil {
		return pending{}, err
	}
	switch h.MsgID {
	case MsgDevDepMsgOut, MsgVendorSpecificOut:
		size := h.TransferSize()
		if uint64(size) > uint64(len(r.arena)) {
			return pending{header: h, size: int(size), skip: true},
				fmt.Errorf("size %d > %d: %w", size, len(r.arena), pkg.ErrTransferTooLarge)
		}
		return pending{header: h, size: int(size)}, nil
	case MsgRequestDevDepMsgIn, MsgRequestVendorSpecificIn:
		return pending{header: h}, nil
	case MsgTrigger:
		if r.trigger {
			return pending{header: h}, nil
		}
	}
	return pending{}, fmt.Errorf("msg %d: %w", h.MsgID, pkg.ErrUnknownMessage)
}

func (r *Reassembler) accumulate(chunk []byte) (Message, bool) {
	p := r.pending
	if room := p.size - p.filled; len(chunk) > room {
		chunk = chunk[:room]
	}
	copy(r.arena[p.filled:], chunk)
	p = p.with(p.filled + len(chunk))
	r.pending = p
	r.received = uint32(p.filled)

	if !p.complete() {
		return Message{}, false
	}

	r.state = StateAwaitingHeader
	r.pending = pending{}
	msg := Message{Header: p.header, Payload: r.arena[:p.filled]}
	pkg.LogDebug(pkg.ComponentTMC, "bulk-out message complete",
		"header", msg.Header.String())
	return msg, true
}

// skip consumes payload of a refused transfer without storing it.
func (r *Reassembler) skip(chunk []byte) (Message, bool) {
	p := r.pending
	p = p.with(p.filled + min(len(chunk), p.size-p.filled))
	r.received = uint32(p.filled)
	if !p.complete() {
		r.pending = p
		return Message{}, false
	}
	r.state = StateAwaitingHeader
	r.pending = pending{}
	pkg.LogDebug(pkg.ComponentTMC, "refused bulk-out transfer skipped",
		"tag", p.header.Tag,
		"size", p.size)
	return Message{}, false
}
