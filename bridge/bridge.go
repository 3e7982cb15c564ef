package bridge

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/ardnew/microscpi/device/class/tmc"
	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/scpi"
)

// DefaultMaxMessage bounds a program message assembled from several
// DEV_DEP_MSG_OUT transfers.
const DefaultMaxMessage = 4 * tmc.DefaultMaxTransferSize

// Observer receives response queue events. Implementations must not block.
type Observer interface {
	ResponseQueued(size int)
	ResponseDropped()
}

// Config describes a bridge.
type Config struct {
	// QueueSize is the response queue capacity.
	QueueSize int

	// MaxMessage bounds a program message split across transfers
	// without EOM.
	MaxMessage int

	// TermChar enables TermChar handling on REQUEST_DEV_DEP_MSG_IN. It
	// must match the TermChar bit declared in the capabilities.
	TermChar bool

	Observer Observer
}

// Bridge connects a USBTMC function to a SCPI engine. Completed
// DEV_DEP_MSG_OUT payloads are executed and their output queued; each
// REQUEST_DEV_DEP_MSG_IN streams back the oldest queued output.
//
// Responses are FIFO and are not matched to the request's tag.
type Bridge struct {
	engine   *scpi.Engine
	queue    *tmc.ResponseQueue
	termChar bool
	observer Observer

	maxMessage int
	message    []byte // program message waiting for EOM
	discarding bool   // overflowed message, skipped through its EOM
	capture    bytes.Buffer

	dropped atomic.Uint64
}

// New returns a bridge feeding engine.
func New(engine *scpi.Engine, cfg Config) *Bridge {
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = DefaultMaxMessage
	}
	return &Bridge{
		engine:     engine,
		queue:      tmc.NewResponseQueue(cfg.QueueSize),
		termChar:   cfg.TermChar,
		observer:   cfg.Observer,
		maxMessage: cfg.MaxMessage,
	}
}

// Queue returns the response queue.
func (b *Bridge) Queue() *tmc.ResponseQueue {
	return b.queue
}

// Dropped returns the number of responses lost to a full queue.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// OnDeviceDependentOut executes a program message. Transfers without EOM
// are held until the final transfer arrives. A message that outgrows the
// limit is discarded whole, including transfers still to come.
func (b *Bridge) OnDeviceDependentOut(msg *tmc.Message) {
	eom := msg.Header.Attributes()&tmc.AttrEOM != 0
	if b.discarding {
		b.discarding = !eom
		pkg.LogDebug(pkg.ComponentBridge, "discarding overflowed message",
			"tag", msg.Header.Tag,
			"length", len(msg.Payload))
		return
	}
	if len(b.message)+len(msg.Payload) > b.maxMessage {
		pkg.LogWarn(pkg.ComponentBridge, "program message too long",
			"length", len(b.message)+len(msg.Payload),
			"max", b.maxMessage)
		b.message = b.message[:0]
		b.discarding = !eom
		b.engine.Push(scpi.ErrTooMuchData)
		return
	}
	b.message = append(b.message, msg.Payload...)
	if !eom {
		return
	}
	message := string(b.message)
	b.message = b.message[:0]

	b.capture.Reset()
	for _, line := range strings.Split(message, "\n") {
		b.engine.Execute(&b.capture, line)
	}
	b.enqueue(msg.Header.Tag, bytes.Clone(b.capture.Bytes()))
}

func (b *Bridge) enqueue(tag uint8, data []byte) {
	err := b.queue.Enqueue(tmc.Response{Tag: tag, Data: data})
	if errors.Is(err, pkg.ErrNoResources) {
		b.dropped.Add(1)
		if b.observer != nil {
			b.observer.ResponseDropped()
		}
		pkg.LogWarn(pkg.ComponentBridge, "response queue full, response dropped",
			"tag", tag,
			"size", len(data))
		return
	}
	if b.observer != nil {
		b.observer.ResponseQueued(len(data))
	}
	pkg.LogDebug(pkg.ComponentBridge, "response queued",
		"tag", tag,
		"size", len(data),
		"pending", b.queue.Len())
}

// OnRequestDeviceDependentIn sends the oldest queued response, or as much
// of it as the request allows. Empty responses are discarded on the way.
// With nothing to send the request is ignored.
func (b *Bridge) OnRequestDeviceDependentIn(msg *tmc.Message, tx tmc.Transmitter) {
	limit := int(msg.Header.TransferSize())
	if limit == 0 {
		pkg.LogDebug(pkg.ComponentBridge, "request for zero bytes ignored", "tag", msg.Header.Tag)
		return
	}
	// The rest stays queued for the next request, with EOM clear.
	if capacity := tx.MaxPayload(); capacity > 0 && limit > capacity {
		limit = capacity
	}
	if tx.Busy() {
		pkg.LogDebug(pkg.ComponentBridge, "bulk-in busy, request ignored", "tag", msg.Header.Tag)
		return
	}

	term := -1
	if b.termChar && msg.Header.Attributes()&tmc.AttrTermCharEnabled != 0 {
		term = int(msg.Header.TermChar())
	}

	for {
		r, remaining, ok := b.queue.Take(limit, term)
		if !ok {
			pkg.LogDebug(pkg.ComponentBridge, "no response pending", "tag", msg.Header.Tag)
			return
		}
		if len(r.Data) == 0 {
			continue
		}

		h := tmc.NewHeader(tmc.MsgDevDepMsgIn, msg.Header.Tag)
		var attr uint8
		if remaining == 0 {
			attr |= tmc.AttrInEOM
		}
		if term >= 0 && r.Data[len(r.Data)-1] == byte(term) {
			attr |= tmc.AttrInTermCharHit
		}
		h.SetAttributes(attr)

		if err := tx.Send(&h, r.Data); err != nil {
			pkg.LogWarn(pkg.ComponentBridge, "response send failed",
				"tag", msg.Header.Tag,
				"error", err)
		}
		return
	}
}

// Clear discards queued responses and any partial program message.
func (b *Bridge) Clear() {
	b.queue.Clear()
	b.message = b.message[:0]
	b.discarding = false
	pkg.LogDebug(pkg.ComponentBridge, "cleared")
}

var (
	_ tmc.MessageHandler = (*Bridge)(nil)
	_ tmc.Clearer        = (*Bridge)(nil)
)
