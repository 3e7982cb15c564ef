package tmc

import (
	"context"
	"sync"
)

// PacketRing is a fixed-capacity ring of bulk-OUT packets. The receive path
// puts packets; the worker gets them. Packet boundaries are preserved
// because every transfer header starts a new packet.
type PacketRing struct {
	mutex sync.Mutex
	slots [][]byte
	lens  []int
	head  int
	count int

	space chan struct{}
}

// NewPacketRing returns a ring of packets slots, each maxPacket bytes.
func NewPacketRing(packets, maxPacket int) *PacketRing {
	if packets <= 0 {
		packets = DefaultRxRingPackets
	}
	r := &PacketRing{
		slots: make([][]byte, packets),
		lens:  make([]int, packets),
		space: make(chan struct{}, 1),
	}
	for i := range r.slots {
		r.slots[i] = make([]byte, maxPacket)
	}
	return r
}

// Put copies p into the next free slot. It returns false when the ring is
// full; p longer than a slot is truncated.
func (r *PacketRing) Put(p []byte) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.count == len(r.slots) {
		return false
	}
	i := (r.head + r.count) % len(r.slots)
	r.lens[i] = copy(r.slots[i], p)
	r.count++
	return true
}

// PutWait is Put that waits for the worker to free a slot instead of
// dropping the packet.
func (r *PacketRing) PutWait(ctx context.Context, p []byte) error {
	for !r.Put(p) {
		select {
		case <-r.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Get copies the oldest packet into dst and frees its slot.
func (r *PacketRing) Get(dst []byte) (int, bool) {
	r.mutex.Lock()
	if r.count == 0 {
		r.mutex.Unlock()
		return 0, false
	}
	n := copy(dst, r.slots[r.head][:r.lens[r.head]])
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	r.mutex.Unlock()

	select {
	case r.space <- struct{}{}:
	default:
	}
	return n, true
}

// Len returns the number of packets waiting.
func (r *PacketRing) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}

// Reset discards every waiting packet.
func (r *PacketRing) Reset() {
	r.mutex.Lock()
	r.head, r.count = 0, 0
	r.mutex.Unlock()
	select {
	case r.space <- struct{}{}:
	default:
	}
}
