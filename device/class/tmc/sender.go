package tmc

import (
	"context"
	"errors"

	"github.com/ardnew/microscpi/device/hal"
	"github.com/ardnew/microscpi/pkg"
)

// sender streams one framed Bulk-IN transfer in packets no larger than the
// endpoint's max packet size. When the controller has no room, pump
// returns and is resumed later from deferred work.
type sender struct {
	hal       hal.DeviceHAL
	endpoint  uint8
	maxPacket int

	buf     []byte
	n       int // framed length
	off     int // bytes accepted by the controller
	payload int // message bytes in the transfer
	tag     uint8
	active  bool
	zlp     bool // a zero-length packet still has to follow
}

func newSender(h hal.DeviceHAL, endpoint uint8, maxPacket, maxTransfer int) *sender {
	return &sender{
		hal:       h,
		endpoint:  endpoint,
		maxPacket: maxPacket,
		buf:       make([]byte, PaddedLen(HeaderSize+maxTransfer)),
	}
}

// load frames header and payload into the transmit buffer.
func (s *sender) load(h *Header, payload []byte) error {
	n := PaddedLen(HeaderSize + len(payload))
	if n > len(s.buf) {
		return pkg.ErrBufferTooSmall
	}
	h.SetTransferSize(uint32(len(payload)))
	h.MarshalTo(s.buf)
	copy(s.buf[HeaderSize:], payload)
	clear(s.buf[HeaderSize+len(payload) : n])

	s.n = n
	s.off = 0
	s.payload = len(payload)
	s.tag = h.Tag
	s.active = true
	s.zlp = n%s.maxPacket == 0
	return nil
}

// sent returns the message bytes the controller has accepted so far.
func (s *sender) sent() uint32 {
	n := s.off - HeaderSize
	switch {
	case n < 0:
		n = 0
	case n > s.payload:
		n = s.payload
	}
	return uint32(n)
}

func (s *sender) reset() {
	s.active = false
	s.zlp = false
	s.n, s.off, s.payload = 0, 0, 0
}

// pump writes packets until the transfer completes or the controller pushes
// back. It reports whether the caller must resume it later.
func (s *sender) pump(ctx context.Context) (blocked bool, err error) {
	for s.active {
		if s.off == s.n {
			if !s.zlp {
				s.active = false
				return false, nil
			}
			if _, err := s.hal.Write(ctx, s.endpoint, nil); err != nil {
				return s.fail(err)
			}
			s.zlp = false
			continue
		}

		end := min(s.off+s.maxPacket, s.n)
		w, err := s.hal.Write(ctx, s.endpoint, s.buf[s.off:end])
		s.off += w
		if err != nil {
			return s.fail(err)
		}
		if s.off < end {
			return true, nil
		}
	}
	return false, nil
}

func (s *sender) fail(err error) (bool, error) {
	if errors.Is(err, pkg.ErrBusy) {
		return true, nil
	}
	s.reset()
	return false, err
}
