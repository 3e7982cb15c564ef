package instrument

import (
	"sync"

	"github.com/ardnew/microscpi/scpi"
)

// Standard Event Status Register bits (IEEE 488.2 11.5.1).
const (
	ESROperationComplete uint8 = 1 << iota
	ESRRequestControl
	ESRQueryError
	ESRDeviceError
	ESRExecutionError
	ESRCommandError
	ESRUserRequest
	ESRPowerOn
)

// Status Byte bits.
const (
	STBErrorAvailable   uint8 = 1 << 2
	STBMessageAvailable uint8 = 1 << 4
	STBEventSummary     uint8 = 1 << 5
	STBMasterSummary    uint8 = 1 << 6
)

// Status holds the IEEE 488.2 event status and enable registers. It
// observes the error queue to latch event bits from error codes.
type Status struct {
	mutex sync.Mutex
	esr   uint8
	ese   uint8
	sre   uint8
}

// eventBit maps an error code to the ESR bit it latches.
func eventBit(code int) uint8 {
	switch {
	case code <= -100 && code > -200:
		return ESRCommandError
	case code <= -200 && code > -300:
		return ESRExecutionError
	case code <= -300 && code > -400, code > 0:
		return ESRDeviceError
	case code <= -400 && code > -500:
		return ESRQueryError
	}
	return 0
}

// CommandDispatched implements [scpi.Observer].
func (s *Status) CommandDispatched(string, bool) {}

// ErrorPushed implements [scpi.Observer].
func (s *Status) ErrorPushed(e scpi.Error) {
	s.Set(eventBit(e.Code))
}

// Set latches bits in the event status register.
func (s *Status) Set(bits uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.esr |= bits
}

// ReadEvents returns and clears the event status register.
func (s *Status) ReadEvents() uint8 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	v := s.esr
	s.esr = 0
	return v
}

// SetEventEnable sets the event status enable mask.
func (s *Status) SetEventEnable(v uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ese = v
}

// EventEnable returns the event status enable mask.
func (s *Status) EventEnable() uint8 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ese
}

// SetServiceEnable sets the service request enable mask. Bit 6 is ignored.
func (s *Status) SetServiceEnable(v uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sre = v &^ STBMasterSummary
}

// ServiceEnable returns the service request enable mask.
func (s *Status) ServiceEnable() uint8 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.sre
}

// Byte computes the status byte given the error queue depth.
func (s *Status) Byte(queued int) uint8 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var stb uint8
	if queued > 0 {
		stb |= STBErrorAvailable
	}
	if s.esr&s.ese != 0 {
		stb |= STBEventSummary
	}
	if stb&s.sre != 0 {
		stb |= STBMasterSummary
	}
	return stb
}

// Clear resets the event register. Enable masks survive, as *CLS requires.
func (s *Status) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.esr = 0
}

var _ scpi.Observer = (*Status)(nil)
