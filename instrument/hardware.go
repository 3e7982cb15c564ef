package instrument

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/microscpi/scpi"
)

// PinMode is the function of a GPIO pin.
type PinMode uint8

// Pin modes.
const (
	ModeInput PinMode = iota
	ModeOutput
	ModeOpenDrain
	ModePWM
)

var pinModeKeywords = [...]scpi.Keyword{
	ModeInput:     scpi.NewKeyword("INput", "IN"),
	ModeOutput:    scpi.NewKeyword("OUTput", "OUT"),
	ModeOpenDrain: scpi.NewKeyword("ODrain", "OD"),
	ModePWM:       scpi.NewKeyword("PWM", "PWM"),
}

// String returns the short mnemonic reported by PIN<n>:MODE?.
func (m PinMode) String() string {
	if int(m) < len(pinModeKeywords) {
		return pinModeKeywords[m].Short
	}
	return fmt.Sprintf("PinMode(%d)", m)
}

// ParsePinMode resolves character program data such as OUTput or od.
func ParsePinMode(s string) (PinMode, bool) {
	for m, k := range pinModeKeywords {
		if k.Match(s).Matched {
			return PinMode(m), true
		}
	}
	return 0, false
}

// Pins drives the instrument's GPIO header. Pin numbers are the board's
// GPIO numbers. Implementations return an error wrapping
// [pkg.ErrInvalidParameter] for a value the pin cannot take and
// [pkg.ErrBusy] when the pin's current mode forbids the operation.
type Pins interface {
	SetMode(pin int, mode PinMode) error
	Mode(pin int) (PinMode, error)
	Write(pin int, high bool) error
	Read(pin int) (bool, error)
	// SetPWM sets the carrier frequency and the duty cycle as a fraction
	// of 65535.
	SetPWM(pin int, freq physic.Frequency, duty uint16) error
	PWM(pin int) (physic.Frequency, uint16, error)
}

// ADC samples analog channels as unsigned 16-bit values.
type ADC interface {
	Read(channel int) (uint16, error)
}

// Clock controls the core clock of the instrument.
type Clock interface {
	SetFrequency(f physic.Frequency) error
	Frequency() physic.Frequency
}

// SPI is one SPI controller. Configure takes effect on the next Tx.
// Implementations typically wrap a periph spi.Port and reconnect on
// Configure.
type SPI interface {
	Configure(f physic.Frequency, mode spi.Mode) error
	Tx(w, r []byte) error

	// SetChipSelect selects an active-high chip select. The default is
	// active low.
	SetChipSelect(activeHigh bool) error
}
