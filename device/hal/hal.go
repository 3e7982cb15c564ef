package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// MaxPacketSize returns the largest bulk packet allowed at this speed.
// Low speed has no bulk endpoints and reports 0.
func (s Speed) MaxPacketSize() int {
	switch s {
	case SpeedFull:
		return 64
	case SpeedHigh:
		return 512
	default:
		return 0
	}
}

// DeviceHAL is the contract between the USBTMC function and the USB
// device controller.
//
// Enumeration and standard requests belong to the platform controller
// stack. The function only sees the class requests addressed to its
// interface or endpoints, plus the two bulk endpoints.
//
// Write may accept fewer bytes than offered when the controller's transmit
// buffer is full. In that case it returns the count accepted together with
// [pkg.ErrBusy] and the caller resumes later instead of spinning.
type DeviceHAL interface {
	// Init initializes the USB controller hardware.
	Init(ctx context.Context) error

	// Start enables the USB controller and attaches to the bus.
	Start() error

	// Stop detaches from the bus and disables the USB controller.
	Stop() error

	// Control Endpoint (EP0) Operations

	// ReadSetup blocks until a class SETUP packet arrives for this function
	// or the context is cancelled.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the data stage of a device-to-host control transfer.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 reads the data stage of a host-to-device control transfer.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 stalls the control endpoint to reject the current request.
	StallEP0() error

	// AckEP0 completes a control transfer with a zero-length status stage.
	AckEP0() error

	// Data Endpoint Operations

	// Read blocks until a packet arrives on the OUT endpoint.
	// Returns the number of bytes read into buf.
	Read(ctx context.Context, address uint8, buf []byte) (int, error)

	// Write queues data on the IN endpoint without blocking on the host.
	Write(ctx context.Context, address uint8, data []byte) (int, error)

	// Connection State

	// IsConnected returns true if a host is attached.
	IsConnected() bool

	// GetSpeed returns the negotiated USB connection speed.
	GetSpeed() Speed

	// WaitConnect blocks until a host attaches or the context is cancelled.
	WaitConnect(ctx context.Context) error
}

// WriteNotifier is implemented by HALs that can report when an IN endpoint
// has room again, the software view of a transmit-complete interrupt.
type WriteNotifier interface {
	// NotifyWritable calls fn once, from any goroutine, after the endpoint
	// at address next accepts data.
	NotifyWritable(address uint8, fn func())
}
