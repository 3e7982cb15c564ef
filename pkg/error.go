package pkg

import "errors"

// Transport and protocol errors.
var (
	// ErrStall indicates the request must be answered with an endpoint stall.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNotConnected indicates the host is not attached.
	ErrNotConnected = errors.New("not connected")

	// ErrNotConfigured indicates the function is not configured.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrBusy indicates the endpoint cannot accept more data right now.
	ErrBusy = errors.New("resource busy")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the function is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the function is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoResources indicates a bounded queue or arena is full.
	ErrNoResources = errors.New("no resources available")
)

// Bulk framing errors.
var (
	// ErrHeaderTooShort indicates fewer than 12 bytes were available for a
	// bulk header.
	ErrHeaderTooShort = errors.New("bulk header too short")

	// ErrTagMismatch indicates bTagInverse is not the complement of bTag.
	ErrTagMismatch = errors.New("bulk header tag mismatch")

	// ErrTransferTooLarge indicates a declared transfer size exceeds the
	// payload arena.
	ErrTransferTooLarge = errors.New("transfer size exceeds arena")

	// ErrUnknownMessage indicates an unsupported MsgID.
	ErrUnknownMessage = errors.New("unknown message id")
)
