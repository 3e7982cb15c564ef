package tmc

import "strconv"

// Interface class codes.
const (
	InterfaceClass    = 0xFE // Application-specific
	InterfaceSubClass = 0x03 // Test and measurement
)

// Protocol is the bInterfaceProtocol of the function.
type Protocol uint8

// Interface protocols.
const (
	ProtocolTMC    Protocol = 0x00 // Plain USBTMC
	ProtocolUSB488 Protocol = 0x01 // USBTMC with the USB488 subclass
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolTMC:
		return "usbtmc"
	case ProtocolUSB488:
		return "usb488"
	default:
		return "unknown"
	}
}

// HeaderSize is the size of every bulk transfer header.
const HeaderSize = 12

// Bulk-OUT MsgID values.
const (
	MsgDevDepMsgOut            = 1
	MsgRequestDevDepMsgIn      = 2
	MsgVendorSpecificOut       = 126
	MsgRequestVendorSpecificIn = 127
	MsgTrigger                 = 128 // USB488
)

// Bulk-IN MsgID values.
const (
	MsgDevDepMsgIn      = 2
	MsgVendorSpecificIn = 127
)

// DEV_DEP_MSG_OUT bmTransferAttributes.
const (
	AttrEOM = 0x01 // Last transfer of the message
)

// REQUEST_DEV_DEP_MSG_IN bmTransferAttributes.
const (
	AttrTermCharEnabled = 0x02
)

// DEV_DEP_MSG_IN bmTransferAttributes.
const (
	AttrInEOM         = 0x01
	AttrInTermCharHit = 0x02 // Transfer ends on the requested TermChar
)

// Class request codes.
const (
	RequestInitiateAbortBulkOut    = 1
	RequestCheckAbortBulkOutStatus = 2
	RequestInitiateAbortBulkIn     = 3
	RequestCheckAbortBulkInStatus  = 4
	RequestInitiateClear           = 5
	RequestCheckClearStatus        = 6
	RequestGetCapabilities         = 7
	RequestIndicatorPulse          = 64
)

// RequestName returns the name of a class control request.
func RequestName(request uint8) string {
	switch request {
	case RequestInitiateAbortBulkOut:
		return "INITIATE_ABORT_BULK_OUT"
	case RequestCheckAbortBulkOutStatus:
		return "CHECK_ABORT_BULK_OUT_STATUS"
	case RequestInitiateAbortBulkIn:
		return "INITIATE_ABORT_BULK_IN"
	case RequestCheckAbortBulkInStatus:
		return "CHECK_ABORT_BULK_IN_STATUS"
	case RequestInitiateClear:
		return "INITIATE_CLEAR"
	case RequestCheckClearStatus:
		return "CHECK_CLEAR_STATUS"
	case RequestGetCapabilities:
		return "GET_CAPABILITIES"
	case RequestIndicatorPulse:
		return "INDICATOR_PULSE"
	default:
		return "REQUEST_" + strconv.Itoa(int(request))
	}
}

// Status is a USBTMC_status value returned in control responses.
type Status uint8

// USBTMC_status values.
const (
	StatusSuccess               Status = 0x01
	StatusPending               Status = 0x02
	StatusFailed                Status = 0x80
	StatusTransferNotInProgress Status = 0x81
	StatusSplitNotInProgress    Status = 0x82
	StatusSplitInProgress       Status = 0x83
)

// String returns the status macro name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	case StatusTransferNotInProgress:
		return "transfer not in progress"
	case StatusSplitNotInProgress:
		return "split not in progress"
	case StatusSplitInProgress:
		return "split in progress"
	default:
		return "reserved"
	}
}

// Defaults for the function's bounded resources.
const (
	DefaultMaxTransferSize   = 4096
	DefaultResponseQueueSize = 16
	DefaultRxRingPackets     = 16
	DefaultWorkQueueSize     = 32
)
