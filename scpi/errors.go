package scpi

import (
	"fmt"
	"strconv"
)

// Error is one entry of the device error queue.
type Error struct {
	Code    int
	Message string
}

// String formats the record the way SYSTem:ERRor? reports it.
func (e Error) String() string {
	return strconv.Itoa(e.Code) + "," + strconv.Quote(e.Message)
}

// Standard error records. Codes are visible to hosts and must not change.
var (
	ErrNone                    = Error{0, "No error"}
	ErrSyntax                  = Error{-102, "Syntax error"}
	ErrDataType                = Error{-104, "Data type error"}
	ErrParameterNotAllowed     = Error{-108, "Parameter not allowed"}
	ErrMissingParameter        = Error{-109, "Missing parameter"}
	ErrUndefinedHeader         = Error{-113, "Undefined header"}
	ErrHeaderSuffixOutOfRange  = Error{-114, "Header suffix out of range"}
	ErrInvalidCharInNumber     = Error{-121, "Invalid character in number"}
	ErrCharacterDataNotAllowed = Error{-148, "Character data not allowed"}
	ErrStringDataNotAllowed    = Error{-158, "String data not allowed"}
	ErrExecution               = Error{-200, "Execution error"}
	ErrSettingsConflict        = Error{-221, "Settings conflict"}
	ErrDataOutOfRange          = Error{-222, "Data out of range"}
	ErrTooMuchData             = Error{-223, "Too much data"}
	ErrIllegalParameterValue   = Error{-224, "Illegal parameter value"}
)

// Bus is a physical peripheral bus whose access failures get their own code.
type Bus int

// Peripheral buses.
const (
	BusI2C Bus = iota
	BusSPI
	BusADC
	BusUART
)

// String returns the bus name.
func (b Bus) String() string {
	switch b {
	case BusI2C:
		return "I2C"
	case BusSPI:
		return "SPI"
	case BusADC:
		return "ADC"
	case BusUART:
		return "UART"
	default:
		return "bus" + strconv.Itoa(int(b))
	}
}

// BusError returns the error record reported when access to bus fails.
func BusError(b Bus) Error {
	return Error{-240 - int(b), fmt.Sprintf("Hardware error;%s bus access failed", b)}
}

// ErrorQueueSize is the capacity of the device error queue.
const ErrorQueueSize = 256

// ErrorQueue is a fixed ring of error records. Pushing into a full queue
// overwrites the oldest unread record; the outstanding count never exceeds
// the capacity.
type ErrorQueue struct {
	records [ErrorQueueSize]Error
	rd, wr  int
	count   int
}

// NewErrorQueue returns an empty queue.
func NewErrorQueue() *ErrorQueue {
	q := &ErrorQueue{}
	q.Clear()
	return q
}

// Push appends e, dropping the oldest record when full.
func (q *ErrorQueue) Push(e Error) {
	q.records[q.wr] = e
	q.wr = (q.wr + 1) % ErrorQueueSize
	if q.count == ErrorQueueSize {
		q.rd = q.wr
		return
	}
	q.count++
}

// Pop removes and returns the oldest record, or [ErrNone] when empty.
func (q *ErrorQueue) Pop() Error {
	if q.count == 0 {
		return ErrNone
	}
	e := q.records[q.rd]
	q.records[q.rd] = ErrNone
	q.rd = (q.rd + 1) % ErrorQueueSize
	q.count--
	return e
}

// Len returns the number of unread records.
func (q *ErrorQueue) Len() int {
	return q.count
}

// Clear discards every record.
func (q *ErrorQueue) Clear() {
	for i := range q.records {
		q.records[i] = ErrNone
	}
	q.rd, q.wr, q.count = 0, 0, 0
}
