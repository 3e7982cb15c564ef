// Package transport carries SCPI program messages over byte streams that
// delimit messages with newlines, such as a UART console or a websocket.
// USBTMC framing lives in the tmc and bridge packages instead.
package transport
