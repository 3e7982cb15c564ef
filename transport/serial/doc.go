// Package serial runs the SCPI line console over a UART using
// go.bug.st/serial, and provides the matching host-side client.
package serial
