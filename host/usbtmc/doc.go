// Package usbtmc is a host-side USBTMC client. It frames program messages
// into DEV_DEP_MSG_OUT transfers, requests responses with
// REQUEST_DEV_DEP_MSG_IN and issues the class control requests.
//
// The client talks to a [Pipe]. [Open] provides one backed by libusb
// through gousb; the device loopback HAL satisfies it too, which lets the
// client drive an in-process instrument.
package usbtmc
