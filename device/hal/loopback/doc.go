// Package loopback provides an in-memory [hal.DeviceHAL] with the host side
// attached.
//
// The device half behaves like a controller driver: control requests
// arrive through ReadSetup, Bulk-OUT packets through Read, and Write
// pushes back with [github.com/ardnew/microscpi/pkg.ErrBusy] once the
// configured number of Bulk-IN packets is waiting. The host half issues
// requests with Control, sends transfers with BulkOut and collects
// responses with ReadTransfer.
//
// It backs the tests of the USBTMC function and the simulate command.
package loopback
