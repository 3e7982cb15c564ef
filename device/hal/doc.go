// Package hal defines the hardware abstraction consumed by the USBTMC
// function.
//
// The platform's USB controller stack owns enumeration, descriptors and
// standard requests. What reaches this layer is narrower:
//
//   - class SETUP packets addressed to the function's interface or endpoints
//   - packets arriving on the Bulk-OUT endpoint
//   - room to queue packets on the Bulk-IN endpoint
//
// [DeviceHAL] captures exactly that. A Bulk-IN [DeviceHAL.Write] that finds
// the controller's transmit buffer full returns a short count and
// [github.com/ardnew/microscpi/pkg.ErrBusy]; callers keep the remainder and
// retry from deferred work.
//
// An in-memory implementation that also plays the host role lives in
// [github.com/ardnew/microscpi/device/hal/loopback].
package hal
