// Package tmc implements a USBTMC function with the optional USB488
// subclass, as used by programmable test instruments.
//
// # Bulk-OUT
//
// Host messages arrive as transfers that start with a 12-byte [Header].
// A [Reassembler] collects payload across packets until the declared
// TransferSize is reached, dropping headers whose tag complement is wrong
// and refusing sizes larger than its preallocated arena.
//
// # Bulk-IN
//
// Responses are framed as header, payload and zero padding to a 4-byte
// boundary, then streamed in packets no larger than the endpoint's max
// packet size. When the controller pushes back with [github.com/ardnew/microscpi/pkg.ErrBusy] the
// remainder is resumed from deferred work.
//
// # Control requests
//
// [ControlHandler] answers GET_CAPABILITIES, INITIATE_CLEAR and the abort
// requests. Clears and aborts run on the worker, so their CHECK requests
// report PENDING until the reset has happened. Unknown requests stall.
//
// # Concurrency
//
// [Function] mirrors an interrupt-driven controller. The receive loop only
// copies packets into a [PacketRing]; a single [WorkQueue] goroutine runs
// the reassembler, the [MessageHandler] and the sender.
//
//	fn := tmc.New(h, bridge, tmc.DefaultConfig())
//	if err := fn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
package tmc
