// Package pkg provides shared utilities for the microscpi instrument.
//
// This package contains functionality used by the SCPI engine, the USBTMC
// function and the line transports:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for transport and bulk framing failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentTMC, "message complete", "tag", 7)
//
// # Errors
//
// Transport errors are sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // answer the control request with a stall
//	}
//
// SCPI command errors are not Go errors; they live in the engine's error
// queue (see package scpi).
package pkg
