// Package pkg provides shared utilities for the usbfs driver packages.
//
// This package contains common functionality used by the low-level driver,
// its queues and the simulated peripheral, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for driver misuse and USB link errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentISR, "token done", "ep", 0, "pid", "SETUP")
//
// Code running inside the interrupt handler should guard expensive argument
// construction with [LogEnabled].
//
// # Errors
//
// Errors are sentinel values and are always wrapped with context:
//
//	if errors.Is(err, pkg.ErrInvalidEndpoint) {
//	    // endpoint number outside the configured range
//	}
package pkg
