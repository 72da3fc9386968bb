// Package pkg provides shared utilities for the softiec bus engine.
//
// This package contains common functionality used by the device engine,
// the protocols, the ports and the host controller, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for bus and protocol failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBus, "bus started", "state", state)
//
// Logging is never done from edge handlers, which run in interrupt
// context on microcontrollers.
//
// # Errors
//
// Failures are reported with sentinel values, wrapped with context where
// they cross a package boundary:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // The peer did not answer a handshake in time.
//	}
package pkg
