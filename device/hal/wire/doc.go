// Package wire implements an in-memory IEC bus for simulation and testing.
//
// A [Bus] models the open-collector cable: every [Endpoint] drives its own
// copy of each signal and the bus level is the wired-OR of all drivers, so a
// line reads asserted while any endpoint pulls it low. Edges are delivered
// synchronously, in the goroutine that caused them, to every started
// endpoint with the interrupt for that signal enabled. This models the
// preemption of a task by an interrupt handler on real hardware.
//
// # Example
//
//	bus := wire.New()
//	dev := bus.Endpoint("drive")
//	cpu := bus.Endpoint("c64")
//
//	cpu.Assert(hal.LineATN)
//	dev.IsAsserted(hal.LineATN) // true
//
// A [ParallelEndpoint] additionally carries the eight-bit parallel cable and
// handshake used by parallel transfer protocols.
package wire
