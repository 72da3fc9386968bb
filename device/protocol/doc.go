// Package protocol implements the byte-level transfer protocols of the CBM
// IEC serial bus.
//
// A [Protocol] moves bytes between a talker and a listener over a
// [hal.Port]. Every command phase uses the standard [Serial] framing; a bus
// may switch to an accelerated variant for the data phase once the host has
// shown it supports one:
//
//   - [KindSerial]: standard framing, one bit per clock, LSB first
//   - [KindJiffyDOS]: two bits per slot on clock and data at fixed offsets
//   - [KindDolphinDOS]: whole bytes on a parallel cable with a strobe
//   - [KindLoopback]: an in-memory FIFO for tests and devices without a bus
//
// Variants report conditions both ways: they set bits in a shared [FlagSet]
// that the bus state machine inspects, and they return sentinel errors from
// package pkg so device code can branch with errors.Is.
//
// All timing windows come from a [Timing] value. [DefaultTiming] holds the
// electrical values of real hardware; [SimulationTiming] stretches them for
// buses simulated by goroutines, where scheduling latency dwarfs a
// microsecond.
//
// Variants are created by [New], which only allocates. The same variants
// serve both ends of the cable: a device listens and talks with them, and
// so does a simulated host.
package protocol
