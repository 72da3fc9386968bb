// Package hal defines the Signal Layer for the CBM IEC serial bus.
//
// The bus engine never touches pins directly. It drives and samples the
// named lines through a [Port], and receives edges on input lines through a
// [Handler] invoked from interrupt context. Platform vendors implement Port
// for their hardware; the engine implements all protocol logic.
//
// # Conventions
//
// Every IEC line is open-collector with a pull-up. "Assert" means pull low
// and "release" means let float. A released line reads high only when no
// other device on the bus is asserting it.
//
//   - [LineATN] and [LineReset] are driven by the host
//   - [LineClockIn] and [LineDataIn] read the shared clock and data lines
//   - [LineClockOut] and [LineDataOut] drive the same lines
//   - [LineSRQ] is the service request line
//
// # Implementing a Port
//
//  1. Map each [Line] to a pin or pin pair in Init
//  2. Deliver edges on ATN, clock, data and reset to the handler passed to
//     Start, honoring [Port.EnableInterrupt]
//  3. Make Assert, Release and IsAsserted take effect without buffering
//  4. Optionally implement [ParallelPort] for a parallel cable
//
// Ports are provided for an in-memory bus
// ([github.com/ardnew/softiec/device/hal/wire]), Linux GPIO character
// devices ([github.com/ardnew/softiec/device/hal/linux]) and serial
// adapters wired to modem control lines
// ([github.com/ardnew/softiec/device/hal/serial]).
package hal
