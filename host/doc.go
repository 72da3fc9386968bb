// Package host implements the bus controller side of the CBM IEC serial bus.
//
// A [Controller] plays the part of the computer: it owns ATN, addresses
// devices with LISTEN and TALK, sends and receives data bytes, and performs
// the host half of the talk turnaround. It speaks the standard serial
// protocol and can negotiate JiffyDOS or use the DolphinDOS parallel cable.
//
// The controller drives any [hal.Port], so the same code runs against the
// in-memory wire bus in tests and against real lines through a hardware
// port.
//
// # Transactions
//
// Low-level operations map one to one onto bus traffic:
//
//   - Listen and Talk send a primary address, optionally with a secondary
//   - Send and Receive move data bytes in the data phase
//   - Unlisten and Untalk end the data phase
//
// Higher-level operations combine them the way the computer's kernal does:
// Open, Close, Load, Save, Status and Command.
//
// # Example
//
//	cable := wire.New()
//	c, _ := host.New(cable.Endpoint("c64"), host.WithJiffyDOS(true))
//	c.Attach(ctx)
//	defer c.Detach()
//
//	data, err := c.Load(8, "PROGRAM")
package host
