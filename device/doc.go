// Package device implements the peripheral side of the Commodore IEC serial
// bus.
//
// It is platform-agnostic and drives the bus through the [hal.Port]
// interface defined in the [github.com/ardnew/softiec/device/hal] package.
// A port exposes the open-collector lines (ATN, CLK, DATA, SRQ, RESET) as
// assert/release operations plus edge notification, so a board or adapter
// only has to provide line access.
//
// # Architecture
//
// The engine is organized into a few layers:
//
//   - [Bus] owns the lines and runs the attention and data phase state machine
//   - [Registry] holds the chain of [VirtualDevice] implementations by ID
//   - [Command] is the decoded primary and secondary address of a transaction
//   - [Queue] carries edge events from the handler to the service goroutine
//
// The edge handler only answers ATN and records the event. Everything else,
// including the bit-level transfer, runs on the service goroutine started by
// [Bus.Start].
//
// # Bus States
//
// A transaction moves through:
//
//	Idle → Attention → Active → Process → Release
//
// Any timeout or framing failure leaves the bus in Error until the host
// raises ATN again. An ATN edge always wins over the current state.
//
// # Protocols
//
// Data bytes use the standard serial protocol unless the host negotiates a
// faster one during the attention phase:
//
//   - JiffyDOS, detected by the host holding CLK before the last command bit
//   - DolphinDOS, detected by a strobe on the parallel cable under ATN
//
// The protocols live in [github.com/ardnew/softiec/device/protocol].
//
// # Devices
//
// A [VirtualDevice] receives one channel operation per transaction and moves
// its data through the [IO] it was given:
//
//	reg := device.NewRegistry()
//	reg.AddDevice(drive.New(drive.NewMemoryStorage()), 8)
//	bus, err := device.NewBus(port, reg, device.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	return bus.Start(ctx)
//
// A simulated bus for tests and demos is available in
// [github.com/ardnew/softiec/device/hal/wire].
package device
