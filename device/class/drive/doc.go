// Package drive implements a virtual disk drive on the IEC bus.
//
// The drive keeps one buffer per channel. OPEN on channels 0 to 14 names a
// file: channel 1 collects data for a save, every other channel loads the
// file from [Storage] for reading. TALK on an open channel streams its
// buffer with EOI on the last byte; a channel with nothing to send reports
// the empty stream to the host. LISTEN on a write channel appends, and CLOSE
// commits the file.
//
// Channel 15 is the command channel. Data written to it is executed as a
// drive command, and reading it returns the CBM-DOS style status line,
// which resets to 00, OK once read.
//
// Supported commands:
//
//	I       initialize
//	S:name  scratch a file
//	UJ      reset the drive
//
// # Example
//
//	d := drive.New(drive.NewMemoryStorage())
//	registry.AddDevice(d, 8)
//	bus, _ := device.NewBus(port, registry, device.DefaultConfig())
//	d.SetBus(bus)
package drive
