package hal

import (
	"context"
)

// Line identifies one IEC bus signal as seen by a port.
//
// Split input/output pairs (CLK, DATA) model interfaces with separate
// receive and drive pins, such as an inverted buffer on a microcontroller.
// Ports that share one pin per signal map both halves to the same pin.
type Line uint8

// Bus lines.
const (
	LineATN      Line = iota // Attention, driven by the host
	LineClockIn              // Clock as read from the bus
	LineClockOut             // Clock as driven by this port
	LineDataIn               // Data as read from the bus
	LineDataOut              // Data as driven by this port
	LineSRQ                  // Service request
	LineReset                // Bus reset
	NumLines

	// LineNone selects no line. Used where an optional line is accepted.
	LineNone Line = 0xFF
)

// String returns the conventional signal name.
func (l Line) String() string {
	switch l {
	case LineATN:
		return "ATN"
	case LineClockIn:
		return "CLK_IN"
	case LineClockOut:
		return "CLK_OUT"
	case LineDataIn:
		return "DATA_IN"
	case LineDataOut:
		return "DATA_OUT"
	case LineSRQ:
		return "SRQ"
	case LineReset:
		return "RESET"
	case LineNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Event describes an edge observed on an input line.
type Event struct {
	Line     Line // Line that changed
	Asserted bool // New level; true when the line is pulled low
}

// Handler receives edge events from interrupt context.
//
// Handlers must not block. They may drive output lines and update atomic
// state, but anything longer must be handed to a task.
type Handler func(Event)

// Port defines the Signal Layer for the IEC serial bus.
//
// All lines are open-collector: Assert pulls a line low and Release lets it
// float high. Output changes take effect immediately; callers never assume
// buffering. Implementations must make Assert, Release and IsAsserted safe
// for concurrent use, since they are called both from the edge handler and
// from the service task.
type Port interface {
	// Init prepares the hardware. The context can cancel initialization.
	Init(ctx context.Context) error

	// Start begins edge delivery to h. A nil handler disables delivery.
	Start(h Handler) error

	// Stop ends edge delivery and releases every driven line.
	Stop() error

	// Assert pulls the line low.
	Assert(line Line)

	// Release lets the line float high.
	Release(line Line)

	// IsAsserted reports whether the line is currently low on the bus.
	IsAsserted(line Line) bool

	// EnableInterrupt gates edge delivery for an input line.
	EnableInterrupt(line Line, enable bool)
}

// ParallelPort is implemented by ports with an 8-bit parallel cable, as
// used by parallel-nibble transfer protocols.
type ParallelPort interface {
	// ReadParallel samples the eight data lines.
	ReadParallel() byte

	// WriteParallel drives the eight data lines.
	WriteParallel(b byte)

	// Strobe pulses the handshake output.
	Strobe()

	// Strobed reports whether a handshake pulse arrived since the last
	// call, and clears the indication.
	Strobed() bool
}
