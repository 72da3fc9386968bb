package device

import (
	"time"

	"github.com/ardnew/softiec/device/protocol"
)

// DefaultQueueSize is the default capacity of the event queue between the
// edge handler and the service task.
const DefaultQueueSize = 8

// Config configures a Bus.
type Config struct {
	// Timing holds every protocol window.
	Timing protocol.Timing

	// QueueSize is the event queue capacity.
	QueueSize int

	// JiffyDOS enables answering JiffyDOS probes and the JiffyDOS data phase.
	JiffyDOS bool

	// DolphinDOS enables the DolphinDOS data phase when the port has a
	// parallel cable.
	DolphinDOS bool

	// SRQRate starts the service request timer when non-zero.
	SRQRate time.Duration
}

// DefaultConfig returns a configuration for real hardware with every
// accelerated protocol enabled.
func DefaultConfig() Config {
	return Config{
		Timing:     protocol.DefaultTiming(),
		QueueSize:  DefaultQueueSize,
		JiffyDOS:   true,
		DolphinDOS: true,
	}
}
