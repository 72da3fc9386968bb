package protocol

import (
	"strings"
	"sync/atomic"
)

// Flags is the bus condition bitmask.
type Flags uint32

// Bus condition flags.
const (
	FlagATNAsserted Flags = 1 << iota // Host holds ATN
	FlagError                         // Stream or timeout failure
	FlagEOI                           // End-of-transmission seen
	FlagEmptyStream                   // Talker had nothing to send
	FlagJiffyDOS                      // Host acknowledged JiffyDOS detection
	FlagDolphinDOS                    // Parallel handshake seen under ATN
)

var flagNames = [...]string{
	"ATN",
	"ERROR",
	"EOI",
	"EMPTY",
	"JIFFYDOS",
	"DOLPHINDOS",
}

// String returns the set flag names joined by "|".
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}

// FlagSet is a Flags value shared between interrupt context and the
// service task. The zero value is empty and ready to use.
type FlagSet struct {
	v atomic.Uint32
}

// Set sets every flag in f.
func (s *FlagSet) Set(f Flags) {
	for {
		old := s.v.Load()
		if s.v.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// Clear clears every flag in f.
func (s *FlagSet) Clear(f Flags) {
	for {
		old := s.v.Load()
		if s.v.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// Has reports whether every flag in f is set.
func (s *FlagSet) Has(f Flags) bool {
	return Flags(s.v.Load())&f == f
}

// Load returns the current flags.
func (s *FlagSet) Load() Flags {
	return Flags(s.v.Load())
}

// Reset clears all flags.
func (s *FlagSet) Reset() {
	s.v.Store(0)
}
