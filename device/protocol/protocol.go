package protocol

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

// Kind identifies a protocol variant.
type Kind uint8

// Protocol variants.
const (
	KindSerial Kind = iota
	KindJiffyDOS
	KindDolphinDOS
	KindLoopback
	numKinds
)

// NumKinds is the number of protocol variants.
const NumKinds = int(numKinds)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindJiffyDOS:
		return "jiffydos"
	case KindDolphinDOS:
		return "dolphindos"
	case KindLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// WaitResult is the outcome of WaitForSignals.
type WaitResult uint8

// Wait outcomes.
const (
	WaitOK       WaitResult = iota // Awaited line reached its state
	WaitExtra                      // Extra line reached its state first
	WaitTimedOut                   // Neither happened in time
)

// String returns the outcome name.
func (r WaitResult) String() string {
	switch r {
	case WaitOK:
		return "ok"
	case WaitExtra:
		return "extra"
	case WaitTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Protocol is a byte transfer strategy over the IEC bus.
//
// Receive and send methods return pkg.ErrAttention when the host changes ATN
// during the exchange, pkg.ErrTimeout (with FlagError set) when a peer stops
// responding, and pkg.ErrEmptyStream (with FlagEmptyStream set) when the
// talker has nothing to send. FlagEOI is set when the byte just received is
// the last of the stream.
type Protocol interface {
	// Kind returns the variant.
	Kind() Kind

	// ReceiveByte receives one data byte as listener.
	ReceiveByte() (byte, error)

	// ReceiveBytes receives data bytes until EOI. On error it returns the
	// bytes received so far.
	ReceiveBytes() ([]byte, error)

	// SendByte sends one data byte as talker, signalling EOI if eoi is set.
	SendByte(b byte, eoi bool) error

	// SendBytes sends buf as talker, signalling EOI on the final byte if
	// eoi is set. It returns the number of bytes acknowledged.
	SendBytes(buf []byte, eoi bool) (int, error)

	// WaitForSignals polls until line reaches the asserted state, or extra
	// reaches extraAsserted, or timeout elapses. Pass hal.LineNone to
	// ignore extra. A timeout sets FlagError.
	WaitForSignals(line hal.Line, asserted bool, extra hal.Line, extraAsserted bool, timeout time.Duration) WaitResult

	// Delay busy-waits for d.
	Delay(d time.Duration)

	// BitTiming returns the variant's timing table.
	BitTiming() BitTiming

	// SetBitTiming replaces one row of the timing table. Zero points keep
	// their current value.
	SetBitTiming(dir Direction, p1, p2, p3, p4 time.Duration)
}

// New creates a protocol variant. It has no side effects beyond allocation,
// so it may be called at any phase boundary. DolphinDOS requires port to
// implement hal.ParallelPort; Loopback accepts a nil port.
func New(kind Kind, port hal.Port, flags *FlagSet, timing Timing) (Protocol, error) {
	if flags == nil {
		return nil, fmt.Errorf("protocol %v: %w", kind, pkg.ErrInvalidParameter)
	}
	if port == nil && kind != KindLoopback {
		return nil, fmt.Errorf("protocol %v: nil port: %w", kind, pkg.ErrInvalidParameter)
	}

	switch kind {
	case KindSerial:
		return newSerial(port, flags, timing), nil
	case KindJiffyDOS:
		return newJiffyDOS(port, flags, timing), nil
	case KindDolphinDOS:
		par, ok := port.(hal.ParallelPort)
		if !ok {
			return nil, fmt.Errorf("protocol %v: no parallel cable: %w", kind, pkg.ErrNotSupported)
		}
		return newDolphinDOS(port, par, flags, timing), nil
	case KindLoopback:
		return newLoopback(port, flags, timing), nil
	default:
		return nil, fmt.Errorf("protocol %v: %w", kind, pkg.ErrNotSupported)
	}
}

// signals holds what every variant shares: the port, the flag set, the
// timing windows and the tunable table.
type signals struct {
	port   hal.Port
	flags  *FlagSet
	timing Timing

	bitsMutex sync.RWMutex
	bits      BitTiming
}

func (s *signals) init(port hal.Port, flags *FlagSet, timing Timing, bits BitTiming) {
	s.port = port
	s.flags = flags
	s.timing = timing
	s.bits = bits
}

// asserted reads a line, treating a missing port as an idle bus.
func (s *signals) asserted(line hal.Line) bool {
	if s.port == nil || line == hal.LineNone {
		return false
	}
	return s.port.IsAsserted(line)
}

// wait polls like WaitForSignals without touching the flags. Protocols use
// it where a timeout is a signal rather than a failure.
func (s *signals) wait(line hal.Line, asserted bool, extra hal.Line, extraAsserted bool, timeout time.Duration) WaitResult {
	deadline := time.Now().Add(timeout)
	for {
		// The extra condition is checked first so an ATN change always wins.
		if extra != hal.LineNone && s.asserted(extra) == extraAsserted {
			return WaitExtra
		}
		if s.asserted(line) == asserted {
			return WaitOK
		}
		if !time.Now().Before(deadline) {
			return WaitTimedOut
		}
		runtime.Gosched()
	}
}

// WaitForSignals implements Protocol.
func (s *signals) WaitForSignals(line hal.Line, asserted bool, extra hal.Line, extraAsserted bool, timeout time.Duration) WaitResult {
	r := s.wait(line, asserted, extra, extraAsserted, timeout)
	if r == WaitTimedOut {
		s.flags.Set(FlagError)
	}
	return r
}

// expect waits for line to reach asserted, aborting when ATN reaches
// abortATN. A timeout sets FlagError.
func (s *signals) expect(line hal.Line, asserted bool, abortATN bool, timeout time.Duration) error {
	switch s.wait(line, asserted, hal.LineATN, abortATN, timeout) {
	case WaitOK:
		return nil
	case WaitExtra:
		return pkg.ErrAttention
	default:
		s.flags.Set(FlagError)
		return fmt.Errorf("%v %s: %w", line, levelName(asserted), pkg.ErrTimeout)
	}
}

// Delay implements Protocol.
func (s *signals) Delay(d time.Duration) {
	s.until(time.Now().Add(d))
}

// until busy-waits for the deadline.
func (s *signals) until(deadline time.Time) {
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

// put drives a line to carry one bit: asserted for 0, released for 1.
func (s *signals) put(line hal.Line, bit byte) {
	if bit&1 == 0 {
		s.port.Assert(line)
	} else {
		s.port.Release(line)
	}
}

// BitTiming implements Protocol.
func (s *signals) BitTiming() BitTiming {
	s.bitsMutex.RLock()
	defer s.bitsMutex.RUnlock()
	return s.bits
}

// SetBitTiming implements Protocol.
func (s *signals) SetBitTiming(dir Direction, p1, p2, p3, p4 time.Duration) {
	if dir > DirectionReceive {
		return
	}
	s.bitsMutex.Lock()
	defer s.bitsMutex.Unlock()
	for i, p := range [4]time.Duration{p1, p2, p3, p4} {
		if p != 0 {
			s.bits[dir][i] = p
		}
	}
}

func levelName(asserted bool) string {
	if asserted {
		return "assert"
	}
	return "release"
}

// receiveAll reads bytes with p until EOI.
func receiveAll(p Protocol, flags *FlagSet) ([]byte, error) {
	flags.Clear(FlagEOI | FlagEmptyStream)
	var buf []byte
	for {
		b, err := p.ReceiveByte()
		if err != nil {
			return buf, err
		}
		buf = append(buf, b)
		if flags.Has(FlagEOI) {
			return buf, nil
		}
	}
}

// sendAll writes buf with p, marking the final byte with EOI if eoi is set.
func sendAll(p Protocol, buf []byte, eoi bool) (int, error) {
	for i, b := range buf {
		if err := p.SendByte(b, eoi && i == len(buf)-1); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// IsAbort reports whether err ended an exchange without a failure: the host
// reclaimed the bus, or the talker had no data.
func IsAbort(err error) bool {
	return errors.Is(err, pkg.ErrAttention) || errors.Is(err, pkg.ErrEmptyStream)
}

// EmptySender is implemented by variants that can report in-band that the
// talker has nothing to send.
type EmptySender interface {
	SendEmpty() error
}
