package protocol

import "time"

// Direction selects a row of a BitTiming table.
type Direction uint8

// Timing rows.
const (
	DirectionSend    Direction = iota // Used while talking
	DirectionReceive                  // Used while listening
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionSend:
		return "send"
	case DirectionReceive:
		return "receive"
	default:
		return "unknown"
	}
}

// BitTiming is a variant's tunable timing table: four points per
// direction.
//
// For JiffyDOS the points are the offsets of the four bit-pair slots from
// the start of the byte. For the serial and parallel variants the send row
// is {bit setup, bit valid, frame ack bound, between bytes} and the receive
// row is {EOI window, EOI ack, bit timeout, detect window}.
type BitTiming [2][4]time.Duration

// Timing holds every window of the bus protocols.
type Timing struct {
	ATNResponse       time.Duration // Bound for a device to answer ATN (Tat)
	ReadyTimeout      time.Duration // Bound for a peer to signal ready
	EOIWindow         time.Duration // Listener timeout that signals EOI (Tye)
	EOIAck            time.Duration // Listener EOI acknowledge pulse (Tei)
	BitSetup          time.Duration // Data settled before clock release (Ts)
	BitValid          time.Duration // Clock released while data valid (Tv)
	BitTimeout        time.Duration // Bound on each clock edge of a bit
	FrameAck          time.Duration // Bound for the listener frame ack (Tf)
	BetweenBytes      time.Duration // Pause after each byte (Tbb)
	TurnaroundTimeout time.Duration // Bound for the host to release clock
	TurnaroundClock   time.Duration // Delay before the new talker asserts clock
	TurnaroundSettle  time.Duration // Hold before the first byte (Tda)
	ATNRelease        time.Duration // Bound for the host to release ATN
	Empty             time.Duration // Sender timeout before data is asserted
	DetectWindow      time.Duration // Clock hold before bit 7 that marks JiffyDOS
	DetectAck         time.Duration // Device acknowledge pulse for detection
	JiffyDOS          BitTiming     // JiffyDOS bit-pair slot offsets
}

// DefaultTiming returns the timing of real CBM hardware.
func DefaultTiming() Timing {
	return Timing{
		ATNResponse:       1000 * time.Microsecond,
		ReadyTimeout:      time.Second,
		EOIWindow:         200 * time.Microsecond,
		EOIAck:            80 * time.Microsecond,
		BitSetup:          20 * time.Microsecond,
		BitValid:          60 * time.Microsecond,
		BitTimeout:        1000 * time.Microsecond,
		FrameAck:          1000 * time.Microsecond,
		BetweenBytes:      100 * time.Microsecond,
		TurnaroundTimeout: 1000 * time.Microsecond,
		TurnaroundClock:   20 * time.Microsecond,
		TurnaroundSettle:  80 * time.Microsecond,
		ATNRelease:        5 * time.Millisecond,
		Empty:             512 * time.Microsecond,
		DetectWindow:      218 * time.Microsecond,
		DetectAck:         101 * time.Microsecond,
		JiffyDOS: BitTiming{
			DirectionSend:    {17 * time.Microsecond, 27 * time.Microsecond, 39 * time.Microsecond, 50 * time.Microsecond},
			DirectionReceive: {14 * time.Microsecond, 27 * time.Microsecond, 38 * time.Microsecond, 51 * time.Microsecond},
		},
	}
}

// SimulationTiming returns timing for a bus simulated by goroutines.
// Windows are in milliseconds so scheduling latency stays well inside
// them, and the JiffyDOS slots sample halfway between placements.
func SimulationTiming() Timing {
	ms := time.Millisecond
	return Timing{
		ATNResponse:       20 * ms,
		ReadyTimeout:      2 * time.Second,
		EOIWindow:         20 * ms,
		EOIAck:            5 * ms,
		BitSetup:          3 * ms,
		BitValid:          3 * ms,
		BitTimeout:        200 * ms,
		FrameAck:          200 * ms,
		BetweenBytes:      1 * ms,
		TurnaroundTimeout: 500 * ms,
		TurnaroundClock:   1 * ms,
		TurnaroundSettle:  4 * ms,
		ATNRelease:        time.Second,
		Empty:             50 * ms,
		DetectWindow:      20 * ms,
		DetectAck:         10 * ms,
		JiffyDOS: BitTiming{
			DirectionSend:    {0, 10 * ms, 20 * ms, 30 * ms},
			DirectionReceive: {5 * ms, 15 * ms, 25 * ms, 35 * ms},
		},
	}
}

// Scale returns t with every window multiplied by n.
func (t Timing) Scale(n int) Timing {
	m := time.Duration(n)
	for _, d := range []*time.Duration{
		&t.ATNResponse, &t.ReadyTimeout, &t.EOIWindow, &t.EOIAck,
		&t.BitSetup, &t.BitValid, &t.BitTimeout, &t.FrameAck,
		&t.BetweenBytes, &t.TurnaroundTimeout, &t.TurnaroundClock,
		&t.TurnaroundSettle, &t.ATNRelease, &t.Empty,
		&t.DetectWindow, &t.DetectAck,
	} {
		*d *= m
	}
	for dir := range t.JiffyDOS {
		for i := range t.JiffyDOS[dir] {
			t.JiffyDOS[dir][i] *= m
		}
	}
	return t
}

// serialBitTiming derives the tunable table of the handshaked variants.
func serialBitTiming(t Timing) BitTiming {
	return BitTiming{
		DirectionSend:    {t.BitSetup, t.BitValid, t.FrameAck, t.BetweenBytes},
		DirectionReceive: {t.EOIWindow, t.EOIAck, t.BitTimeout, t.DetectWindow},
	}
}
