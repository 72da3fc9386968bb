package wire

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

// Signal identifies a physical conductor of the cable.
type Signal uint8

// Cable signals.
const (
	SignalATN Signal = iota
	SignalClock
	SignalData
	SignalSRQ
	SignalReset
	numSignals
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case SignalATN:
		return "ATN"
	case SignalClock:
		return "CLK"
	case SignalData:
		return "DATA"
	case SignalSRQ:
		return "SRQ"
	case SignalReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// signalOf maps a port line to the conductor it drives or reads.
func signalOf(l hal.Line) (Signal, bool) {
	switch l {
	case hal.LineATN:
		return SignalATN, true
	case hal.LineClockIn, hal.LineClockOut:
		return SignalClock, true
	case hal.LineDataIn, hal.LineDataOut:
		return SignalData, true
	case hal.LineSRQ:
		return SignalSRQ, true
	case hal.LineReset:
		return SignalReset, true
	default:
		return 0, false
	}
}

// lineOf maps a conductor to the input line reported in edge events.
func lineOf(s Signal) hal.Line {
	switch s {
	case SignalATN:
		return hal.LineATN
	case SignalClock:
		return hal.LineClockIn
	case SignalData:
		return hal.LineDataIn
	case SignalSRQ:
		return hal.LineSRQ
	default:
		return hal.LineReset
	}
}

// Transition records one change of bus level.
type Transition struct {
	Signal   Signal
	Asserted bool
	By       string        // Name of the endpoint that caused it
	At       time.Duration // Time since the bus was created
}

// Bus is a shared open-collector cable.
type Bus struct {
	mutex     sync.Mutex
	endpoints []*Endpoint
	peers     []*ParallelEndpoint
	watchers  []func(Transition)
	level     atomic.Uint32 // Bit per Signal, set when asserted
	parallel  atomic.Uint32
	epoch     time.Time
}

// New creates an idle bus with every line released.
func New() *Bus {
	return &Bus{epoch: time.Now()}
}

// Endpoint attaches a new endpoint to the bus.
func (b *Bus) Endpoint(name string) *Endpoint {
	e := &Endpoint{bus: b, name: name}
	b.mutex.Lock()
	b.endpoints = append(b.endpoints, e)
	b.mutex.Unlock()
	return e
}

// ParallelEndpoint attaches a new endpoint that also carries the parallel
// cable.
func (b *Bus) ParallelEndpoint(name string) *ParallelEndpoint {
	p := &ParallelEndpoint{Endpoint: b.Endpoint(name)}
	b.mutex.Lock()
	b.peers = append(b.peers, p)
	b.mutex.Unlock()
	return p
}

// Watch registers fn to observe every level change. fn runs with the bus
// locked and must not drive lines.
func (b *Bus) Watch(fn func(Transition)) {
	b.mutex.Lock()
	b.watchers = append(b.watchers, fn)
	b.mutex.Unlock()
}

// Level reports whether the signal is asserted by any endpoint.
func (b *Bus) Level(s Signal) bool {
	return b.level.Load()&(1<<s) != 0
}

type delivery struct {
	handler hal.Handler
	event   hal.Event
}

// drive updates the driver bit of e for s and delivers resulting edges
// outside the lock.
func (b *Bus) drive(e *Endpoint, s Signal, asserted bool) {
	b.mutex.Lock()
	if asserted {
		e.driven |= 1 << s
	} else {
		e.driven &^= 1 << s
	}

	var level uint32
	for _, ep := range b.endpoints {
		level |= ep.driven
	}
	old := b.level.Swap(level)

	var pending []delivery
	if (old^level)&(1<<s) != 0 {
		now := level&(1<<s) != 0
		t := Transition{Signal: s, Asserted: now, By: e.name, At: time.Since(b.epoch)}
		for _, fn := range b.watchers {
			fn(t)
		}
		ev := hal.Event{Line: lineOf(s), Asserted: now}
		for _, ep := range b.endpoints {
			if h := ep.handler; h != nil && ep.interrupts&(1<<s) != 0 {
				pending = append(pending, delivery{handler: h, event: ev})
			}
		}
	}
	b.mutex.Unlock()

	for _, d := range pending {
		d.handler(d.event)
	}
}

// Endpoint is one device's connection to the bus. It implements hal.Port.
type Endpoint struct {
	bus        *Bus
	name       string
	driven     uint32 // guarded by bus.mutex
	interrupts uint32 // guarded by bus.mutex
	handler    hal.Handler
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Init implements hal.Port.
func (e *Endpoint) Init(ctx context.Context) error {
	return ctx.Err()
}

// Start implements hal.Port.
func (e *Endpoint) Start(h hal.Handler) error {
	e.bus.mutex.Lock()
	e.handler = h
	e.bus.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "wire endpoint started", "endpoint", e.name)
	return nil
}

// Stop implements hal.Port. Every line driven by the endpoint is released.
func (e *Endpoint) Stop() error {
	e.bus.mutex.Lock()
	e.handler = nil
	driven := e.driven
	e.bus.mutex.Unlock()

	for s := Signal(0); s < numSignals; s++ {
		if driven&(1<<s) != 0 {
			e.bus.drive(e, s, false)
		}
	}
	pkg.LogDebug(pkg.ComponentHAL, "wire endpoint stopped", "endpoint", e.name)
	return nil
}

// Assert implements hal.Port.
func (e *Endpoint) Assert(line hal.Line) {
	if s, ok := signalOf(line); ok {
		e.bus.drive(e, s, true)
	}
}

// Release implements hal.Port.
func (e *Endpoint) Release(line hal.Line) {
	if s, ok := signalOf(line); ok {
		e.bus.drive(e, s, false)
	}
}

// IsAsserted implements hal.Port. It reports the bus level, not the
// endpoint's own driver.
func (e *Endpoint) IsAsserted(line hal.Line) bool {
	s, ok := signalOf(line)
	return ok && e.bus.Level(s)
}

// Driving reports whether this endpoint itself pulls the line low.
func (e *Endpoint) Driving(line hal.Line) bool {
	s, ok := signalOf(line)
	if !ok {
		return false
	}
	e.bus.mutex.Lock()
	defer e.bus.mutex.Unlock()
	return e.driven&(1<<s) != 0
}

// EnableInterrupt implements hal.Port.
func (e *Endpoint) EnableInterrupt(line hal.Line, enable bool) {
	s, ok := signalOf(line)
	if !ok {
		return
	}
	e.bus.mutex.Lock()
	if enable {
		e.interrupts |= 1 << s
	} else {
		e.interrupts &^= 1 << s
	}
	e.bus.mutex.Unlock()
}

// ParallelEndpoint is an Endpoint with the parallel cable attached.
// It implements hal.ParallelPort.
type ParallelEndpoint struct {
	*Endpoint
	strobed atomic.Bool
}

// ReadParallel implements hal.ParallelPort.
func (p *ParallelEndpoint) ReadParallel() byte {
	return byte(p.bus.parallel.Load())
}

// WriteParallel implements hal.ParallelPort.
func (p *ParallelEndpoint) WriteParallel(b byte) {
	p.bus.parallel.Store(uint32(b))
}

// Strobe implements hal.ParallelPort. Every other parallel endpoint on the
// bus observes the pulse.
func (p *ParallelEndpoint) Strobe() {
	p.bus.mutex.Lock()
	peers := p.bus.peers
	p.bus.mutex.Unlock()
	for _, peer := range peers {
		if peer != p {
			peer.strobed.Store(true)
		}
	}
}

// Strobed implements hal.ParallelPort.
func (p *ParallelEndpoint) Strobed() bool {
	return p.strobed.Swap(false)
}
