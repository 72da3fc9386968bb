//go:build linux

package linux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

// Consumer is the label the kernel shows for requested lines.
const Consumer = "softiec"

// NotConnected marks a signal with no GPIO line.
const NotConnected = -1

// Pins maps IEC signals to GPIO line offsets on one chip.
type Pins struct {
	ATN      int
	ClockIn  int
	ClockOut int
	DataIn   int
	DataOut  int
	SRQ      int
	Reset    int

	// Inverted is set when the lines pass through inverting buffers, so a
	// high GPIO level means the bus signal is asserted.
	Inverted bool
}

// DefaultPins is a common Raspberry Pi wiring.
var DefaultPins = Pins{
	ATN:      17,
	ClockIn:  27,
	ClockOut: 22,
	DataIn:   23,
	DataOut:  24,
	SRQ:      NotConnected,
	Reset:    25,
}

func (p Pins) offset(line hal.Line) int {
	switch line {
	case hal.LineATN:
		return p.ATN
	case hal.LineClockIn:
		return p.ClockIn
	case hal.LineClockOut:
		return p.ClockOut
	case hal.LineDataIn:
		return p.DataIn
	case hal.LineDataOut:
		return p.DataOut
	case hal.LineSRQ:
		return p.SRQ
	case hal.LineReset:
		return p.Reset
	}
	return NotConnected
}

// inputs and outputs list the lines in request order.
var (
	inputs  = []hal.Line{hal.LineATN, hal.LineClockIn, hal.LineDataIn, hal.LineReset}
	outputs = []hal.Line{hal.LineClockOut, hal.LineDataOut, hal.LineSRQ}
)

// layout maps every line to its request and bit index.
type layout struct {
	offsets [2][]uint32 // inputs, outputs
	index   [hal.NumLines]int8
	output  [hal.NumLines]bool
	byInput map[uint32]hal.Line
}

func (p Pins) layout() (layout, error) {
	var l layout
	l.byInput = make(map[uint32]hal.Line)
	for i := range l.index {
		l.index[i] = -1
	}

	seen := make(map[int]hal.Line)
	for dir, lines := range [2][]hal.Line{inputs, outputs} {
		for _, line := range lines {
			off := p.offset(line)
			if off == NotConnected {
				continue
			}
			if off < 0 || off >= maxLines {
				return l, fmt.Errorf("%v offset %d: %w", line, off, pkg.ErrInvalidParameter)
			}
			if other, ok := seen[off]; ok {
				return l, fmt.Errorf("%v and %v share offset %d: %w", line, other, off, pkg.ErrInvalidParameter)
			}
			seen[off] = line
			l.index[line] = int8(len(l.offsets[dir]))
			l.output[line] = dir == 1
			l.offsets[dir] = append(l.offsets[dir], uint32(off))
			if dir == 0 {
				l.byInput[uint32(off)] = line
			}
		}
	}

	for _, line := range []hal.Line{hal.LineATN, hal.LineClockIn, hal.LineDataIn, hal.LineClockOut, hal.LineDataOut} {
		if l.index[line] < 0 {
			return l, fmt.Errorf("%v not connected: %w", line, pkg.ErrInvalidParameter)
		}
	}
	return l, nil
}

// Port implements hal.Port on a GPIO character device.
type Port struct {
	path string
	pins Pins
	lay  layout

	chip  int
	infd  int
	outfd int

	outMutex sync.Mutex
	outBits  uint64

	poller     *poller
	handler    atomic.Pointer[hal.Handler]
	interrupts atomic.Uint32
	wg         sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a port for the GPIO chip at path. Lines are requested by
// Init.
func New(path string, pins Pins) (*Port, error) {
	lay, err := pins.layout()
	if err != nil {
		return nil, err
	}
	return &Port{path: path, pins: pins, lay: lay, chip: -1, infd: -1, outfd: -1}, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Init implements hal.Port. It opens the chip and requests the lines with
// every output released.
func (p *Port) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if p.chip >= 0 {
		return nil
	}

	chip, err := unix.Open(p.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.path, err)
	}

	inFlags := flagInput | flagEdgeRising | flagEdgeFalling | flagBiasPullUp
	outFlags := flagOutput | flagOpenDrain
	if !p.pins.Inverted {
		inFlags |= flagActiveLow
		outFlags |= flagActiveLow
	} else {
		inFlags &^= flagBiasPullUp
		outFlags &^= flagOpenDrain
	}

	infd, err := requestLines(chip, Consumer, p.lay.offsets[0], inFlags)
	if err != nil {
		unix.Close(chip)
		return fmt.Errorf("request inputs: %w", err)
	}
	outfd, err := requestLines(chip, Consumer, p.lay.offsets[1], outFlags)
	if err != nil {
		unix.Close(infd)
		unix.Close(chip)
		return fmt.Errorf("request outputs: %w", err)
	}

	poller, err := newPoller()
	if err != nil {
		unix.Close(outfd)
		unix.Close(infd)
		unix.Close(chip)
		return err
	}

	p.chip, p.infd, p.outfd, p.poller = chip, infd, outfd, poller
	p.outBits = 0
	pkg.LogDebug(pkg.ComponentHAL, "gpio lines requested",
		"chip", p.path,
		"inputs", p.lay.offsets[0],
		"outputs", p.lay.offsets[1])
	return nil
}

// Start implements hal.Port. Edge events are delivered from the poll
// goroutine.
func (p *Port) Start(h hal.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.poller == nil {
		return pkg.ErrNotRunning
	}
	if p.running {
		return pkg.ErrAlreadyRunning
	}
	p.handler.Store(&h)
	if err := p.poller.add(p.infd, p.readEvents); err != nil {
		return err
	}
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.poller.run(); err != nil {
			pkg.LogError(pkg.ComponentHAL, "gpio poll failed", "error", err)
		}
	}()
	return nil
}

// Stop implements hal.Port. Outputs are released and every descriptor is
// closed.
func (p *Port) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chip < 0 {
		return nil
	}
	if p.running {
		p.poller.stop()
		p.wg.Wait()
		p.running = false
	}
	p.handler.Store(nil)

	p.outMutex.Lock()
	p.outBits = 0
	err := setValues(p.outfd, 0, mask(len(p.lay.offsets[1])))
	p.outMutex.Unlock()

	p.poller.close()
	unix.Close(p.outfd)
	unix.Close(p.infd)
	unix.Close(p.chip)
	p.chip, p.infd, p.outfd, p.poller = -1, -1, -1, nil
	return err
}

func mask(n int) uint64 {
	return 1<<uint(n) - 1
}

// =============================================================================
// Line Access
// =============================================================================

// Assert implements hal.Port.
func (p *Port) Assert(line hal.Line) {
	p.drive(line, true)
}

// Release implements hal.Port.
func (p *Port) Release(line hal.Line) {
	p.drive(line, false)
}

func (p *Port) drive(line hal.Line, asserted bool) {
	if line >= hal.NumLines || !p.lay.output[line] || p.outfd < 0 {
		return
	}
	bit := uint64(1) << uint(p.lay.index[line])

	p.outMutex.Lock()
	defer p.outMutex.Unlock()
	if asserted {
		p.outBits |= bit
	} else {
		p.outBits &^= bit
	}
	// Only this line's bit is written.
	if err := setValues(p.outfd, p.outBits, bit); err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "gpio set failed", "line", line, "error", err)
	}
}

// IsAsserted implements hal.Port. Output lines report what this port
// drives.
func (p *Port) IsAsserted(line hal.Line) bool {
	if line >= hal.NumLines || p.lay.index[line] < 0 || p.infd < 0 {
		return false
	}
	bit := uint64(1) << uint(p.lay.index[line])
	if p.lay.output[line] {
		p.outMutex.Lock()
		defer p.outMutex.Unlock()
		return p.outBits&bit != 0
	}
	bits, err := getValues(p.infd, bit)
	return err == nil && bits&bit != 0
}

// EnableInterrupt implements hal.Port.
func (p *Port) EnableInterrupt(line hal.Line, enable bool) {
	if line >= hal.NumLines {
		return
	}
	for {
		cur := p.interrupts.Load()
		next := cur &^ (1 << line)
		if enable {
			next = cur | 1<<line
		}
		if p.interrupts.CompareAndSwap(cur, next) {
			return
		}
	}
}

// readEvents drains the edge events queued by the kernel.
func (p *Port) readEvents() {
	var events [maxEvents]lineEvent
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&events[0])), len(events)*lineEventSize)
	n, err := unix.Read(p.infd, buf)
	if err != nil {
		return
	}

	hp := p.handler.Load()
	if hp == nil || *hp == nil {
		return
	}
	for i := 0; i < n/lineEventSize; i++ {
		ev := &events[i]
		line, ok := p.lay.byInput[ev.offset]
		if !ok || p.interrupts.Load()&(1<<line) == 0 {
			continue
		}
		(*hp)(hal.Event{Line: line, Asserted: ev.id == eventRisingEdge})
	}
}

var _ hal.Port = (*Port)(nil)
