package serial

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

// Input is a modem status line.
type Input uint8

// Modem status lines.
const (
	InputNone Input = iota
	InputCTS
	InputDSR
	InputDCD
	InputRI
)

// String returns the line name.
func (i Input) String() string {
	switch i {
	case InputNone:
		return "none"
	case InputCTS:
		return "CTS"
	case InputDSR:
		return "DSR"
	case InputDCD:
		return "DCD"
	case InputRI:
		return "RI"
	default:
		return fmt.Sprintf("Input(%d)", uint8(i))
	}
}

func (i Input) level(bits *serial.ModemStatusBits) bool {
	switch i {
	case InputCTS:
		return bits.CTS
	case InputDSR:
		return bits.DSR
	case InputDCD:
		return bits.DCD
	case InputRI:
		return bits.RI
	}
	return false
}

// Output is a modem control line.
type Output uint8

// Modem control lines.
const (
	OutputNone Output = iota
	OutputRTS
	OutputDTR
)

// String returns the line name.
func (o Output) String() string {
	switch o {
	case OutputNone:
		return "none"
	case OutputRTS:
		return "RTS"
	case OutputDTR:
		return "DTR"
	default:
		return fmt.Sprintf("Output(%d)", uint8(o))
	}
}

// Wiring maps IEC signals to modem lines.
type Wiring struct {
	ATN      Input
	ClockIn  Input
	DataIn   Input
	Reset    Input
	ClockOut Output
	DataOut  Output

	// Inverted is set when an active modem line means the IEC signal is
	// released.
	Inverted bool
}

// DefaultWiring is the usual adapter wiring.
var DefaultWiring = Wiring{
	ATN:      InputCTS,
	ClockIn:  InputDSR,
	DataIn:   InputDCD,
	Reset:    InputRI,
	ClockOut: OutputRTS,
	DataOut:  OutputDTR,
}

func (w Wiring) input(line hal.Line) Input {
	switch line {
	case hal.LineATN:
		return w.ATN
	case hal.LineClockIn:
		return w.ClockIn
	case hal.LineDataIn:
		return w.DataIn
	case hal.LineReset:
		return w.Reset
	}
	return InputNone
}

func (w Wiring) output(line hal.Line) Output {
	switch line {
	case hal.LineClockOut:
		return w.ClockOut
	case hal.LineDataOut:
		return w.DataOut
	}
	return OutputNone
}

// DefaultPollInterval is how often the modem status is sampled for edges.
const DefaultPollInterval = time.Millisecond

// modemLines is the part of serial.Port the adapter uses.
type modemLines interface {
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
	Close() error
}

// Port implements hal.Port on a serial port's modem lines.
type Port struct {
	name     string
	wiring   Wiring
	interval time.Duration
	open     func(name string) (modemLines, error)

	mu    sync.Mutex
	lines modemLines
	stop  chan struct{}
	wg    sync.WaitGroup

	// Serializes modem control writes.
	outMu sync.Mutex

	handler    atomic.Pointer[hal.Handler]
	interrupts atomic.Uint32
	driven     atomic.Uint32
}

// New creates a port for the serial device name. The device is opened by
// Init.
func New(name string, wiring Wiring) *Port {
	return &Port{
		name:     name,
		wiring:   wiring,
		interval: DefaultPollInterval,
		open:     openSerial,
	}
}

func openSerial(name string) (modemLines, error) {
	return serial.Open(name, &serial.Mode{BaudRate: 9600})
}

// Ports lists the serial ports found on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// SetPollInterval sets the edge sampling interval.
func (p *Port) SetPollInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d > 0 {
		p.interval = d
	}
}

// Init implements hal.Port. It opens the device and releases both outputs.
func (p *Port) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if p.lines != nil {
		return nil
	}
	lines, err := p.open(p.name)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.name, err)
	}
	p.lines = lines
	p.driven.Store(0)
	p.releaseOutputs(lines)

	pkg.LogDebug(pkg.ComponentHAL, "serial adapter opened", "port", p.name)
	return nil
}

// Start implements hal.Port. A goroutine samples the inputs and delivers
// edges on enabled lines.
func (p *Port) Start(h hal.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lines == nil {
		return pkg.ErrNotRunning
	}
	if p.stop != nil {
		return pkg.ErrAlreadyRunning
	}
	p.handler.Store(&h)
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go p.poll(p.lines, p.stop, p.interval)
	return nil
}

// Stop implements hal.Port. Outputs are released and the device closed.
func (p *Port) Stop() error {
	// The poll goroutine may be inside the handler, which drives lines, so
	// it is stopped without holding mu.
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		p.wg.Wait()
	}
	p.handler.Store(nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lines == nil {
		return nil
	}
	p.driven.Store(0)
	p.releaseOutputs(p.lines)
	err := p.lines.Close()
	p.lines = nil
	pkg.LogDebug(pkg.ComponentHAL, "serial adapter closed", "port", p.name)
	return err
}

// sample reads every mapped input as a bit set indexed by hal.Line.
func (p *Port) sample(lines modemLines) (uint32, error) {
	bits, err := lines.GetModemStatusBits()
	if err != nil {
		return 0, err
	}
	var set uint32
	for _, line := range []hal.Line{hal.LineATN, hal.LineClockIn, hal.LineDataIn, hal.LineReset} {
		in := p.wiring.input(line)
		if in != InputNone && in.level(bits) != p.wiring.Inverted {
			set |= 1 << line
		}
	}
	return set, nil
}

func (p *Port) poll(lines modemLines, stop chan struct{}, interval time.Duration) {
	defer p.wg.Done()

	prev, _ := p.sample(lines)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		cur, err := p.sample(lines)
		if err != nil {
			continue
		}
		changed := (cur ^ prev) & p.interrupts.Load()
		prev = cur
		if changed == 0 {
			continue
		}
		hp := p.handler.Load()
		if hp == nil || *hp == nil {
			continue
		}
		for line := hal.Line(0); line < hal.NumLines; line++ {
			if changed&(1<<line) != 0 {
				(*hp)(hal.Event{Line: line, Asserted: cur&(1<<line) != 0})
			}
		}
	}
}

func (p *Port) releaseOutputs(lines modemLines) {
	for _, out := range []Output{p.wiring.ClockOut, p.wiring.DataOut} {
		p.set(lines, out, false)
	}
}

// set drives an output.
func (p *Port) set(lines modemLines, out Output, asserted bool) {
	p.outMu.Lock()
	defer p.outMu.Unlock()

	level := asserted != p.wiring.Inverted
	var err error
	switch out {
	case OutputRTS:
		err = lines.SetRTS(level)
	case OutputDTR:
		err = lines.SetDTR(level)
	}
	if err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "modem line set failed", "line", out, "error", err)
	}
}

func (p *Port) drive(line hal.Line, asserted bool) {
	out := p.wiring.output(line)
	if out == OutputNone {
		return
	}
	for {
		cur := p.driven.Load()
		next := cur &^ (1 << line)
		if asserted {
			next = cur | 1<<line
		}
		if p.driven.CompareAndSwap(cur, next) {
			break
		}
	}

	p.mu.Lock()
	lines := p.lines
	p.mu.Unlock()
	if lines != nil {
		p.set(lines, out, asserted)
	}
}

// Assert implements hal.Port.
func (p *Port) Assert(line hal.Line) {
	p.drive(line, true)
}

// Release implements hal.Port.
func (p *Port) Release(line hal.Line) {
	p.drive(line, false)
}

// IsAsserted implements hal.Port. Outputs report what this port drives.
func (p *Port) IsAsserted(line hal.Line) bool {
	if line >= hal.NumLines {
		return false
	}
	if p.wiring.output(line) != OutputNone {
		return p.driven.Load()&(1<<line) != 0
	}
	if p.wiring.input(line) == InputNone {
		return false
	}

	p.mu.Lock()
	lines := p.lines
	p.mu.Unlock()
	if lines == nil {
		return false
	}
	set, err := p.sample(lines)
	return err == nil && set&(1<<line) != 0
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

var _ hal.Port = (*Port)(nil)
