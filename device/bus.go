package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/device/protocol"
	"github.com/ardnew/softiec/pkg"
)

// IO is the channel I/O a device performs through the bus while one of its
// channel operations runs.
type IO interface {
	ReceiveByte() (byte, error)
	ReceiveBytes() ([]byte, error)
	SendByte(b byte, eoi bool) error
	SendBytes(buf []byte, eoi bool) (int, error)
	SenderTimeout()
}

type eventKind uint8

const (
	eventAttention eventKind = iota
	eventReset
)

// event is what the edge handler hands to the service task.
type event struct {
	kind eventKind
	seq  uint32
}

// Bus is the IEC bus state machine for the devices of one registry.
//
// The edge handler runs in interrupt context: it answers ATN on the lines,
// updates atomic state and queues an event. The service task receives and
// decodes command bytes, runs the data phase and dispatches to the addressed
// device. State and ATN sequence share one atomic word so the task can only
// move the state within the ATN cycle it is serving.
type Bus struct {
	port     hal.Port
	registry *Registry
	config   Config

	flags    protocol.FlagSet
	serial   *protocol.Serial
	variants [protocol.NumKinds]protocol.Protocol
	detected atomic.Uint32

	// ATN sequence in the high 32 bits, State in the low bits.
	cycle atomic.Uint64
	queue *Queue[event]

	// Touched only by the service task.
	cmd Command

	srq     atomic.Bool
	srqStop chan struct{}

	running bool
	mutex   sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBus creates a bus over port dispatching to registry.
func NewBus(port hal.Port, registry *Registry, config Config) (*Bus, error) {
	if port == nil || registry == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if config.QueueSize < 1 {
		config.QueueSize = DefaultQueueSize
	}

	b := &Bus{
		port:     port,
		registry: registry,
		config:   config,
		queue:    NewQueue[event](config.QueueSize),
	}
	b.cycle.Store(pack(0, StateOffline))

	p, err := protocol.New(protocol.KindSerial, port, &b.flags, config.Timing)
	if err != nil {
		return nil, err
	}
	b.serial = p.(*protocol.Serial)
	b.serial.SetDetection(config.JiffyDOS)
	b.variants[protocol.KindSerial] = b.serial

	if config.JiffyDOS {
		if b.variants[protocol.KindJiffyDOS], err = protocol.New(protocol.KindJiffyDOS, port, &b.flags, config.Timing); err != nil {
			return nil, err
		}
	}
	if config.DolphinDOS {
		if _, ok := port.(hal.ParallelPort); ok {
			if b.variants[protocol.KindDolphinDOS], err = protocol.New(protocol.KindDolphinDOS, port, &b.flags, config.Timing); err != nil {
				return nil, err
			}
		} else {
			pkg.LogDebug(pkg.ComponentBus, "no parallel cable, DolphinDOS disabled")
		}
	}

	return b, nil
}

func pack(seq uint32, s State) uint64 {
	return uint64(seq)<<32 | uint64(s)
}

// State returns the current bus state.
func (b *Bus) State() State {
	return State(uint8(b.cycle.Load()))
}

// seq returns the current ATN sequence number.
func (b *Bus) seq() uint32 {
	return uint32(b.cycle.Load() >> 32)
}

// transition moves to s if no ATN edge has happened since cycle seq began.
func (b *Bus) transition(seq uint32, s State) bool {
	for {
		cur := b.cycle.Load()
		if uint32(cur>>32) != seq {
			return false
		}
		if b.cycle.CompareAndSwap(cur, pack(seq, s)) {
			return true
		}
	}
}

// Flags returns the current condition flags.
func (b *Bus) Flags() protocol.Flags {
	return b.flags.Load()
}

// Detected returns the protocol selected for the current data phase.
func (b *Bus) Detected() protocol.Kind {
	return protocol.Kind(b.detected.Load())
}

// Registry returns the device registry.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Protocol returns the variant of the given kind, or nil if disabled.
func (b *Bus) Protocol(kind protocol.Kind) protocol.Protocol {
	if int(kind) >= len(b.variants) {
		return nil
	}
	return b.variants[kind]
}

// Start enables edge delivery and starts the service task.
func (b *Bus) Start(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.running {
		return pkg.ErrAlreadyRunning
	}
	if b.registry.IsShuttingDown() {
		return pkg.ErrShuttingDown
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := b.port.Init(ctx); err != nil {
		cancel()
		return fmt.Errorf("port init: %w", err)
	}

	b.releaseLines()
	initial := StateIdle
	if b.port.IsAsserted(hal.LineATN) && b.port.IsAsserted(hal.LineReset) {
		initial = StateOffline
	}
	b.cycle.Store(pack(b.seq(), initial))

	// Edges queued while stopped belong to no cycle.
	if n := b.queue.Len(); n > 0 {
		for {
			if _, ok := b.queue.TryPop(); !ok {
				break
			}
		}
		pkg.LogDebug(pkg.ComponentBus, "stale events dropped", "count", n)
	}

	if err := b.port.Start(b.handleEdge); err != nil {
		cancel()
		return fmt.Errorf("port start: %w", err)
	}
	b.port.EnableInterrupt(hal.LineClockIn, false)
	b.port.EnableInterrupt(hal.LineReset, true)
	b.port.EnableInterrupt(hal.LineATN, true)

	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	go b.serviceLoop(ctx, b.done)

	if b.config.SRQRate > 0 {
		b.startSRQTimer(b.config.SRQRate)
	}

	pkg.LogInfo(pkg.ComponentBus, "bus started",
		"state", initial,
		"queue", b.queue.Cap())
	return nil
}

// Stop stops the service task and edge delivery.
func (b *Bus) Stop() error {
	b.mutex.Lock()
	if !b.running {
		b.mutex.Unlock()
		return nil
	}
	b.running = false
	b.cancel()
	done := b.done
	b.stopSRQTimer()
	b.mutex.Unlock()

	b.port.EnableInterrupt(hal.LineATN, false)
	b.port.EnableInterrupt(hal.LineReset, false)
	err := b.port.Stop()
	<-done

	b.cycle.Store(pack(b.seq(), StateOffline))
	pkg.LogInfo(pkg.ComponentBus, "bus stopped")
	return err
}

// IsRunning reports whether the service task is running.
func (b *Bus) IsRunning() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.running
}

// Shutdown shuts down every device and stops the bus.
func (b *Bus) Shutdown() error {
	b.registry.Shutdown()
	return b.Stop()
}

// handleEdge runs in interrupt context. It must not block or log.
func (b *Bus) handleEdge(ev hal.Event) {
	switch ev.Line {
	case hal.LineATN:
		if ev.Asserted {
			var seq uint32
			for {
				cur := b.cycle.Load()
				seq = uint32(cur>>32) + 1
				if b.cycle.CompareAndSwap(cur, pack(seq, StateActive)) {
					break
				}
			}
			b.answerATN()
			b.flags.Reset()
			b.flags.Set(protocol.FlagATNAsserted)
			b.detected.Store(uint32(protocol.KindSerial))
			b.queue.Push(event{kind: eventAttention, seq: seq})
			return
		}

		b.flags.Clear(protocol.FlagATNAsserted)
		for {
			cur := b.cycle.Load()
			if State(uint8(cur)) != StateRelease {
				return
			}
			if b.cycle.CompareAndSwap(cur, pack(uint32(cur>>32), StateIdle)) {
				b.releaseLines()
				return
			}
		}

	case hal.LineReset:
		for {
			cur := b.cycle.Load()
			next := State(uint8(cur))
			switch {
			case ev.Asserted && b.port.IsAsserted(hal.LineATN):
				next = StateOffline
			case !ev.Asserted && next == StateOffline:
				next = StateIdle
			}
			if b.cycle.CompareAndSwap(cur, pack(uint32(cur>>32), next)) {
				break
			}
		}
		if ev.Asserted {
			b.queue.Push(event{kind: eventReset, seq: b.seq()})
		}
	}
}

// answerATN holds data and lets go of clock, as every device does while the
// host holds ATN.
func (b *Bus) answerATN() {
	b.port.Release(hal.LineClockOut)
	b.port.Assert(hal.LineDataOut)
}

// releaseLines lets go of clock and data.
func (b *Bus) releaseLines() {
	b.port.Release(hal.LineClockOut)
	b.port.Release(hal.LineDataOut)
}

// releaseFor lets go of the lines on behalf of cycle seq. If a newer ATN
// cycle started meanwhile its answer is restored.
func (b *Bus) releaseFor(seq uint32) {
	b.releaseLines()
	if b.seq() != seq {
		b.answerATN()
	}
}

func (b *Bus) serviceLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		ev, ok := b.queue.Pop(ctx)
		if !ok {
			return
		}

		switch ev.kind {
		case eventReset:
			pkg.LogInfo(pkg.ComponentBus, "bus reset")
			b.registry.Reset()

		case eventAttention:
			if ev.seq != b.seq() {
				// Superseded by a later ATN edge, which is queued too.
				continue
			}
			b.service(ev.seq)
		}
	}
}

// service runs one ATN cycle: the command phase, then the data phase.
func (b *Bus) service(seq uint32) {
	b.cmd.Reset()
	if par, ok := b.port.(hal.ParallelPort); ok {
		par.Strobed()
	}

	if !b.attention(seq) {
		return
	}
	b.dataPhase(seq)
}

// attention receives and decodes command bytes until the host releases ATN
// or the command leaves the Active state. It reports whether the cycle is
// still current.
func (b *Bus) attention(seq uint32) bool {
	for b.State() == StateActive {
		c, err := b.serial.ReceiveCommand()
		if errors.Is(err, pkg.ErrAttention) {
			break
		}
		if err != nil {
			b.fail(seq, "command receive failed", err)
			return false
		}
		if b.seq() != seq {
			return false
		}

		st := b.decode(c)
		pkg.LogDebug(pkg.ComponentBus, "command byte",
			"byte", fmt.Sprintf("%#02x", c),
			"command", b.cmd.String(),
			"state", st)
		if !b.transition(seq, st) {
			return false
		}
	}

	if b.variants[protocol.KindDolphinDOS] != nil {
		if b.port.(hal.ParallelPort).Strobed() {
			b.flags.Set(protocol.FlagDolphinDOS)
		}
	}
	return b.seq() == seq
}

// decode applies one command byte to the command record and returns the
// resulting state.
func (b *Bus) decode(c byte) State {
	cmd := &b.cmd
	st := StateActive

	switch {
	case c == CmdUnlisten:
		cmd.Primary = PrimaryUnlisten
		return StateProcess

	case c == CmdUntalk:
		cmd.Primary = PrimaryUntalk
		cmd.Secondary = SecondaryNone
		return StateRelease

	case c&primaryMask == CmdListen, c&primaryMask == CmdTalk:
		cmd.Primary = Primary(c & primaryMask)
		cmd.Device = c & addressMask
		cmd.Secondary = SecondaryReopen
		cmd.Channel = CommandChannel
		cmd.Action = ""
		cmd.Payload = cmd.Payload[:0]

	default:
		switch Secondary(c & secondaryMask) {
		case SecondaryReopen:
			cmd.Action = "DATA"
		case SecondaryClose:
			cmd.Action = "CLOSE"
		case SecondaryOpen:
			cmd.Action = "OPEN"
		default:
			pkg.LogDebug(pkg.ComponentBus, "command ignored",
				"byte", fmt.Sprintf("%#02x", c),
				"condition", pkg.ConditionOf(pkg.ErrUnknownCommand))
			return StateIdle
		}
		cmd.Secondary = Secondary(c & secondaryMask)
		cmd.Channel = c & channelMask
	}

	addressed := cmd.Primary == PrimaryListen || cmd.Primary == PrimaryTalk
	if !addressed || !b.registry.IsDeviceEnabled(cmd.Device) {
		return StateRelease
	}
	return st
}

// dataPhase runs after the host releases ATN.
func (b *Bus) dataPhase(seq uint32) {
	switch b.State() {
	case StateActive:
		if b.transition(seq, StateProcess) {
			b.process(seq)
		}

	case StateProcess:
		// UNLISTEN: the host may hold ATN past the nominal window.
		if b.serial.WaitForSignals(hal.LineATN, false, hal.LineNone, false, b.config.Timing.ATNRelease) != protocol.WaitOK {
			b.fail(seq, "host did not release ATN", pkg.ErrTimeout)
			return
		}
		b.release(seq)

	case StateRelease, StateIdle:
		if b.cmd.Primary == PrimaryListen || b.cmd.Primary == PrimaryTalk {
			// Not addressed. The frame ack of the last command byte stays
			// until the host starts another byte or releases ATN.
			t := b.config.Timing
			b.serial.WaitForSignals(hal.LineClockIn, false, hal.LineATN, false, t.ATNRelease)
			if b.seq() != seq {
				return
			}
			b.releaseFor(seq)
		}
		b.release(seq)

	case StateError:
		b.releaseFor(seq)
	}
}

// process runs the data phase of a LISTEN or TALK and dispatches the
// command.
func (b *Bus) process(seq uint32) {
	cmd := &b.cmd
	p := b.variants[b.selectProtocol()]

	switch cmd.Primary {
	case PrimaryListen:
		if cmd.Secondary != SecondaryClose {
			data, err := p.ReceiveBytes()
			cmd.Payload = append(cmd.Payload, data...)
			if errors.Is(err, pkg.ErrEmptyStream) && len(cmd.Payload) == 0 {
				pkg.LogDebug(pkg.ComponentBus, "empty payload",
					"command", cmd.String(),
					"condition", pkg.ConditionOf(err))
				b.release(seq)
				return
			}
			if err != nil && !protocol.IsAbort(err) {
				b.fail(seq, "payload receive failed", err)
				return
			}
		}

	case PrimaryTalk:
		if err := b.turnaround(); err != nil {
			b.fail(seq, "turnaround failed", err)
			return
		}

	default:
		b.release(seq)
		return
	}

	if pkg.DebugEnabled(pkg.ComponentBus) {
		pkg.LogDebug(pkg.ComponentBus, "dispatch", "command", cmd.Dump())
	}
	state, err := b.registry.Dispatch(cmd)
	if err != nil {
		pkg.LogWarn(pkg.ComponentBus, "dispatch failed",
			"command", cmd.String(),
			"condition", pkg.ConditionOf(err),
			"error", err)
	} else {
		pkg.LogDebug(pkg.ComponentBus, "dispatched",
			"command", cmd.String(),
			"device", state)
	}

	// The host may have interrupted the device; the edge handler already
	// moved to the next cycle.
	if b.seq() != seq {
		return
	}
	if b.State() != StateProcess {
		return
	}
	if cmd.Primary == PrimaryListen {
		// A listener keeps data held until the host starts the next cycle.
		b.cmd.Reset()
		b.transition(seq, StateIdle)
		return
	}
	b.release(seq)
}

// selectProtocol picks the data phase variant from the flags set during the
// command phase. Only OPEN and REOPEN data phases are accelerated.
func (b *Bus) selectProtocol() protocol.Kind {
	kind := protocol.KindSerial
	if b.cmd.Secondary.IsData() {
		switch {
		case b.variants[protocol.KindJiffyDOS] != nil && b.flags.Has(protocol.FlagJiffyDOS):
			kind = protocol.KindJiffyDOS
		case b.variants[protocol.KindDolphinDOS] != nil && b.flags.Has(protocol.FlagDolphinDOS):
			kind = protocol.KindDolphinDOS
		}
	}
	if protocol.Kind(b.detected.Swap(uint32(kind))) != kind {
		pkg.LogDebug(pkg.ComponentBus, "protocol selected", "protocol", kind)
	}
	return kind
}

// active returns the variant for device I/O.
func (b *Bus) active() protocol.Protocol {
	if p := b.variants[b.detected.Load()]; p != nil {
		return p
	}
	return b.serial
}

// turnaround makes this device the talker. The steps and their order are
// part of the wire contract.
func (b *Bus) turnaround() error {
	t := b.config.Timing

	if b.serial.WaitForSignals(hal.LineATN, false, hal.LineNone, false, t.ATNRelease) != protocol.WaitOK {
		return fmt.Errorf("turnaround: ATN held: %w", pkg.ErrTimeout)
	}
	switch b.serial.WaitForSignals(hal.LineClockIn, false, hal.LineATN, true, t.TurnaroundTimeout) {
	case protocol.WaitExtra:
		return pkg.ErrAttention
	case protocol.WaitTimedOut:
		return fmt.Errorf("turnaround: clock held: %w", pkg.ErrTimeout)
	}

	b.port.Release(hal.LineDataOut)
	b.serial.Delay(t.TurnaroundClock)
	b.port.Assert(hal.LineClockOut)
	b.serial.Delay(t.TurnaroundSettle)
	return nil
}

// release ends the cycle: command cleared, lines released, Idle. While ATN
// is held the lines stay as they are and the edge handler releases them
// when ATN goes away.
func (b *Bus) release(seq uint32) {
	b.cmd.Reset()
	if b.port.IsAsserted(hal.LineATN) {
		if !b.transition(seq, StateRelease) {
			return
		}
		if b.port.IsAsserted(hal.LineATN) {
			return
		}
		// ATN went away before the edge handler could see StateRelease.
	}
	if b.seq() != seq {
		return
	}
	b.releaseFor(seq)
	b.transition(seq, StateIdle)
}

// fail enters the Error state until the next ATN cycle.
func (b *Bus) fail(seq uint32, msg string, err error) {
	cond := pkg.ConditionOf(err)
	log := pkg.LogDebug
	if cond.IsFailure() {
		log = pkg.LogWarn
	}
	log(pkg.ComponentBus, msg,
		"command", b.cmd.String(),
		"condition", cond,
		"error", err)
	b.releaseFor(seq)
	b.transition(seq, StateError)
}

// ReceiveByte receives one data byte from the host.
func (b *Bus) ReceiveByte() (byte, error) {
	return b.active().ReceiveByte()
}

// ReceiveBytes receives data bytes from the host until EOI.
func (b *Bus) ReceiveBytes() ([]byte, error) {
	return b.active().ReceiveBytes()
}

// SendByte sends one data byte to the host.
func (b *Bus) SendByte(c byte, eoi bool) error {
	return b.active().SendByte(c, eoi)
}

// SendBytes sends buf to the host, marking the last byte with EOI if eoi is
// set.
func (b *Bus) SendBytes(buf []byte, eoi bool) (int, error) {
	return b.active().SendBytes(buf, eoi)
}

// SenderTimeout tells the host the device has nothing to send: the bus
// enters Error, and after the empty delay the device holds data.
func (b *Bus) SenderTimeout() {
	seq := b.seq()
	if es, ok := b.active().(protocol.EmptySender); ok {
		if err := es.SendEmpty(); err != nil {
			pkg.LogDebug(pkg.ComponentBus, "empty frame failed", "error", err)
		}
	}

	b.releaseFor(seq)
	b.transition(seq, StateError)
	b.serial.Delay(b.config.Timing.Empty)
	if b.seq() == seq {
		b.port.Assert(hal.LineDataOut)
	}
}

// SetBitTiming retunes one row of the active variant's timing table.
func (b *Bus) SetBitTiming(dir protocol.Direction, p1, p2, p3, p4 time.Duration) {
	b.active().SetBitTiming(dir, p1, p2, p3, p4)
}

// startSRQTimer toggles the service request flag every rate. Caller holds
// the mutex.
func (b *Bus) startSRQTimer(rate time.Duration) {
	if b.srqStop != nil {
		return
	}
	stop := make(chan struct{})
	b.srqStop = stop
	go func() {
		ticker := time.NewTicker(rate)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.srq.Store(!b.srq.Load())
			}
		}
	}()
}

// stopSRQTimer stops the service request timer. Caller holds the mutex.
func (b *Bus) stopSRQTimer() {
	if b.srqStop != nil {
		close(b.srqStop)
		b.srqStop = nil
	}
	b.srq.Store(false)
}

// StartSRQTimer starts toggling the service request flag every rate.
func (b *Bus) StartSRQTimer(rate time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.startSRQTimer(rate)
}

// StopSRQTimer stops the service request timer and clears the flag.
func (b *Bus) StopSRQTimer() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.stopSRQTimer()
}

// AssertInterrupt drives SRQ from the service request flag.
func (b *Bus) AssertInterrupt() {
	if b.srq.Load() {
		b.port.Assert(hal.LineSRQ)
	} else {
		b.port.Release(hal.LineSRQ)
	}
}

var _ IO = (*Bus)(nil)
