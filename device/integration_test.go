package device

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/device/hal/wire"
	"github.com/ardnew/softiec/device/protocol"
	"github.com/ardnew/softiec/host"
	"github.com/ardnew/softiec/pkg"
)

// rig is a bus with one recording device and a host controller on a
// simulated cable.
type rig struct {
	cable *wire.Bus
	bus   *Bus
	dev   *recordingDevice
	host  *host.Controller
}

type rigOptions struct {
	id         uint8
	parallel   bool
	jiffyDev   bool
	jiffyHost  bool
	dolphinDev bool
	dolphin    bool
}

func newRig(t *testing.T, o rigOptions) *rig {
	t.Helper()
	timing := protocol.SimulationTiming()
	cable := wire.New()

	var hostPort, devPort hal.Port
	if o.parallel {
		hostPort = cable.ParallelEndpoint("c64")
		devPort = cable.ParallelEndpoint("drive")
	} else {
		hostPort = cable.Endpoint("c64")
		devPort = cable.Endpoint("drive")
	}

	r := NewRegistry()
	dev := newRecordingDevice("drive")
	if err := r.AddDevice(dev, o.id); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.Timing = timing
	cfg.JiffyDOS = o.jiffyDev
	cfg.DolphinDOS = o.dolphinDev
	bus, err := NewBus(devPort, r, cfg)
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	dev.io = bus

	c, err := host.New(hostPort,
		host.WithTiming(timing),
		host.WithJiffyDOS(o.jiffyHost),
		host.WithDolphinDOS(o.dolphin))
	if err != nil {
		t.Fatalf("host.New() error = %v", err)
	}

	ctx := context.Background()
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Attach(ctx); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	t.Cleanup(func() {
		c.Detach()
		bus.Stop()
	})

	return &rig{cable: cable, bus: bus, dev: dev, host: c}
}

// waitState polls until the bus reaches want.
func (r *rig) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.bus.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want %v", r.bus.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIntegration_ListenOpen(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})

	if err := r.host.Listen(8, int(host.SecondaryOpen|1)); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if _, err := r.host.Send([]byte("FILE"), true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := r.host.Unlisten(); err != nil {
		t.Fatalf("Unlisten() error = %v", err)
	}
	r.waitState(t, StateIdle)

	calls := r.dev.Calls()
	if len(calls) != 1 || calls[0] != "open" {
		t.Fatalf("calls = %v, want [open]", calls)
	}
	cmd, _ := r.dev.LastCommand()
	if cmd.Primary != PrimaryListen || cmd.Device != 8 || cmd.Secondary != SecondaryOpen || cmd.Channel != 1 {
		t.Errorf("command = %v", cmd.String())
	}
	if !bytes.Equal(cmd.Payload, []byte("FILE")) {
		t.Errorf("payload = %q, want FILE", cmd.Payload)
	}
	if r.bus.Detected() != protocol.KindSerial {
		t.Errorf("Detected() = %v, want serial", r.bus.Detected())
	}
	if state, _ := r.bus.Registry().DeviceState(8); state != DeviceActive {
		t.Errorf("DeviceState(8) = %v, want Active", state)
	}
}

func TestIntegration_OpenWithoutName(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})

	if err := r.host.Open(8, 2, ""); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	r.waitState(t, StateIdle)

	cmd, ok := r.dev.LastCommand()
	if !ok || cmd.Secondary != SecondaryOpen || cmd.Channel != 2 || len(cmd.Payload) != 0 {
		t.Errorf("command = %v, %v", cmd.String(), ok)
	}
}

func TestIntegration_Close(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})

	if err := r.host.Close(8, 3); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	r.waitState(t, StateIdle)

	if calls := r.dev.Calls(); len(calls) != 1 || calls[0] != "close" {
		t.Errorf("calls = %v, want [close]", calls)
	}
}

func TestIntegration_NotAddressed(t *testing.T) {
	r := newRig(t, rigOptions{id: 9})

	err := r.host.Talk(8, host.NoSecondary)
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("Talk(8) error = %v, want %v", err, pkg.ErrTimeout)
	}
	r.waitState(t, StateIdle)

	if calls := r.dev.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
	if r.cable.Level(wire.SignalClock) || r.cable.Level(wire.SignalData) {
		t.Error("lines should be released")
	}
}

func TestIntegration_NoDevice(t *testing.T) {
	cable := wire.New()
	c, err := host.New(cable.Endpoint("c64"), host.WithTiming(protocol.SimulationTiming()))
	if err != nil {
		t.Fatalf("host.New() error = %v", err)
	}
	if err := c.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer c.Detach()

	if err := c.Listen(8, host.NoSecondary); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Listen() error = %v, want %v", err, pkg.ErrNoDevice)
	}
	if cable.Level(wire.SignalATN) {
		t.Error("ATN should be released")
	}
}

func TestIntegration_TalkRead(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})
	r.dev.talk = []byte("DATA")

	if err := r.host.Talk(8, int(host.SecondaryData)); err != nil {
		t.Fatalf("Talk() error = %v", err)
	}
	data, err := r.host.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if err := r.host.Untalk(); err != nil {
		t.Fatalf("Untalk() error = %v", err)
	}

	if string(data) != "DATA" {
		t.Errorf("Receive() = %q, want DATA", data)
	}
	if calls := r.dev.Calls(); len(calls) != 1 || calls[0] != "read" {
		t.Errorf("calls = %v, want [read]", calls)
	}
	r.waitState(t, StateIdle)
}

func TestIntegration_TalkEmpty(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})

	if err := r.host.Talk(8, int(host.SecondaryData)); err != nil {
		t.Fatalf("Talk() error = %v", err)
	}
	_, err := r.host.Receive()
	if !errors.Is(err, pkg.ErrEmptyStream) {
		t.Errorf("Receive() error = %v, want %v", err, pkg.ErrEmptyStream)
	}
	if err := r.host.Untalk(); err != nil {
		t.Fatalf("Untalk() error = %v", err)
	}
	r.waitState(t, StateIdle)
}

func TestIntegration_JiffyDOS(t *testing.T) {
	r := newRig(t, rigOptions{id: 8, jiffyDev: true, jiffyHost: true})
	r.dev.talk = []byte{0x00, 0xA5, 0xFF}

	if err := r.host.Listen(8, int(host.SecondaryData|2)); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if got := r.host.Protocol(); got != protocol.KindJiffyDOS {
		t.Errorf("host Protocol() = %v, want JiffyDOS", got)
	}
	if _, err := r.host.Send([]byte{0x12, 0x34, 0x80}, true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := r.host.Unlisten(); err != nil {
		t.Fatalf("Unlisten() error = %v", err)
	}

	cmd, _ := r.dev.LastCommand()
	if !bytes.Equal(cmd.Payload, []byte{0x12, 0x34, 0x80}) {
		t.Errorf("payload = % x", cmd.Payload)
	}

	if err := r.host.Talk(8, int(host.SecondaryData|2)); err != nil {
		t.Fatalf("Talk() error = %v", err)
	}
	data, err := r.host.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !bytes.Equal(data, r.dev.talk) {
		t.Errorf("Receive() = % x, want % x", data, r.dev.talk)
	}
	if r.bus.Detected() != protocol.KindJiffyDOS {
		t.Errorf("Detected() = %v, want JiffyDOS", r.bus.Detected())
	}
	if err := r.host.Untalk(); err != nil {
		t.Fatalf("Untalk() error = %v", err)
	}
}

func TestIntegration_JiffyDOSEmpty(t *testing.T) {
	r := newRig(t, rigOptions{id: 8, jiffyDev: true, jiffyHost: true})

	if err := r.host.Talk(8, int(host.SecondaryData)); err != nil {
		t.Fatalf("Talk() error = %v", err)
	}
	if _, err := r.host.Receive(); !errors.Is(err, pkg.ErrEmptyStream) {
		t.Errorf("Receive() error = %v, want %v", err, pkg.ErrEmptyStream)
	}
	if err := r.host.Untalk(); err != nil {
		t.Fatalf("Untalk() error = %v", err)
	}
}

func TestIntegration_JiffyDOSNotOnDevice(t *testing.T) {
	r := newRig(t, rigOptions{id: 8, jiffyHost: true})

	if err := r.host.Listen(8, int(host.SecondaryData)); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if got := r.host.Protocol(); got != protocol.KindSerial {
		t.Errorf("host Protocol() = %v, want serial", got)
	}
	if _, err := r.host.Send([]byte("X"), true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := r.host.Unlisten(); err != nil {
		t.Fatalf("Unlisten() error = %v", err)
	}
	if cmd, _ := r.dev.LastCommand(); string(cmd.Payload) != "X" {
		t.Errorf("payload = %q, want X", cmd.Payload)
	}
}

func TestIntegration_JiffyDOSNotOnClose(t *testing.T) {
	r := newRig(t, rigOptions{id: 8, jiffyDev: true, jiffyHost: true})

	if err := r.host.Listen(8, int(host.SecondaryClose|2)); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if got := r.host.Protocol(); got != protocol.KindSerial {
		t.Errorf("host Protocol() = %v, want serial on CLOSE", got)
	}
	if err := r.host.Unlisten(); err != nil {
		t.Fatalf("Unlisten() error = %v", err)
	}
	if calls := r.dev.Calls(); len(calls) != 1 || calls[0] != "close" {
		t.Errorf("calls = %v, want [close]", calls)
	}
}

func TestIntegration_DolphinDOS(t *testing.T) {
	r := newRig(t, rigOptions{id: 8, parallel: true, dolphinDev: true, dolphin: true})
	r.dev.talk = []byte("PAR")

	if err := r.host.Listen(8, int(host.SecondaryData|3)); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if _, err := r.host.Send([]byte("ALLEL"), true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := r.host.Unlisten(); err != nil {
		t.Fatalf("Unlisten() error = %v", err)
	}
	if cmd, _ := r.dev.LastCommand(); string(cmd.Payload) != "ALLEL" {
		t.Errorf("payload = %q, want ALLEL", cmd.Payload)
	}

	if err := r.host.Talk(8, int(host.SecondaryData|3)); err != nil {
		t.Fatalf("Talk() error = %v", err)
	}
	data, err := r.host.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(data) != "PAR" {
		t.Errorf("Receive() = %q, want PAR", data)
	}
	if r.bus.Detected() != protocol.KindDolphinDOS {
		t.Errorf("Detected() = %v, want DolphinDOS", r.bus.Detected())
	}
	if err := r.host.Untalk(); err != nil {
		t.Fatalf("Untalk() error = %v", err)
	}
}

func TestIntegration_Reset(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})

	if err := r.host.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.dev.mutex.Lock()
		n := r.dev.resets
		r.dev.mutex.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("device was not reset")
		}
		time.Sleep(time.Millisecond)
	}
	r.waitState(t, StateIdle)
}

// transitionLog records cable transitions.
type transitionLog struct {
	mutex sync.Mutex
	trs   []wire.Transition
}

func (l *transitionLog) add(tr wire.Transition) {
	l.mutex.Lock()
	l.trs = append(l.trs, tr)
	l.mutex.Unlock()
}

func (l *transitionLog) since(n int) []wire.Transition {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]wire.Transition(nil), l.trs[n:]...)
}

func (l *transitionLog) len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.trs)
}

// dataAtATNRelease replays trs and reports the data level when ATN was
// first released, and whether ATN was released at all.
func dataAtATNRelease(trs []wire.Transition, data bool) (bool, bool) {
	for _, tr := range trs {
		switch tr.Signal {
		case wire.SignalData:
			data = tr.Asserted
		case wire.SignalATN:
			if !tr.Asserted {
				return data, true
			}
		}
	}
	return data, false
}

func TestIntegration_ListenerHoldsData(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})
	var log transitionLog
	r.cable.Watch(log.add)

	if err := r.host.Listen(8, int(host.SecondaryData|2)); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if _, err := r.host.Send([]byte("AB"), true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(r.dev.Calls()) == 0 || r.bus.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %v, state = %v", r.dev.Calls(), r.bus.State())
		}
		time.Sleep(time.Millisecond)
	}
	if !r.cable.Level(wire.SignalData) {
		t.Fatal("data released after the last byte")
	}

	start := log.len()
	if err := r.host.Unlisten(); err != nil {
		t.Fatalf("Unlisten() error = %v", err)
	}
	r.waitState(t, StateIdle)

	held, released := dataAtATNRelease(log.since(start), true)
	if !released || !held {
		t.Errorf("data at ATN release = %v (released %v), want held", held, released)
	}
	if r.cable.Level(wire.SignalData) || r.cable.Level(wire.SignalClock) {
		t.Error("lines should be released after UNLISTEN")
	}
}

func TestIntegration_UntalkHoldsData(t *testing.T) {
	r := newRig(t, rigOptions{id: 8})
	r.dev.talk = []byte("X")
	var log transitionLog
	r.cable.Watch(log.add)

	if err := r.host.Talk(8, int(host.SecondaryData|2)); err != nil {
		t.Fatalf("Talk() error = %v", err)
	}
	if _, err := r.host.Receive(); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}

	start := log.len()
	level := r.cable.Level(wire.SignalData)
	if err := r.host.Untalk(); err != nil {
		t.Fatalf("Untalk() error = %v", err)
	}
	r.waitState(t, StateIdle)

	held, released := dataAtATNRelease(log.since(start), level)
	if !released || !held {
		t.Errorf("data at ATN release = %v (released %v), want held", held, released)
	}
	if r.cable.Level(wire.SignalData) || r.cable.Level(wire.SignalClock) {
		t.Error("lines should be released after UNTALK")
	}
}
