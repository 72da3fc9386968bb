package protocol

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/device/hal/wire"
	"github.com/ardnew/softiec/pkg"
)

// mockPort implements hal.Port with lines that only change when told to.
type mockPort struct {
	lines [hal.NumLines]atomic.Bool
}

func (m *mockPort) Init(ctx context.Context) error { return nil }
func (m *mockPort) Start(h hal.Handler) error      { return nil }
func (m *mockPort) Stop() error                    { return nil }
func (m *mockPort) Assert(line hal.Line)           { m.lines[line].Store(true) }
func (m *mockPort) Release(line hal.Line)          { m.lines[line].Store(false) }
func (m *mockPort) IsAsserted(line hal.Line) bool  { return m.lines[line].Load() }
func (m *mockPort) EnableInterrupt(hal.Line, bool) {}

func TestFlags_String(t *testing.T) {
	tests := []struct {
		flags Flags
		want  string
	}{
		{0, "none"},
		{FlagATNAsserted, "ATN"},
		{FlagEOI | FlagError, "ERROR|EOI"},
		{FlagJiffyDOS | FlagDolphinDOS, "JIFFYDOS|DOLPHINDOS"},
		{1 << 20, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.flags.String(); got != tt.want {
				t.Errorf("Flags.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFlagSet(t *testing.T) {
	var s FlagSet
	s.Set(FlagEOI | FlagError)
	if !s.Has(FlagEOI) || !s.Has(FlagEOI|FlagError) {
		t.Errorf("Has() after Set = false, flags %v", s.Load())
	}
	if s.Has(FlagEOI | FlagJiffyDOS) {
		t.Error("Has() should require every flag")
	}

	s.Clear(FlagError)
	if s.Load() != FlagEOI {
		t.Errorf("Load() after Clear = %v, want EOI", s.Load())
	}

	s.Reset()
	if s.Load() != 0 {
		t.Errorf("Load() after Reset = %v, want none", s.Load())
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSerial, "serial"},
		{KindJiffyDOS, "jiffydos"},
		{KindDolphinDOS, "dolphindos"},
		{KindLoopback, "loopback"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	bus := wire.New()
	plain := bus.Endpoint("plain")
	par := bus.ParallelEndpoint("par")
	flags := &FlagSet{}
	timing := DefaultTiming()

	tests := []struct {
		name    string
		kind    Kind
		port    hal.Port
		flags   *FlagSet
		wantErr error
	}{
		{"serial", KindSerial, plain, flags, nil},
		{"jiffydos", KindJiffyDOS, plain, flags, nil},
		{"dolphindos", KindDolphinDOS, par, flags, nil},
		{"dolphindos without cable", KindDolphinDOS, plain, flags, pkg.ErrNotSupported},
		{"loopback without port", KindLoopback, nil, flags, nil},
		{"serial without port", KindSerial, nil, flags, pkg.ErrInvalidParameter},
		{"nil flags", KindSerial, plain, nil, pkg.ErrInvalidParameter},
		{"unknown kind", Kind(99), plain, flags, pkg.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.kind, tt.port, tt.flags, timing)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if p.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", p.Kind(), tt.kind)
			}
		})
	}
}

func TestLoopbackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"single", []byte{0x42}},
		{"text", []byte("HELLO")},
		{"binary", []byte{0x00, 0xFF, 0x0D, 0x80, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := &FlagSet{}
			p, _ := New(KindLoopback, nil, flags, DefaultTiming())

			n, err := p.SendBytes(tt.data, true)
			if err != nil || n != len(tt.data) {
				t.Fatalf("SendBytes() = %d, %v", n, err)
			}

			got, err := p.ReceiveBytes()
			if err != nil {
				t.Fatalf("ReceiveBytes() error = %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("ReceiveBytes() = %x, want %x", got, tt.data)
			}
			if !flags.Has(FlagEOI) {
				t.Error("EOI not observed")
			}
		})
	}
}

func TestLoopbackEOIOnFinalByte(t *testing.T) {
	flags := &FlagSet{}
	p, _ := New(KindLoopback, nil, flags, DefaultTiming())
	data := []byte("ABCD")
	p.SendBytes(data, true)

	for i := range data {
		b, err := p.ReceiveByte()
		if err != nil {
			t.Fatalf("ReceiveByte() error = %v", err)
		}
		if b != data[i] {
			t.Errorf("byte %d = %#02x, want %#02x", i, b, data[i])
		}
		last := i == len(data)-1
		if flags.Has(FlagEOI) != last {
			t.Errorf("byte %d: EOI = %v, want %v", i, flags.Has(FlagEOI), last)
		}
	}
}

func TestLoopbackEmpty(t *testing.T) {
	flags := &FlagSet{}
	p, _ := New(KindLoopback, nil, flags, DefaultTiming())

	if _, err := p.ReceiveByte(); !errors.Is(err, pkg.ErrEmptyStream) {
		t.Errorf("ReceiveByte() error = %v, want %v", err, pkg.ErrEmptyStream)
	}
	if !flags.Has(FlagEmptyStream) {
		t.Error("FlagEmptyStream not set")
	}

	p.SendBytes([]byte{1, 2}, false)
	got, err := p.ReceiveBytes()
	if !errors.Is(err, pkg.ErrEmptyStream) {
		t.Errorf("ReceiveBytes() error = %v, want %v", err, pkg.ErrEmptyStream)
	}
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("ReceiveBytes() = %x, want 0102", got)
	}
}

func TestWaitForSignals_TimedOut(t *testing.T) {
	flags := &FlagSet{}
	p, _ := New(KindSerial, &mockPort{}, flags, DefaultTiming())

	const timeout = 20 * time.Millisecond
	start := time.Now()
	r := p.WaitForSignals(hal.LineClockIn, true, hal.LineNone, false, timeout)
	elapsed := time.Since(start)

	if r != WaitTimedOut {
		t.Errorf("WaitForSignals() = %v, want %v", r, WaitTimedOut)
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("returned after %v, far past the %v timeout", elapsed, timeout)
	}
	if !flags.Has(FlagError) {
		t.Error("timeout should set FlagError")
	}
}

func TestWaitForSignals(t *testing.T) {
	port := &mockPort{}
	flags := &FlagSet{}
	p, _ := New(KindSerial, port, flags, DefaultTiming())

	port.Assert(hal.LineClockIn)
	if r := p.WaitForSignals(hal.LineClockIn, true, hal.LineNone, false, time.Millisecond); r != WaitOK {
		t.Errorf("WaitForSignals() = %v, want ok", r)
	}

	port.Assert(hal.LineATN)
	if r := p.WaitForSignals(hal.LineClockIn, true, hal.LineATN, true, time.Millisecond); r != WaitExtra {
		t.Errorf("WaitForSignals() = %v, want extra", r)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		port.Release(hal.LineClockIn)
	}()
	if r := p.WaitForSignals(hal.LineClockIn, false, hal.LineNone, false, time.Second); r != WaitOK {
		t.Errorf("WaitForSignals() = %v, want ok", r)
	}
	if flags.Has(FlagError) {
		t.Error("successful waits should not set FlagError")
	}
}

func TestSetBitTiming(t *testing.T) {
	p, _ := New(KindJiffyDOS, &mockPort{}, &FlagSet{}, DefaultTiming())
	before := p.BitTiming()

	p.SetBitTiming(DirectionSend, 0, 30*time.Microsecond, 0, 60*time.Microsecond)
	got := p.BitTiming()

	if got[DirectionSend][0] != before[DirectionSend][0] || got[DirectionSend][2] != before[DirectionSend][2] {
		t.Error("zero points should keep their value")
	}
	if got[DirectionSend][1] != 30*time.Microsecond || got[DirectionSend][3] != 60*time.Microsecond {
		t.Errorf("send row = %v", got[DirectionSend])
	}
	if got[DirectionReceive] != before[DirectionReceive] {
		t.Error("receive row should be unchanged")
	}

	p.SetBitTiming(Direction(7), 1, 1, 1, 1)
	if p.BitTiming() != got {
		t.Error("invalid direction should be ignored")
	}
}

func TestTiming_Scale(t *testing.T) {
	base := DefaultTiming()
	scaled := base.Scale(10)

	if scaled.EOIWindow != 10*base.EOIWindow {
		t.Errorf("EOIWindow = %v, want %v", scaled.EOIWindow, 10*base.EOIWindow)
	}
	if scaled.JiffyDOS[DirectionReceive][3] != 10*base.JiffyDOS[DirectionReceive][3] {
		t.Error("JiffyDOS table not scaled")
	}
	if base.EOIWindow != DefaultTiming().EOIWindow {
		t.Error("Scale should not modify the receiver")
	}
}
