package protocol

import (
	"runtime"
	"time"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

// DolphinDOS is the DolphinDOS parallel protocol.
//
// Ready and EOI handshaking follow the serial protocol, but the byte itself
// travels on the parallel cable: the talker writes it and pulses the
// strobe, then asserts clock. The listener reads the cable on the strobe
// and acknowledges by asserting data.
type DolphinDOS struct {
	signals
	par hal.ParallelPort
}

func newDolphinDOS(port hal.Port, par hal.ParallelPort, flags *FlagSet, timing Timing) *DolphinDOS {
	p := &DolphinDOS{par: par}
	p.init(port, flags, timing, serialBitTiming(timing))
	return p
}

// Kind implements Protocol.
func (p *DolphinDOS) Kind() Kind {
	return KindDolphinDOS
}

// strobe polls for a handshake pulse, aborting when ATN is asserted.
func (p *DolphinDOS) strobe(timeout time.Duration) WaitResult {
	deadline := time.Now().Add(timeout)
	for {
		if p.port.IsAsserted(hal.LineATN) {
			return WaitExtra
		}
		if p.par.Strobed() {
			return WaitOK
		}
		if !time.Now().Before(deadline) {
			return WaitTimedOut
		}
		runtime.Gosched()
	}
}

// ReceiveByte implements Protocol.
func (p *DolphinDOS) ReceiveByte() (byte, error) {
	if p.asserted(hal.LineATN) {
		return 0, pkg.ErrAttention
	}
	bits := p.BitTiming()[DirectionReceive]
	eoiWindow, eoiAck, bitTimeout := bits[0], bits[1], bits[2]

	// Talker ready to send.
	if err := p.expect(hal.LineClockIn, false, true, p.timing.ReadyTimeout); err != nil {
		return 0, err
	}
	p.par.Strobed()
	p.port.Release(hal.LineDataOut)

	switch p.strobe(eoiWindow) {
	case WaitExtra:
		return 0, pkg.ErrAttention
	case WaitTimedOut:
		p.flags.Set(FlagEOI)
		p.port.Assert(hal.LineDataOut)
		p.Delay(eoiAck)
		p.port.Release(hal.LineDataOut)

		switch p.strobe(eoiWindow) {
		case WaitExtra:
			return 0, pkg.ErrAttention
		case WaitTimedOut:
			p.flags.Set(FlagEmptyStream)
			return 0, pkg.ErrEmptyStream
		}
	}

	data := p.par.ReadParallel()
	if err := p.expect(hal.LineClockIn, true, true, bitTimeout); err != nil {
		return 0, err
	}

	// Frame handshake.
	p.port.Assert(hal.LineDataOut)
	return data, nil
}

// ReceiveBytes implements Protocol.
func (p *DolphinDOS) ReceiveBytes() ([]byte, error) {
	return receiveAll(p, p.flags)
}

// SendByte implements Protocol.
func (p *DolphinDOS) SendByte(b byte, eoi bool) error {
	if p.asserted(hal.LineATN) {
		return pkg.ErrAttention
	}
	bits := p.BitTiming()[DirectionSend]
	frameAck, between := bits[2], bits[3]
	ready := p.timing.ReadyTimeout

	// Ready to send.
	p.port.Release(hal.LineClockOut)
	if err := p.expect(hal.LineDataIn, false, true, ready); err != nil {
		return err
	}

	if eoi {
		if err := p.expect(hal.LineDataIn, true, true, ready); err != nil {
			return err
		}
		if err := p.expect(hal.LineDataIn, false, true, ready); err != nil {
			return err
		}
	}

	p.par.WriteParallel(b)
	p.par.Strobe()
	p.port.Assert(hal.LineClockOut)

	// Frame handshake.
	if err := p.expect(hal.LineDataIn, true, true, frameAck); err != nil {
		return err
	}
	p.Delay(between)
	return nil
}

// SendBytes implements Protocol.
func (p *DolphinDOS) SendBytes(buf []byte, eoi bool) (int, error) {
	return sendAll(p, buf, eoi)
}

var _ Protocol = (*DolphinDOS)(nil)
