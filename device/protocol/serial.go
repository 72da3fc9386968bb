package protocol

import (
	"sync/atomic"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

// Serial is the standard CBM serial protocol.
//
// Each byte starts with the talker releasing clock and every listener
// releasing data. A talker that holds clock past the EOI window marks the
// byte as the last; the listener answers with a short data pulse. Eight
// bits follow LSB first, each valid while clock is released, with a
// released data line meaning 1. The listener acknowledges the frame by
// asserting data.
//
// Serial also carries every byte sent under ATN. With detection enabled a
// listener treats a clock hold before bit 7 of a command byte as a JiffyDOS
// probe and answers it.
type Serial struct {
	signals
	detect atomic.Bool
}

func newSerial(port hal.Port, flags *FlagSet, timing Timing) *Serial {
	p := &Serial{}
	p.init(port, flags, timing, serialBitTiming(timing))
	return p
}

// Kind implements Protocol.
func (p *Serial) Kind() Kind {
	return KindSerial
}

// SetDetection enables answering JiffyDOS probes in ReceiveCommand.
func (p *Serial) SetDetection(enable bool) {
	p.detect.Store(enable)
}

// ReceiveByte implements Protocol.
func (p *Serial) ReceiveByte() (byte, error) {
	if p.asserted(hal.LineATN) {
		return 0, pkg.ErrAttention
	}
	return p.receive(false)
}

// ReceiveBytes implements Protocol.
func (p *Serial) ReceiveBytes() ([]byte, error) {
	return receiveAll(p, p.flags)
}

// ReceiveCommand receives one byte while the host holds ATN. It returns
// pkg.ErrAttention once the host releases ATN.
func (p *Serial) ReceiveCommand() (byte, error) {
	return p.receive(true)
}

func (p *Serial) receive(underATN bool) (byte, error) {
	bits := p.BitTiming()[DirectionReceive]
	eoiWindow, eoiAck, bitTimeout, detectWindow := bits[0], bits[1], bits[2], bits[3]
	abort := !underATN

	// Talker ready to send.
	if err := p.expect(hal.LineClockIn, false, abort, p.timing.ReadyTimeout); err != nil {
		return 0, err
	}

	// Ready for data.
	p.port.Release(hal.LineDataOut)

	switch p.wait(hal.LineClockIn, true, hal.LineATN, abort, eoiWindow) {
	case WaitExtra:
		return 0, pkg.ErrAttention
	case WaitTimedOut:
		p.flags.Set(FlagEOI)
		p.port.Assert(hal.LineDataOut)
		p.Delay(eoiAck)
		p.port.Release(hal.LineDataOut)

		switch p.wait(hal.LineClockIn, true, hal.LineATN, abort, eoiWindow) {
		case WaitExtra:
			return 0, pkg.ErrAttention
		case WaitTimedOut:
			p.flags.Set(FlagEmptyStream)
			return 0, pkg.ErrEmptyStream
		}
	}

	var data byte
	for n := 0; n < 8; n++ {
		if n == 7 && underATN && p.detect.Load() {
			if p.wait(hal.LineClockIn, false, hal.LineATN, abort, detectWindow) == WaitTimedOut {
				p.port.Assert(hal.LineDataOut)
				p.Delay(p.timing.DetectAck)
				p.port.Release(hal.LineDataOut)
				p.flags.Set(FlagJiffyDOS)
			}
		}

		if err := p.expect(hal.LineClockIn, false, abort, bitTimeout); err != nil {
			return 0, err
		}
		data >>= 1
		if !p.port.IsAsserted(hal.LineDataIn) {
			data |= 0x80
		}
		if err := p.expect(hal.LineClockIn, true, abort, bitTimeout); err != nil {
			return 0, err
		}
	}

	// Frame handshake.
	p.port.Assert(hal.LineDataOut)
	return data, nil
}

// SendByte implements Protocol.
func (p *Serial) SendByte(b byte, eoi bool) error {
	if p.asserted(hal.LineATN) {
		return pkg.ErrAttention
	}
	_, err := p.send(b, eoi, true, false)
	return err
}

// SendBytes implements Protocol.
func (p *Serial) SendBytes(buf []byte, eoi bool) (int, error) {
	return sendAll(p, buf, eoi)
}

// SendCommand sends one byte while this end holds ATN. With probe set the
// clock is held before bit 7 for longer than the detection window, and the
// result reports whether a listener answered the JiffyDOS probe.
func (p *Serial) SendCommand(b byte, probe bool) (bool, error) {
	return p.send(b, false, false, probe)
}

func (p *Serial) send(b byte, eoi bool, abort bool, probe bool) (bool, error) {
	bits := p.BitTiming()[DirectionSend]
	setup, valid, frameAck, between := bits[0], bits[1], bits[2], bits[3]
	ready := p.timing.ReadyTimeout

	// Ready to send.
	p.port.Release(hal.LineClockOut)

	// Wait for every listener.
	if err := p.expect(hal.LineDataIn, false, abort, ready); err != nil {
		return false, err
	}

	if eoi {
		// Hold clock until the listener acknowledges the EOI timeout.
		if err := p.expect(hal.LineDataIn, true, abort, ready); err != nil {
			return false, err
		}
		if err := p.expect(hal.LineDataIn, false, abort, ready); err != nil {
			return false, err
		}
	}

	p.port.Assert(hal.LineClockOut)

	answered := false
	for n := 0; n < 8; n++ {
		if n == 7 && probe {
			if p.wait(hal.LineDataIn, true, hal.LineNone, false, 2*p.timing.DetectWindow) == WaitOK {
				answered = true
				if err := p.expect(hal.LineDataIn, false, abort, ready); err != nil {
					return answered, err
				}
			}
		}

		p.put(hal.LineDataOut, b)
		b >>= 1
		p.Delay(setup)
		p.port.Release(hal.LineClockOut)
		p.Delay(valid)
		p.port.Assert(hal.LineClockOut)
		p.port.Release(hal.LineDataOut)
	}

	// Frame handshake.
	if err := p.expect(hal.LineDataIn, true, abort, frameAck); err != nil {
		return answered, err
	}
	p.Delay(between)
	return answered, nil
}

// Timing returns the windows the variant was created with.
func (p *Serial) Timing() Timing {
	return p.timing
}

var _ Protocol = (*Serial)(nil)
