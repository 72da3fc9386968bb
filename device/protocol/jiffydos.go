package protocol

import (
	"time"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

// jiffyPairs lists the (clock, data) bit numbers carried by each slot.
var jiffyPairs = [4][2]uint{{4, 5}, {6, 7}, {3, 1}, {2, 0}}

// JiffyDOS is the JiffyDOS fast serial protocol.
//
// The talker releases clock when ready and the listener releases data; that
// release is the time origin of the byte. The talker then places two bits
// on clock and data at each offset of its send row, asserted meaning 0, and
// the listener samples them at the offsets of its receive row. One more
// slot, as far past the last as the last is past the third, carries the
// status: clock asserted for more data, clock released for EOI, and data
// asserted when the talker has nothing to send. The listener acknowledges
// the byte by asserting data.
type JiffyDOS struct {
	signals
}

func newJiffyDOS(port hal.Port, flags *FlagSet, timing Timing) *JiffyDOS {
	p := &JiffyDOS{}
	p.init(port, flags, timing, timing.JiffyDOS)
	return p
}

// Kind implements Protocol.
func (p *JiffyDOS) Kind() Kind {
	return KindJiffyDOS
}

// statusSlot returns the offset of the status slot for a row.
func statusSlot(row [4]time.Duration) time.Duration {
	return row[3] + (row[3] - row[2])
}

// ReceiveByte implements Protocol.
func (p *JiffyDOS) ReceiveByte() (byte, error) {
	if p.asserted(hal.LineATN) {
		return 0, pkg.ErrAttention
	}
	row := p.BitTiming()[DirectionReceive]

	// Talker ready to send.
	if err := p.expect(hal.LineClockIn, false, true, p.timing.ReadyTimeout); err != nil {
		return 0, err
	}
	p.port.Release(hal.LineDataOut)
	t0 := time.Now()

	var data byte
	for i, pair := range jiffyPairs {
		p.until(t0.Add(row[i]))
		if !p.port.IsAsserted(hal.LineClockIn) {
			data |= 1 << pair[0]
		}
		if !p.port.IsAsserted(hal.LineDataIn) {
			data |= 1 << pair[1]
		}
	}

	p.until(t0.Add(statusSlot(row)))
	more := p.port.IsAsserted(hal.LineClockIn)
	empty := p.port.IsAsserted(hal.LineDataIn)
	if p.port.IsAsserted(hal.LineATN) {
		return 0, pkg.ErrAttention
	}

	// Acknowledge.
	p.port.Assert(hal.LineDataOut)

	switch {
	case empty && !more:
		p.flags.Set(FlagEOI | FlagEmptyStream)
		return 0, pkg.ErrEmptyStream
	case !more:
		p.flags.Set(FlagEOI)
	}
	return data, nil
}

// ReceiveBytes implements Protocol.
func (p *JiffyDOS) ReceiveBytes() ([]byte, error) {
	return receiveAll(p, p.flags)
}

// SendByte implements Protocol.
func (p *JiffyDOS) SendByte(b byte, eoi bool) error {
	if p.asserted(hal.LineATN) {
		return pkg.ErrAttention
	}
	return p.send(b, eoi, false)
}

// SendBytes implements Protocol.
func (p *JiffyDOS) SendBytes(buf []byte, eoi bool) (int, error) {
	return sendAll(p, buf, eoi)
}

// SendEmpty sends a frame whose status reports that the talker has no data.
func (p *JiffyDOS) SendEmpty() error {
	return p.send(0xFF, true, true)
}

func (p *JiffyDOS) send(b byte, eoi, empty bool) error {
	row := p.BitTiming()[DirectionSend]

	// Ready to send.
	p.port.Release(hal.LineClockOut)
	if err := p.expect(hal.LineDataIn, false, true, p.timing.ReadyTimeout); err != nil {
		return err
	}
	t0 := time.Now()

	for i, pair := range jiffyPairs {
		p.until(t0.Add(row[i]))
		p.put(hal.LineClockOut, b>>pair[0])
		p.put(hal.LineDataOut, b>>pair[1])
	}

	p.until(t0.Add(statusSlot(row)))
	if eoi {
		p.port.Release(hal.LineClockOut)
	} else {
		p.port.Assert(hal.LineClockOut)
	}

	if empty {
		// Hold data through the listener's status sample.
		p.port.Assert(hal.LineDataOut)
		p.until(t0.Add(statusSlot(row) + row[3] - row[2]))
		p.port.Release(hal.LineDataOut)
	} else {
		p.port.Release(hal.LineDataOut)
	}

	// Frame handshake.
	if err := p.expect(hal.LineDataIn, true, true, p.timing.FrameAck); err != nil {
		return err
	}
	p.Delay(p.timing.BetweenBytes)
	return nil
}

var _ Protocol = (*JiffyDOS)(nil)
