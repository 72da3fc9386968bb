package protocol

import (
	"sync"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/pkg"
)

type frame struct {
	b   byte
	eoi bool
}

// Loopback is an in-memory protocol: bytes sent are queued with their EOI
// marker and received back in order. It drives no lines.
type Loopback struct {
	signals
	mutex  sync.Mutex
	frames []frame
}

func newLoopback(port hal.Port, flags *FlagSet, timing Timing) *Loopback {
	p := &Loopback{}
	p.init(port, flags, timing, serialBitTiming(timing))
	return p
}

// Kind implements Protocol.
func (p *Loopback) Kind() Kind {
	return KindLoopback
}

// ReceiveByte implements Protocol.
func (p *Loopback) ReceiveByte() (byte, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.frames) == 0 {
		p.flags.Set(FlagEmptyStream)
		return 0, pkg.ErrEmptyStream
	}
	f := p.frames[0]
	p.frames = p.frames[1:]
	if f.eoi {
		p.flags.Set(FlagEOI)
	}
	return f.b, nil
}

// ReceiveBytes implements Protocol.
func (p *Loopback) ReceiveBytes() ([]byte, error) {
	return receiveAll(p, p.flags)
}

// SendByte implements Protocol.
func (p *Loopback) SendByte(b byte, eoi bool) error {
	p.mutex.Lock()
	p.frames = append(p.frames, frame{b: b, eoi: eoi})
	p.mutex.Unlock()
	return nil
}

// SendBytes implements Protocol.
func (p *Loopback) SendBytes(buf []byte, eoi bool) (int, error) {
	return sendAll(p, buf, eoi)
}

// Len returns the number of queued bytes.
func (p *Loopback) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.frames)
}

var _ Protocol = (*Loopback)(nil)
