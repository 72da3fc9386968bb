package host

import (
	"errors"
	"fmt"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/device/protocol"
	"github.com/ardnew/softiec/pkg"
)

// NoSecondary omits the secondary address from Listen and Talk.
const NoSecondary = -1

// attention asserts ATN, waits for a device to answer and sends the command
// bytes. The first byte carries the JiffyDOS probe when enabled. It reports
// whether a device answered the probe.
func (c *Controller) attention(cmds ...byte) (bool, error) {
	c.flags.Reset()
	c.data = c.serial

	c.port.Assert(hal.LineATN)
	c.port.Assert(hal.LineClockOut)
	c.port.Release(hal.LineDataOut)

	if c.serial.WaitForSignals(hal.LineDataIn, true, hal.LineNone, false, c.timing.ATNResponse) != protocol.WaitOK {
		c.releaseAll()
		return false, pkg.ErrNoDevice
	}

	answered := false
	for i, b := range cmds {
		probe := i == 0 && c.jiffy != nil
		ok, err := c.serial.SendCommand(b, probe)
		if err != nil {
			c.releaseAll()
			return false, fmt.Errorf("command %#02x: %w", b, err)
		}
		answered = answered || ok
	}

	if c.dolph != nil {
		c.par.Strobe()
	}
	return answered, nil
}

// address runs the command phase of a LISTEN or TALK and selects the data
// phase variant. Only OPEN and data secondaries are accelerated.
func (c *Controller) address(primary byte, dev uint8, secondary int) error {
	if err := c.checkDevice(dev); err != nil {
		return err
	}

	cmds := []byte{primary | dev}
	if secondary >= 0 {
		cmds = append(cmds, byte(secondary))
	}
	answered, err := c.attention(cmds...)
	if err != nil {
		return fmt.Errorf("device %d: %w", dev, err)
	}

	fast := secondary < 0 || byte(secondary)&0xF0 == SecondaryData || byte(secondary)&0xF0 == SecondaryOpen
	switch {
	case fast && answered:
		c.data = c.jiffy
	case fast && c.dolph != nil:
		c.data = c.dolph
	default:
		c.data = c.serial
	}

	pkg.LogDebug(pkg.ComponentHost, "addressed",
		"commands", fmt.Sprintf("% x", cmds),
		"protocol", c.data.Kind())
	return nil
}

// Listen addresses dev as listener, with secondary unless it is NoSecondary,
// and leaves the bus ready for Send.
func (c *Controller) Listen(dev uint8, secondary int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.listen(dev, secondary)
}

func (c *Controller) listen(dev uint8, secondary int) error {
	if err := c.address(cmdListen, dev, secondary); err != nil {
		return err
	}
	c.port.Release(hal.LineATN)
	c.serial.Delay(c.timing.BetweenBytes)
	return nil
}

// Talk addresses dev as talker, with secondary unless it is NoSecondary,
// and hands the clock line to the device.
func (c *Controller) Talk(dev uint8, secondary int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.talk(dev, secondary)
}

func (c *Controller) talk(dev uint8, secondary int) error {
	if err := c.address(cmdTalk, dev, secondary); err != nil {
		return err
	}

	// Become listener: hold data, let go of ATN and clock, then wait for
	// the device to take the clock.
	c.port.Assert(hal.LineDataOut)
	c.port.Release(hal.LineATN)
	c.serial.Delay(c.timing.TurnaroundClock)
	c.port.Release(hal.LineClockOut)

	if c.serial.WaitForSignals(hal.LineClockIn, true, hal.LineNone, false, c.timing.TurnaroundTimeout) != protocol.WaitOK {
		c.releaseAll()
		return fmt.Errorf("device %d turnaround: %w", dev, pkg.ErrTimeout)
	}
	return nil
}

// Unlisten ends the data phase of every listener.
func (c *Controller) Unlisten() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.unlisten()
}

func (c *Controller) unlisten() error {
	return c.end(cmdUnlisten)
}

// Untalk ends the data phase of the talker.
func (c *Controller) Untalk() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.untalk()
}

func (c *Controller) untalk() error {
	return c.end(cmdUntalk)
}

func (c *Controller) end(cmd byte) error {
	if !c.attached {
		return pkg.ErrNotRunning
	}
	_, err := c.attention(cmd)
	c.port.Release(hal.LineATN)
	c.serial.Delay(c.timing.BetweenBytes)
	c.releaseAll()
	c.data = c.serial
	return err
}

// Send sends buf to the listeners, marking the last byte with EOI if eoi is
// set.
func (c *Controller) Send(buf []byte, eoi bool) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.send(buf, eoi)
}

func (c *Controller) send(buf []byte, eoi bool) (int, error) {
	if !c.attached {
		return 0, pkg.ErrNotRunning
	}
	return c.data.SendBytes(buf, eoi)
}

// Receive receives bytes from the talker until EOI. A talker with nothing to
// send yields pkg.ErrEmptyStream.
func (c *Controller) Receive() ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.receive()
}

func (c *Controller) receive() ([]byte, error) {
	if !c.attached {
		return nil, pkg.ErrNotRunning
	}
	data, err := c.data.ReceiveBytes()
	if err != nil && !errors.Is(err, pkg.ErrEmptyStream) {
		c.releaseAll()
	}
	return data, err
}
