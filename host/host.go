package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softiec/device/hal"
	"github.com/ardnew/softiec/device/protocol"
	"github.com/ardnew/softiec/pkg"
)

// Secondary address command codes, combined with a channel number.
const (
	SecondaryData  byte = 0x60
	SecondaryClose byte = 0xE0
	SecondaryOpen  byte = 0xF0
)

// Primary address command codes, combined with a device number.
const (
	cmdListen   byte = 0x20
	cmdUnlisten byte = 0x3F
	cmdTalk     byte = 0x40
	cmdUntalk   byte = 0x5F
)

// MaxDeviceID is the highest addressable device number.
const MaxDeviceID = 30

// Controller is an IEC bus controller.
type Controller struct {
	port   hal.Port
	par    hal.ParallelPort
	timing protocol.Timing

	jiffyEnabled   bool
	dolphinEnabled bool

	flags  protocol.FlagSet
	serial *protocol.Serial
	jiffy  protocol.Protocol
	dolph  protocol.Protocol

	// Variant for the current data phase.
	data protocol.Protocol

	attached bool
	mutex    sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithTiming sets the protocol timing windows.
func WithTiming(t protocol.Timing) Option {
	return func(c *Controller) {
		c.timing = t
	}
}

// WithJiffyDOS enables probing for JiffyDOS on every primary address.
func WithJiffyDOS(enable bool) Option {
	return func(c *Controller) {
		c.jiffyEnabled = enable
	}
}

// WithDolphinDOS enables the parallel cable. It requires a port that
// implements hal.ParallelPort and assumes the addressed device shares the
// cable.
func WithDolphinDOS(enable bool) Option {
	return func(c *Controller) {
		c.dolphinEnabled = enable
	}
}

// New creates a controller driving port.
func New(port hal.Port, opts ...Option) (*Controller, error) {
	if port == nil {
		return nil, pkg.ErrInvalidParameter
	}

	c := &Controller{
		port:   port,
		timing: protocol.DefaultTiming(),
	}
	for _, opt := range opts {
		opt(c)
	}

	p, err := protocol.New(protocol.KindSerial, port, &c.flags, c.timing)
	if err != nil {
		return nil, err
	}
	c.serial = p.(*protocol.Serial)
	c.data = c.serial

	if c.jiffyEnabled {
		if c.jiffy, err = protocol.New(protocol.KindJiffyDOS, port, &c.flags, c.timing); err != nil {
			return nil, err
		}
	}
	if c.dolphinEnabled {
		par, ok := port.(hal.ParallelPort)
		if !ok {
			return nil, fmt.Errorf("dolphindos: %w", pkg.ErrNotSupported)
		}
		c.par = par
		if c.dolph, err = protocol.New(protocol.KindDolphinDOS, port, &c.flags, c.timing); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Attach initializes the port and releases every line.
func (c *Controller) Attach(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.attached {
		return pkg.ErrAlreadyRunning
	}
	if err := c.port.Init(ctx); err != nil {
		return fmt.Errorf("port init: %w", err)
	}
	// The controller polls; it needs no edges.
	if err := c.port.Start(func(hal.Event) {}); err != nil {
		return fmt.Errorf("port start: %w", err)
	}
	c.releaseAll()
	c.attached = true

	pkg.LogInfo(pkg.ComponentHost, "controller attached",
		"jiffydos", c.jiffyEnabled,
		"dolphindos", c.dolphinEnabled)
	return nil
}

// Detach releases every line and stops the port.
func (c *Controller) Detach() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.attached {
		return nil
	}
	c.attached = false
	c.releaseAll()
	c.port.Release(hal.LineReset)

	pkg.LogInfo(pkg.ComponentHost, "controller detached")
	return c.port.Stop()
}

// Flags returns the conditions raised by the last operation.
func (c *Controller) Flags() protocol.Flags {
	return c.flags.Load()
}

// Protocol returns the variant negotiated for the current data phase.
func (c *Controller) Protocol() protocol.Kind {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.data.Kind()
}

// Reset pulses the reset line.
func (c *Controller) Reset() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.attached {
		return pkg.ErrNotRunning
	}
	c.releaseAll()
	c.port.Assert(hal.LineReset)
	c.serial.Delay(c.timing.ATNResponse)
	c.port.Release(hal.LineReset)
	c.serial.Delay(c.timing.ATNResponse)

	pkg.LogDebug(pkg.ComponentHost, "bus reset")
	return nil
}

func (c *Controller) releaseAll() {
	c.port.Release(hal.LineATN)
	c.port.Release(hal.LineClockOut)
	c.port.Release(hal.LineDataOut)
}

func (c *Controller) checkDevice(dev uint8) error {
	if !c.attached {
		return pkg.ErrNotRunning
	}
	if dev > MaxDeviceID {
		return fmt.Errorf("device %d: %w", dev, pkg.ErrInvalidAddress)
	}
	return nil
}
