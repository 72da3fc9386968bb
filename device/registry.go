package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softiec/pkg"
)

// VirtualDevice is a peripheral emulated on the bus.
//
// The bus calls one channel operation per transaction addressed to the
// device, passing the decoded command. Channel I/O happens through the bus
// while the operation runs.
type VirtualDevice interface {
	// OpenChannel handles LISTEN with OPEN. The payload holds the name.
	OpenChannel(cmd *Command) DeviceState

	// CloseChannel handles LISTEN with CLOSE.
	CloseChannel(cmd *Command) DeviceState

	// ReadChannel handles TALK with REOPEN. The device sends its data.
	ReadChannel(cmd *Command) DeviceState

	// WriteChannel handles LISTEN with REOPEN. The payload holds the data.
	WriteChannel(cmd *Command) DeviceState

	// Shutdown is called once when the registry shuts down.
	Shutdown()
}

// Resetter is implemented by devices that react to a bus reset.
type Resetter interface {
	Reset()
}

type entry struct {
	dev   VirtualDevice
	id    uint8
	state DeviceState
}

// Registry is the daisy chain of virtual devices on a bus.
//
// Devices are kept in chain order, most recently added first, with a bit per
// enabled address. Each enabled address maps to at most one device.
type Registry struct {
	mutex        sync.RWMutex
	chain        []*entry
	enabled      uint32
	shuttingDown atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddDevice binds dev to address id and places it at the front of the chain.
// A nil device is logged and ignored.
func (r *Registry) AddDevice(dev VirtualDevice, id uint8) error {
	if dev == nil {
		pkg.LogWarn(pkg.ComponentRegistry, "ignoring nil device", "id", id)
		return pkg.ErrNilDevice
	}
	if id > MaxDeviceID {
		return fmt.Errorf("device %d: %w", id, pkg.ErrInvalidAddress)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.enabled&(1<<id) != 0 {
		return fmt.Errorf("device %d: %w", id, pkg.ErrAddressInUse)
	}
	if r.find(dev) >= 0 {
		return fmt.Errorf("device %d: already registered: %w", id, pkg.ErrInvalidParameter)
	}

	r.chain = append([]*entry{{dev: dev, id: id}}, r.chain...)
	r.enabled |= 1 << id

	pkg.LogInfo(pkg.ComponentRegistry, "device added", "id", id)
	return nil
}

// RemoveDevice removes dev from the chain and disables its address.
func (r *Registry) RemoveDevice(dev VirtualDevice) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := r.find(dev)
	if i < 0 {
		return pkg.ErrNotRegistered
	}
	id := r.chain[i].id
	r.enabled &^= 1 << id
	r.chain = append(r.chain[:i], r.chain[i+1:]...)

	pkg.LogInfo(pkg.ComponentRegistry, "device removed", "id", id)
	return nil
}

// ChangeDeviceID rebinds dev to address id without moving it in the chain.
func (r *Registry) ChangeDeviceID(dev VirtualDevice, id uint8) error {
	if id > MaxDeviceID {
		return fmt.Errorf("device %d: %w", id, pkg.ErrInvalidAddress)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := r.find(dev)
	if i < 0 {
		return pkg.ErrNotRegistered
	}
	e := r.chain[i]
	if e.id == id {
		return nil
	}
	if r.enabled&(1<<id) != 0 {
		return fmt.Errorf("device %d: %w", id, pkg.ErrAddressInUse)
	}

	pkg.LogInfo(pkg.ComponentRegistry, "device id changed", "from", e.id, "to", id)
	r.enabled &^= 1 << e.id
	r.enabled |= 1 << id
	e.id = id
	return nil
}

// DeviceByID returns the device bound to id, or nil.
func (r *Registry) DeviceByID(id uint8) VirtualDevice {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, e := range r.chain {
		if e.id == id {
			return e.dev
		}
	}
	return nil
}

// IsDeviceEnabled reports whether address id is bound to a device.
func (r *Registry) IsDeviceEnabled(id uint8) bool {
	if id > MaxDeviceID {
		return false
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.enabled&(1<<id) != 0
}

// Devices returns the devices in chain order.
func (r *Registry) Devices() []VirtualDevice {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	devs := make([]VirtualDevice, len(r.chain))
	for i, e := range r.chain {
		devs[i] = e.dev
	}
	return devs
}

// DeviceState returns the state returned by the last operation dispatched
// to the device at id.
func (r *Registry) DeviceState(id uint8) (DeviceState, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, e := range r.chain {
		if e.id == id {
			return e.state, true
		}
	}
	return DeviceIdle, false
}

// Dispatch calls the channel operation selected by cmd on the addressed
// device: LISTEN+OPEN opens, LISTEN+CLOSE closes, LISTEN+REOPEN writes and
// TALK+REOPEN reads. Any other combination keeps the device's state.
func (r *Registry) Dispatch(cmd *Command) (DeviceState, error) {
	r.mutex.RLock()
	var e *entry
	for _, c := range r.chain {
		if c.id == cmd.Device {
			e = c
			break
		}
	}
	r.mutex.RUnlock()

	if e == nil {
		return DeviceIdle, fmt.Errorf("device %d: %w", cmd.Device, pkg.ErrDeviceUnavailable)
	}
	if r.shuttingDown.Load() {
		return e.state, pkg.ErrShuttingDown
	}
	if cmd.Channel > CommandChannel {
		return e.state, fmt.Errorf("channel %d: %w", cmd.Channel, pkg.ErrInvalidChannel)
	}

	state := e.state
	switch {
	case cmd.Primary == PrimaryListen && cmd.Secondary == SecondaryOpen:
		state = e.dev.OpenChannel(cmd)
	case cmd.Primary == PrimaryListen && cmd.Secondary == SecondaryClose:
		state = e.dev.CloseChannel(cmd)
	case cmd.Primary == PrimaryListen && cmd.Secondary == SecondaryReopen:
		state = e.dev.WriteChannel(cmd)
	case cmd.Primary == PrimaryTalk && cmd.Secondary == SecondaryReopen:
		state = e.dev.ReadChannel(cmd)
	}

	r.mutex.Lock()
	e.state = state
	r.mutex.Unlock()
	return state, nil
}

// Reset calls Reset on every device implementing Resetter, in chain order.
func (r *Registry) Reset() {
	for _, dev := range r.Devices() {
		if rs, ok := dev.(Resetter); ok {
			rs.Reset()
		}
	}

	r.mutex.Lock()
	for _, e := range r.chain {
		e.state = DeviceIdle
	}
	r.mutex.Unlock()
}

// Shutdown marks the registry as shutting down and calls every device's
// Shutdown hook in chain order. Later calls do nothing.
func (r *Registry) Shutdown() {
	if r.shuttingDown.Swap(true) {
		return
	}
	pkg.LogInfo(pkg.ComponentRegistry, "shutting down devices")
	for _, dev := range r.Devices() {
		dev.Shutdown()
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (r *Registry) IsShuttingDown() bool {
	return r.shuttingDown.Load()
}

// find returns the chain index of dev, or -1. Caller holds the mutex.
func (r *Registry) find(dev VirtualDevice) int {
	for i, e := range r.chain {
		if e.dev == dev {
			return i
		}
	}
	return -1
}
