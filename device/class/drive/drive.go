package drive

import (
	"errors"
	"strings"
	"sync"

	"github.com/ardnew/softiec/device"
	"github.com/ardnew/softiec/pkg"
)

// channel is one open file.
type channel struct {
	open  bool
	name  string
	write bool
	buf   []byte
	pos   int
}

// Drive is a virtual disk drive. It implements device.VirtualDevice and
// device.Resetter.
type Drive struct {
	storage Storage
	bus     device.IO

	channels [device.MaxChannels]channel
	status   Status

	mutex sync.Mutex
}

// New creates a drive over storage.
func New(storage Storage) *Drive {
	return &Drive{
		storage: storage,
		status:  Status{Code: StatusDOSVersion},
	}
}

// SetBus sets the I/O used while a channel operation runs.
func (d *Drive) SetBus(io device.IO) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.bus = io
}

// Status returns the current status line.
func (d *Drive) Status() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.status
}

func (d *Drive) setStatus(code int) {
	d.status = Status{Code: code}
}

// OpenChannel implements device.VirtualDevice.
func (d *Drive) OpenChannel(cmd *device.Command) device.DeviceState {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if cmd.IsCommandChannel() {
		if len(cmd.Payload) > 0 {
			return d.execute(string(cmd.Payload))
		}
		return device.DeviceActive
	}

	ch := &d.channels[cmd.Channel]
	if ch.open {
		d.setStatus(StatusNoChannel)
		pkg.LogDebug(pkg.ComponentDevice, "channel in use", "channel", cmd.Channel, "name", ch.name)
		return device.DeviceError
	}
	name := strings.TrimRight(string(cmd.Payload), "\r")

	if cmd.Channel == WriteChannel {
		if d.storage.IsReadOnly() {
			d.setStatus(StatusWriteProtect)
			return device.DeviceError
		}
		var replace bool
		name, replace = replaceName(name)
		if _, err := d.storage.Load(name); err == nil && !replace {
			d.setStatus(StatusFileExists)
			pkg.LogDebug(pkg.ComponentDevice, "file exists", "channel", cmd.Channel, "name", name)
			return device.DeviceError
		}
		*ch = channel{open: true, name: name, write: true}
		d.setStatus(StatusOK)
		pkg.LogDebug(pkg.ComponentDevice, "opened for write", "channel", cmd.Channel, "name", name)
		return device.DeviceActive
	}

	data, err := d.storage.Load(name)
	if err != nil {
		// The channel stays open with nothing to send, so a TALK reports an
		// empty stream.
		*ch = channel{open: true, name: name}
		if errors.Is(err, pkg.ErrNotFound) {
			d.setStatus(StatusFileNotFound)
		} else {
			d.setStatus(StatusDriveNotReady)
		}
		pkg.LogDebug(pkg.ComponentDevice, "open failed", "channel", cmd.Channel, "name", name, "error", err)
		return device.DeviceError
	}

	*ch = channel{open: true, name: name, buf: data}
	d.setStatus(StatusOK)
	pkg.LogDebug(pkg.ComponentDevice, "opened", "channel", cmd.Channel, "name", name, "size", len(data))
	return device.DeviceActive
}

// CloseChannel implements device.VirtualDevice.
func (d *Drive) CloseChannel(cmd *device.Command) device.DeviceState {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if cmd.IsCommandChannel() {
		return device.DeviceIdle
	}

	ch := &d.channels[cmd.Channel]
	defer func() { *ch = channel{} }()

	if !ch.open || !ch.write {
		return device.DeviceIdle
	}
	if err := d.storage.Save(ch.name, ch.buf); err != nil {
		if errors.Is(err, pkg.ErrReadOnly) {
			d.setStatus(StatusWriteProtect)
		} else {
			d.setStatus(StatusDriveNotReady)
		}
		pkg.LogWarn(pkg.ComponentDevice, "save failed", "name", ch.name, "error", err)
		return device.DeviceError
	}
	d.setStatus(StatusOK)
	pkg.LogDebug(pkg.ComponentDevice, "saved", "name", ch.name, "size", len(ch.buf))
	return device.DeviceIdle
}

// ReadChannel implements device.VirtualDevice. It streams the rest of the
// channel buffer with EOI on the last byte.
func (d *Drive) ReadChannel(cmd *device.Command) device.DeviceState {
	d.mutex.Lock()
	bus := d.bus
	var out []byte
	ch := &d.channels[cmd.Channel]

	if cmd.IsCommandChannel() {
		out = append([]byte(d.status.String()), '\r')
		d.setStatus(StatusOK)
	} else if ch.open && !ch.write {
		out = ch.buf[ch.pos:]
	}
	d.mutex.Unlock()

	if bus == nil {
		return device.DeviceError
	}
	if len(out) == 0 {
		bus.SenderTimeout()
		return device.DeviceIdle
	}

	n, err := bus.SendBytes(out, true)

	d.mutex.Lock()
	if !cmd.IsCommandChannel() {
		ch.pos += n
	}
	d.mutex.Unlock()

	if err != nil {
		pkg.LogDebug(pkg.ComponentDevice, "send interrupted", "channel", cmd.Channel, "sent", n, "error", err)
		return device.DeviceError
	}
	return device.DeviceTalk
}

// WriteChannel implements device.VirtualDevice. The payload received in the
// data phase is appended to the channel, or executed on channel 15.
func (d *Drive) WriteChannel(cmd *device.Command) device.DeviceState {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if cmd.IsCommandChannel() {
		return d.execute(string(cmd.Payload))
	}

	ch := &d.channels[cmd.Channel]
	if !ch.open || !ch.write {
		d.setStatus(StatusFileNotOpen)
		return device.DeviceError
	}
	ch.buf = append(ch.buf, cmd.Payload...)
	return device.DeviceListen
}

// replaceName strips the "@:" or "@0:" save-with-replace prefix.
func replaceName(name string) (string, bool) {
	if !strings.HasPrefix(name, "@") {
		return name, false
	}
	if i := strings.IndexByte(name, ':'); i > 0 && i <= 2 {
		return name[i+1:], true
	}
	return name, false
}

// execute runs a command channel string. Caller holds the mutex.
func (d *Drive) execute(line string) device.DeviceState {
	line = strings.TrimRight(line, "\r")
	pkg.LogDebug(pkg.ComponentDevice, "drive command", "command", line)

	switch {
	case line == "":
		return device.DeviceActive

	case line == "I" || strings.HasPrefix(line, "I0"):
		d.setStatus(StatusOK)

	case line == "UJ" || line == "U:":
		d.reset()

	case strings.HasPrefix(line, "S"):
		i := strings.IndexByte(line, ':')
		if i < 0 {
			d.setStatus(StatusSyntaxError)
			return device.DeviceError
		}
		scratched := 0
		for _, name := range strings.Split(line[i+1:], ",") {
			if err := d.storage.Remove(name); err == nil {
				scratched++
			} else if errors.Is(err, pkg.ErrReadOnly) {
				d.setStatus(StatusWriteProtect)
				return device.DeviceError
			}
		}
		d.status = Status{Code: StatusFilesScratched, Track: scratched}

	default:
		d.setStatus(StatusSyntaxError)
		return device.DeviceError
	}
	return device.DeviceActive
}

func (d *Drive) reset() {
	for i := range d.channels {
		d.channels[i] = channel{}
	}
	d.setStatus(StatusDOSVersion)
}

// Reset implements device.Resetter. Open channels are dropped without
// saving.
func (d *Drive) Reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.reset()
	pkg.LogInfo(pkg.ComponentDevice, "drive reset")
}

// Shutdown implements device.VirtualDevice.
func (d *Drive) Shutdown() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for i := range d.channels {
		d.channels[i] = channel{}
	}
	pkg.LogInfo(pkg.ComponentDevice, "drive shut down")
}

var (
	_ device.VirtualDevice = (*Drive)(nil)
	_ device.Resetter      = (*Drive)(nil)
)
