package device

import "fmt"

// Bus addressing limits.
const (
	// MaxDeviceID is the highest address a device may claim.
	MaxDeviceID = 30

	// AllDevices is the broadcast address; it never names a real device.
	AllDevices = 31

	// MaxChannels is the number of channels per device.
	MaxChannels = 16

	// CommandChannel is the command/status channel.
	CommandChannel = 15
)

// Command bytes sent under ATN.
const (
	CmdListen   byte = 0x20 // LISTEN, OR'd with the device address
	CmdUnlisten byte = 0x3F // UNLISTEN
	CmdTalk     byte = 0x40 // TALK, OR'd with the device address
	CmdUntalk   byte = 0x5F // UNTALK
	CmdReopen   byte = 0x60 // REOPEN, OR'd with the channel
	CmdClose    byte = 0xE0 // CLOSE, OR'd with the channel
	CmdOpen     byte = 0xF0 // OPEN, OR'd with the channel

	primaryMask   byte = 0xE0
	secondaryMask byte = 0xF0
	addressMask   byte = 0x1F
	channelMask   byte = 0x0F
)

// Bus states.
const (
	StateOffline State = 0 // Host powered down or holding reset
	StateIdle    State = 1 // Waiting for ATN
	StateActive  State = 2 // Command phase under ATN
	StateProcess State = 3 // Data phase and dispatch
	StateRelease State = 4 // Letting go of the bus
	StateError   State = 5 // Failed until the next ATN
)

// State represents the bus state machine state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "Offline"
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateProcess:
		return "Process"
	case StateRelease:
		return "Release"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Device states returned by channel operations.
const (
	DeviceIdle   DeviceState = 0 // No channel operation in progress
	DeviceActive DeviceState = 1 // Channel open
	DeviceListen DeviceState = 2 // Accepting data
	DeviceTalk   DeviceState = 3 // Sending data
	DeviceError  DeviceState = 4 // Last operation failed
)

// DeviceState is the result of a virtual device channel operation.
type DeviceState uint8

// String returns a human-readable state description.
func (s DeviceState) String() string {
	switch s {
	case DeviceIdle:
		return "Idle"
	case DeviceActive:
		return "Active"
	case DeviceListen:
		return "Listen"
	case DeviceTalk:
		return "Talk"
	case DeviceError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown Device State (%d)", s)
	}
}
