package pkg

import "errors"

// Bus errors.
var (
	// ErrTimeout indicates a waited-for line transition did not occur in time.
	ErrTimeout = errors.New("signal timeout")

	// ErrEmptyStream indicates the talker had no data to send.
	ErrEmptyStream = errors.New("empty stream")

	// ErrUnknownCommand indicates an unrecognized command byte.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDeviceUnavailable indicates the addressed device is disabled or absent.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrAttention indicates the host changed ATN during an exchange.
	ErrAttention = errors.New("interrupted by attention")

	// ErrNoDevice indicates no device answered the host's attention request.
	ErrNoDevice = errors.New("device not present")

	// ErrNilDevice indicates a nil device was passed to the registry.
	ErrNilDevice = errors.New("nil device")

	// ErrInvalidAddress indicates a device address outside [0,30].
	ErrInvalidAddress = errors.New("invalid device address")

	// ErrAddressInUse indicates the address is already bound to another device.
	ErrAddressInUse = errors.New("device address in use")

	// ErrNotRegistered indicates the device is not in the registry.
	ErrNotRegistered = errors.New("device not registered")

	// ErrInvalidChannel indicates a channel number outside [0,15].
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrNotSupported indicates an unsupported operation or protocol.
	ErrNotSupported = errors.New("not supported")

	// ErrShuttingDown indicates the bus is shutting down.
	ErrShuttingDown = errors.New("shutting down")

	// ErrAlreadyRunning indicates the bus is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the bus is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotFound indicates a named stream does not exist in storage.
	ErrNotFound = errors.New("file not found")

	// ErrReadOnly indicates a write to read-only storage.
	ErrReadOnly = errors.New("storage is read-only")
)

// Condition classifies how a bus exchange ended. Conditions travel through
// the flag bitmask and bus state rather than across the interrupt boundary.
type Condition int

// Bus conditions.
const (
	ConditionNone              Condition = iota // Exchange completed normally
	ConditionSignalTimeout                      // Awaited line transition timed out
	ConditionStreamError                        // Framing or handshake failure
	ConditionEmptyStream                        // Talker had nothing to send
	ConditionUnknownCommand                     // Unrecognized command byte
	ConditionDeviceUnavailable                  // Target address disabled or absent
)

// String returns a string representation of the condition.
func (c Condition) String() string {
	switch c {
	case ConditionNone:
		return "none"
	case ConditionSignalTimeout:
		return "signal-timeout"
	case ConditionStreamError:
		return "stream-error"
	case ConditionEmptyStream:
		return "empty-stream"
	case ConditionUnknownCommand:
		return "unknown-command"
	case ConditionDeviceUnavailable:
		return "device-unavailable"
	default:
		return "unknown"
	}
}

// IsFailure reports whether the condition aborts the current phase.
func (c Condition) IsFailure() bool {
	return c == ConditionSignalTimeout || c == ConditionStreamError
}

// ConditionOf maps an error returned by a bus exchange to its condition.
func ConditionOf(err error) Condition {
	switch {
	case err == nil:
		return ConditionNone
	case errors.Is(err, ErrTimeout):
		return ConditionSignalTimeout
	case errors.Is(err, ErrEmptyStream):
		return ConditionEmptyStream
	case errors.Is(err, ErrUnknownCommand):
		return ConditionUnknownCommand
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrNoDevice):
		return ConditionDeviceUnavailable
	default:
		return ConditionStreamError
	}
}
