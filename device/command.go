package device

import (
	"encoding/hex"
	"fmt"
)

// Primary is the primary command of a bus transaction. Values are the
// command byte without the device address.
type Primary uint8

// Primary commands.
const (
	PrimaryNone     Primary = 0
	PrimaryListen   Primary = Primary(CmdListen)
	PrimaryUnlisten Primary = Primary(CmdUnlisten)
	PrimaryTalk     Primary = Primary(CmdTalk)
	PrimaryUntalk   Primary = Primary(CmdUntalk)
)

// String returns the command name.
func (p Primary) String() string {
	switch p {
	case PrimaryNone:
		return "NONE"
	case PrimaryListen:
		return "LISTEN"
	case PrimaryUnlisten:
		return "UNLISTEN"
	case PrimaryTalk:
		return "TALK"
	case PrimaryUntalk:
		return "UNTALK"
	default:
		return fmt.Sprintf("PRIMARY(%#02x)", uint8(p))
	}
}

// Secondary is the secondary command of a bus transaction. Values are the
// command byte without the channel.
type Secondary uint8

// Secondary commands.
const (
	SecondaryNone   Secondary = 0
	SecondaryReopen Secondary = Secondary(CmdReopen)
	SecondaryClose  Secondary = Secondary(CmdClose)
	SecondaryOpen   Secondary = Secondary(CmdOpen)
)

// String returns the command name.
func (s Secondary) String() string {
	switch s {
	case SecondaryNone:
		return "NONE"
	case SecondaryReopen:
		return "REOPEN"
	case SecondaryClose:
		return "CLOSE"
	case SecondaryOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("SECONDARY(%#02x)", uint8(s))
	}
}

// IsData reports whether the secondary starts a data phase that may use an
// accelerated protocol.
func (s Secondary) IsData() bool {
	return s == SecondaryOpen || s == SecondaryReopen
}

// Command is one decoded bus transaction.
//
// A Command is reset at the start of each ATN cycle, filled in as command
// bytes arrive, and handed to the addressed device exactly once.
type Command struct {
	Primary   Primary
	Device    uint8 // 0-30
	Secondary Secondary
	Channel   uint8 // 0-15
	Action    string
	Payload   []byte
}

// Reset clears the command for the next ATN cycle. The payload buffer is
// kept for reuse.
func (c *Command) Reset() {
	c.Primary = PrimaryNone
	c.Device = 0
	c.Secondary = SecondaryNone
	c.Channel = 0
	c.Action = ""
	c.Payload = c.Payload[:0]
}

// IsCommandChannel reports whether the command addresses the command and
// status channel.
func (c *Command) IsCommandChannel() bool {
	return c.Channel == CommandChannel
}

// String returns a one-line description of the command.
func (c *Command) String() string {
	action := c.Action
	if action == "" {
		action = "-"
	}
	return fmt.Sprintf("[%02X %02X] %v %d %s %d",
		uint8(c.Primary), uint8(c.Secondary), c.Primary, c.Device, action, c.Channel)
}

// Dump returns String followed by a hex dump of the payload.
func (c *Command) Dump() string {
	s := c.String()
	if len(c.Payload) > 0 {
		s += "\n" + hex.Dump(c.Payload)
	}
	return s
}
