package drive

import "fmt"

// Status codes reported on the command channel.
const (
	StatusOK             = 0
	StatusFilesScratched = 1
	StatusWriteProtect   = 26
	StatusSyntaxError    = 31
	StatusFileNotOpen    = 61
	StatusFileNotFound   = 62
	StatusFileExists     = 63
	StatusNoChannel      = 70
	StatusDOSVersion     = 73
	StatusDriveNotReady  = 74
)

// DOSVersion is reported with StatusDOSVersion after power on or reset.
const DOSVersion = "SOFTIEC DOS V1.0"

// WriteChannel is the channel a save writes through.
const WriteChannel = 1

var statusMessages = map[int]string{
	StatusOK:             " OK",
	StatusFilesScratched: "FILES SCRATCHED",
	StatusWriteProtect:   "WRITE PROTECT ON",
	StatusSyntaxError:    "SYNTAX ERROR",
	StatusFileNotOpen:    "FILE NOT OPEN",
	StatusFileNotFound:   "FILE NOT FOUND",
	StatusFileExists:     "FILE EXISTS",
	StatusNoChannel:      "NO CHANNEL",
	StatusDOSVersion:     DOSVersion,
	StatusDriveNotReady:  "DRIVE NOT READY",
}

// Status is one command channel status line.
type Status struct {
	Code   int
	Track  int
	Sector int
}

// Message returns the text for the status code.
func (s Status) Message() string {
	if m, ok := statusMessages[s.Code]; ok {
		return m
	}
	return "UNKNOWN"
}

// String formats the status as the drive reports it, without the carriage
// return.
func (s Status) String() string {
	return fmt.Sprintf("%02d,%s,%02d,%02d", s.Code, s.Message(), s.Track, s.Sector)
}
