//go:build linux

package linux

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// =============================================================================
// GPIO v2 uAPI
// =============================================================================

const (
	maxLines    = 64
	maxAttrs    = 10
	maxNameSize = 32
)

// Line flags.
const (
	flagActiveLow   uint64 = 1 << 1
	flagInput       uint64 = 1 << 2
	flagOutput      uint64 = 1 << 3
	flagEdgeRising  uint64 = 1 << 4
	flagEdgeFalling uint64 = 1 << 5
	flagOpenDrain   uint64 = 1 << 6
	flagBiasPullUp  uint64 = 1 << 8
)

// Line event ids.
const (
	eventRisingEdge  = 1
	eventFallingEdge = 2
)

type lineValues struct {
	bits uint64
	mask uint64
}

type lineAttribute struct {
	id      uint32
	padding uint32
	value   uint64
}

type lineConfigAttribute struct {
	attr lineAttribute
	mask uint64
}

type lineConfig struct {
	flags    uint64
	numAttrs uint32
	padding  [5]uint32
	attrs    [maxAttrs]lineConfigAttribute
}

type lineRequest struct {
	offsets         [maxLines]uint32
	consumer        [maxNameSize]byte
	config          lineConfig
	numLines        uint32
	eventBufferSize uint32
	padding         [5]uint32
	fd              int32
}

type lineEvent struct {
	timestampNs uint64
	id          uint32
	offset      uint32
	seqno       uint32
	lineSeqno   uint32
	padding     [6]uint32
}

const lineEventSize = int(unsafe.Sizeof(lineEvent{}))

// iowr encodes a read-write ioctl request number.
func iowr(nr, size uintptr) uintptr {
	const (
		typ      = 0xB4
		dirRW    = 3
		nrShift  = 0
		typShift = 8
		sizShift = 16
		dirShift = 30
	)
	return dirRW<<dirShift | size<<sizShift | typ<<typShift | nr<<nrShift
}

var (
	ioctlGetLine   = iowr(0x07, unsafe.Sizeof(lineRequest{}))
	ioctlGetValues = iowr(0x0E, unsafe.Sizeof(lineValues{}))
	ioctlSetValues = iowr(0x0F, unsafe.Sizeof(lineValues{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// requestLines requests offsets from the chip with flags and returns the
// line request file descriptor.
func requestLines(chip int, consumer string, offsets []uint32, flags uint64) (int, error) {
	var req lineRequest
	copy(req.offsets[:], offsets)
	copy(req.consumer[:maxNameSize-1], consumer)
	req.numLines = uint32(len(offsets))
	req.config.flags = flags
	if err := ioctl(chip, ioctlGetLine, unsafe.Pointer(&req)); err != nil {
		return -1, err
	}
	return int(req.fd), nil
}

func getValues(fd int, mask uint64) (uint64, error) {
	v := lineValues{mask: mask}
	if err := ioctl(fd, ioctlGetValues, unsafe.Pointer(&v)); err != nil {
		return 0, err
	}
	return v.bits, nil
}

func setValues(fd int, bits, mask uint64) error {
	v := lineValues{bits: bits, mask: mask}
	return ioctl(fd, ioctlSetValues, unsafe.Pointer(&v))
}
