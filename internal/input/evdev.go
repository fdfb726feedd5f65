package input

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux input event types and codes (linux/input-event-codes.h).
const (
	evKey = 0x01
	evAbs = 0x03

	absY     = 0x01
	absHat0X = 0x10
	absHat0Y = 0x11

	btnGamepad   = 0x130
	btnSouth     = 0x130
	btnEast      = 0x131
	btnTL        = 0x136
	btnTR        = 0x137
	btnStart     = 0x13b
	btnMode      = 0x13c
	btnDpadUp    = 0x220
	btnDpadDown  = 0x221
	btnDpadLeft  = 0x222
	btnDpadRight = 0x223
)

// rawEventSize is sizeof(struct input_event) on 64-bit Linux.
const rawEventSize = 24

// RawEvent is one decoded struct input_event.
type RawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// decodeRawEvent decodes a 24-byte input_event, skipping the timestamp.
func decodeRawEvent(b []byte) RawEvent {
	return RawEvent{
		Type:  binary.LittleEndian.Uint16(b[16:18]),
		Code:  binary.LittleEndian.Uint16(b[18:20]),
		Value: int32(binary.LittleEndian.Uint32(b[20:24])),
	}
}

// readRawEvents reads whole events from r into fn until r fails.
func readRawEvents(r io.Reader, fn func(RawEvent)) error {
	buf := make([]byte, rawEventSize*64)
	for {
		n, err := io.ReadAtLeast(r, buf, rawEventSize)
		for off := 0; off+rawEventSize <= n; off += rawEventSize {
			fn(decodeRawEvent(buf[off : off+rawEventSize]))
		}
		if err != nil {
			return err
		}
	}
}

// AxisRange is the value range reported for an absolute axis.
type AxisRange struct {
	Min, Max int32
}

var defaultAxisRange = AxisRange{Min: -32768, Max: 32767}

// normalize maps v into [-1, 1] around the range centre.
func (a AxisRange) normalize(v int32) float64 {
	if a.Max <= a.Min {
		return 0
	}
	mid := (float64(a.Min) + float64(a.Max)) / 2
	half := (float64(a.Max) - float64(a.Min)) / 2
	n := (float64(v) - mid) / half
	if n > 1 {
		return 1
	}
	if n < -1 {
		return -1
	}
	return n
}

// absInfo mirrors struct input_absinfo.
type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// readAxisRange asks the driver for an axis range via EVIOCGABS.
func readAxisRange(f *os.File, axis uint16) (AxisRange, error) {
	var info absInfo
	const iocRead = 2
	req := uintptr(iocRead<<30 | int(unsafe.Sizeof(info))<<16 | 'E'<<8 | (0x40 + int(axis)))
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return AxisRange{}, errno
	}
	return AxisRange{Min: info.Minimum, Max: info.Maximum}, nil
}

// isEventDevice reports whether name looks like an evdev node.
func isEventDevice(name string) bool {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "event") {
		return false
	}
	_, err := strconv.Atoi(strings.TrimPrefix(base, "event"))
	return err == nil
}

// isGamepad reports whether the sysfs key capabilities of the device behind
// devPath include BTN_GAMEPAD.
func isGamepad(sysDir, devPath string) (bool, error) {
	caps := filepath.Join(sysDir, filepath.Base(devPath), "device", "capabilities", "key")
	//nolint:gosec // G304: sysfs path built from a device node name
	b, err := os.ReadFile(caps)
	if err != nil {
		return false, err
	}
	return hasCapabilityBit(strings.TrimSpace(string(b)), btnGamepad)
}

// deviceName returns the kernel's name for the device, or its node name.
func deviceName(sysDir, devPath string) string {
	//nolint:gosec // G304: sysfs path built from a device node name
	b, err := os.ReadFile(filepath.Join(sysDir, filepath.Base(devPath), "device", "name"))
	if err != nil {
		return filepath.Base(devPath)
	}
	return strings.TrimSpace(string(b))
}

// hasCapabilityBit tests bit in a sysfs capability bitmap: space-separated
// hex words, most significant first, each one unsigned long wide.
func hasCapabilityBit(bitmap string, bit int) (bool, error) {
	words := strings.Fields(bitmap)
	const wordBits = 64
	idx := bit / wordBits
	if idx >= len(words) {
		return false, nil
	}
	w, err := strconv.ParseUint(words[len(words)-1-idx], 16, 64)
	if err != nil {
		return false, fmt.Errorf("parse capability word %q: %w", words[len(words)-1-idx], err)
	}
	return w&(1<<(uint(bit)%wordBits)) != 0, nil
}
