package rawgadget

// From Linux's <linux/usb/raw_gadget.h>. Mirrors the layout of
// Daedaluz-gousb/usbfs/ioctl.go: the ioctl request codes are built with
// goioctl's _IOW/_IOR/_IOWR/_IO helpers from the same (type, number, size)
// triples the kernel header encodes, and the matching Go structs are laid
// out field-for-field so they can be handed to the ioctl syscall directly.

import (
	ioctl "github.com/daedaluz/goioctl"
	"unsafe"
)

const maxDriverNameLen = 256

var (
	ctlRawIoctlInit        = ioctl.IOW('U', 0, unsafe.Sizeof(rawInit{}))
	ctlRawIoctlRun         = ioctl.IO('U', 1)
	ctlRawIoctlEventFetch  = ioctl.IOR('U', 2, unsafe.Sizeof(rawEvent{}))
	ctlRawIoctlEP0Write    = ioctl.IOW('U', 3, unsafe.Sizeof(rawEPIO{}))
	ctlRawIoctlEP0Read     = ioctl.IOWR('U', 4, unsafe.Sizeof(rawEPIO{}))
	ctlRawIoctlEPEnable    = ioctl.IOW('U', 5, unsafe.Sizeof(rawEndpointDescriptor{}))
	ctlRawIoctlEPDisable   = ioctl.IOW('U', 6, unsafe.Sizeof(uint32(0)))
	ctlRawIoctlEPWrite     = ioctl.IOW('U', 7, unsafe.Sizeof(rawEPIO{}))
	ctlRawIoctlEPRead      = ioctl.IOWR('U', 8, unsafe.Sizeof(rawEPIO{}))
	ctlRawIoctlConfigure   = ioctl.IO('U', 9)
	ctlRawIoctlVBusDraw    = ioctl.IOW('U', 10, unsafe.Sizeof(uint32(0)))
	ctlRawIoctlEPsInfo     = ioctl.IOR('U', 11, unsafe.Sizeof(rawEPsInfo{}))
	ctlRawIoctlEP0Stall    = ioctl.IO('U', 12)
	ctlRawIoctlEPSetHalt   = ioctl.IOW('U', 13, unsafe.Sizeof(uint32(0)))
	ctlRawIoctlEPClearHalt = ioctl.IOW('U', 14, unsafe.Sizeof(uint32(0)))
	ctlRawIoctlEPSetWedge  = ioctl.IOW('U', 15, unsafe.Sizeof(uint32(0)))
)

// rawEventType enumerates struct usb_raw_event.type values.
type rawEventType uint32

const (
	rawEventInvalid    rawEventType = 0
	rawEventConnect    rawEventType = 1
	rawEventControl    rawEventType = 2
	rawEventSuspend    rawEventType = 3
	rawEventResume     rawEventType = 4
	rawEventReset      rawEventType = 5
	rawEventDisconnect rawEventType = 6
)

// Speed mirrors the kernel's usb_device_speed enum, as accepted by
// RAW_IOCTL_INIT.
type Speed uint8

const (
	SpeedUnknown   Speed = 0
	SpeedLow       Speed = 1
	SpeedFull      Speed = 2
	SpeedHigh      Speed = 3
	SpeedWireless  Speed = 4
	SpeedSuper     Speed = 5
	SpeedSuperPlus Speed = 6
)

type (
	// rawInit mirrors struct usb_raw_init.
	rawInit struct {
		DriverName [maxDriverNameLen]byte
		DeviceName [maxDriverNameLen]byte
		Speed      uint8
	}

	// rawEvent mirrors struct usb_raw_event's fixed 8-byte header (Type,
	// Length), used only to size the EVENT_FETCH ioctl number. The actual
	// ioctl argument is an 8+Length byte buffer with this header packed
	// into the first 8 bytes and the kernel's __u8 data[] flexible member
	// following inline; see packEventHeader/unpackEventHeader.
	rawEvent struct {
		Type   uint32
		Length uint32
	}

	// rawEPIO mirrors struct usb_raw_ep_io's fixed 8-byte header (EP,
	// Flags, Length), used only to size the EP0/EP read/write ioctl
	// numbers. The actual ioctl argument is an 8+Length byte buffer with
	// this header packed into the first 8 bytes and the kernel's __u8
	// data[] flexible member following inline; see
	// packEPIOHeader/unpackEPIOHeader.
	rawEPIO struct {
		EP     uint16
		Flags  uint16
		Length uint32
	}

	// rawEndpointDescriptor mirrors the standard 7-byte USB endpoint
	// descriptor that RAW_IOCTL_EP_ENABLE consumes verbatim.
	rawEndpointDescriptor struct {
		BLength          uint8
		BDescriptorType  uint8
		BEndpointAddress uint8
		BmAttributes     uint8
		WMaxPacketSize   uint16
		BInterval        uint8
	}

	// rawEPInfo mirrors a single entry of struct usb_raw_eps_info.
	rawEPInfo struct {
		Name         [16]byte
		Addr         uint32
		Caps         uint32
		Limit        uint16
		_            [2]byte
	}

	// rawEPsInfo mirrors struct usb_raw_eps_info (fixed upper bound of
	// endpoints the controller can report in one RAW_IOCTL_EPS_INFO call).
	rawEPsInfo struct {
		EPs [30]rawEPInfo
	}
)

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func putCString(dst []byte, s string) {
	n := copy(dst, s)
	if n < len(dst) {
		dst[n] = 0
	}
}
