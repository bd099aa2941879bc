package rawgadget

import (
	"testing"
	"unsafe"
)

const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func _IO(t, nr uintptr) uintptr {
	return _IOC(iocNone, t, nr, 0)
}

func _IOR(t, nr, size uintptr) uintptr {
	return _IOC(iocRead, t, nr, size)
}

func _IOW(t, nr, size uintptr) uintptr {
	return _IOC(iocWrite, t, nr, size)
}

func _IOWR(t, nr, size uintptr) uintptr {
	return _IOC(iocRead|iocWrite, t, nr, size)
}

func _IOC(dir, t, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (t << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func TestIOCTLNumbersMatchRawGadgetHeader(t *testing.T) {
	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"RAW_IOCTL_INIT", ctlRawIoctlInit, _IOW('U', 0, unsafe.Sizeof(rawInit{}))},
		{"RAW_IOCTL_RUN", ctlRawIoctlRun, _IO('U', 1)},
		{"RAW_IOCTL_EVENT_FETCH", ctlRawIoctlEventFetch, _IOR('U', 2, unsafe.Sizeof(rawEvent{}))},
		{"RAW_IOCTL_EP0_WRITE", ctlRawIoctlEP0Write, _IOW('U', 3, unsafe.Sizeof(rawEPIO{}))},
		{"RAW_IOCTL_EP0_READ", ctlRawIoctlEP0Read, _IOWR('U', 4, unsafe.Sizeof(rawEPIO{}))},
		{"RAW_IOCTL_EP_ENABLE", ctlRawIoctlEPEnable, _IOW('U', 5, unsafe.Sizeof(rawEndpointDescriptor{}))},
		{"RAW_IOCTL_EP_DISABLE", ctlRawIoctlEPDisable, _IOW('U', 6, unsafe.Sizeof(uint32(0)))},
		{"RAW_IOCTL_EP_WRITE", ctlRawIoctlEPWrite, _IOW('U', 7, unsafe.Sizeof(rawEPIO{}))},
		{"RAW_IOCTL_EP_READ", ctlRawIoctlEPRead, _IOWR('U', 8, unsafe.Sizeof(rawEPIO{}))},
		{"RAW_IOCTL_CONFIGURE", ctlRawIoctlConfigure, _IO('U', 9)},
		{"RAW_IOCTL_VBUS_DRAW", ctlRawIoctlVBusDraw, _IOW('U', 10, unsafe.Sizeof(uint32(0)))},
		{"RAW_IOCTL_EPS_INFO", ctlRawIoctlEPsInfo, _IOR('U', 11, unsafe.Sizeof(rawEPsInfo{}))},
		{"RAW_IOCTL_EP0_STALL", ctlRawIoctlEP0Stall, _IO('U', 12)},
		{"RAW_IOCTL_EP_SET_HALT", ctlRawIoctlEPSetHalt, _IOW('U', 13, unsafe.Sizeof(uint32(0)))},
		{"RAW_IOCTL_EP_CLEAR_HALT", ctlRawIoctlEPClearHalt, _IOW('U', 14, unsafe.Sizeof(uint32(0)))},
		{"RAW_IOCTL_EP_SET_WEDGE", ctlRawIoctlEPSetWedge, _IOW('U', 15, unsafe.Sizeof(uint32(0)))},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = 0x%.8X, want 0x%.8X", c.name, c.got, c.want)
		}
	}
}

func TestCStringRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	putCString(buf, "dummy_udc")
	if got := cString(buf); got != "dummy_udc" {
		t.Errorf("cString(putCString(%q)) = %q", "dummy_udc", got)
	}
}

func TestCStringTruncatesToBufferLength(t *testing.T) {
	buf := make([]byte, 4)
	putCString(buf, "toolong")
	if got := cString(buf); got != "tool" {
		t.Errorf("cString(putCString(%q, 4 bytes)) = %q, want %q", "toolong", got, "tool")
	}
}

func TestEPIOHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, 8+16)
	packEPIOHeader(buf, 3, 0x1234, 16)
	copy(buf[8:], []byte("0123456789abcdef"))
	ep, flags, length := unpackEPIOHeader(buf)
	if ep != 3 || flags != 0x1234 || length != 16 {
		t.Errorf("unpackEPIOHeader() = (%d, 0x%x, %d), want (3, 0x1234, 16)", ep, flags, length)
	}
	if string(buf[8:8+length]) != "0123456789abcdef" {
		t.Errorf("payload = %q, want %q", buf[8:8+length], "0123456789abcdef")
	}
}

func TestEventHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, 8+4)
	packEventHeader(buf, 4)
	putU32(buf[0:4], uint32(rawEventControl))
	typ, length := unpackEventHeader(buf)
	if typ != uint32(rawEventControl) || length != 4 {
		t.Errorf("unpackEventHeader() = (%d, %d), want (%d, 4)", typ, length, rawEventControl)
	}
}
