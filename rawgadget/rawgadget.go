// Package rawgadget implements the host-side gadget port: a thin
// wrapper over Linux's /dev/raw-gadget character device that lets this
// process emulate an arbitrary USB peripheral to a real host.
//
// The wrapping style follows Daedaluz-gousb/usbfs: ioctl request codes are
// built once with goioctl, and every call marshals a fixed-size struct
// directly into the ioctl argument via unsafe.Pointer. Where usbfs.go
// used the bare syscall package, this port uses golang.org/x/sys/unix,
// which is how other Linux-facing code in the retrieval pack (e.g.
// kevmo314-go-usb) talks to the kernel.
package rawgadget

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultDevicePath is the conventional raw-gadget character device node.
const DefaultDevicePath = "/dev/raw-gadget"

// EPHandle identifies an endpoint enabled via Port.EPEnable. It is the
// opaque index the kernel returns from RAW_IOCTL_EP_ENABLE and must be
// supplied to every subsequent per-endpoint ioctl.
type EPHandle uint32

// EPInfo describes one controller-reported endpoint capability entry
// (RAW_IOCTL_EPS_INFO).
type EPInfo struct {
	Name  string
	Addr  uint32
	Caps  uint32
	Limit uint16
}

// Port owns the raw-gadget file descriptor. All control-path ioctls
// (Init, Run, Configure, EventFetch, EP0*) are confined to the EP0 state
// machine goroutine; data-path ioctls (EPRead/EPWrite) are confined to one
// reader and one writer goroutine per endpoint.
type Port struct {
	mu          sync.Mutex
	fd          int
	initialized bool
}

// Open opens the raw-gadget device node at path. Pass "" for
// DefaultDevicePath.
func Open(path string) (*Port, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("rawgadget: open %s: %w", path, err)
	}
	return &Port{fd: fd}, nil
}

func ioctl(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// Init prepares the gadget with the given driver/device name and speed.
// deviceDescriptor and firstConfigurationDescriptor are accepted to keep
// this call's signature self-documenting but are not themselves sent
// through this ioctl — real raw-gadget learns them from the host's own
// GET_DESCRIPTOR requests, which the EP0 state machine answers from the
// descriptor mirror (C4). They are validated for non-emptiness here so a
// caller that forgot to build the mirror fails fast at startup instead of
// silently answering empty descriptors later.
func (p *Port) Init(driverName, deviceName string, speed Speed, deviceDescriptor, firstConfigurationDescriptor []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return ErrAlreadyInitialized
	}
	if len(deviceDescriptor) == 0 || len(firstConfigurationDescriptor) == 0 {
		return fmt.Errorf("rawgadget: init requires non-empty descriptors")
	}
	req := rawInit{Speed: uint8(speed)}
	putCString(req.DriverName[:], driverName)
	putCString(req.DeviceName[:], deviceName)
	if err := ioctl(p.fd, ctlRawIoctlInit, uintptrOf(&req)); err != nil {
		return fmt.Errorf("rawgadget: init: %w", err)
	}
	p.initialized = true
	return nil
}

// Run makes the gadget visible to the host (kernel-side pullup enable).
func (p *Port) Run() error {
	if err := ioctl(p.fd, ctlRawIoctlRun, 0); err != nil {
		return fmt.Errorf("rawgadget: run: %w", err)
	}
	return nil
}

// Configure acknowledges SET_CONFIGURATION to the controller.
func (p *Port) Configure() error {
	if err := ioctl(p.fd, ctlRawIoctlConfigure, 0); err != nil {
		return fmt.Errorf("rawgadget: configure: %w", err)
	}
	return nil
}

// VBusDraw advertises the milliamps this gadget will draw from the bus.
func (p *Port) VBusDraw(milliAmps uint32) error {
	if err := ioctl(p.fd, ctlRawIoctlVBusDraw, uintptr(milliAmps)); err != nil {
		return fmt.Errorf("rawgadget: vbus_draw: %w", err)
	}
	return nil
}

// EPsInfo reports the controller's available endpoints and their
// capabilities, useful for diagnostics; the EP0 state machine itself
// drives endpoint selection from the descriptor mirror, not from this.
func (p *Port) EPsInfo() ([]EPInfo, error) {
	var raw rawEPsInfo
	if err := ioctl(p.fd, ctlRawIoctlEPsInfo, uintptrOf(&raw)); err != nil {
		return nil, fmt.Errorf("rawgadget: eps_info: %w", err)
	}
	out := make([]EPInfo, 0, len(raw.EPs))
	for _, ep := range raw.EPs {
		name := cString(ep.Name[:])
		if name == "" {
			continue
		}
		out = append(out, EPInfo{Name: name, Addr: ep.Addr, Caps: ep.Caps, Limit: ep.Limit})
	}
	return out, nil
}

// callResult carries the outcome of a blocking ioctl run on a detached
// goroutine, used by the soft-timeout helper below.
type callResult struct {
	n   int
	err error
}

// withSoftTimeout runs fn (a blocking ioctl call) on its own goroutine and
// waits up to timeout for it to finish. Real raw-gadget blocking ioctls
// (EVENT_FETCH, EP_READ, EP_WRITE) take no timeout parameter of their own,
// so cancellation is layered on top instead: short timeouts with
// shutdown polling rather than an asynchronous signal aimed at a specific
// thread. If fn has not completed when the deadline
// (or shutdown) fires, withSoftTimeout returns ErrTimeout/ErrShutdown and
// abandons the goroutine; it is expected to complete eventually (new data
// arriving, or the endpoint being disabled by the owner, which the kernel
// surfaces as ESHUTDOWN to the still-blocked call) and its result is then
// simply discarded.
func withSoftTimeout(timeout time.Duration, shutdown <-chan struct{}, fn func() (int, error)) (int, error) {
	result := make(chan callResult, 1)
	go func() {
		n, err := fn()
		result <- callResult{n, err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-result:
		return r.n, r.err
	case <-timer.C:
		return 0, ErrTimeout
	case <-shutdown:
		return 0, ErrShutdown
	}
}

// EventFetch blocks until a bus event is available or timeout/shutdown
// elapses first. Callers (the EP0 state machine) are expected to call this
// in a loop, checking their own shutdown channel between ErrTimeout
// returns — see pipeline.Pipeline for the equivalent data-path pattern.
func (p *Port) EventFetch(timeout time.Duration, shutdown <-chan struct{}) (Event, error) {
	const maxEventData = 256
	buf := make([]byte, 8+maxEventData)
	_, err := withSoftTimeout(timeout, shutdown, func() (int, error) {
		packEventHeader(buf, maxEventData)
		if ioErr := ioctl(p.fd, ctlRawIoctlEventFetch, bufPtr(buf)); ioErr != nil {
			return 0, ioErr
		}
		_, length := unpackEventHeader(buf)
		return int(length), nil
	})
	if err != nil {
		return Event{}, err
	}
	typ, length := unpackEventHeader(buf)
	if length > maxEventData {
		length = maxEventData
	}
	return parseRawEvent(rawEventType(typ), buf[8:8+length]), nil
}

// EP0Read performs the data-out stage of a control transfer, reading up to
// maxLen bytes from the host.
func (p *Port) EP0Read(maxLen int) ([]byte, error) {
	buf := make([]byte, 8+maxLen)
	packEPIOHeader(buf, 0, 0, uint32(maxLen))
	if err := ioctl(p.fd, ctlRawIoctlEP0Read, bufPtr(buf)); err != nil {
		return nil, classifyErr(err)
	}
	_, _, length := unpackEPIOHeader(buf)
	if int(length) > maxLen {
		length = uint32(maxLen)
	}
	return buf[8 : 8+length], nil
}

// EP0Write performs the data-in stage of a control transfer (or, for a
// zero-length status stage, is called with an empty slice). The EP0 state
// machine always calls this for IN transfers, even with zero bytes,
// because some controllers require it before the transaction is
// acknowledged.
func (p *Port) EP0Write(data []byte) error {
	buf := make([]byte, 8+len(data))
	packEPIOHeader(buf, 0, 0, uint32(len(data)))
	copy(buf[8:], data)
	if err := ioctl(p.fd, ctlRawIoctlEP0Write, bufPtr(buf)); err != nil {
		return classifyErr(err)
	}
	return nil
}

// EP0Stall stalls the control endpoint, signaling a protocol error or an
// injection rule's explicit stall action to the host.
func (p *Port) EP0Stall() error {
	if err := ioctl(p.fd, ctlRawIoctlEP0Stall, 0); err != nil {
		return fmt.Errorf("rawgadget: ep0_stall: %w", err)
	}
	return nil
}

// EPEnable activates a data endpoint described by a standard 7-byte
// endpoint descriptor and returns a handle for subsequent I/O.
func (p *Port) EPEnable(descriptor []byte) (EPHandle, error) {
	if len(descriptor) < 7 {
		return 0, fmt.Errorf("rawgadget: ep_enable: descriptor too short (%d bytes)", len(descriptor))
	}
	req := rawEndpointDescriptor{
		BLength:          descriptor[0],
		BDescriptorType:  descriptor[1],
		BEndpointAddress: descriptor[2],
		BmAttributes:     descriptor[3],
		WMaxPacketSize:   uint16(descriptor[4]) | uint16(descriptor[5])<<8,
		BInterval:        descriptor[6],
	}
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), ctlRawIoctlEPEnable, uintptrOf(&req))
	if errno != 0 {
		return 0, fmt.Errorf("rawgadget: ep_enable: %w", errno)
	}
	return EPHandle(ret), nil
}

// EPDisable deactivates a previously enabled endpoint. Any call currently
// blocked in EPRead/EPWrite for this handle is expected to unwind with
// ErrShutdown once the kernel processes the disable.
func (p *Port) EPDisable(h EPHandle) error {
	if err := ioctl(p.fd, ctlRawIoctlEPDisable, uintptr(h)); err != nil {
		return fmt.Errorf("rawgadget: ep_disable: %w", err)
	}
	return nil
}

// EPRead reads up to maxLen bytes from the data endpoint identified by h,
// returning ErrTimeout if no data arrives within timeout and ErrShutdown
// once the port (or the specific endpoint) has been torn down.
func (p *Port) EPRead(h EPHandle, maxLen int, timeout time.Duration, shutdown <-chan struct{}) ([]byte, error) {
	buf := make([]byte, 8+maxLen)
	n, err := withSoftTimeout(timeout, shutdown, func() (int, error) {
		packEPIOHeader(buf, uint16(h), 0, uint32(maxLen))
		if ioErr := ioctl(p.fd, ctlRawIoctlEPRead, bufPtr(buf)); ioErr != nil {
			return 0, classifyErr(ioErr)
		}
		_, _, length := unpackEPIOHeader(buf)
		return int(length), nil
	})
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		n = maxLen
	}
	return buf[8 : 8+n], nil
}

// EPWrite writes data to the data endpoint identified by h. Zero-length
// writes are meaningful (a ZLP) and are forwarded as such.
func (p *Port) EPWrite(h EPHandle, data []byte, timeout time.Duration, shutdown <-chan struct{}) error {
	buf := make([]byte, 8+len(data))
	packEPIOHeader(buf, uint16(h), 0, uint32(len(data)))
	copy(buf[8:], data)
	_, err := withSoftTimeout(timeout, shutdown, func() (int, error) {
		if ioErr := ioctl(p.fd, ctlRawIoctlEPWrite, bufPtr(buf)); ioErr != nil {
			return 0, classifyErr(ioErr)
		}
		return len(data), nil
	})
	return err
}

// EPSetHalt stalls a data endpoint (e.g. in response to a forwarded
// device stall).
func (p *Port) EPSetHalt(h EPHandle) error {
	if err := ioctl(p.fd, ctlRawIoctlEPSetHalt, uintptr(h)); err != nil {
		return classifyErr(err)
	}
	return nil
}

// EPClearHalt clears a previously set halt condition, used by the
// pipeline's recovery path.
func (p *Port) EPClearHalt(h EPHandle) error {
	if err := ioctl(p.fd, ctlRawIoctlEPClearHalt, uintptr(h)); err != nil {
		return classifyErr(err)
	}
	return nil
}

// EPSetWedge is a real raw-gadget primitive not driven by any core state
// transition in this proxy; exposed for completeness of the gadget port
// wrapper.
func (p *Port) EPSetWedge(h EPHandle) error {
	if err := ioctl(p.fd, ctlRawIoctlEPSetWedge, uintptr(h)); err != nil {
		return classifyErr(err)
	}
	return nil
}

// Close releases the underlying file descriptor. Any ioctl still blocked
// on it from another goroutine is expected to unwind with an error, which
// Port callers must treat as ErrShutdown during teardown.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

func classifyErr(err error) error {
	if errno, ok := err.(unix.Errno); ok {
		switch errno {
		case unix.EPIPE:
			return ErrHalted
		case unix.ESHUTDOWN, unix.ENODEV, unix.EBADF:
			return ErrShutdown
		case unix.ETIMEDOUT, unix.EAGAIN:
			return ErrTimeout
		}
	}
	return err
}
