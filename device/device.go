package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

const (
	reqGetDescriptor    = 0x06
	descTypeDevice      = 0x01
	descTypeConfig      = 0x02
	deviceDescriptorLen = 18
	configHeaderLen     = 9
)

// Device is a claimed handle to the real peripheral. One Device is created
// per Port.Open call and is torn down by Close when the proxy shuts down
// or the hotplug watcher fires.
type Device struct {
	handle *gousb.Device

	mu     sync.Mutex
	cfg    *gousb.Config
	ifaces map[int]*gousb.Interface
	inEps  map[uint8]*gousb.InEndpoint
	outEps map[uint8]*gousb.OutEndpoint

	vendorID, productID uint16

	watchOnce sync.Once
	watchStop chan struct{}
}

// DeviceDescriptorBytes fetches the 18-byte device descriptor verbatim via
// a standard control transfer, so the descriptor mirror (C4) can hand the
// exact same bytes back to the host.
func (d *Device) DeviceDescriptorBytes() ([]byte, error) {
	buf := make([]byte, deviceDescriptorLen)
	n, err := d.rawControl(0x80, reqGetDescriptor, uint16(descTypeDevice)<<8, 0, buf, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("device: fetch device descriptor: %w", err)
	}
	return buf[:n], nil
}

// ConfigDescriptorBytes fetches one configuration descriptor (and its
// nested interface/endpoint descriptors) verbatim, by index. It first
// reads the 9-byte header to learn wTotalLength, then re-reads the full
// descriptor set in one transfer.
func (d *Device) ConfigDescriptorBytes(index uint8) ([]byte, error) {
	head := make([]byte, configHeaderLen)
	n, err := d.rawControl(0x80, reqGetDescriptor, (uint16(descTypeConfig)<<8)|uint16(index), 0, head, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("device: fetch config descriptor header: %w", err)
	}
	if n < configHeaderLen {
		return head[:n], nil
	}
	total := int(head[2]) | int(head[3])<<8
	if total <= configHeaderLen {
		return head[:n], nil
	}
	buf := make([]byte, total)
	n, err = d.rawControl(0x80, reqGetDescriptor, (uint16(descTypeConfig)<<8)|uint16(index), 0, buf, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("device: fetch config descriptor: %w", err)
	}
	return buf[:n], nil
}

// SetConfiguration issues SET_CONFIGURATION and drops any previously
// claimed interfaces/endpoints, which no longer apply once the
// configuration changes.
func (d *Device) SetConfiguration(value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeInterfacesLocked()
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	if value == 0 {
		_, err := d.handle.Control(0x00, 0x09 /* SET_CONFIGURATION */, 0, 0, nil)
		return classify(err)
	}
	cfg, err := d.handle.Config(value)
	if err != nil {
		return classify(err)
	}
	d.cfg = cfg
	return nil
}

// ClaimInterface claims interface n at alternate setting 0, detaching the
// kernel driver if one is bound (handled by gousb's auto-detach, enabled
// in Port.Open).
func (d *Device) ClaimInterface(n int) error {
	return d.SetAltSetting(n, 0)
}

// SetAltSetting selects alternate setting alt of interface n, opening its
// endpoints for subsequent Transfer calls and closing any endpoints that
// belonged to the interface's previous alternate setting.
func (d *Device) SetAltSetting(n, alt int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg == nil {
		return fmt.Errorf("device: set_alt_setting: no configuration claimed")
	}
	if old, ok := d.ifaces[n]; ok {
		d.closeEndpointsForInterfaceLocked(old)
		old.Close()
		delete(d.ifaces, n)
	}
	iface, err := d.cfg.Interface(n, alt)
	if err != nil {
		return classify(err)
	}
	d.ifaces[n] = iface
	for _, epDesc := range iface.Setting.Endpoints {
		addr := uint8(epDesc.Address)
		if addr&0x80 != 0 {
			if ep, epErr := iface.InEndpoint(epDesc.Number); epErr == nil {
				d.inEps[addr] = ep
			}
		} else {
			if ep, epErr := iface.OutEndpoint(epDesc.Number); epErr == nil {
				d.outEps[addr] = ep
			}
		}
	}
	return nil
}

// Reset issues a USB port reset.
func (d *Device) Reset() error {
	return classify(d.handle.Reset())
}

// Control forwards a control transfer to the device and returns the data
// stage bytes actually transferred: what the device sent (for IN), or the
// part of data the device accepted (for OUT).
func (d *Device) Control(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeout time.Duration) ([]byte, error) {
	n, err := d.rawControl(bmRequestType, bRequest, wValue, wIndex, data, timeout)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

func (d *Device) rawControl(bmRequestType, bRequest uint8, wValue, wIndex uint16, data []byte, timeout time.Duration) (int, error) {
	d.handle.ControlTimeout = timeout
	n, err := d.handle.Control(bmRequestType, bRequest, wValue, wIndex, data)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// Close releases all claimed interfaces, the configuration, and the
// underlying libusb device handle.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watchStop != nil {
		close(d.watchStop)
	}
	d.closeInterfacesLocked()
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	return d.handle.Close()
}

func (d *Device) closeInterfacesLocked() {
	for n, iface := range d.ifaces {
		d.closeEndpointsForInterfaceLocked(iface)
		iface.Close()
		delete(d.ifaces, n)
	}
}

func (d *Device) closeEndpointsForInterfaceLocked(iface *gousb.Interface) {
	for _, epDesc := range iface.Setting.Endpoints {
		addr := uint8(epDesc.Address)
		delete(d.inEps, addr)
		delete(d.outEps, addr)
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if gErr, ok := err.(gousb.Error); ok {
		switch gErr {
		case gousb.ErrorPipe:
			return ErrStalled
		case gousb.ErrorTimeout:
			return ErrTimeout
		case gousb.ErrorNoDevice, gousb.ErrorNotFound:
			return ErrShutdown
		case gousb.ErrorInterrupted:
			return ErrIncomplete
		}
	}
	return fmt.Errorf("%w: %v", ErrOther, err)
}
