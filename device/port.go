// Package device implements the device-facing port: opening the real
// peripheral, fetching its descriptors verbatim, and forwarding
// control/bulk/interrupt/iso transfers to it.
//
// Unlike rawgadget (which talks to a Linux-specific character device this
// module owns the ioctl encoding for), the "userspace USB library" here is
// a genuine external collaborator: github.com/google/gousb, the libusb
// binding used elsewhere in this codebase's dependency set. Port and
// Device exist so the rest of this proxy never imports gousb directly.
package device

import (
	"time"

	"github.com/google/gousb"
)

// Port opens peripherals by vendor/product id. A single Port is shared by
// the whole process; Device handles it returns are not safe for
// concurrent use beyond a control-path/data-path split: the control path
// confined to the EP0 state machine, the data path to one reader and one
// writer per endpoint.
type Port struct {
	ctx *gousb.Context
}

// NewPort creates a Port and its underlying libusb context.
func NewPort(verbosity int) *Port {
	ctx := gousb.NewContext()
	ctx.Debug(verbosity)
	return &Port{ctx: ctx}
}

// Close releases the libusb context. Call after every Device opened from
// this Port has been closed.
func (p *Port) Close() error {
	return p.ctx.Close()
}

// Open blocks, retrying with exponential backoff, until a device matching
// vendorID/productID appears or deadline elapses.
func (p *Port) Open(vendorID, productID uint16, deadline time.Duration) (*Device, error) {
	const (
		initialBackoff = 50 * time.Millisecond
		maxBackoff     = time.Second
	)
	backoff := initialBackoff
	giveUpAt := time.Now().Add(deadline)
	for {
		handle, err := p.ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(productID))
		if err == nil && handle != nil {
			// Best-effort: not every backend/platform supports
			// kernel-driver auto-detach; failure here is not fatal.
			_ = handle.SetAutoDetach(true)
			return &Device{
				handle:    handle,
				ifaces:    make(map[int]*gousb.Interface),
				inEps:     make(map[uint8]*gousb.InEndpoint),
				outEps:    make(map[uint8]*gousb.OutEndpoint),
				vendorID:  vendorID,
				productID: productID,
			}, nil
		}
		if time.Now().After(giveUpAt) {
			return nil, ErrDeviceNotFound
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
