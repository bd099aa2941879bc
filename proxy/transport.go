// Package proxy implements the EP0 state machine and top-level Engine:
// the component that owns current_config, current_alt, the pipeline
// table, and the shutdown broadcast, and that drives every other
// package (descriptor, inject, pipeline, device, rawgadget) to move
// bytes between a real peripheral and the host the raw-gadget device
// emulates it to.
package proxy

import (
	"time"

	"github.com/daedaluz/usbproxy/device"
	"github.com/daedaluz/usbproxy/pipeline"
	"github.com/daedaluz/usbproxy/rawgadget"
)

// gadgetSide adapts one rawgadget endpoint handle to pipeline.Side.
type gadgetSide struct {
	port *rawgadget.Port
	h    rawgadget.EPHandle
}

func (s gadgetSide) Read(maxLen int, timeout time.Duration, shutdown <-chan struct{}) ([]byte, error) {
	data, err := s.port.EPRead(s.h, maxLen, timeout, shutdown)
	return data, translateGadgetErr(err)
}

func (s gadgetSide) Write(data []byte, timeout time.Duration, shutdown <-chan struct{}) error {
	return translateGadgetErr(s.port.EPWrite(s.h, data, timeout, shutdown))
}

func (s gadgetSide) ClearHalt() error {
	return translateGadgetErr(s.port.EPClearHalt(s.h))
}

func translateGadgetErr(err error) error {
	switch err {
	case nil:
		return nil
	case rawgadget.ErrHalted:
		return pipeline.ErrHalted
	case rawgadget.ErrShutdown:
		return pipeline.ErrShutdown
	default:
		return err
	}
}

// deviceSide adapts one device endpoint address to pipeline.Side. The
// shutdown channel is accepted for interface parity but not consulted
// directly: device.Device.Transfer already bounds each call with
// timeout, and the pipeline's read/write loops poll shutdown between
// calls, so the grace window is still honored in aggregate.
type deviceSide struct {
	dev   *device.Device
	addr  uint8
	dir   device.Direction
	typ   device.TransferType
}

func (s deviceSide) Read(maxLen int, timeout time.Duration, shutdown <-chan struct{}) ([]byte, error) {
	data, err := s.dev.Transfer(s.addr, s.dir, s.typ, nil, maxLen, timeout)
	return data, translateDeviceErr(err)
}

func (s deviceSide) Write(data []byte, timeout time.Duration, shutdown <-chan struct{}) error {
	_, err := s.dev.Transfer(s.addr, s.dir, s.typ, data, len(data), timeout)
	return translateDeviceErr(err)
}

func (s deviceSide) ClearHalt() error {
	return translateDeviceErr(s.dev.ClearHalt(s.addr))
}

func translateDeviceErr(err error) error {
	switch err {
	case nil:
		return nil
	case device.ErrHalted, device.ErrStalled:
		return pipeline.ErrHalted
	case device.ErrShutdown:
		return pipeline.ErrShutdown
	default:
		return err
	}
}
