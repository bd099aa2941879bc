package proxy

import (
	"github.com/daedaluz/usbproxy/device"
	"github.com/daedaluz/usbproxy/inject"
	"github.com/daedaluz/usbproxy/queue"
	"github.com/daedaluz/usbproxy/rawgadget"
)

const (
	reqGetStatus        = 0x00
	reqGetDescriptor    = 0x06
	reqGetConfiguration = 0x08
	reqSetConfiguration = 0x09
	reqGetInterface     = 0x0a
	reqSetInterface     = 0x0b

	descTypeDevice = 0x01
	descTypeConfig = 0x02
)

func isStandardRequest(bmRequestType uint8) bool {
	return requestType(bmRequestType)&requestTypeMask == requestTypeStandard
}

func toInjectSetup(s rawgadget.SetupPacket) inject.SetupPacket {
	return inject.SetupPacket{
		BmRequestType: s.BmRequestType,
		BRequest:      s.BRequest,
		WValue:        s.WValue,
		WIndex:        s.WIndex,
		WLength:       s.WLength,
	}
}

func (e *Engine) handleControlSetup(setup rawgadget.SetupPacket) {
	if isStandardRequest(setup.BmRequestType) {
		switch setup.BRequest {
		case reqGetDescriptor:
			e.handleGetDescriptor(setup)
			return
		case reqSetConfiguration:
			e.handleSetConfiguration(setup)
			return
		case reqGetConfiguration:
			e.handleGetConfiguration(setup)
			return
		case reqGetInterface:
			e.handleGetInterface(setup)
			return
		case reqSetInterface:
			e.handleSetInterface(setup)
			return
		}
	}
	e.forwardControl(setup)
}

// handleGetDescriptor serves device and configuration descriptors from
// the mirror (never padding short reads), and forwards everything else
// (string descriptors and any non-standard descriptor type) to the real
// device.
func (e *Engine) handleGetDescriptor(setup rawgadget.SetupPacket) {
	descType := uint8(setup.WValue >> 8)
	index := uint8(setup.WValue)

	var raw []byte
	switch descType {
	case descTypeDevice:
		raw = e.tree.DeviceDescriptorBytes()
	case descTypeConfig:
		cfgRaw, err := e.tree.ConfigDescriptorBytes(int(index))
		if err != nil {
			e.stallEP0()
			return
		}
		raw = cfgRaw
	default:
		e.forwardControl(setup)
		return
	}
	if int(setup.WLength) < len(raw) {
		raw = raw[:setup.WLength]
	}
	e.replyIn(setup, raw)
}

// handleSetConfiguration tears down every pipeline, forwards the request
// to the real device, and (for a non-zero value) brings pipelines back
// up for every interface's alternate setting 0.
func (e *Engine) handleSetConfiguration(setup rawgadget.SetupPacket) {
	value := uint8(setup.WValue)
	e.tearDownAllPipelines()

	if err := e.dev.SetConfiguration(int(value)); err != nil {
		e.logger.Printf("set_configuration(%d): %v", value, err)
		e.stallEP0()
		return
	}

	if value == 0 {
		e.configured = false
		e.currentConfig = 0
		e.currentAlt = make(map[int]int)
		e.ackEP0()
		return
	}

	if _, ok := e.tree.FindConfigByValue(value); !ok {
		e.stallEP0()
		return
	}

	e.currentAlt = make(map[int]int)
	for _, iface := range e.tree.InterfaceNumbers(value) {
		if err := e.dev.ClaimInterface(iface); err != nil {
			e.logger.Printf("claim interface %d: %v", iface, err)
			continue
		}
		e.currentAlt[iface] = 0
		e.bringUpEndpoints(value, iface, 0)
	}
	e.currentConfig = value
	e.configured = true

	if err := e.gadget.Configure(); err != nil {
		e.logger.Printf("fatal: configure: %v", err)
		e.triggerShutdown()
		return
	}
}

func (e *Engine) handleGetConfiguration(setup rawgadget.SetupPacket) {
	value := byte(0)
	if e.configured {
		value = byte(e.currentConfig)
	}
	e.replyIn(setup, []byte{value})
}

func (e *Engine) handleGetInterface(setup rawgadget.SetupPacket) {
	iface := int(setup.WIndex)
	alt, ok := e.currentAlt[iface]
	if !ok {
		e.stallEP0()
		return
	}
	e.replyIn(setup, []byte{byte(alt)})
}

// handleSetInterface tears down the current alt's pipelines, forwards
// the request to the device, and either brings up the new alt's
// pipelines or, on device failure, best-effort restores the previous
// alt's pipelines without updating the alt map.
func (e *Engine) handleSetInterface(setup rawgadget.SetupPacket) {
	iface := int(setup.WIndex)
	newAlt := int(setup.WValue)
	oldAlt := e.currentAlt[iface]

	e.tearDownEndpoints(e.currentConfig, iface, oldAlt)

	if err := e.dev.SetAltSetting(iface, newAlt); err != nil {
		e.logger.Printf("set_interface(%d, %d): %v", iface, newAlt, err)
		e.bringUpEndpoints(e.currentConfig, iface, oldAlt)
		e.stallEP0()
		return
	}

	e.bringUpEndpoints(e.currentConfig, iface, newAlt)
	e.currentAlt[iface] = newAlt
	e.ackEP0()
}

// forwardControl proxies any other control request transparently,
// subject to the injection engine consulted before forwarding for OUT
// and after reading from the device for IN.
func (e *Engine) forwardControl(setup rawgadget.SetupPacket) {
	injSetup := toInjectSetup(setup)
	if setup.IsIn() {
		payload, err := e.dev.Control(setup.BmRequestType, setup.BRequest, setup.WValue, setup.WIndex, make([]byte, setup.WLength), e.cfg.ControlTimeout)
		if err != nil {
			if err == device.ErrStalled {
				e.stallEP0()
				return
			}
			e.logger.Printf("control forward (IN) failed: %v", err)
			e.stallEP0()
			return
		}
		action, out := e.cfg.RuleSet.ApplyControl(injSetup, payload, queue.MaxTransfer, e.logger.Printf)
		switch action {
		case inject.ActionStall:
			e.stallEP0()
		case inject.ActionDrop:
			e.replyIn(setup, nil)
		default:
			e.replyIn(setup, out)
		}
		return
	}

	data, err := e.gadget.EP0Read(int(setup.WLength))
	if err != nil {
		e.logger.Printf("ep0 read failed: %v", err)
		e.stallEP0()
		return
	}
	action, out := e.cfg.RuleSet.ApplyControl(injSetup, data, queue.MaxTransfer, e.logger.Printf)
	switch action {
	case inject.ActionStall:
		e.stallEP0()
		return
	case inject.ActionDrop:
		e.ackEP0()
		return
	}
	if _, err := e.dev.Control(setup.BmRequestType, setup.BRequest, setup.WValue, setup.WIndex, out, e.cfg.ControlTimeout); err != nil {
		if err == device.ErrStalled {
			e.stallEP0()
			return
		}
		e.logger.Printf("control forward (OUT) failed: %v", err)
		e.stallEP0()
		return
	}
	e.ackEP0()
}

// replyIn writes an IN transfer's data stage, truncating to wLength
// without padding.
func (e *Engine) replyIn(setup rawgadget.SetupPacket, data []byte) {
	if int(setup.WLength) < len(data) {
		data = data[:setup.WLength]
	}
	if err := e.gadget.EP0Write(data); err != nil {
		e.logger.Printf("ep0 write failed: %v", err)
	}
}

// ackEP0 acknowledges a transfer with no data stage payload, which some
// controllers require even for OUT-direction requests.
func (e *Engine) ackEP0() {
	if err := e.gadget.EP0Write(nil); err != nil {
		e.logger.Printf("ep0 ack failed: %v", err)
	}
}

func (e *Engine) stallEP0() {
	if err := e.gadget.EP0Stall(); err != nil {
		e.logger.Printf("ep0 stall failed: %v", err)
	}
}
