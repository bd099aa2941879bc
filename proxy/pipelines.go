package proxy

import (
	"context"
	"time"

	"github.com/daedaluz/usbproxy/descriptor"
	"github.com/daedaluz/usbproxy/device"
	"github.com/daedaluz/usbproxy/pipeline"
	"github.com/daedaluz/usbproxy/queue"
)

// bringUpEndpoints enables the gadget-side half of every endpoint active
// in configuration configValue, interface iface, alternate setting alt,
// and starts a pipeline per endpoint; the device-side endpoints are the
// ones ClaimInterface/SetAltSetting already opened. A failure
// enabling one endpoint is logged and that endpoint is skipped rather
// than aborting the whole configuration change.
func (e *Engine) bringUpEndpoints(configValue uint8, iface, alt int) {
	for _, ep := range e.tree.Endpoints(configValue, iface, alt) {
		if err := e.bringUpPipeline(ep); err != nil {
			e.logger.Printf("endpoint 0x%.2x: %v", ep.Address, err)
		}
	}
}

func (e *Engine) bringUpPipeline(ep descriptor.Endpoint) error {
	handle, err := e.gadget.EPEnable(endpointDescriptorBytes(ep))
	if err != nil {
		return err
	}

	typ := classifyTransferType(ep.Attributes)
	gside := gadgetSide{port: e.gadget, h: handle}
	devDir := device.DirectionOut
	if ep.Direction() == descriptor.DirectionIn {
		devDir = device.DirectionIn
	}
	dside := deviceSide{dev: e.dev, addr: ep.Address, dir: devDir, typ: typ}

	var source, sink pipeline.Side
	var dir queue.Direction
	if ep.Direction() == descriptor.DirectionIn {
		source, sink, dir = dside, gside, queue.DirectionIn
	} else {
		source, sink, dir = gside, dside, queue.DirectionOut
	}

	readTimeout, retry := e.timeoutAndRetryFor(typ)
	ctx, cancel := context.WithCancel(context.Background())
	p := pipeline.New(source, sink, pipeline.Config{
		EPAddress:   ep.Address,
		Direction:   dir,
		IsInterrupt: typ == device.TransferInterrupt,
		MaxTransfer: queue.MaxTransfer,
		ReadTimeout: readTimeout,
		Retry:       retry,
		Rules:       e.cfg.RuleSet,
		Logger:      e.logger,
	}, e.shutdown)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	e.pipelines[ep.Address] = &runningPipeline{cancel: cancel, done: done, gadget: handle}
	return nil
}

// tearDownEndpoints stops and disables every pipeline for the endpoints
// active in configuration configValue, interface iface, alternate
// setting alt.
func (e *Engine) tearDownEndpoints(configValue uint8, iface, alt int) {
	for _, ep := range e.tree.Endpoints(configValue, iface, alt) {
		e.tearDownPipeline(ep.Address)
	}
}

func (e *Engine) tearDownPipeline(addr uint8) {
	rp, ok := e.pipelines[addr]
	if !ok {
		return
	}
	delete(e.pipelines, addr)
	rp.cancel()
	select {
	case <-rp.done:
	case <-time.After(e.cfg.GraceWindow):
		e.logger.Printf("endpoint 0x%.2x: pipeline did not exit within grace window", addr)
	}
	if err := e.gadget.EPDisable(rp.gadget); err != nil {
		e.logger.Printf("endpoint 0x%.2x: disable failed: %v", addr, err)
	}
}

func (e *Engine) tearDownAllPipelines() {
	addrs := make([]uint8, 0, len(e.pipelines))
	for addr := range e.pipelines {
		addrs = append(addrs, addr)
	}
	for _, addr := range addrs {
		e.tearDownPipeline(addr)
	}
}

func (e *Engine) timeoutAndRetryFor(typ device.TransferType) (time.Duration, pipeline.RetryPolicy) {
	switch typ {
	case device.TransferBulk:
		return e.cfg.BulkTimeout, pipeline.BulkRetryPolicy
	default:
		return e.cfg.InterruptTimeout, pipeline.OnceRetryPolicy
	}
}

func classifyTransferType(bmAttributes uint8) device.TransferType {
	switch bmAttributes & 0x03 {
	case 0x02:
		return device.TransferBulk
	case 0x03:
		return device.TransferInterrupt
	default:
		return device.TransferIsochronous
	}
}

func endpointDescriptorBytes(ep descriptor.Endpoint) []byte {
	return []byte{
		7, descriptor.TypeEndpoint,
		ep.Address,
		ep.Attributes,
		byte(ep.MaxPacketSize), byte(ep.MaxPacketSize >> 8),
		ep.Interval,
	}
}
