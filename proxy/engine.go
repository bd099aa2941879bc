package proxy

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/daedaluz/usbproxy/descriptor"
	"github.com/daedaluz/usbproxy/device"
	"github.com/daedaluz/usbproxy/inject"
	"github.com/daedaluz/usbproxy/pipeline"
	"github.com/daedaluz/usbproxy/rawgadget"
)

// Config is the process entry point's library-level surface: everything
// needed to open the peripheral, bring up the gadget, and run the proxy
// to completion.
type Config struct {
	VendorID, ProductID               uint16
	GadgetDriverName, GadgetDeviceName string
	GadgetDevicePath                   string
	Speed                               rawgadget.Speed
	RuleSet                             *inject.RuleSet
	MaxPacketSize0Floor                 uint8
	Verbosity                           int
	DeviceOpenDeadline                  time.Duration
	GraceWindow                         time.Duration
	ControlTimeout                      time.Duration
	InterruptTimeout                    time.Duration
	BulkTimeout                         time.Duration
	VBusMilliAmps                       uint32
}

func (c Config) withDefaults() Config {
	if c.GadgetDevicePath == "" {
		c.GadgetDevicePath = rawgadget.DefaultDevicePath
	}
	if c.DeviceOpenDeadline == 0 {
		c.DeviceOpenDeadline = 10 * time.Second
	}
	if c.GraceWindow == 0 {
		c.GraceWindow = 500 * time.Millisecond
	}
	if c.ControlTimeout == 0 {
		c.ControlTimeout = 5 * time.Second
	}
	if c.InterruptTimeout == 0 {
		c.InterruptTimeout = 100 * time.Millisecond
	}
	if c.BulkTimeout == 0 {
		c.BulkTimeout = time.Second
	}
	if c.RuleSet == nil {
		c.RuleSet = inject.Empty()
	}
	return c
}

// runningPipeline tracks one live data-endpoint pipeline so SET_INTERFACE
// and SET_CONFIGURATION can tear it down again.
type runningPipeline struct {
	cancel context.CancelFunc
	done   chan error
	gadget rawgadget.EPHandle
}

// Engine is the EP0 state machine plus the resources it drives. It is
// not safe for concurrent use beyond the single loop Run executes; the
// disconnect watcher and pipeline goroutines only ever signal it via the
// shutdown channel and their own done channels.
type Engine struct {
	cfg    Config
	port   *device.Port
	dev    *device.Device
	gadget *rawgadget.Port
	tree   *descriptor.Tree
	logger *log.Logger

	currentConfig uint8
	configured    bool
	currentAlt    map[int]int
	pipelines     map[uint8]*runningPipeline

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New opens the real peripheral, builds its descriptor mirror, and
// brings up the raw-gadget port, but does not yet make the gadget
// visible to the host — call Run for that.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	logger := log.New(log.Writer(), "proxy: ", log.LstdFlags)

	port := device.NewPort(cfg.Verbosity)
	dev, err := port.Open(cfg.VendorID, cfg.ProductID, cfg.DeviceOpenDeadline)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("proxy: open device: %w", err)
	}

	tree, err := descriptor.Build(dev, cfg.MaxPacketSize0Floor)
	if err != nil {
		dev.Close()
		port.Close()
		return nil, fmt.Errorf("proxy: build descriptor mirror: %w", err)
	}
	logger.Printf("peripheral vid=0x%.4x pid=0x%.4x class=%s configs=%d",
		cfg.VendorID, cfg.ProductID, tree.Device().ClassName(), tree.NumConfigurations())

	gadget, err := rawgadget.Open(cfg.GadgetDevicePath)
	if err != nil {
		dev.Close()
		port.Close()
		return nil, fmt.Errorf("proxy: open gadget: %w", err)
	}

	firstConfig, err := tree.ConfigDescriptorBytes(0)
	if err != nil {
		gadget.Close()
		dev.Close()
		port.Close()
		return nil, fmt.Errorf("proxy: no configuration descriptor available: %w", err)
	}
	if err := gadget.Init(cfg.GadgetDriverName, cfg.GadgetDeviceName, cfg.Speed, tree.DeviceDescriptorBytes(), firstConfig); err != nil {
		gadget.Close()
		dev.Close()
		port.Close()
		return nil, fmt.Errorf("proxy: init gadget: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		port:       port,
		dev:        dev,
		gadget:     gadget,
		tree:       tree,
		logger:     logger,
		currentAlt: make(map[int]int),
		pipelines:  make(map[uint8]*runningPipeline),
		shutdown:   make(chan struct{}),
	}, nil
}

// Run makes the gadget visible to the host and drives the EP0 loop
// until shutdown, returning the process exit code: 0 for a normal
// shutdown or device disconnect, non-zero for a setup or fatal
// transport failure.
func (e *Engine) Run() int {
	defer e.teardown()

	if err := e.gadget.VBusDraw(e.cfg.VBusMilliAmps); err != nil {
		e.logger.Printf("vbus_draw failed (non-fatal): %v", err)
	}
	if err := e.gadget.Run(); err != nil {
		e.logger.Printf("fatal: gadget run: %v", err)
		return 1
	}

	e.dev.WatchDisconnect(func() {
		e.logger.Printf("device disconnected")
		e.triggerShutdown()
	})

	fatal := false
	for {
		select {
		case <-e.shutdown:
			return exitCode(fatal)
		default:
		}
		ev, err := e.gadget.EventFetch(time.Second, e.shutdown)
		if err != nil {
			switch err {
			case rawgadget.ErrTimeout:
				continue
			case rawgadget.ErrShutdown:
				return exitCode(fatal)
			default:
				e.logger.Printf("fatal: event_fetch: %v", err)
				fatal = true
				e.triggerShutdown()
				return exitCode(fatal)
			}
		}
		e.handleEvent(ev)
	}
}

func exitCode(fatal bool) int {
	if fatal {
		return 1
	}
	return 0
}

func (e *Engine) handleEvent(ev rawgadget.Event) {
	switch ev.Kind {
	case rawgadget.EventConnect:
		e.logger.Printf("connect")
	case rawgadget.EventReset:
		e.logger.Printf("reset")
		e.tearDownAllPipelines()
		e.configured = false
		e.currentConfig = 0
		e.currentAlt = make(map[int]int)
	case rawgadget.EventSuspend:
		e.logger.Printf("suspend")
	case rawgadget.EventResume:
		e.logger.Printf("resume")
	case rawgadget.EventDisconnect:
		e.logger.Printf("gadget reported disconnect")
		e.triggerShutdown()
	case rawgadget.EventControlSetup:
		e.handleControlSetup(ev.Setup)
	}
}

func (e *Engine) triggerShutdown() {
	e.shutdownOnce.Do(func() { close(e.shutdown) })
}

func (e *Engine) teardown() {
	e.triggerShutdown()
	e.tearDownAllPipelines()
	e.gadget.Close()
	e.dev.Close()
	e.port.Close()
}
