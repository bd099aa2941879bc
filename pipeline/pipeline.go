// Package pipeline implements the per-endpoint bidirectional forwarding
// pipeline: a reader activity and a writer activity cooperating over a
// bounded queue, applying the injection engine in the writer and
// honoring halt/recovery and shutdown semantics on both sides.
package pipeline

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/daedaluz/usbproxy/inject"
	"github.com/daedaluz/usbproxy/queue"
)

// Side is the transport-agnostic read/write half of a pipeline. device.Device
// and rawgadget.Port (wrapped per-endpoint) both satisfy this through small
// adapters owned by the proxy package, which is the only place that knows
// both concrete transports.
type Side interface {
	Read(maxLen int, timeout time.Duration, shutdown <-chan struct{}) ([]byte, error)
	Write(data []byte, timeout time.Duration, shutdown <-chan struct{}) error
	ClearHalt() error
}

// Halted and Shutdown are the transport outcomes every Side must map its
// own sentinel errors onto so this package stays transport-agnostic.
var (
	ErrHalted   = errHalted{}
	ErrShutdown = errShutdown{}
)

type errHalted struct{}

func (errHalted) Error() string { return "pipeline: halted" }

type errShutdown struct{}

func (errShutdown) Error() string { return "pipeline: shutdown" }

// RetryPolicy bounds how many times the writer retries a halted transfer
// before giving up.
type RetryPolicy struct {
	MaxRetries int
}

// BulkRetryPolicy and OnceRetryPolicy are the two transfer-class retry
// policies: bulk transfers retry repeatedly after clearing a halt,
// interrupt/iso transfers retry exactly once.
var (
	BulkRetryPolicy = RetryPolicy{MaxRetries: 5}
	OnceRetryPolicy = RetryPolicy{MaxRetries: 1}
)

// Config bundles everything a Pipeline needs beyond its two Sides.
type Config struct {
	EPAddress   uint8
	Direction   queue.Direction
	IsInterrupt bool
	MaxTransfer int
	ReadTimeout time.Duration
	Retry       RetryPolicy
	Rules       *inject.RuleSet
	Logger      *log.Logger
}

// Pipeline forwards one direction of traffic for one data endpoint:
// Source is read from, injected, and written to Sink.
type Pipeline struct {
	source, sink Side
	cfg          Config
	queue        *queue.Queue
	shutdown     <-chan struct{}
}

// New builds a Pipeline. shutdown is the broadcast channel the owner
// closes to tear every pipeline down.
func New(source, sink Side, cfg Config, shutdown <-chan struct{}) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "pipeline: ", log.LstdFlags)
	}
	return &Pipeline{
		source:   source,
		sink:     sink,
		cfg:      cfg,
		queue:    queue.New(queue.DefaultCapacity, shutdown),
		shutdown: shutdown,
	}
}

// Run starts the reader and writer activities and blocks until both
// terminate, which happens when ctx is cancelled (stopping this pipeline
// alone) or the shutdown channel given to New is closed (stopping every
// pipeline). Transport errors other than Halted and Shutdown do not end
// the pipeline: the reader tries the read again and the writer logs the
// failed write and moves on to the next record. Neither activity returns
// an error other than ErrShutdown, so Run returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	parent := p.shutdown
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-parent:
		}
		close(stop)
	}()
	p.shutdown = stop
	p.queue = queue.New(queue.DefaultCapacity, stop)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop() })
	g.Go(func() error { return p.writeLoop() })
	if err := g.Wait(); err != nil && err != ErrShutdown {
		return err
	}
	return nil
}

func (p *Pipeline) readLoop() error {
	seq := uint64(0)
	for {
		select {
		case <-p.shutdown:
			return ErrShutdown
		default:
		}
		data, err := p.source.Read(p.cfg.MaxTransfer, p.cfg.ReadTimeout, p.shutdown)
		switch {
		case err == nil:
			rec, recErr := queue.NewRecord(p.cfg.EPAddress, p.cfg.Direction, data, seq)
			if recErr != nil {
				p.cfg.Logger.Printf("drop oversized read of %d bytes: %v", len(data), recErr)
				continue
			}
			seq++
			if pushErr := p.queue.Push(rec); pushErr != nil {
				return ErrShutdown
			}
		case err == ErrHalted:
			if clearErr := p.source.ClearHalt(); clearErr != nil {
				p.cfg.Logger.Printf("clear halt on source failed: %v", clearErr)
			}
		case err == ErrShutdown:
			return ErrShutdown
		default:
			// Timeout and similar transient errors: loop and re-check shutdown.
		}
	}
}

func (p *Pipeline) writeLoop() error {
	for {
		rec, err := p.queue.Pop()
		if err != nil {
			return ErrShutdown
		}
		payload := p.cfg.Rules.ApplyData(p.cfg.EPAddress, p.cfg.IsInterrupt, rec.Data, p.cfg.MaxTransfer, p.cfg.Logger.Printf)
		if writeErr := p.writeWithRetry(payload); writeErr != nil {
			if writeErr == ErrShutdown {
				return ErrShutdown
			}
			p.cfg.Logger.Printf("write failed after retries: %v", writeErr)
		}
	}
}

func (p *Pipeline) writeWithRetry(payload []byte) error {
	attempts := p.cfg.Retry.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := p.sink.Write(payload, p.cfg.ReadTimeout, p.shutdown)
		if err == nil {
			return nil
		}
		lastErr = err
		if err == ErrShutdown {
			return ErrShutdown
		}
		if err != ErrHalted {
			return err
		}
		if clearErr := p.sink.ClearHalt(); clearErr != nil {
			return clearErr
		}
	}
	return lastErr
}
