package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/daedaluz/usbproxy/inject"
	"github.com/daedaluz/usbproxy/queue"
)

// fakeSide is an in-memory Side backed by channels, used to drive a
// Pipeline end to end without any real transport.
type fakeSide struct {
	mu        sync.Mutex
	toRead    [][]byte
	readIdx   int
	haltOnce  bool
	written   [][]byte
	clearHalt int
}

func (f *fakeSide) Read(maxLen int, timeout time.Duration, shutdown <-chan struct{}) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.haltOnce {
		f.haltOnce = false
		return nil, ErrHalted
	}
	if f.readIdx >= len(f.toRead) {
		select {
		case <-shutdown:
			return nil, ErrShutdown
		case <-time.After(timeout):
			return nil, errTimeout{}
		}
	}
	data := f.toRead[f.readIdx]
	f.readIdx++
	return data, nil
}

func (f *fakeSide) Write(data []byte, timeout time.Duration, shutdown <-chan struct{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeSide) ClearHalt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearHalt++
	return nil
}

type errTimeout struct{}

func (errTimeout) Error() string { return "fake: timeout" }

func TestPipelineForwardsRecordsInOrder(t *testing.T) {
	source := &fakeSide{toRead: [][]byte{{1, 2, 3}, {4, 5, 6}}}
	sink := &fakeSide{}
	shutdown := make(chan struct{})
	p := New(source, sink, Config{
		EPAddress:   0x81,
		Direction:   queue.DirectionIn,
		MaxTransfer: queue.MaxTransfer,
		ReadTimeout: 20 * time.Millisecond,
		Retry:       OnceRetryPolicy,
		Rules:       inject.Empty(),
	}, shutdown)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	deadline := time.After(time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.written)
		sink.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for forwarded records")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(shutdown)
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.written) != 2 {
		t.Fatalf("wrote %d records, want 2", len(sink.written))
	}
	if sink.written[0][0] != 1 || sink.written[1][0] != 4 {
		t.Errorf("records out of order: %v", sink.written)
	}
}

func TestPipelineAppliesInjectionRules(t *testing.T) {
	source := &fakeSide{toRead: [][]byte{{0x01, 0x00, 0x00, 0x00}}}
	sink := &fakeSide{}
	shutdown := make(chan struct{})
	rs, err := inject.Compile([]byte(`{"int":[{"ep_address":129,"enable":true,"content_pattern":["\\x01\\x00\\x00\\x00"],"replacement":"\\x02\\x00\\x00\\x00"}]}`))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p := New(source, sink, Config{
		EPAddress:   0x81,
		Direction:   queue.DirectionIn,
		IsInterrupt: true,
		MaxTransfer: queue.MaxTransfer,
		ReadTimeout: 20 * time.Millisecond,
		Retry:       OnceRetryPolicy,
		Rules:       rs,
	}, shutdown)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	deadline := time.After(time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.written)
		sink.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for forwarded record")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(shutdown)
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []byte{0x02, 0x00, 0x00, 0x00}
	if len(sink.written) != 1 || string(sink.written[0]) != string(want) {
		t.Errorf("written = %v, want [%v]", sink.written, want)
	}
}

func TestPipelineClearsHaltOnSourceAndContinues(t *testing.T) {
	source := &fakeSide{haltOnce: true, toRead: [][]byte{{9, 9}}}
	sink := &fakeSide{}
	shutdown := make(chan struct{})
	p := New(source, sink, Config{
		EPAddress:   0x02,
		Direction:   queue.DirectionOut,
		MaxTransfer: queue.MaxTransfer,
		ReadTimeout: 20 * time.Millisecond,
		Retry:       BulkRetryPolicy,
		Rules:       inject.Empty(),
	}, shutdown)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	deadline := time.After(time.Second)
	for {
		source.mu.Lock()
		cleared := source.clearHalt
		source.mu.Unlock()
		if cleared >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ClearHalt call")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(shutdown)
	<-done
}
