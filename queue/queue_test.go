package queue

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	shutdown := make(chan struct{})
	q := New(4, shutdown)

	for i := 0; i < 4; i++ {
		rec, err := NewRecord(0x81, DirectionIn, []byte{byte(i)}, uint64(i))
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		if err := q.Push(rec); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		rec, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if rec.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, rec.Seq)
		}
	}
}

func TestQueuePushBlocksWhenFull(t *testing.T) {
	shutdown := make(chan struct{})
	q := New(1, shutdown)

	first, _ := NewRecord(0x02, DirectionOut, []byte{1}, 0)
	if err := q.Push(first); err != nil {
		t.Fatalf("Push: %v", err)
	}

	second, _ := NewRecord(0x02, DirectionOut, []byte{2}, 1)
	done := make(chan struct{})
	go func() {
		if err := q.Push(second); err != nil {
			t.Errorf("Push: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Push on a full queue returned before capacity freed up")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := q.Pop(); err != nil {
		t.Fatalf("Pop: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push never unblocked after Pop freed capacity")
	}
}

func TestQueueShutdownUnblocksPushAndPop(t *testing.T) {
	shutdown := make(chan struct{})
	q := New(1, shutdown)

	rec, _ := NewRecord(0x81, DirectionIn, []byte{1}, 0)
	if err := q.Push(rec); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// A second queue bound to the same shutdown signal, left empty so a
	// Pop on it blocks.
	empty := New(1, shutdown)

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	go func() {
		defer wg.Done()
		// Queue is full and nothing pops it; this Push can only return via shutdown.
		extra, _ := NewRecord(0x81, DirectionIn, []byte{2}, 1)
		errs <- q.Push(extra)
	}()
	go func() {
		defer wg.Done()
		// Queue is empty and nothing pushes to it; this Pop can only return via shutdown.
		if _, err := empty.Pop(); err != nil {
			errs <- err
		}
	}()

	time.Sleep(10 * time.Millisecond)
	close(shutdown)
	wg.Wait()
	close(errs)

	sawShutdown := false
	for err := range errs {
		if err == ErrShutdown {
			sawShutdown = true
		}
	}
	if !sawShutdown {
		t.Fatal("expected at least one ErrShutdown after shutdown was signaled")
	}
}

func TestNewRecordRejectsOversizedPayload(t *testing.T) {
	_, err := NewRecord(0x81, DirectionIn, make([]byte, MaxTransfer+1), 0)
	if err == nil {
		t.Fatal("expected an error for a payload larger than MaxTransfer")
	}
}
