package taskqueue

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/nexusai/orchestrator/core"
)

func TestQueue_EnqueueDequeueRelease(t *testing.T) {
	q := New(1, 0, core.RealClock{}, core.NoOpLogger{})

	if err := q.Enqueue(context.Background(), &Entry{TaskID: "t-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if got := q.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	entry, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if entry.TaskID != "t-1" {
		t.Errorf("Dequeue() TaskID = %q, want t-1", entry.TaskID)
	}
	if got := q.Running(); got != 1 {
		t.Errorf("Running() = %d, want 1 after Dequeue", got)
	}
	if got := q.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0 after Dequeue", got)
	}

	q.Release()
	if got := q.Running(); got != 0 {
		t.Errorf("Running() = %d, want 0 after Release", got)
	}
}

func TestQueue_Dequeue_BlocksUntilConcurrencySlotFrees(t *testing.T) {
	q := New(1, 0, core.RealClock{}, core.NoOpLogger{})
	ctx := context.Background()

	q.Enqueue(ctx, &Entry{TaskID: "first"})
	q.Enqueue(ctx, &Entry{TaskID: "second"})

	first, err := q.Dequeue(ctx)
	if err != nil || first.TaskID != "first" {
		t.Fatalf("Dequeue() = (%v, %v), want first", first, err)
	}

	done := make(chan *Entry, 1)
	go func() {
		e, _ := q.Dequeue(context.Background())
		done <- e
	}()

	select {
	case <-done:
		t.Fatal("Dequeue() returned the second entry before the first slot was released")
	case <-time.After(50 * time.Millisecond):
	}

	q.Release()

	select {
	case e := <-done:
		if e.TaskID != "second" {
			t.Errorf("Dequeue() after release = %q, want second", e.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue() did not unblock after Release")
	}
}

func TestQueue_Dequeue_ContextCancelled(t *testing.T) {
	q := New(1, 0, core.RealClock{}, core.NoOpLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dequeue() error = %v, want context.Canceled", err)
	}
}

func TestQueue_Enqueue_RejectsOverMemoryWatermark(t *testing.T) {
	ballast := make([]byte, 8<<20) // keeps the live heap well above 1MB
	defer runtime.KeepAlive(ballast)
	q := New(1, 1, core.RealClock{}, core.NoOpLogger{}) // 1MB watermark, certain to be exceeded
	err := q.Enqueue(context.Background(), &Entry{TaskID: "t-1"})
	if err == nil {
		t.Fatal("Enqueue() error = nil, want ErrMemoryPressure when heap exceeds the watermark")
	}
	if !errors.Is(err, core.ErrMemoryPressure) {
		t.Errorf("Enqueue() error = %v, want core.ErrMemoryPressure", err)
	}
}

func TestQueue_Sweep_EvictsStaleEntries(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	q := New(1, 0, clock, core.NoOpLogger{})

	q.Enqueue(context.Background(), &Entry{TaskID: "stale"})
	clock.Advance(6 * time.Minute) // past maxQueueAge (5m)
	q.Enqueue(context.Background(), &Entry{TaskID: "fresh"})

	expired := q.Sweep()
	if len(expired) != 1 || expired[0] != "stale" {
		t.Errorf("Sweep() = %v, want only [stale] expired", expired)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("Len() after Sweep = %d, want 1 (fresh entry remains)", got)
	}
}

func TestQueue_Sweep_NoneWhenFresh(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	q := New(1, 0, clock, core.NoOpLogger{})

	q.Enqueue(context.Background(), &Entry{TaskID: "t-1"})
	if expired := q.Sweep(); len(expired) != 0 {
		t.Errorf("Sweep() = %v, want none evicted while fresh", expired)
	}
}
