// Package taskqueue implements TaskQueue (C6): a bounded in-process FIFO
// with max-concurrency admission, a per-entry TimeoutMs that the queue
// carries but does not enforce, a health loop that
// evicts stale entries, and memory-watermark backpressure. Grounded on
// the teacher's core/async_task.go TaskQueue/TaskStore split (Enqueue +
// Dequeue + background eviction) adapted into a single in-process
// structure since this engine's queue is a scheduling buffer in front of
// the orchestrator, not the durable cross-process queue that role plays
// in jobmanager/ (backed by core.JobStore instead).
package taskqueue

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// maxQueueAge evicts an admitted-but-undequeued task after 5 minutes
// (§4.5's health loop).
const maxQueueAge = 5 * time.Minute

// Entry is one queued unit of work.
type Entry struct {
	TaskID      string
	TimeoutMs   int64
	EnqueuedAt  time.Time
	Work        func(ctx context.Context) error
}

// Queue is a FIFO with a configurable concurrency ceiling, a memory
// watermark admission check, and a health sweep for stale entries.
type Queue struct {
	mu             sync.Mutex
	items          *list.List // of *Entry
	running        int
	maxConcurrent  int
	memWatermarkMB uint64
	clock          core.Clock
	logger         core.ComponentLogger

	notifyCh chan struct{}
}

// New creates a Queue. maxConcurrent defaults to 1 (orchestration's
// default per §4.5); memWatermarkMB of 0 disables the memory check.
func New(maxConcurrent int, memWatermarkMB uint64, clock core.Clock, logger core.ComponentLogger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Queue{
		items:          list.New(),
		maxConcurrent:  maxConcurrent,
		memWatermarkMB: memWatermarkMB,
		clock:          clock,
		logger:         logger.WithComponent("taskqueue"),
		notifyCh:       make(chan struct{}, 1),
	}
}

// Enqueue admits a task, rejecting it with ErrMemoryPressure if the
// configured heap watermark is exceeded.
func (q *Queue) Enqueue(ctx context.Context, e *Entry) error {
	if q.memWatermarkMB > 0 && q.heapMB() > q.memWatermarkMB {
		return core.NewTaskError("taskqueue.Enqueue", core.CodeResourceExhausted, core.ErrMemoryPressure).WithTask(e.TaskID)
	}
	e.EnqueuedAt = q.clock.Now()

	q.mu.Lock()
	q.items.PushBack(e)
	q.mu.Unlock()

	q.notify()
	return nil
}

// heapMB reports current heap usage; swappable in tests by overriding
// via a build that doesn't call runtime.ReadMemStats, but kept simple
// here since the watermark is advisory backpressure, not an exact gate.
func (q *Queue) heapMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc / (1024 * 1024)
}

func (q *Queue) notify() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a slot is available (running < maxConcurrent) and
// an entry is queued, or ctx is done. It reserves the concurrency slot;
// callers must call Release when the task finishes.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	for {
		q.mu.Lock()
		if q.running < q.maxConcurrent && q.items.Len() > 0 {
			front := q.items.Front()
			q.items.Remove(front)
			q.running++
			q.mu.Unlock()
			return front.Value.(*Entry), nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notifyCh:
		case <-q.clock.After(100 * time.Millisecond):
		}
	}
}

// Release frees the concurrency slot a prior Dequeue reserved.
func (q *Queue) Release() {
	q.mu.Lock()
	if q.running > 0 {
		q.running--
	}
	q.mu.Unlock()
	q.notify()
}

// Sweep evicts entries that have waited longer than maxQueueAge,
// returning their task IDs so the caller can fail them with
// ErrQueueExpired. Intended to run on a periodic ticker.
func (q *Queue) Sweep() []string {
	now := q.clock.Now()
	var expired []string

	q.mu.Lock()
	var next *list.Element
	for e := q.items.Front(); e != nil; e = next {
		next = e.Next()
		entry := e.Value.(*Entry)
		if now.Sub(entry.EnqueuedAt) >= maxQueueAge {
			q.items.Remove(e)
			expired = append(expired, entry.TaskID)
		}
	}
	q.mu.Unlock()

	for _, id := range expired {
		q.logger.Warn("task expired in queue", map[string]interface{}{"task_id": id})
	}
	return expired
}

// Len reports the number of currently queued (not yet dequeued) entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Running reports the number of concurrently executing tasks.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}
