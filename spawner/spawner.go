// Package spawner implements ParallelSpawner (C5): batched concurrent
// instantiation of agents (or any cancellable unit of work) with a
// per-item timeout and an optional single retry, grounded on the
// teacher's core/async_task.go worker-pool shape (bounded concurrency,
// context-scoped per-item execution, result aggregation) generalized
// from "process queued tasks" to "fan out N creation requests and
// collect per-request outcomes."
package spawner

import (
	"context"
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// OutcomeStatus is the per-request result kind (§4.4).
type OutcomeStatus string

const (
	Fulfilled OutcomeStatus = "fulfilled"
	Rejected  OutcomeStatus = "rejected"
)

// Request is one unit of work to spawn; Fn does the actual creation
// (e.g. gateway handshake, agent construction) and must respect ctx's
// deadline.
type Request struct {
	ID string
	Fn func(ctx context.Context) (interface{}, error)
}

// Outcome is the per-request result, mirroring spec §4.4's
// {id, status, value?, reason?, durationMs} shape.
type Outcome struct {
	ID         string
	Status     OutcomeStatus
	Value      interface{}
	Reason     error
	DurationMs int64
}

// Options configures one spawnParallel call.
type Options struct {
	MaxConcurrency int
	Timeout        time.Duration
	RetryOnFailure bool
	BatchSize      int
}

// DefaultOptions returns a conservative single-batch, no-retry config.
func DefaultOptions() Options {
	return Options{MaxConcurrency: 8, Timeout: 30 * time.Second, BatchSize: 8}
}

// retryPause is the fixed pause before the single retry §4.4 allows.
const retryPause = time.Second

// Spawner runs Requests in batches of BatchSize, each item racing its own
// Timeout, retrying once after retryPause when RetryOnFailure is set.
type Spawner struct {
	clock  core.Clock
	logger core.ComponentLogger
}

func New(clock core.Clock, logger core.ComponentLogger) *Spawner {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Spawner{clock: clock, logger: logger.WithComponent("spawner")}
}

// SpawnParallel executes requests in batches of opts.BatchSize, all
// members of a batch running concurrently (bounded by MaxConcurrency
// within the batch), returning one Outcome per request in input order.
// ctx cancellation aborts all in-flight spawns; already-completed
// outcomes are still returned.
func (s *Spawner) SpawnParallel(ctx context.Context, requests []Request, opts Options) []Outcome {
	if opts.BatchSize <= 0 {
		opts.BatchSize = len(requests)
		if opts.BatchSize == 0 {
			opts.BatchSize = 1
		}
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = opts.BatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	outcomes := make([]Outcome, len(requests))

	for start := 0; start < len(requests); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(requests) {
			end = len(requests)
		}
		batch := requests[start:end]

		var wg sync.WaitGroup
		sem := make(chan struct{}, opts.MaxConcurrency)
		for i, req := range batch {
			idx := start + i
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int, req Request) {
				defer wg.Done()
				defer func() { <-sem }()
				outcomes[idx] = s.runOne(ctx, req, opts)
			}(idx, req)
		}
		wg.Wait()

		if ctx.Err() != nil {
			// Mark any untouched remainder (later batches) as rejected so
			// the caller always gets one Outcome per request.
			for i := end; i < len(requests); i++ {
				outcomes[i] = Outcome{ID: requests[i].ID, Status: Rejected, Reason: ctx.Err()}
			}
			break
		}
	}
	return outcomes
}

func (s *Spawner) runOne(ctx context.Context, req Request, opts Options) Outcome {
	start := s.clock.Now()
	value, err := s.attempt(ctx, req, opts.Timeout)
	if err != nil && opts.RetryOnFailure {
		select {
		case <-ctx.Done():
			return Outcome{ID: req.ID, Status: Rejected, Reason: ctx.Err(), DurationMs: s.elapsed(start)}
		case <-s.clock.After(retryPause):
		}
		value, err = s.attempt(ctx, req, opts.Timeout)
	}
	if err != nil {
		return Outcome{ID: req.ID, Status: Rejected, Reason: err, DurationMs: s.elapsed(start)}
	}
	return Outcome{ID: req.ID, Status: Fulfilled, Value: value, DurationMs: s.elapsed(start)}
}

func (s *Spawner) attempt(ctx context.Context, req Request, timeout time.Duration) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := req.Fn(attemptCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-attemptCtx.Done():
		return nil, core.NewTaskError("spawner.attempt", core.CodeCancelled, attemptCtx.Err())
	}
}

func (s *Spawner) elapsed(start time.Time) int64 {
	return s.clock.Now().Sub(start).Milliseconds()
}
