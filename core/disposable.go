package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ResourceScope wraps a Disposable with guaranteed, idempotent, timeout-
// bounded cleanup (C2). The disposed flag is flipped atomically BEFORE
// the underlying Dispose runs, eliminating the re-entrant double-dispose
// race the teacher's circuit breaker avoids with its own atomic state
// flips in resilience/circuit_breaker.go — generalized here into a
// reusable wrapper instead of being reimplemented per resource kind.
type ResourceScope struct {
	name     string
	resource Disposable
	disposed atomic.Bool
	mu       sync.Mutex

	disposedAt   time.Time
	disposeErr   error
}

// NewResourceScope wraps resource under name for the census and logs.
func NewResourceScope(name string, resource Disposable) *ResourceScope {
	return &ResourceScope{name: name, resource: resource}
}

// GetResource returns the wrapped resource, failing with
// ErrUseAfterDispose if Dispose has already run or started.
func (s *ResourceScope) GetResource() (Disposable, error) {
	if s.disposed.Load() {
		return nil, ErrUseAfterDispose
	}
	return s.resource, nil
}

// Use runs fn with the wrapped resource and guarantees Dispose runs
// afterward regardless of how fn returns, including panics: the defer
// recovers, disposes, then re-panics so the caller's own recovery (if
// any) still sees the original panic.
func (s *ResourceScope) Use(ctx context.Context, fn func(Disposable) error) (err error) {
	defer func() {
		disposeErr := s.Dispose(ctx, DefaultDisposeOptions())
		if err == nil {
			err = disposeErr
		}
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	return fn(s.resource)
}

// Dispose is idempotent: the second and subsequent calls return the
// first call's result without invoking the underlying resource's
// Dispose again.
func (s *ResourceScope) Dispose(ctx context.Context, opts DisposeOptions) error {
	if !s.disposed.CompareAndSwap(false, true) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.disposeErr
	}

	start := globalClock.Now()
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		done <- s.resource.Dispose(ctx, opts)
	}()

	var disposeErr error
	select {
	case disposeErr = <-done:
	case <-time.After(timeout):
		disposeErr = ErrTimeout
	}

	result := disposeErr
	if opts.SuppressErrors {
		result = nil
	}

	s.mu.Lock()
	s.disposeErr = result
	s.disposedAt = globalClock.Now()
	s.mu.Unlock()

	census.record(s.name, disposeErr, globalClock.Now().Sub(start))

	return result
}

// IsDisposed reports whether Dispose has been invoked.
func (s *ResourceScope) IsDisposed() bool { return s.disposed.Load() }

var globalClock Clock = RealClock{}

// disposeCensus tracks aggregate disposal stats for leak detection and
// operational dashboards, mirroring the teacher's pattern of exposing
// framework-internal counters via core.GetGlobalMetricsRegistry.
type disposeCensus struct {
	mu          sync.Mutex
	totalDisposed int64
	failed        int64
	totalLatency  time.Duration
	live          map[string]time.Time
}

var census = &disposeCensus{live: make(map[string]time.Time)}

func (c *disposeCensus) record(name string, err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDisposed++
	c.totalLatency += latency
	if err != nil {
		c.failed++
	}
	delete(c.live, name)
}

// TrackLive registers a resource as live for leak-detection purposes.
// Call when a ResourceScope is created; it is removed automatically on
// Dispose.
func TrackLive(name string) {
	census.mu.Lock()
	defer census.mu.Unlock()
	census.live[name] = globalClock.Now()
}

// CensusSnapshot is the aggregate disposal census (§4.1).
type CensusSnapshot struct {
	TotalDisposed int64
	Failed        int64
	AvgLatency    time.Duration
	LiveCount     int
}

// GetCensus returns a point-in-time snapshot of the global disposal census.
func GetCensus() CensusSnapshot {
	census.mu.Lock()
	defer census.mu.Unlock()
	avg := time.Duration(0)
	if census.totalDisposed > 0 {
		avg = census.totalLatency / time.Duration(census.totalDisposed)
	}
	return CensusSnapshot{
		TotalDisposed: census.totalDisposed,
		Failed:        census.failed,
		AvgLatency:    avg,
		LiveCount:     len(census.live),
	}
}

// DisposeAll disposes every scope passed to it in parallel and waits for
// all of them, used on graceful shutdown (C16).
func DisposeAll(ctx context.Context, scopes []*ResourceScope, opts DisposeOptions) []error {
	errs := make([]error, len(scopes))
	var wg sync.WaitGroup
	wg.Add(len(scopes))
	for i, s := range scopes {
		go func(i int, s *ResourceScope) {
			defer wg.Done()
			errs[i] = s.Dispose(ctx, opts)
		}(i, s)
	}
	wg.Wait()
	return errs
}
