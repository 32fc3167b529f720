// Package resilience provides the per-model circuit breaker used by
// selector.ModelSelector to avoid models that are currently failing,
// ported from the teacher's resilience.CircuitBreaker three-state
// machine (closed/open/half-open) and adapted to be keyed by model ID
// instead of a single named breaker.
package resilience

import (
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// State mirrors the teacher's CircuitState.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ModelBreaker tracks one model's health as a failure count (reset by a
// success) that opens the breaker at ErrorThreshold, reopening the gate
// after SleepWindow and requiring HalfOpenSuccesses consecutive
// successes to fully close again — the same shape as the teacher's
// CircuitBreaker, simplified to keep no sliding window or buckets since
// the orchestration-scale call volume per model is low relative to the
// teacher's service-mesh use case.
type ModelBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successesHalf   int
	openedAt        time.Time
	lastErr         error

	ErrorThreshold    int
	SleepWindow       time.Duration
	HalfOpenSuccesses int

	clock core.Clock
}

// NewModelBreaker creates a breaker with spec §4.3's 5-minute sliding
// avoidance window.
func NewModelBreaker(clock core.Clock) *ModelBreaker {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &ModelBreaker{
		state:             StateClosed,
		ErrorThreshold:    1,
		SleepWindow:       5 * time.Minute,
		HalfOpenSuccesses: 1,
		clock:             clock,
	}
}

// CanExecute reports whether a call against this model should be
// attempted right now.
func (b *ModelBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.SleepWindow {
			b.state = StateHalfOpen
			b.successesHalf = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordFailure marks a call failed (markModelAsFailed, §4.3).
func (b *ModelBreaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.ErrorThreshold {
		b.state = StateOpen
		b.openedAt = b.clock.Now()
	}
}

// RecordSuccess marks a call succeeded (markModelAsWorking, §4.3).
func (b *ModelBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastErr = nil
	if b.state == StateHalfOpen {
		b.successesHalf++
		if b.successesHalf >= b.HalfOpenSuccesses {
			b.state = StateClosed
		}
		return
	}
	b.state = StateClosed
}

// Snapshot returns the breaker's current state for health endpoints.
func (b *ModelBreaker) Snapshot() (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.lastErr
}

// Registry holds one ModelBreaker per model ID, created lazily.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*ModelBreaker
	clock    core.Clock
}

func NewRegistry(clock core.Clock) *Registry {
	return &Registry{breakers: make(map[string]*ModelBreaker), clock: clock}
}

func (r *Registry) For(modelID string) *ModelBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[modelID]
	if !ok {
		b = NewModelBreaker(r.clock)
		r.breakers[modelID] = b
	}
	return b
}
