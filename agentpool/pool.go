// Package agentpool tracks every live Agent by ID (C3), grounded on the
// teacher's core/discovery.go registry (a mutex-guarded map with a
// background sweep) generalized from service registration to agent
// lifecycle and eviction.
package agentpool

import (
	"context"
	"sync"
	"time"

	"github.com/nexusai/orchestrator/agent"
	"github.com/nexusai/orchestrator/core"
)

const (
	// maxAge evicts an agent regardless of activity once it has lived
	// this long, bounding leak from a cohort that never disposes cleanly.
	maxAge = time.Hour
	// idleEvictAfter evicts an agent that finished (succeeded/failed) and
	// has sat unclaimed this long.
	idleEvictAfter = 10 * time.Minute
)

type entry struct {
	agent     agent.Agent
	createdAt time.Time
	idleSince time.Time // zero while running
}

// Pool holds every spawned Agent for the lifetime of its cohort(s),
// grounded on the teacher's discovery registry shape but keyed by agent
// ID instead of service name, and with an eviction sweep instead of a
// TTL-expiring heartbeat.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry
	clock   core.Clock
	logger  core.ComponentLogger
}

// New creates an empty Pool. clock defaults to core.RealClock{} when nil,
// so tests can inject a core.FakeClock to exercise eviction deterministically.
func New(clock core.Clock, logger core.ComponentLogger) *Pool {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Pool{entries: make(map[string]*entry), clock: clock, logger: logger.WithComponent("agentpool")}
}

// Add registers a freshly spawned agent.
func (p *Pool) Add(a agent.Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[a.ID()] = &entry{agent: a, createdAt: p.clock.Now()}
}

// Get returns the agent with id, if still pooled.
func (p *Pool) Get(id string) (agent.Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// GetActive returns every agent currently in the running state.
func (p *Pool) GetActive() []agent.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	active := make([]agent.Agent, 0, len(p.entries))
	for _, e := range p.entries {
		if e.agent.State() == core.AgentRunning {
			active = append(active, e.agent)
		}
	}
	return active
}

// Remove drops id from the pool without disposing it; callers that
// already hold a reference and disposed it themselves use this to keep
// the pool from tracking a stale entry.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}

// CleanupAgent disposes the agent identified by id and removes it from
// the pool, tolerating an already-disposed agent.
func (p *Pool) CleanupAgent(ctx context.Context, id string) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return e.agent.Dispose(ctx, core.DefaultDisposeOptions())
}

// Metrics is a point-in-time snapshot for health/metrics endpoints.
type Metrics struct {
	Total    int
	Active   int
	Idle     int
	Disposed int
}

// GetMetrics reports current pool occupancy.
func (p *Pool) GetMetrics() Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m := Metrics{Total: len(p.entries)}
	for _, e := range p.entries {
		switch e.agent.State() {
		case core.AgentRunning:
			m.Active++
		case core.AgentDisposed:
			m.Disposed++
		default:
			m.Idle++
		}
	}
	return m
}

// Sweep evicts agents older than maxAge, or idle (succeeded/failed, not
// running) for longer than idleEvictAfter, disposing each before
// dropping it. Intended to run on a periodic ticker owned by the
// orchestrator's startup wiring.
func (p *Pool) Sweep(ctx context.Context) int {
	now := p.clock.Now()

	p.mu.Lock()
	var toEvict []agent.Agent
	for id, e := range p.entries {
		state := e.agent.State()
		if now.Sub(e.createdAt) >= maxAge {
			toEvict = append(toEvict, e.agent)
			delete(p.entries, id)
			continue
		}
		if state == core.AgentRunning {
			e.idleSince = time.Time{}
			continue
		}
		if e.idleSince.IsZero() {
			e.idleSince = now
			continue
		}
		if now.Sub(e.idleSince) >= idleEvictAfter {
			toEvict = append(toEvict, e.agent)
			delete(p.entries, id)
		}
	}
	p.mu.Unlock()

	for _, a := range toEvict {
		p.logger.Debug("evicting agent", map[string]interface{}{"agent_id": a.ID()})
		_ = a.Dispose(ctx, core.DefaultDisposeOptions())
	}
	return len(toEvict)
}

// Destroy disposes every pooled agent and clears the pool; orchestratord
// calls it during graceful shutdown.
func (p *Pool) Destroy(ctx context.Context) []error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.agent.Dispose(ctx, core.DefaultDisposeOptions()); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
