package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/nexusai/orchestrator/agent"
	"github.com/nexusai/orchestrator/core"
)

// fakeAgent is a minimal stand-in for agent.Agent so pool behavior can
// be exercised without a model gateway.
type fakeAgent struct {
	id       string
	state    core.AgentState
	disposed bool
}

func (f *fakeAgent) ID() string                 { return f.id }
func (f *fakeAgent) Profile() core.AgentProfile  { return core.AgentProfile{} }
func (f *fakeAgent) State() core.AgentState      { return f.state }
func (f *fakeAgent) Execute(ctx context.Context, shared agent.SharedContext, onChunk func(core.Chunk)) (*core.ExecutionResult, error) {
	return &core.ExecutionResult{AgentID: f.id, Success: true}, nil
}
func (f *fakeAgent) Dispose(ctx context.Context, opts core.DisposeOptions) error {
	f.disposed = true
	f.state = core.AgentDisposed
	return nil
}

func TestPool_AddGetRemove(t *testing.T) {
	pool := New(nil, nil)
	a := &fakeAgent{id: "a-1", state: core.AgentRunning}
	pool.Add(a)

	got, ok := pool.Get("a-1")
	if !ok || got.ID() != "a-1" {
		t.Fatalf("Get(a-1) = (%v, %v), want the added agent", got, ok)
	}

	pool.Remove("a-1")
	if _, ok := pool.Get("a-1"); ok {
		t.Error("Get() after Remove found the agent, want it gone")
	}
}

func TestPool_GetActive(t *testing.T) {
	pool := New(nil, nil)
	pool.Add(&fakeAgent{id: "running", state: core.AgentRunning})
	pool.Add(&fakeAgent{id: "idle", state: core.AgentIdle})
	pool.Add(&fakeAgent{id: "failed", state: core.AgentFailed})

	active := pool.GetActive()
	if len(active) != 1 || active[0].ID() != "running" {
		t.Errorf("GetActive() = %v, want only the running agent", active)
	}
}

func TestPool_GetMetrics(t *testing.T) {
	pool := New(nil, nil)
	pool.Add(&fakeAgent{id: "running", state: core.AgentRunning})
	pool.Add(&fakeAgent{id: "idle", state: core.AgentIdle})
	pool.Add(&fakeAgent{id: "disposed", state: core.AgentDisposed})

	m := pool.GetMetrics()
	if m.Total != 3 || m.Active != 1 || m.Disposed != 1 || m.Idle != 1 {
		t.Errorf("GetMetrics() = %+v, want Total=3 Active=1 Disposed=1 Idle=1", m)
	}
}

func TestPool_CleanupAgent_DisposesAndRemoves(t *testing.T) {
	pool := New(nil, nil)
	a := &fakeAgent{id: "a-1", state: core.AgentSucceeded}
	pool.Add(a)

	if err := pool.CleanupAgent(context.Background(), "a-1"); err != nil {
		t.Fatalf("CleanupAgent() error = %v", err)
	}
	if !a.disposed {
		t.Error("CleanupAgent() did not dispose the agent")
	}
	if _, ok := pool.Get("a-1"); ok {
		t.Error("CleanupAgent() left the agent in the pool")
	}
}

func TestPool_CleanupAgent_MissingIsNoop(t *testing.T) {
	pool := New(nil, nil)
	if err := pool.CleanupAgent(context.Background(), "missing"); err != nil {
		t.Errorf("CleanupAgent(missing) error = %v, want nil", err)
	}
}

func TestPool_Sweep_EvictsByMaxAge(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	pool := New(clock, nil)
	a := &fakeAgent{id: "a-1", state: core.AgentRunning}
	pool.Add(a)

	clock.Advance(2 * time.Hour) // exceeds maxAge (1h) regardless of activity
	evicted := pool.Sweep(context.Background())
	if evicted != 1 {
		t.Errorf("Sweep() evicted %d, want 1", evicted)
	}
	if !a.disposed {
		t.Error("Sweep() did not dispose the evicted agent")
	}
	if _, ok := pool.Get("a-1"); ok {
		t.Error("Sweep() left the evicted agent in the pool")
	}
}

func TestPool_Sweep_EvictsIdleAfterGracePeriod(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	pool := New(clock, nil)
	a := &fakeAgent{id: "a-1", state: core.AgentSucceeded}
	pool.Add(a)

	// First sweep only marks the entry idle, it doesn't evict yet.
	evicted := pool.Sweep(context.Background())
	if evicted != 0 {
		t.Fatalf("first Sweep() evicted %d, want 0 (idleSince just set)", evicted)
	}

	clock.Advance(11 * time.Minute) // exceeds idleEvictAfter (10m)
	evicted = pool.Sweep(context.Background())
	if evicted != 1 {
		t.Errorf("second Sweep() evicted %d, want 1", evicted)
	}
}

func TestPool_Destroy_DisposesEverything(t *testing.T) {
	pool := New(nil, nil)
	a1 := &fakeAgent{id: "a-1", state: core.AgentRunning}
	a2 := &fakeAgent{id: "a-2", state: core.AgentIdle}
	pool.Add(a1)
	pool.Add(a2)

	errs := pool.Destroy(context.Background())
	if len(errs) != 0 {
		t.Errorf("Destroy() errs = %v, want none", errs)
	}
	if !a1.disposed || !a2.disposed {
		t.Error("Destroy() left an agent undisposed")
	}
	if m := pool.GetMetrics(); m.Total != 0 {
		t.Errorf("GetMetrics() after Destroy = %+v, want empty pool", m)
	}
}
