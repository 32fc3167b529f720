package spawner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexusai/orchestrator/core"
)

func TestSpawner_SpawnParallel_AllSucceed(t *testing.T) {
	s := New(core.RealClock{}, core.NoOpLogger{})
	reqs := []Request{
		{ID: "a", Fn: func(ctx context.Context) (interface{}, error) { return "a-value", nil }},
		{ID: "b", Fn: func(ctx context.Context) (interface{}, error) { return "b-value", nil }},
	}

	outcomes := s.SpawnParallel(context.Background(), reqs, DefaultOptions())
	if len(outcomes) != 2 {
		t.Fatalf("SpawnParallel() returned %d outcomes, want 2", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Status != Fulfilled {
			t.Errorf("outcome[%d].Status = %v, want Fulfilled", i, o.Status)
		}
		if o.ID != reqs[i].ID {
			t.Errorf("outcome[%d].ID = %q, want %q (order preserved)", i, o.ID, reqs[i].ID)
		}
	}
}

func TestSpawner_SpawnParallel_PartialFailure(t *testing.T) {
	s := New(core.RealClock{}, core.NoOpLogger{})
	wantErr := errors.New("construction failed")
	reqs := []Request{
		{ID: "ok", Fn: func(ctx context.Context) (interface{}, error) { return "value", nil }},
		{ID: "bad", Fn: func(ctx context.Context) (interface{}, error) { return nil, wantErr }},
	}

	outcomes := s.SpawnParallel(context.Background(), reqs, DefaultOptions())
	if outcomes[0].Status != Fulfilled {
		t.Errorf("outcomes[0].Status = %v, want Fulfilled", outcomes[0].Status)
	}
	if outcomes[1].Status != Rejected || !errors.Is(outcomes[1].Reason, wantErr) {
		t.Errorf("outcomes[1] = %+v, want Rejected with %v", outcomes[1], wantErr)
	}
}

func TestSpawner_SpawnParallel_TimeoutRejectsSlowRequest(t *testing.T) {
	s := New(core.RealClock{}, core.NoOpLogger{})
	reqs := []Request{
		{ID: "slow", Fn: func(ctx context.Context) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}

	outcomes := s.SpawnParallel(context.Background(), reqs, Options{Timeout: 10 * time.Millisecond, BatchSize: 1, MaxConcurrency: 1})
	if outcomes[0].Status != Rejected {
		t.Errorf("outcomes[0].Status = %v, want Rejected on timeout", outcomes[0].Status)
	}
}

func TestSpawner_SpawnParallel_RetryOnFailureSucceedsSecondAttempt(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	s := New(clock, core.NoOpLogger{})

	attempts := 0
	reqs := []Request{
		{ID: "flaky", Fn: func(ctx context.Context) (interface{}, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("transient")
			}
			return "recovered", nil
		}},
	}

	outcomes := s.SpawnParallel(context.Background(), reqs, Options{Timeout: time.Second, RetryOnFailure: true, BatchSize: 1, MaxConcurrency: 1})
	if outcomes[0].Status != Fulfilled {
		t.Errorf("outcomes[0].Status = %v, want Fulfilled after retry", outcomes[0].Status)
	}
	if attempts != 2 {
		t.Errorf("fn called %d times, want 2 (one retry)", attempts)
	}
}

func TestSpawner_SpawnParallel_BatchesRespectBatchSize(t *testing.T) {
	s := New(core.RealClock{}, core.NoOpLogger{})
	var mu struct{}
	_ = mu

	reqs := make([]Request, 5)
	for i := range reqs {
		id := i
		reqs[i] = Request{ID: string(rune('a' + id)), Fn: func(ctx context.Context) (interface{}, error) { return id, nil }}
	}

	outcomes := s.SpawnParallel(context.Background(), reqs, Options{BatchSize: 2, MaxConcurrency: 2, Timeout: time.Second})
	if len(outcomes) != 5 {
		t.Fatalf("SpawnParallel() returned %d outcomes, want 5", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Status != Fulfilled {
			t.Errorf("outcome[%d].Status = %v, want Fulfilled", i, o.Status)
		}
	}
}

func TestSpawner_SpawnParallel_CancelledContextRejectsRemainder(t *testing.T) {
	s := New(core.RealClock{}, core.NoOpLogger{})
	ctx, cancel := context.WithCancel(context.Background())

	reqs := []Request{
		{ID: "first", Fn: func(ctx context.Context) (interface{}, error) {
			cancel()
			return "done", nil
		}},
		{ID: "second", Fn: func(ctx context.Context) (interface{}, error) { return "unreached", nil }},
	}

	outcomes := s.SpawnParallel(ctx, reqs, Options{BatchSize: 1, MaxConcurrency: 1, Timeout: time.Second})
	if outcomes[1].Status != Rejected {
		t.Errorf("outcomes[1].Status = %v, want Rejected once ctx is cancelled", outcomes[1].Status)
	}
}
