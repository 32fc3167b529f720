package retryintel

import (
	"context"
	"testing"
	"time"

	"github.com/nexusai/orchestrator/core"
)

func TestExecutor_SucceedsOnFirstAttempt(t *testing.T) {
	store := newFakeAnalyticsStore()
	clock := core.NewFakeClock(time.Unix(0, 0))
	analyzer := NewAnalyzer(store, clock, core.NoOpLogger{})
	exec := NewExecutor(analyzer, clock, core.NoOpLogger{})

	rc := core.RetryContext{TaskID: "t-1", AgentID: "a-1", Operation: "gateway.Complete", Config: core.RetryConfig{MaxRetries: 2}}
	calls := 0
	out, err := exec.ExecuteWithIntelligentRetry(context.Background(), rc, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, nil)
	if err != nil {
		t.Fatalf("ExecuteWithIntelligentRetry() error = %v", err)
	}
	if out != "ok" {
		t.Errorf("ExecuteWithIntelligentRetry() = %q, want %q", out, "ok")
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	store := newFakeAnalyticsStore()
	clock := core.NewFakeClock(time.Unix(0, 0))
	analyzer := NewAnalyzer(store, clock, core.NoOpLogger{})
	exec := NewExecutor(analyzer, clock, core.NoOpLogger{})

	var events []Event
	sink := func(e Event) { events = append(events, e) }

	rc := core.RetryContext{TaskID: "t-1", AgentID: "a-1", Operation: "gateway.Complete", Config: core.RetryConfig{MaxRetries: 3, BackoffMs: []int64{1, 1, 1}}}
	calls := 0

	// FakeClock.After returns an already-fired channel, so the retry
	// loop's backoff wait never actually blocks in this test.
	out, err := exec.ExecuteWithIntelligentRetry(context.Background(), rc, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", core.NewTaskError("gateway.Complete", core.CodeTransientUpstream, core.ErrTransientUpstream)
		}
		return "done", nil
	}, sink)
	if err != nil {
		t.Fatalf("ExecuteWithIntelligentRetry() error = %v", err)
	}
	if out != "done" {
		t.Errorf("ExecuteWithIntelligentRetry() = %q, want %q", out, "done")
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
	if store.attempts == 0 {
		t.Error("RecordAttempt was never called on the failed attempt")
	}

	var sawBackoff bool
	for _, e := range events {
		if e.Type == "retry:backoff" {
			sawBackoff = true
		}
	}
	if !sawBackoff {
		t.Error("expected a retry:backoff event before the successful attempt")
	}
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	store := newFakeAnalyticsStore()
	clock := core.NewFakeClock(time.Unix(0, 0))
	analyzer := NewAnalyzer(store, clock, core.NoOpLogger{})
	exec := NewExecutor(analyzer, clock, core.NoOpLogger{})

	rc := core.RetryContext{TaskID: "t-1", AgentID: "a-1", Operation: "gateway.Complete", Config: core.RetryConfig{MaxRetries: 3}}
	calls := 0
	_, err := exec.ExecuteWithIntelligentRetry(context.Background(), rc, func(ctx context.Context) (string, error) {
		calls++
		return "", &core.TaskError{Op: "gateway.Complete", Code: core.CodeValidation, Err: core.ErrValidation}
	}, nil)
	if err == nil {
		t.Fatal("ExecuteWithIntelligentRetry() error = nil, want a validation error")
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (no retry on non-retryable error)", calls)
	}
}

func TestExecutor_ExhaustsRetries(t *testing.T) {
	store := newFakeAnalyticsStore()
	clock := core.NewFakeClock(time.Unix(0, 0))
	analyzer := NewAnalyzer(store, clock, core.NoOpLogger{})
	exec := NewExecutor(analyzer, clock, core.NoOpLogger{})

	rc := core.RetryContext{TaskID: "t-1", AgentID: "a-1", Operation: "gateway.Complete", Config: core.RetryConfig{MaxRetries: 1, BackoffMs: []int64{1}}}
	calls := 0

	_, err := exec.ExecuteWithIntelligentRetry(context.Background(), rc, func(ctx context.Context) (string, error) {
		calls++
		return "", core.NewTaskError("gateway.Complete", core.CodeTransientUpstream, core.ErrTransientUpstream)
	}, nil)
	if err == nil {
		t.Fatal("ExecuteWithIntelligentRetry() error = nil, want ErrMaxRetriesExceeded")
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2 (MaxRetries=1 means attempt 0 and 1)", calls)
	}
}
