package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/nexusai/orchestrator/core"
)

func TestModelBreaker_OpensOnFailureAndRecoversAfterSleepWindow(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	b := NewModelBreaker(clock)

	if !b.CanExecute() {
		t.Fatal("CanExecute() = false before any failure, want true")
	}

	b.RecordFailure(errors.New("timeout"))
	state, _ := b.Snapshot()
	if state != StateOpen {
		t.Fatalf("Snapshot() state = %v, want StateOpen after one failure (ErrorThreshold=1)", state)
	}
	if b.CanExecute() {
		t.Error("CanExecute() = true immediately after opening, want false")
	}

	clock.Advance(5 * time.Minute)
	if !b.CanExecute() {
		t.Error("CanExecute() = false after SleepWindow elapsed, want true (half-open)")
	}
	state, _ = b.Snapshot()
	if state != StateHalfOpen {
		t.Errorf("Snapshot() state = %v, want StateHalfOpen", state)
	}
}

func TestModelBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	b := NewModelBreaker(clock)

	b.RecordFailure(errors.New("boom"))
	clock.Advance(5 * time.Minute)
	b.CanExecute() // transitions to half-open

	b.RecordSuccess()
	state, err := b.Snapshot()
	if state != StateClosed {
		t.Errorf("Snapshot() state = %v, want StateClosed after a half-open success", state)
	}
	if err != nil {
		t.Errorf("Snapshot() err = %v, want nil after success", err)
	}
}

func TestModelBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := core.NewFakeClock(time.Unix(0, 0))
	b := NewModelBreaker(clock)

	b.RecordFailure(errors.New("boom"))
	clock.Advance(5 * time.Minute)
	b.CanExecute()

	b.RecordFailure(errors.New("still failing"))
	state, _ := b.Snapshot()
	if state != StateOpen {
		t.Errorf("Snapshot() state = %v, want StateOpen after a half-open failure", state)
	}
}

func TestRegistry_ForReturnsSameBreakerPerModel(t *testing.T) {
	reg := NewRegistry(core.NewFakeClock(time.Unix(0, 0)))
	b1 := reg.For("gpt-4")
	b2 := reg.For("gpt-4")
	if b1 != b2 {
		t.Error("For() returned distinct breakers for the same modelID, want the same instance")
	}

	b3 := reg.For("claude-3")
	if b1 == b3 {
		t.Error("For() returned the same breaker for distinct modelIDs")
	}
}
