package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexusai/orchestrator/core"
)

type fakeAnalyticsStore struct {
	cleanupCalls int
	deleted      int64
	err          error
}

func (s *fakeAnalyticsStore) LookupPattern(ctx context.Context, errorType, service, operation string) (*core.ErrorPattern, error) {
	return nil, core.ErrNotFound
}
func (s *fakeAnalyticsStore) RecordAttempt(ctx context.Context, patternID, taskID, agentID string, attempt int, success bool, execMs int64, errMsg string) error {
	return nil
}
func (s *fakeAnalyticsStore) UpdateOutcome(ctx context.Context, patternID string, success bool) error {
	return nil
}
func (s *fakeAnalyticsStore) CleanupOldAttempts(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.cleanupCalls++
	if s.err != nil {
		return 0, s.err
	}
	if olderThan != retentionWindow {
		return 0, errors.New("unexpected retention window")
	}
	return s.deleted, nil
}

func TestRecoveryScheduler_RunCleanup_InvokesStoreWithRetentionWindow(t *testing.T) {
	store := &fakeAnalyticsStore{deleted: 42}
	sched := NewRecoveryScheduler(store, core.NoOpLogger{})

	sched.runCleanup(context.Background())

	if store.cleanupCalls != 1 {
		t.Errorf("CleanupOldAttempts called %d times, want 1", store.cleanupCalls)
	}
}

func TestRecoveryScheduler_RunCleanup_LogsOnFailureWithoutPanicking(t *testing.T) {
	store := &fakeAnalyticsStore{err: errors.New("db unavailable")}
	sched := NewRecoveryScheduler(store, core.NoOpLogger{})

	sched.runCleanup(context.Background())
	if store.cleanupCalls != 1 {
		t.Errorf("CleanupOldAttempts called %d times, want 1 even on failure", store.cleanupCalls)
	}
}

func TestRecoveryScheduler_StartRegistersJobAndStopHalts(t *testing.T) {
	store := &fakeAnalyticsStore{}
	sched := NewRecoveryScheduler(store, core.NoOpLogger{})

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sched.entryID == 0 {
		t.Error("Start() did not register a cron entry")
	}
	sched.Stop()
}
