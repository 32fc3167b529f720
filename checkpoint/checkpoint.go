// Package checkpoint implements CheckpointService (C12): a write-ahead
// log for synthesis durability, keyed by task ID in core.JobStore's
// generic key/value surface. Grounded on the teacher's
// core/async_task.go Task/TaskStore pairing (a durable record mutated
// through explicit state transitions, recoverable at startup) adapted
// from task status to checkpoint pending/committed state.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// keyPrefix matches spec §6's nexus:checkpoints:<taskId> key scheme.
const keyPrefix = "nexus:checkpoints:"

// writeTTL bounds how long a pending checkpoint can survive
// undiscovered before the WAL entry itself expires; generous relative
// to the expected persistence window so a slow but successful commit
// still lands before expiry.
const writeTTL = 15 * time.Minute

// commitGrace is how long a committed checkpoint is kept around before
// being dropped, giving a brief window for diagnostics.
const commitGrace = time.Minute

// Service is the write-ahead log for one synthesis result per task.
type Service struct {
	store  core.JobStore
	clock  core.Clock
	logger core.ComponentLogger
}

func New(store core.JobStore, clock core.Clock, logger core.ComponentLogger) *Service {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Service{store: store, clock: clock, logger: logger.WithComponent("checkpoint")}
}

// WriteCheckpoint persists a pending checkpoint for taskID (§4.11).
func (s *Service) WriteCheckpoint(ctx context.Context, taskID, checkpointID string, result *core.ConsensusResult, agentCount int, meta core.CheckpointMetadata) error {
	cp := core.Checkpoint{
		TaskID:            taskID,
		CheckpointID:      checkpointID,
		SynthesisResult:   result,
		AgentCount:        agentCount,
		ConsensusStrength: result.ConsensusStrength,
		Metadata:          meta,
		State:             core.CheckpointPending,
		WrittenAt:         s.clock.Now(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return core.NewTaskError("checkpoint.WriteCheckpoint", core.CodeInternal, err).WithTask(taskID)
	}
	if err := s.store.Set(ctx, keyPrefix+taskID, string(data), writeTTL); err != nil {
		return core.NewTaskError("checkpoint.WriteCheckpoint", core.CodeDurability, err).WithTask(taskID)
	}
	return nil
}

// CommitCheckpoint transitions taskID's checkpoint to committed (I4),
// then schedules its removal after commitGrace by re-writing it with a
// short TTL rather than deleting immediately, so a status query racing
// the commit still observes the final state.
func (s *Service) CommitCheckpoint(ctx context.Context, taskID string) error {
	raw, ok, err := s.store.GetRaw(ctx, keyPrefix+taskID)
	if err != nil {
		return core.NewTaskError("checkpoint.CommitCheckpoint", core.CodeDurability, err).WithTask(taskID)
	}
	if !ok {
		return core.NewTaskError("checkpoint.CommitCheckpoint", core.CodeNotFound, core.ErrNotFound).WithTask(taskID)
	}
	var cp core.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return core.NewTaskError("checkpoint.CommitCheckpoint", core.CodeInternal, err).WithTask(taskID)
	}
	cp.State = core.CheckpointCommitted
	data, err := json.Marshal(cp)
	if err != nil {
		return core.NewTaskError("checkpoint.CommitCheckpoint", core.CodeInternal, err).WithTask(taskID)
	}
	if err := s.store.Set(ctx, keyPrefix+taskID, string(data), commitGrace); err != nil {
		return core.NewTaskError("checkpoint.CommitCheckpoint", core.CodeDurability, err).WithTask(taskID)
	}
	return nil
}

// ListPendingCheckpoints returns every non-committed checkpoint,
// intended for the startup recovery path (§4.11).
func (s *Service) ListPendingCheckpoints(ctx context.Context) ([]core.Checkpoint, error) {
	keys, err := s.store.ScanKeys(ctx, keyPrefix)
	if err != nil {
		return nil, core.NewTaskError("checkpoint.ListPendingCheckpoints", core.CodeDurability, err)
	}
	var pending []core.Checkpoint
	for _, key := range keys {
		raw, ok, err := s.store.GetRaw(ctx, key)
		if err != nil || !ok {
			continue
		}
		var cp core.Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			continue
		}
		if cp.State == core.CheckpointPending {
			pending = append(pending, cp)
		}
	}
	return pending, nil
}

// Replayer replays a pending checkpoint's durable persistence step
// (§4.12 step 7); returning nil means the checkpoint may be committed.
type Replayer func(ctx context.Context, cp core.Checkpoint) error

// RecoverPendingCheckpoints implements §4.11's recovery procedure:
// replay each pending checkpoint's persistence via replay, committing on
// success and logging-and-skipping on failure so one bad checkpoint
// doesn't block recovery of the rest.
func (s *Service) RecoverPendingCheckpoints(ctx context.Context, replay Replayer) (recovered, skipped int) {
	pending, err := s.ListPendingCheckpoints(ctx)
	if err != nil {
		s.logger.Error("failed to list pending checkpoints", map[string]interface{}{"error": err.Error()})
		return 0, 0
	}
	for _, cp := range pending {
		if err := replay(ctx, cp); err != nil {
			s.logger.Warn("checkpoint recovery replay failed, skipping", map[string]interface{}{"task_id": cp.TaskID, "error": err.Error()})
			skipped++
			continue
		}
		if err := s.CommitCheckpoint(ctx, cp.TaskID); err != nil {
			s.logger.Warn("checkpoint recovery commit failed", map[string]interface{}{"task_id": cp.TaskID, "error": err.Error()})
			skipped++
			continue
		}
		recovered++
	}
	return recovered, skipped
}
