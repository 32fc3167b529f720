// Package store adapts the core's named external collaborators
// (MemoryStore, JobStore, AnalyticsStore, §6) onto concrete backing
// systems: Redis for the job queue and memory cache tier, Postgres for
// retry analytics. Grounded on the teacher's redis_task_queue.go /
// redis_client.go connection-and-namespacing style and the Redis
// Streams usage in the pack's centerfire-intelligence agent (XAdd per
// event, consumed downstream), generalized here from a fire-and-forget
// event stream into a job queue read through a consumer group. Stream
// entries are not XAcked on job completion and pending entries are not
// reclaimed, so a job whose worker dies is not redelivered.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nexusai/orchestrator/core"
)

const (
	streamKey  = "nexus:tasks:stream"
	groupName  = "nexus-workers"
	stateKeyFmt = "nexus:tasks:state:%s"
	jobTTL     = 24 * time.Hour
)

// RedisJobStore implements core.JobStore (§6) over Redis Streams:
// Enqueue is XAdd, Reserve is XReadGroup against a shared consumer
// group so every job is delivered to exactly one worker at a time, Ack
// marks the job's status record completed (it does not XAck the stream
// entry). The generic Set/GetRaw/Delete/ScanKeys surface (used by
// checkpoint.Service's write-ahead log) is plain string keys under the
// same client, keeping one Redis connection for both roles the way the
// teacher's RedisClient multiplexes several framework concerns over one
// pool with DB/namespace isolation.
type RedisJobStore struct {
	client *redis.Client
	logger core.ComponentLogger
}

// NewRedisJobStore wires client against Redis; it lazily creates the
// consumer group on first Reserve call since XGroupCreate fails if the
// stream doesn't exist yet (MKSTREAM handles that).
func NewRedisJobStore(client *redis.Client, logger core.ComponentLogger) *RedisJobStore {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisJobStore{client: client, logger: logger.WithComponent("store.redis_jobstore")}
}

func (s *RedisJobStore) ensureGroup(ctx context.Context) {
	err := s.client.XGroupCreateMkStream(ctx, streamKey, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		s.logger.Debug("group create attempted", map[string]interface{}{"error": err.Error()})
	}
}

type jobRecord struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
	Tenant core.TenantContext     `json:"tenant"`
}

// Enqueue appends a job to the stream and seeds its status record
// (§4.14, §6's "each attempt receives an idempotency jobId").
func (s *RedisJobStore) Enqueue(ctx context.Context, jobType string, params map[string]interface{}, opts core.EnqueueOptions) (string, error) {
	jobID := fmt.Sprintf("%s-%d", jobType, time.Now().UnixNano())
	rec := jobRecord{ID: jobID, Type: jobType, Params: params, Tenant: opts.Tenant}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal job record: %w", err)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"job_id": jobID, "data": string(data)},
	}).Err(); err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	state := core.JobState{JobID: jobID, Type: jobType, Status: core.StatusPending, CreatedAt: time.Now()}
	if err := s.setState(ctx, jobID, state); err != nil {
		return "", err
	}
	return jobID, nil
}

// Reserve claims the next undelivered job for worker via the shared
// consumer group, returning nil, nil when the stream has nothing ready
// within the read's block window.
func (s *RedisJobStore) Reserve(ctx context.Context, worker string) (*core.Job, error) {
	s.ensureGroup(ctx)

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: worker,
		Streams:  []string{streamKey, ">"},
		Count:    1,
		Block:    2 * time.Second,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	raw, _ := msg.Values["data"].(string)
	var rec jobRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		_ = s.client.XAck(ctx, streamKey, groupName, msg.ID).Err()
		return nil, fmt.Errorf("unmarshal job record %s: %w", msg.ID, err)
	}

	if state, err := s.Get(ctx, rec.ID); err == nil {
		state.Status = core.StatusRunning
		state.StartedAt = time.Now()
		_ = s.setState(ctx, rec.ID, *state)
	}

	return &core.Job{JobID: rec.ID, Type: rec.Type, Params: rec.Params, Tenant: rec.Tenant}, nil
}

// Ack marks jobID completed in its status record. The stream entry is
// not XAcked and stays in the consumer group's pending list.
func (s *RedisJobStore) Ack(ctx context.Context, jobID string) error {
	state, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	state.Status = core.StatusCompleted
	state.CompletedAt = time.Now()
	return s.setState(ctx, jobID, *state)
}

// Fail records a failure reason without requeueing; the teacher's
// reliable-queue pattern would move the entry to a dead-letter list,
// left out here since no SPEC_FULL component reads one back.
func (s *RedisJobStore) Fail(ctx context.Context, jobID string, reason string) error {
	state, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	state.Status = core.StatusFailed
	state.Error = reason
	state.CompletedAt = time.Now()
	return s.setState(ctx, jobID, *state)
}

// Progress updates jobID's completion percentage.
func (s *RedisJobStore) Progress(ctx context.Context, jobID string, pct int) error {
	state, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	state.Progress = pct
	return s.setState(ctx, jobID, *state)
}

// Get reads jobID's current status record.
func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*core.JobState, error) {
	raw, ok, err := s.GetRaw(ctx, fmt.Sprintf(stateKeyFmt, jobID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound
	}
	var state core.JobState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal job state: %w", err)
	}
	return &state, nil
}

func (s *RedisJobStore) setState(ctx context.Context, jobID string, state core.JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	return s.Set(ctx, fmt.Sprintf(stateKeyFmt, jobID), string(data), jobTTL)
}

// Set/GetRaw/Delete/ScanKeys are the generic key/value surface
// checkpoint.Service's write-ahead log uses against this same client
// (§6's "Keys have 24h TTL; nexus:tasks:* prefix; nexus:plans:* for
// plan objects").
func (s *RedisJobStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisJobStore) GetRaw(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisJobStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// ScanKeys iterates keys matching prefix+"*" using SCAN rather than
// KEYS, matching the teacher's redis_client.go preference for
// non-blocking cursor-based iteration over a production Redis.
func (s *RedisJobStore) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
