package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/nexusai/orchestrator/core"
)

// setupJobStoreTestRedis starts an in-process miniredis instance, the
// pattern the teacher uses for Redis-dependent unit tests (see
// orchestration/hitl_checkpoint_store_test.go upstream).
func setupJobStoreTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestRedisJobStore_EnqueueReserveAck(t *testing.T) {
	mr, client := setupJobStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisJobStore(client, core.NoOpLogger{})
	ctx := context.Background()

	tenant := core.TenantContext{CompanyID: "acme", AppID: "nexus"}
	jobID, err := store.Enqueue(ctx, "classify", map[string]interface{}{"taskId": "t-1"}, core.EnqueueOptions{Tenant: tenant})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if jobID == "" {
		t.Fatal("Enqueue() returned empty jobID")
	}

	state, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state.Status != core.StatusPending {
		t.Errorf("Get() status = %v, want %v", state.Status, core.StatusPending)
	}

	job, err := store.Reserve(ctx, "worker-1")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if job == nil {
		t.Fatal("Reserve() returned nil job, want one delivered")
	}
	if job.JobID != jobID {
		t.Errorf("Reserve() job.JobID = %q, want %q", job.JobID, jobID)
	}
	if job.Tenant.CompanyID != "acme" {
		t.Errorf("Reserve() job.Tenant.CompanyID = %q, want %q", job.Tenant.CompanyID, "acme")
	}

	state, err = store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() after Reserve error = %v", err)
	}
	if state.Status != core.StatusRunning {
		t.Errorf("Get() after Reserve status = %v, want %v", state.Status, core.StatusRunning)
	}

	if err := store.Progress(ctx, jobID, 50); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	state, _ = store.Get(ctx, jobID)
	if state.Progress != 50 {
		t.Errorf("Progress() = %d, want 50", state.Progress)
	}

	if err := store.Ack(ctx, jobID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	state, err = store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() after Ack error = %v", err)
	}
	if state.Status != core.StatusCompleted {
		t.Errorf("Get() after Ack status = %v, want %v", state.Status, core.StatusCompleted)
	}
}

func TestRedisJobStore_ReserveEmpty(t *testing.T) {
	mr, client := setupJobStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisJobStore(client, core.NoOpLogger{})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	job, err := store.Reserve(ctx, "worker-1")
	if err != nil {
		t.Fatalf("Reserve() on empty stream error = %v", err)
	}
	if job != nil {
		t.Errorf("Reserve() on empty stream = %+v, want nil", job)
	}
}

func TestRedisJobStore_Fail(t *testing.T) {
	mr, client := setupJobStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisJobStore(client, core.NoOpLogger{})
	ctx := context.Background()

	jobID, err := store.Enqueue(ctx, "classify", nil, core.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := store.Fail(ctx, jobID, "model gateway timed out"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	state, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state.Status != core.StatusFailed {
		t.Errorf("Get() status = %v, want %v", state.Status, core.StatusFailed)
	}
	if state.Error != "model gateway timed out" {
		t.Errorf("Get() error = %q, want %q", state.Error, "model gateway timed out")
	}
}

func TestRedisJobStore_GetMissing(t *testing.T) {
	mr, client := setupJobStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisJobStore(client, core.NoOpLogger{})
	_, err := store.Get(context.Background(), "no-such-job")
	if err != core.ErrNotFound {
		t.Errorf("Get() on missing job error = %v, want %v", err, core.ErrNotFound)
	}
}

func TestRedisJobStore_GenericKV(t *testing.T) {
	mr, client := setupJobStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisJobStore(client, core.NoOpLogger{})
	ctx := context.Background()

	if err := store.Set(ctx, "nexus:checkpoints:t-1", `{"step":3}`, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, ok, err := store.GetRaw(ctx, "nexus:checkpoints:t-1")
	if err != nil {
		t.Fatalf("GetRaw() error = %v", err)
	}
	if !ok {
		t.Fatal("GetRaw() ok = false, want true")
	}
	if val != `{"step":3}` {
		t.Errorf("GetRaw() = %q, want %q", val, `{"step":3}`)
	}

	keys, err := store.ScanKeys(ctx, "nexus:checkpoints:")
	if err != nil {
		t.Fatalf("ScanKeys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "nexus:checkpoints:t-1" {
		t.Errorf("ScanKeys() = %v, want [nexus:checkpoints:t-1]", keys)
	}

	if err := store.Delete(ctx, "nexus:checkpoints:t-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, ok, err = store.GetRaw(ctx, "nexus:checkpoints:t-1")
	if err != nil {
		t.Fatalf("GetRaw() after Delete error = %v", err)
	}
	if ok {
		t.Error("GetRaw() after Delete ok = true, want false")
	}
}
