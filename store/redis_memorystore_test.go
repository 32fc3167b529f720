package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/nexusai/orchestrator/core"
)

func setupMemoryStoreTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestRedisMemoryStore_StoreAndRecallMemory(t *testing.T) {
	mr, client := setupMemoryStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisMemoryStore(client, core.NoOpLogger{})
	ctx := context.Background()
	tenant := core.TenantContext{CompanyID: "acme", AppID: "nexus"}

	if err := store.StoreMemory(ctx, tenant, "the user prefers dark mode", nil); err != nil {
		t.Fatalf("StoreMemory() error = %v", err)
	}
	if err := store.StoreMemory(ctx, tenant, "quarterly revenue grew 12 percent", nil); err != nil {
		t.Fatalf("StoreMemory() error = %v", err)
	}

	results, err := store.RecallMemory(ctx, tenant, "dark mode", 5)
	if err != nil {
		t.Fatalf("RecallMemory() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("RecallMemory() returned no results")
	}
	if results[0].Content != "the user prefers dark mode" {
		t.Errorf("RecallMemory() top result = %q, want the dark-mode memory ranked first", results[0].Content)
	}
}

func TestRedisMemoryStore_StoreMemory_RequiresTenant(t *testing.T) {
	mr, client := setupMemoryStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisMemoryStore(client, core.NoOpLogger{})
	err := store.StoreMemory(context.Background(), core.TenantContext{}, "orphaned note", nil)
	if err != core.ErrMissingConfiguration {
		t.Errorf("StoreMemory() without tenant error = %v, want %v", err, core.ErrMissingConfiguration)
	}
}

func TestRedisMemoryStore_StoreAndGetDocument(t *testing.T) {
	mr, client := setupMemoryStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisMemoryStore(client, core.NoOpLogger{})
	ctx := context.Background()
	tenant := core.TenantContext{CompanyID: "acme", AppID: "nexus"}

	docID, err := store.StoreDocument(ctx, tenant, "final synthesis", map[string]interface{}{"taskId": "t-1"})
	if err != nil {
		t.Fatalf("StoreDocument() error = %v", err)
	}
	if docID == "" {
		t.Fatal("StoreDocument() returned empty docID")
	}

	content, err := store.GetDocument(ctx, tenant, docID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if content != "final synthesis" {
		t.Errorf("GetDocument() = %q, want %q", content, "final synthesis")
	}
}

func TestRedisMemoryStore_GetDocument_Missing(t *testing.T) {
	mr, client := setupMemoryStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisMemoryStore(client, core.NoOpLogger{})
	tenant := core.TenantContext{CompanyID: "acme", AppID: "nexus"}
	_, err := store.GetDocument(context.Background(), tenant, "doc-missing")
	if err != core.ErrNotFound {
		t.Errorf("GetDocument() on missing doc error = %v, want %v", err, core.ErrNotFound)
	}
}

func TestRedisMemoryStore_SynthesizeContext_RespectsTokenBudget(t *testing.T) {
	mr, client := setupMemoryStoreTestRedis(t)
	defer mr.Close()
	defer client.Close()

	store := NewRedisMemoryStore(client, core.NoOpLogger{})
	ctx := context.Background()
	tenant := core.TenantContext{CompanyID: "acme", AppID: "nexus"}

	for i := 0; i < 20; i++ {
		if err := store.StoreMemory(ctx, tenant, "a fairly long memory entry about the project roadmap", nil); err != nil {
			t.Fatalf("StoreMemory() error = %v", err)
		}
	}

	synth, err := store.SynthesizeContext(ctx, tenant, "roadmap", core.SynthesizeOptions{Limit: 20, MaxTokens: 10})
	if err != nil {
		t.Fatalf("SynthesizeContext() error = %v", err)
	}
	if len(synth.Summary) > 10*4 {
		t.Errorf("SynthesizeContext() summary length = %d, exceeds token budget of 40 chars", len(synth.Summary))
	}
}

func TestTenantKey_UsesTenantKeyMethod(t *testing.T) {
	tenant := core.TenantContext{CompanyID: "acme", AppID: "nexus"}
	got := tenantKey(tenant, "recall")
	want := "nexus:mem:" + tenant.Key() + ":recall"
	if got != want {
		t.Errorf("tenantKey() = %q, want %q", got, want)
	}
}
