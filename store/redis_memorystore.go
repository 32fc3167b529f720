package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nexusai/orchestrator/core"
)

// RedisMemoryStore implements core.MemoryStore (§6) as a cache tier in
// front of the out-of-scope vector+graph memory system (§1 names
// MemoryStore a named external collaborator; no embedding or vector
// search is implemented here per the Non-goals). Every key is
// tenant-scoped per I3, grounded on the teacher's redis_client.go
// namespace-prefixing idiom generalized from a single static namespace
// to a per-tenant one.
type RedisMemoryStore struct {
	client *redis.Client
	logger core.ComponentLogger
}

func NewRedisMemoryStore(client *redis.Client, logger core.ComponentLogger) *RedisMemoryStore {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisMemoryStore{client: client, logger: logger.WithComponent("store.redis_memorystore")}
}

// tenantKey builds a tenant-partitioned key, satisfying I3 ("tenant
// fields are part of every stored record's key").
func tenantKey(tenant core.TenantContext, parts ...string) string {
	return "nexus:mem:" + tenant.Key() + ":" + strings.Join(parts, ":")
}

type memRecord struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Kind      string                 `json:"kind"`
	Meta      map[string]interface{} `json:"meta"`
	CreatedAt time.Time              `json:"createdAt"`
}

// StoreMemory appends a generic memory record to the tenant's recall
// set, scored by recency so RecallMemory can return the newest first —
// a deliberate simplification of the out-of-scope vector ranking (no
// embedding similarity is computed here, per spec §1 Non-goals).
func (r *RedisMemoryStore) StoreMemory(ctx context.Context, tenant core.TenantContext, content string, meta map[string]interface{}) error {
	return r.store(ctx, tenant, "memory", content, meta)
}

// StoreEpisode records a timeline event (§4.12 step 4's user message,
// step 11(d)'s episode pointer).
func (r *RedisMemoryStore) StoreEpisode(ctx context.Context, tenant core.TenantContext, kind, content string, meta map[string]interface{}) error {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["episodeKind"] = kind
	return r.store(ctx, tenant, "episode", content, meta)
}

func (r *RedisMemoryStore) store(ctx context.Context, tenant core.TenantContext, kind, content string, meta map[string]interface{}) error {
	if tenant.CompanyID == "" {
		return core.ErrMissingConfiguration // I3: no memory write without a tenant.
	}
	id := fmt.Sprintf("%s-%d", kind, time.Now().UnixNano())
	rec := memRecord{ID: id, Content: content, Kind: kind, Meta: meta, CreatedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}
	key := tenantKey(tenant, "recall")
	score := float64(rec.CreatedAt.UnixNano())
	return r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: string(data)}).Err()
}

// StoreDocument persists the final synthesis artifact, returning a
// document ID. This is the FATAL write in §4.12 step 11(b): its error
// is returned verbatim so the orchestrator can fail the task loudly
// (§7's DurabilityError).
func (r *RedisMemoryStore) StoreDocument(ctx context.Context, tenant core.TenantContext, content string, meta map[string]interface{}) (string, error) {
	if tenant.CompanyID == "" {
		return "", core.ErrMissingConfiguration
	}
	docID := fmt.Sprintf("doc-%d", time.Now().UnixNano())
	rec := memRecord{ID: docID, Content: content, Kind: "document", Meta: meta, CreatedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	key := tenantKey(tenant, "doc", docID)
	if err := r.client.Set(ctx, key, string(data), 0).Err(); err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return docID, nil
}

// GetDocument retrieves a previously stored artifact by ID (P5's
// "GetDocument(finalArtifactId) returns the artifact with probability
// 1"). Startup recovery (§4.11) does not call it: Orchestrator.Recover
// stores the checkpoint's document again without checking for it first.
func (r *RedisMemoryStore) GetDocument(ctx context.Context, tenant core.TenantContext, docID string) (string, error) {
	key := tenantKey(tenant, "doc", docID)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	var rec memRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return "", fmt.Errorf("unmarshal document: %w", err)
	}
	return rec.Content, nil
}

// RecallMemory returns the limit most-recent memory/episode records for
// tenant matching query by simple substring relevance — the vector
// similarity computation itself is explicitly out of scope (§1
// Non-goals); this cache tier only needs to round-trip what an external
// embedding-backed store would otherwise rank.
func (r *RedisMemoryStore) RecallMemory(ctx context.Context, tenant core.TenantContext, query string, limit int) ([]core.Memory, error) {
	key := tenantKey(tenant, "recall")
	raws, err := r.client.ZRevRange(ctx, key, 0, 199).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	var out []core.Memory
	q := strings.ToLower(query)
	for _, raw := range raws {
		var rec memRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		score := relevance(q, rec.Content)
		out = append(out, core.Memory{ID: rec.ID, Content: rec.Content, Kind: rec.Kind, Score: score, CreatedAt: rec.CreatedAt})
		if len(out) >= limit*4 {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SynthesizeContext builds a token-bounded retrieval summary (§4.12
// step 5: "token budget 4000 and paged retrieval for extreme"). The
// summary itself is a naive concatenation since prompt synthesis
// quality is the job of the (out-of-scope) memory system; this adapter
// only needs to honor the size caps the orchestrator relies on.
func (r *RedisMemoryStore) SynthesizeContext(ctx context.Context, tenant core.TenantContext, query string, opts core.SynthesizeOptions) (*core.SynthesizedContext, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	memories, err := r.RecallMemory(ctx, tenant, query, limit)
	if err != nil {
		return nil, err
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	budget := maxTokens * 4 // rough chars-per-token heuristic, no tokenizer dependency needed here.

	var b strings.Builder
	var relevance float64
	for _, m := range memories {
		if b.Len()+len(m.Content) > budget {
			break
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
		relevance += m.Score
	}
	if len(memories) > 0 {
		relevance /= float64(len(memories))
	}

	return &core.SynthesizedContext{
		Summary:          b.String(),
		RelevantMemories: memories,
		RelevanceScore:   relevance,
	}, nil
}

// relevance is a coarse term-overlap score in [0,1], standing in for
// the out-of-scope embedding similarity computation.
func relevance(query, content string) float64 {
	if query == "" {
		return 0.5
	}
	content = strings.ToLower(content)
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return 0.5
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(content, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
