package core

import (
	"context"
	"time"
)

// Logger is the minimal structured-logging contract every package
// depends on, grounded on the teacher's core.Logger/ComponentAwareLogger
// split so components can be filtered by name in aggregated logs.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// ComponentLogger additionally scopes a Logger to a named component.
type ComponentLogger interface {
	Logger
	WithComponent(component string) ComponentLogger
}

// NoOpLogger discards everything; used as the zero-value default so
// every constructor works without explicit wiring.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}

func (n NoOpLogger) WithComponent(string) ComponentLogger { return n }

// Disposable is anything a ResourceScope can guarantee cleanup for (C2).
type Disposable interface {
	Dispose(ctx context.Context, opts DisposeOptions) error
}

// DisposeOptions configures one Dispose call (§4.1).
type DisposeOptions struct {
	Force           bool
	TimeoutMs       int64
	SuppressErrors  bool
}

// DefaultDisposeOptions matches the 5s default timeout from §4.1.
func DefaultDisposeOptions() DisposeOptions {
	return DisposeOptions{TimeoutMs: 5000, SuppressErrors: true}
}

// ModelInfo describes one entry in the gateway's model catalog (§6).
type ModelInfo struct {
	ID            string
	Provider      string
	ContextLength int
	PriceInPerM   float64
	PriceOutPerM  float64
	Modality      string
	Moderated     bool
}

// IsFree reports whether the model is zero-priced or ":free"-suffixed,
// per §4.3's free-model filtering rule.
func (m ModelInfo) IsFree() bool {
	if len(m.ID) >= 5 && m.ID[len(m.ID)-5:] == ":free" {
		return true
	}
	return m.PriceInPerM == 0 && m.PriceOutPerM == 0
}

// ChatMessage is one message in a completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionRequest is the request shape for ModelGateway.Complete (§6).
type CompletionRequest struct {
	ModelID     string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	Stream      bool
	TimeoutMs   int64
}

// Chunk is one streamed piece of a completion response.
type Chunk struct {
	Delta string
	Done  bool
}

// CompletionResponse is the non-streaming completion result.
type CompletionResponse struct {
	Content    string
	TokensUsed int
	LatencyMs  int64
}

// ModelGateway is the external chat-completions HTTP client (§6). The
// core only depends on this interface; a concrete HTTP implementation
// lives in agent/gateway.go.
type ModelGateway interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Stream(ctx context.Context, req CompletionRequest, onChunk func(Chunk)) (*CompletionResponse, error)
}

// Memory is one recalled episode/document/memory entry (§6).
type Memory struct {
	ID        string
	Content   string
	Kind      string
	Score     float64
	CreatedAt time.Time
}

// SynthesizeOptions bounds a MemoryStore.SynthesizeContext call (§6).
type SynthesizeOptions struct {
	IncludeEpisodes  bool
	IncludeDocuments bool
	IncludeMemories  bool
	Limit            int
	MaxTokens        int
	ChunkSize        int
}

// SynthesizedContext is the result of MemoryStore.SynthesizeContext (§6).
type SynthesizedContext struct {
	Summary          string
	RelevantMemories []Memory
	RelevanceScore   float64
}

// MemoryStore is the tenant-scoped vector+graph memory collaborator
// (§1, §6). Out of scope for implementation depth (no embeddings, no
// vector search); this engine only needs the contract and a durable
// adapter that satisfies it (store.RedisMemoryStore).
type MemoryStore interface {
	RecallMemory(ctx context.Context, tenant TenantContext, query string, limit int) ([]Memory, error)
	SynthesizeContext(ctx context.Context, tenant TenantContext, query string, opts SynthesizeOptions) (*SynthesizedContext, error)
	StoreEpisode(ctx context.Context, tenant TenantContext, kind, content string, meta map[string]interface{}) error
	StoreDocument(ctx context.Context, tenant TenantContext, content string, meta map[string]interface{}) (string, error)
	StoreMemory(ctx context.Context, tenant TenantContext, content string, meta map[string]interface{}) error
	GetDocument(ctx context.Context, tenant TenantContext, docID string) (string, error)
}

// JobState is returned by JobStore.Get (§6).
type JobState struct {
	JobID      string
	Type       string
	Status     TaskStatus
	Progress   int
	Result     string
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	CompletedAt time.Time
}

// JobStore is the durable FIFO backing store with at-least-once
// delivery (§1, §6), modeled as Redis Streams.
type JobStore interface {
	Enqueue(ctx context.Context, jobType string, params map[string]interface{}, opts EnqueueOptions) (string, error)
	Reserve(ctx context.Context, worker string) (*Job, error)
	Ack(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, reason string) error
	Progress(ctx context.Context, jobID string, pct int) error
	Get(ctx context.Context, jobID string) (*JobState, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	GetRaw(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
}

// EnqueueOptions configures one JobStore.Enqueue call.
type EnqueueOptions struct {
	Timeout  time.Duration
	Priority int
	Tenant   TenantContext
}

// Job is one reserved unit of work from JobStore.Reserve.
type Job struct {
	JobID  string
	Type   string
	Params map[string]interface{}
	Tenant TenantContext
}

// AnalyticsStore is the relational store backing retry intelligence
// (§6), with the bit-exact schema described there.
type AnalyticsStore interface {
	LookupPattern(ctx context.Context, errorType, service, operation string) (*ErrorPattern, error)
	RecordAttempt(ctx context.Context, patternID, taskID, agentID string, attempt int, success bool, execMs int64, errMsg string) error
	UpdateOutcome(ctx context.Context, patternID string, success bool) error
	CleanupOldAttempts(ctx context.Context, olderThan time.Duration) (int64, error)
}
