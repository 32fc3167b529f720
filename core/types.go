package core

import "time"

// TaskType enumerates the task-type registry from spec §6.
type TaskType string

const (
	TaskAnalysis      TaskType = "analysis"
	TaskCompetition   TaskType = "competition"
	TaskCollaboration TaskType = "collaboration"
	TaskSynthesis     TaskType = "synthesis"
	TaskWorkflow      TaskType = "workflow"
	TaskFileProcess   TaskType = "file_process"
	TaskSecurityScan  TaskType = "security_scan"
	TaskCodeExecute   TaskType = "code_execute"
)

// TaskStatus is the lifecycle status surfaced by GetTaskStatus (§3).
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusTimeout   TaskStatus = "timeout"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether s is a final, immutable status (§5's
// "a cancelled terminal state is immutable" and similar for the other
// terminal outcomes).
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout || s == StatusCancelled
}

// Complexity drives timeout defaults, consensus layer counts and model
// selection per §4.3/§4.6/§4.9.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
	ComplexityExtreme Complexity = "extreme"
)

// Role is the agent role taxonomy from §3.
type Role string

const (
	RoleResearch   Role = "research"
	RoleCoding     Role = "coding"
	RoleReview     Role = "review"
	RoleSynthesis  Role = "synthesis"
	RoleSpecialist Role = "specialist"
)

// ReasoningDepth maps to prompt/temperature/token budget decisions made
// by the agent executor, not specified further by the core.
type ReasoningDepth string

const (
	DepthShallow ReasoningDepth = "shallow"
	DepthMedium  ReasoningDepth = "medium"
	DepthDeep    ReasoningDepth = "deep"
	DepthExtreme ReasoningDepth = "extreme"
)

// Strategy is the agent-cohort composition strategy chosen by
// AgentGenerator (§4.9 step 5).
type Strategy string

const (
	StrategySingleAgent            Strategy = "single-agent"
	StrategySequentialCollaboration Strategy = "sequential-collaboration"
	StrategyParallelSynthesis      Strategy = "parallel-synthesis"
	StrategyCompetitiveConsensus   Strategy = "competitive-consensus"
)

// AgentState is the lifecycle state of a spawned Agent (§3).
type AgentState string

const (
	AgentIdle      AgentState = "idle"
	AgentRunning   AgentState = "running"
	AgentSucceeded AgentState = "succeeded"
	AgentFailed    AgentState = "failed"
	AgentDisposed  AgentState = "disposed"
)

// Task is the unit of work driven through the orchestrator state
// machine (§3). Mutated only by the Orchestrator.
type Task struct {
	ID               string
	Type             TaskType
	Objective        string
	Context          map[string]interface{}
	Constraints      map[string]interface{}
	CreatedAt        time.Time
	Status           TaskStatus
	Result           *ConsensusResult
	ThreadID         string
	MemoryContextRef string
	EntityID         string
	Tenant           TenantContext
	Error            *TaskErrorView
}

// TaskErrorView is the caller-visible shape of a failed task (§7).
type TaskErrorView struct {
	Code    ErrorCode
	Message string
}

// AgentProfile is the declarative description of a planned agent (§3).
type AgentProfile struct {
	Role            Role
	Specialization  string
	Focus           string
	Capabilities    []string
	Priority        int
	ReasoningDepth  ReasoningDepth
	ModelID         string
}

// ExecutionResult is produced by exactly one Agent.Execute call (§3).
type ExecutionResult struct {
	AgentID   string
	ModelID   string
	Role      Role
	Output    string
	TokensUsed int
	LatencyMs int64
	Success   bool
	Error     error
}

// ConflictResolution records one arbitration performed by consensus
// layer 2 (§4.10).
type ConflictResolution struct {
	Claim       string
	Resolution  string
	ArbiterModel string
}

// ConsensusResult is produced by ConsensusEngine.Apply (§3).
type ConsensusResult struct {
	FinalOutput        string
	ConsensusStrength   float64
	ConfidenceScore     float64
	ConflictResolutions []ConflictResolution
	Uncertainties       []string
	// Metadata carries caller-observable facts about how the result was
	// produced that aren't part of the consensus math itself, e.g. the
	// §4.12 step 2 short-circuit marker ("bypass"/"reason").
	Metadata map[string]interface{}
}

// Checkpoint is the write-ahead record for synthesis durability (§3, §4.11).
type Checkpoint struct {
	TaskID            string
	CheckpointID      string
	SynthesisResult   *ConsensusResult
	AgentCount        int
	ConsensusStrength float64
	Metadata          CheckpointMetadata
	State             CheckpointState
	WrittenAt         time.Time
}

// CheckpointState is pending until the document store acknowledges
// durability (I4).
type CheckpointState string

const (
	CheckpointPending   CheckpointState = "pending"
	CheckpointCommitted CheckpointState = "committed"
)

// CheckpointMetadata is attached at write time.
type CheckpointMetadata struct {
	ModelID   string
	Timestamp time.Time
}

// ErrorPattern is the learned retry-classification record persisted in
// AnalyticsStore (§3, §6).
type ErrorPattern struct {
	ID                   string
	ErrorType            string
	Message              string
	Service              string
	Operation            string
	Category             string
	Severity             string
	Retryable            bool
	SuccessCount         int64
	FailureCount         int64
	SuccessRate          float64
	OccurrenceCount      int64
	RecommendedStrategy  BackoffStrategy
	FirstSeen            time.Time
	LastSeen             time.Time
}

// BackoffStrategy is the JSONB-shaped strategy recommendation stored per
// ErrorPattern (§6).
type BackoffStrategy struct {
	MaxRetries      int           `json:"max_retries"`
	InitialDelay    time.Duration `json:"initial_delay"`
	ExponentialBase float64       `json:"exponential_base"`
	MaxDelay        time.Duration `json:"max_delay"`
}

// RetryContext is the per-attempt-chain context (§3).
type RetryContext struct {
	TaskID    string
	AgentID   string
	Operation string
	Service   string
	Context   map[string]interface{}
	Config    RetryConfig
}

// RetryConfig configures one RetryExecutor invocation (§4.7).
type RetryConfig struct {
	MaxRetries         int
	BackoffMs          []int64
	ExponentialBackoff bool
	Timeout            time.Duration
	MaxRetryDelay      time.Duration
}

// Subscription is owned by a Session (§3).
type Subscription struct {
	Type         SubscriptionType
	ResourceID   string
	Filters      []string
	CreatedAt    time.Time
	LastActivity time.Time
}

// SubscriptionType enumerates §4.13's room kinds.
type SubscriptionType string

const (
	SubAgent       SubscriptionType = "agent"
	SubTask        SubscriptionType = "task"
	SubCompetition SubscriptionType = "competition"
	SubGlobal      SubscriptionType = "global"
)
