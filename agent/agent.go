package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// SharedContext is the read-only material every agent in a cohort
// receives alongside its own profile: the task objective plus whatever
// memory.SynthesizedContext the orchestrator recalled for it (§4.9
// step 2, §4.4). Agents never write to it — each Execute call returns
// its own ExecutionResult instead, grounded on the teacher's pattern of
// passing an immutable *core.AIRequest into a stateless executor.
type SharedContext struct {
	Objective   string
	TaskType    core.TaskType
	Constraints map[string]interface{}
	MemoryNotes string
	PriorOutput string // set for sequential-collaboration strategy
}

// Agent is one model-bound worker in a cohort, executing exactly one
// task and producing exactly one ExecutionResult (§3, §4.9). It is
// Disposable so a ResourceScope can guarantee its gateway connection
// and state are released even if Execute never returns normally.
type Agent interface {
	ID() string
	Profile() core.AgentProfile
	State() core.AgentState
	Execute(ctx context.Context, shared SharedContext, onChunk func(core.Chunk)) (*core.ExecutionResult, error)
	core.Disposable
}

// modelAgent is the concrete Agent backing every Role: the role only
// changes prompt construction (buildSystemPrompt), not the execution
// machinery, mirroring the teacher's single IntelligentAgent body with
// per-tool behavior swapped in via configuration rather than subtyping.
type modelAgent struct {
	id      string
	profile core.AgentProfile
	gateway core.ModelGateway
	logger  core.ComponentLogger

	state atomic.Value // core.AgentState
}

// New creates an Agent bound to profile, executing against gateway.
func New(id string, profile core.AgentProfile, gateway core.ModelGateway, logger core.ComponentLogger) Agent {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	a := &modelAgent{id: id, profile: profile, gateway: gateway, logger: logger.WithComponent("agent")}
	a.state.Store(core.AgentIdle)
	return a
}

func (a *modelAgent) ID() string               { return a.id }
func (a *modelAgent) Profile() core.AgentProfile { return a.profile }
func (a *modelAgent) State() core.AgentState {
	return a.state.Load().(core.AgentState)
}

// Execute runs one completion against the agent's bound model, streaming
// chunks through onChunk when non-nil (used by streamhub to fan out
// agent:<id> events) and returning the terminal ExecutionResult. A
// disposed or already-running agent refuses re-entry per I1/I2.
func (a *modelAgent) Execute(ctx context.Context, shared SharedContext, onChunk func(core.Chunk)) (*core.ExecutionResult, error) {
	if a.State() == core.AgentDisposed {
		return nil, core.NewTaskError("agent.Execute", core.CodeInternal, core.ErrAgentDisposed).WithAgent(a.id)
	}
	if !a.state.CompareAndSwap(core.AgentIdle, core.AgentRunning) {
		return nil, core.NewTaskError("agent.Execute", core.CodeInternal, fmt.Errorf("agent %s already running", a.id)).WithAgent(a.id)
	}

	start := time.Now()
	messages := a.buildMessages(shared)
	req := core.CompletionRequest{
		ModelID:     a.profile.ModelID,
		Messages:    messages,
		Temperature: temperatureFor(a.profile.ReasoningDepth),
		MaxTokens:   maxTokensFor(a.profile.ReasoningDepth),
	}

	a.logger.Debug("agent executing", map[string]interface{}{
		"agent_id": a.id, "role": string(a.profile.Role), "model_id": a.profile.ModelID,
	})

	var resp *core.CompletionResponse
	var err error
	if onChunk != nil {
		resp, err = a.gateway.Stream(ctx, req, onChunk)
	} else {
		resp, err = a.gateway.Complete(ctx, req)
	}

	result := &core.ExecutionResult{
		AgentID:   a.id,
		ModelID:   a.profile.ModelID,
		Role:      a.profile.Role,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		a.state.Store(core.AgentFailed)
		result.Success = false
		result.Error = err
		return result, err
	}

	a.state.Store(core.AgentSucceeded)
	result.Output = resp.Content
	result.TokensUsed = resp.TokensUsed
	result.Success = true
	return result, nil
}

// Dispose releases the agent's state, matching the Disposable contract
// every pooled resource in this engine implements (§4.1). A model agent
// holds no network handle of its own — the gateway is shared — so
// Dispose only needs to flip the terminal state, but it still goes
// through the same idempotent-CAS shape the rest of the engine uses.
func (a *modelAgent) Dispose(ctx context.Context, opts core.DisposeOptions) error {
	var prev core.AgentState
	for {
		prev = a.State()
		if prev == core.AgentDisposed {
			return nil
		}
		if a.state.CompareAndSwap(prev, core.AgentDisposed) {
			break
		}
	}
	a.logger.Debug("agent disposed", map[string]interface{}{"agent_id": a.id, "prior_state": string(prev)})
	return nil
}

func (a *modelAgent) buildMessages(shared SharedContext) []core.ChatMessage {
	system := buildSystemPrompt(a.profile)
	user := shared.Objective
	if shared.MemoryNotes != "" {
		user = fmt.Sprintf("%s\n\nRelevant context:\n%s", user, shared.MemoryNotes)
	}
	if shared.PriorOutput != "" {
		user = fmt.Sprintf("%s\n\nPrior agent output to build on:\n%s", user, shared.PriorOutput)
	}
	return []core.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// buildSystemPrompt renders one instruction block per role, the only
// axis on which agent behavior actually differs (§3's Role taxonomy).
func buildSystemPrompt(p core.AgentProfile) string {
	base := roleInstructions[p.Role]
	if base == "" {
		base = roleInstructions[core.RoleSpecialist]
	}
	prompt := fmt.Sprintf("You are a %s agent. %s", p.Role, base)
	if p.Specialization != "" {
		prompt += fmt.Sprintf(" Your specialization: %s.", p.Specialization)
	}
	if p.Focus != "" {
		prompt += fmt.Sprintf(" Focus area: %s.", p.Focus)
	}
	if len(p.Capabilities) > 0 {
		prompt += fmt.Sprintf(" Capabilities available to you: %v.", p.Capabilities)
	}
	return prompt
}

var roleInstructions = map[core.Role]string{
	core.RoleResearch:   "Gather and summarize relevant facts, citing sources where the objective references them.",
	core.RoleCoding:      "Produce working, idiomatic code that satisfies the objective. Explain only what is non-obvious.",
	core.RoleReview:      "Critically evaluate the objective or prior output for correctness, risk, and missing cases.",
	core.RoleSynthesis:   "Combine prior agent outputs into one coherent answer, resolving contradictions explicitly.",
	core.RoleSpecialist:  "Apply deep domain expertise to the objective within your stated focus area.",
}

// temperatureFor maps reasoning depth to a sampling temperature: shallow
// tasks favor determinism, extreme-depth tasks favor exploration.
func temperatureFor(d core.ReasoningDepth) float64 {
	switch d {
	case core.DepthShallow:
		return 0.2
	case core.DepthMedium:
		return 0.5
	case core.DepthDeep:
		return 0.7
	case core.DepthExtreme:
		return 0.9
	default:
		return 0.5
	}
}

// maxTokensFor bounds response length by reasoning depth so shallow
// tasks don't pay for extreme-depth token budgets.
func maxTokensFor(d core.ReasoningDepth) int {
	switch d {
	case core.DepthShallow:
		return 512
	case core.DepthMedium:
		return 1536
	case core.DepthDeep:
		return 4096
	case core.DepthExtreme:
		return 8192
	default:
		return 1536
	}
}
