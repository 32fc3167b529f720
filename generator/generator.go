// Package generator implements AgentGenerator (C10): it asks a
// meta-analyzer model to design a cohort of AgentProfiles for a task,
// validates and coerces the result, assigns models, and picks a
// cohort-execution strategy. Grounded on the teacher's
// ai/intelligent_agent.go meta-reasoning loop (one structured-output
// call to a strong model, then strict local validation of the result)
// adapted from tool-selection to agent-cohort planning.
package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexusai/orchestrator/core"
	"github.com/nexusai/orchestrator/selector"
)

// Request describes one generateAgentProfiles call (§4.9).
type Request struct {
	Task                 string
	Complexity           core.Complexity
	Domain               string
	MaxAgents            int
	RequiredCapabilities []string
}

// Result is the full output of GenerateAgentProfiles (§4.9).
type Result struct {
	Profiles                  []core.AgentProfile
	Strategy                  core.Strategy
	EstimatedDurationMs       int64
	RecommendedConsensusLayers int
}

// roleModelDefaults is the fallback role→model map used when
// ModelSelector.SelectDiverseModels fails (§4.9 step 4).
var roleModelDefaults = map[core.Role]string{
	core.RoleResearch:   "anthropic/claude-3.5-sonnet",
	core.RoleCoding:      "anthropic/claude-3.5-sonnet",
	core.RoleReview:      "openai/gpt-4o",
	core.RoleSynthesis:   "anthropic/claude-3.5-sonnet",
	core.RoleSpecialist:  "openai/gpt-4o",
}

// metaAnalyzerModel is the designated strong, low-temperature model used
// for cohort planning itself (§4.9 step 2).
const metaAnalyzerModel = "anthropic/claude-3.5-sonnet"

// AgentGenerator produces AgentProfile cohorts for a task.
type AgentGenerator struct {
	gateway  core.ModelGateway
	memory   core.MemoryStore
	selector *selector.ModelSelector
	logger   core.ComponentLogger
}

func New(gateway core.ModelGateway, memory core.MemoryStore, sel *selector.ModelSelector, logger core.ComponentLogger) *AgentGenerator {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &AgentGenerator{gateway: gateway, memory: memory, selector: sel, logger: logger.WithComponent("generator")}
}

// GenerateAgentProfiles runs the full §4.9 procedure, returning the
// fallback profile set (research + synthesis) on any failure rather
// than propagating an error, per the spec's explicit failure policy.
func (g *AgentGenerator) GenerateAgentProfiles(ctx context.Context, tenant core.TenantContext, req Request) Result {
	notes := g.recallPatterns(ctx, tenant, req)

	profiles, err := g.askMetaAnalyzer(ctx, req, notes)
	if err != nil {
		g.logger.Warn("meta-analyzer failed, using fallback cohort", map[string]interface{}{"error": err.Error()})
		return g.fallback()
	}

	profiles = coerceProfiles(profiles, req.MaxAgents)
	g.assignModels(ctx, profiles)

	strategy := chooseStrategy(len(profiles), req.Complexity)
	layers := consensusLayers(len(profiles), req.Complexity)

	result := Result{
		Profiles:                   profiles,
		Strategy:                   strategy,
		RecommendedConsensusLayers: layers,
		EstimatedDurationMs:        0,
	}

	g.storePattern(ctx, tenant, req, result)
	return result
}

func (g *AgentGenerator) recallPatterns(ctx context.Context, tenant core.TenantContext, req Request) string {
	if g.memory == nil {
		return ""
	}
	memories, err := g.memory.RecallMemory(ctx, tenant, req.Task, 5)
	if err != nil || len(memories) == 0 {
		return ""
	}
	notes := ""
	for _, m := range memories {
		notes += "- " + m.Content + "\n"
	}
	return notes
}

// askMetaAnalyzer asks the designated meta-analyzer model to emit a JSON
// array of AgentProfile-shaped objects, validates it against the
// embedded schema, and decodes it.
func (g *AgentGenerator) askMetaAnalyzer(ctx context.Context, req Request, notes string) ([]rawProfile, error) {
	prompt := fmt.Sprintf(
		"Design an agent cohort (as a JSON array, no prose) for this task:\n%s\nComplexity: %s\nDomain: %s\nMax agents: %d\nRequired capabilities: %v\nPrior similar patterns:\n%s",
		req.Task, req.Complexity, req.Domain, req.MaxAgents, req.RequiredCapabilities, notes,
	)
	resp, err := g.gateway.Complete(ctx, core.CompletionRequest{
		ModelID:     metaAnalyzerModel,
		Temperature: 0.1,
		MaxTokens:   2048,
		Messages: []core.ChatMessage{
			{Role: "system", Content: "You design multi-agent cohorts. Respond with a JSON array only."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	var decoded []rawProfile
	if err := json.Unmarshal([]byte(resp.Content), &decoded); err != nil {
		return nil, fmt.Errorf("decoding meta-analyzer output: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal([]byte(resp.Content), &generic); err == nil {
		if err := validateProfileArray(generic); err != nil {
			return nil, fmt.Errorf("meta-analyzer output failed schema validation: %w", err)
		}
	}

	return decoded, nil
}

// rawProfile is the loosely-typed shape the meta-analyzer emits, before
// coercion into core.AgentProfile.
type rawProfile struct {
	Role           string   `json:"role"`
	Specialization string   `json:"specialization"`
	Focus          string   `json:"focus"`
	Capabilities   []string `json:"capabilities"`
	Priority       int      `json:"priority"`
	ReasoningDepth string   `json:"reasoningDepth"`
}

var knownRoles = map[string]core.Role{
	"research":   core.RoleResearch,
	"coding":     core.RoleCoding,
	"review":     core.RoleReview,
	"synthesis":  core.RoleSynthesis,
	"specialist": core.RoleSpecialist,
}

var knownDepths = map[string]core.ReasoningDepth{
	"shallow": core.DepthShallow,
	"medium":  core.DepthMedium,
	"deep":    core.DepthDeep,
	"extreme": core.DepthExtreme,
}

// coerceProfiles implements §4.9 step 3: unknown role → specialist,
// priority clamped to [1,10], missing reasoningDepth → medium, truncated
// to maxAgents.
func coerceProfiles(raw []rawProfile, maxAgents int) []core.AgentProfile {
	if maxAgents <= 0 {
		maxAgents = len(raw)
	}
	out := make([]core.AgentProfile, 0, len(raw))
	for i, r := range raw {
		if i >= maxAgents {
			break
		}
		role, ok := knownRoles[r.Role]
		if !ok {
			role = core.RoleSpecialist
		}
		depth, ok := knownDepths[r.ReasoningDepth]
		if !ok {
			depth = core.DepthMedium
		}
		priority := r.Priority
		if priority < 1 {
			priority = 1
		}
		if priority > 10 {
			priority = 10
		}
		out = append(out, core.AgentProfile{
			Role:           role,
			Specialization: r.Specialization,
			Focus:          r.Focus,
			Capabilities:   r.Capabilities,
			Priority:       priority,
			ReasoningDepth: depth,
		})
	}
	return out
}

// assignModels fills in ModelID on each profile via
// ModelSelector.SelectDiverseModels, falling back to roleModelDefaults
// per profile if that fails (§4.9 step 4).
func (g *AgentGenerator) assignModels(ctx context.Context, profiles []core.AgentProfile) {
	diverse, err := g.selector.SelectDiverseModels(ctx, len(profiles))
	if err != nil || len(diverse) < len(profiles) {
		for i := range profiles {
			profiles[i].ModelID = roleModelDefaults[profiles[i].Role]
		}
		return
	}
	for i := range profiles {
		profiles[i].ModelID = diverse[i]
	}
}

// chooseStrategy implements §4.9 step 5's strategy table.
func chooseStrategy(n int, complexity core.Complexity) core.Strategy {
	switch {
	case n == 1:
		return core.StrategySingleAgent
	case n <= 3:
		return core.StrategySequentialCollaboration
	case complexity == core.ComplexityExtreme || n >= 8:
		return core.StrategyCompetitiveConsensus
	default:
		return core.StrategyParallelSynthesis
	}
}

// consensusLayers implements §4.9 step 5's layer table.
func consensusLayers(n int, complexity core.Complexity) int {
	if n == 1 {
		return 0
	}
	switch complexity {
	case core.ComplexitySimple:
		return 1
	case core.ComplexityMedium:
		return 2
	case core.ComplexityComplex, core.ComplexityExtreme:
		return 3
	default:
		return 1
	}
}

// fallback returns the minimal research+synthesis cohort used whenever
// any earlier step fails (§4.9's explicit failure policy).
func (g *AgentGenerator) fallback() Result {
	profiles := []core.AgentProfile{
		{Role: core.RoleResearch, ReasoningDepth: core.DepthMedium, Priority: 5, ModelID: roleModelDefaults[core.RoleResearch]},
		{Role: core.RoleSynthesis, ReasoningDepth: core.DepthMedium, Priority: 5, ModelID: roleModelDefaults[core.RoleSynthesis]},
	}
	return Result{
		Profiles:                   profiles,
		Strategy:                   core.StrategySequentialCollaboration,
		RecommendedConsensusLayers: 1,
	}
}

func (g *AgentGenerator) storePattern(ctx context.Context, tenant core.TenantContext, req Request, result Result) {
	if g.memory == nil {
		return
	}
	meta := map[string]interface{}{
		"task":       req.Task,
		"complexity": string(req.Complexity),
		"strategy":   string(result.Strategy),
		"agentCount": len(result.Profiles),
	}
	_ = g.memory.StoreMemory(ctx, tenant, fmt.Sprintf("cohort pattern for %q -> %s strategy with %d agents", req.Task, result.Strategy, len(result.Profiles)), meta)
}
