// Package consensus implements ConsensusEngine (C11) as a pipeline of
// composed pure reducers over agent outputs: cluster, resolve conflicts,
// synthesize. Grounded on the teacher's workflow package's step-pipeline
// shape (a slice of named stages each transforming a shared state
// struct) adapted from tool-call workflows to multi-agent reduction.
package consensus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nexusai/orchestrator/core"
)

// arbiterModel is the "strongest specialist model" consulted by layer 2
// to resolve conflicting claims (§4.10).
const arbiterModel = "anthropic/claude-3.5-sonnet"

// synthesisModel drives layer 3's final artifact production.
const synthesisModel = "anthropic/claude-3.5-sonnet"

// Engine reduces heterogeneous ExecutionResults into one ConsensusResult.
type Engine struct {
	gateway core.ModelGateway
	logger  core.ComponentLogger
}

func New(gateway core.ModelGateway, logger core.ComponentLogger) *Engine {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Engine{gateway: gateway, logger: logger.WithComponent("consensus")}
}

// cluster groups ExecutionResults whose outputs overlap substantially,
// approximating "detected position/claim" with word-set Jaccard overlap
// rather than a semantic embedding model — a deliberate simplification
// the spec leaves open, since it only mandates "both semantic overlap
// and explicit scoring of shared sub-claims" without specifying a
// concrete similarity measure.
type cluster struct {
	members []core.ExecutionResult
}

const clusterSimilarityThreshold = 0.7

func clusterOutputs(outputs []core.ExecutionResult) []cluster {
	var clusters []cluster
	for _, out := range outputs {
		if !out.Success {
			continue
		}
		placed := false
		for i := range clusters {
			rep := clusters[i].members[0]
			if jaccard(rep.Output, out.Output) >= clusterSimilarityThreshold {
				clusters[i].members = append(clusters[i].members, out)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, cluster{members: []core.ExecutionResult{out}})
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return len(clusters[i].members) > len(clusters[j].members) })
	return clusters
}

func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// resolveConflicts consults arbiterModel once per cluster beyond the
// first (the "conflicting" minority positions), recording a
// ConflictResolution per arbitration (§4.10 layer 2).
func (e *Engine) resolveConflicts(ctx context.Context, objective string, clusters []cluster) ([]core.ConflictResolution, error) {
	if len(clusters) <= 1 {
		return nil, nil
	}
	var resolutions []core.ConflictResolution
	dominant := clusters[0].members[0].Output
	for _, c := range clusters[1:] {
		claim := c.members[0].Output
		resp, err := e.gateway.Complete(ctx, core.CompletionRequest{
			ModelID:     arbiterModel,
			Temperature: 0.1,
			MaxTokens:   512,
			Messages: []core.ChatMessage{
				{Role: "system", Content: "You arbitrate between conflicting agent claims. State which is more supported and why, in one paragraph."},
				{Role: "user", Content: fmt.Sprintf("Objective: %s\n\nClaim A (majority):\n%s\n\nClaim B (minority):\n%s", objective, dominant, claim)},
			},
		})
		if err != nil {
			return resolutions, err
		}
		resolutions = append(resolutions, core.ConflictResolution{
			Claim:        claim,
			Resolution:   resp.Content,
			ArbiterModel: arbiterModel,
		})
	}
	return resolutions, nil
}

// synthesize produces the final artifact from the dominant cluster plus
// any conflict resolutions (§4.10 layer 3).
func (e *Engine) synthesize(ctx context.Context, objective string, clusters []cluster, resolutions []core.ConflictResolution) (string, error) {
	var sb strings.Builder
	sb.WriteString("Objective: " + objective + "\n\nAgent outputs to synthesize:\n")
	for _, c := range clusters {
		sb.WriteString("- " + c.members[0].Output + "\n")
	}
	if len(resolutions) > 0 {
		sb.WriteString("\nConflict resolutions:\n")
		for _, r := range resolutions {
			sb.WriteString("- " + r.Resolution + "\n")
		}
	}

	resp, err := e.gateway.Complete(ctx, core.CompletionRequest{
		ModelID:     synthesisModel,
		Temperature: 0.3,
		MaxTokens:   4096,
		Messages: []core.ChatMessage{
			{Role: "system", Content: "You synthesize multiple agent outputs into one coherent final artifact."},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Apply runs layerCount layers of the pipeline over outputs and returns
// the ConsensusResult, per §4.10/§4.12 step 10 (pass-through when
// layerCount is 0 or only one agent ran).
func (e *Engine) Apply(ctx context.Context, objective string, outputs []core.ExecutionResult, layerCount int, tenant core.TenantContext) (*core.ConsensusResult, error) {
	successCount := 0
	for _, o := range outputs {
		if o.Success {
			successCount++
		}
	}

	if layerCount <= 0 || successCount <= 1 {
		return passThrough(outputs), nil
	}

	clusters := clusterOutputs(outputs)
	if len(clusters) == 0 {
		return passThrough(outputs), nil
	}

	var resolutions []core.ConflictResolution
	if layerCount >= 2 {
		var err error
		resolutions, err = e.resolveConflicts(ctx, objective, clusters)
		if err != nil {
			e.logger.Warn("conflict resolution failed, continuing with majority claim", map[string]interface{}{"error": err.Error()})
		}
	}

	finalOutput := clusters[0].members[0].Output
	if layerCount >= 3 {
		synth, err := e.synthesize(ctx, objective, clusters, resolutions)
		if err != nil {
			e.logger.Warn("synthesis failed, falling back to majority claim", map[string]interface{}{"error": err.Error()})
		} else {
			finalOutput = synth
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	strength := consensusStrength(clusters, successCount)
	confidence := confidenceScore(clusters, strength)
	uncertainties := collectUncertainties(clusters)

	return &core.ConsensusResult{
		FinalOutput:         finalOutput,
		ConsensusStrength:   strength,
		ConfidenceScore:     confidence,
		ConflictResolutions: resolutions,
		Uncertainties:       uncertainties,
	}, nil
}

func passThrough(outputs []core.ExecutionResult) *core.ConsensusResult {
	var output string
	for _, o := range outputs {
		if o.Success {
			output = o.Output
			break
		}
	}
	return &core.ConsensusResult{
		FinalOutput:       output,
		ConsensusStrength: 1,
		ConfidenceScore:   1,
	}
}

// consensusStrength is the fraction of agents whose principal claim
// (i.e. whose cluster) matches the dominant cluster (§4.10).
func consensusStrength(clusters []cluster, totalSuccessful int) float64 {
	if totalSuccessful == 0 {
		return 0
	}
	dominant := float64(len(clusters[0].members))
	s := dominant / float64(totalSuccessful)
	if s > 1 {
		s = 1
	}
	return s
}

// confidenceScore is a weighted mean of per-agent confidence (taken as
// 1.0 for a successful ExecutionResult, since the domain doesn't carry
// a separate per-agent confidence field) adjusted by consensusStrength.
func confidenceScore(clusters []cluster, strength float64) float64 {
	total := 0
	for _, c := range clusters {
		total += len(c.members)
	}
	if total == 0 {
		return 0
	}
	base := 1.0 // every counted member is a successful ExecutionResult
	score := base * strength
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// collectUncertainties surfaces one note per minority cluster, the
// closest proxy this reduction has to "uncertainties surfaced by any
// layer" without a dedicated per-agent uncertainty field upstream.
func collectUncertainties(clusters []cluster) []string {
	if len(clusters) <= 1 {
		return nil
	}
	var notes []string
	for _, c := range clusters[1:] {
		notes = append(notes, fmt.Sprintf("%d agent(s) held a minority position not reflected in the final artifact", len(c.members)))
	}
	return notes
}
