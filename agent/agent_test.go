package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusai/orchestrator/core"
)

type fakeGateway struct {
	resp     *core.CompletionResponse
	err      error
	chunks   []core.Chunk
	lastReq  core.CompletionRequest
	streamed bool
}

func (g *fakeGateway) ListModels(ctx context.Context) ([]core.ModelInfo, error) { return nil, nil }

func (g *fakeGateway) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResponse, error) {
	g.lastReq = req
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func (g *fakeGateway) Stream(ctx context.Context, req core.CompletionRequest, onChunk func(core.Chunk)) (*core.CompletionResponse, error) {
	g.lastReq = req
	g.streamed = true
	if g.err != nil {
		return nil, g.err
	}
	for _, c := range g.chunks {
		onChunk(c)
	}
	return g.resp, nil
}

func TestAgent_Execute_Success(t *testing.T) {
	gw := &fakeGateway{resp: &core.CompletionResponse{Content: "the answer", TokensUsed: 42}}
	profile := core.AgentProfile{Role: core.RoleResearch, ModelID: "anthropic/claude-3.5-sonnet", ReasoningDepth: core.DepthMedium}
	a := New("agent-1", profile, gw, core.NoOpLogger{})

	res, err := a.Execute(context.Background(), SharedContext{Objective: "what is 2+2?"}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Output != "the answer" || res.TokensUsed != 42 || !res.Success {
		t.Errorf("Execute() result = %+v, unexpected", res)
	}
	if res.AgentID != "agent-1" || res.ModelID != profile.ModelID || res.Role != profile.Role {
		t.Errorf("Execute() result identity mismatch: %+v", res)
	}
	if a.State() != core.AgentSucceeded {
		t.Errorf("State() = %v, want %v", a.State(), core.AgentSucceeded)
	}
	if gw.streamed {
		t.Error("Execute() without onChunk should call Complete, not Stream")
	}
}

func TestAgent_Execute_StreamsChunksWhenOnChunkProvided(t *testing.T) {
	gw := &fakeGateway{
		resp:   &core.CompletionResponse{Content: "hello world"},
		chunks: []core.Chunk{{Delta: "hello "}, {Delta: "world"}, {Done: true}},
	}
	a := New("agent-2", core.AgentProfile{Role: core.RoleCoding}, gw, core.NoOpLogger{})

	var received []core.Chunk
	_, err := a.Execute(context.Background(), SharedContext{Objective: "write code"}, func(c core.Chunk) {
		received = append(received, c)
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !gw.streamed {
		t.Error("Execute() with onChunk should call Stream")
	}
	if len(received) != 3 {
		t.Errorf("received %d chunks, want 3", len(received))
	}
}

func TestAgent_Execute_FailurePropagatesAndMarksFailed(t *testing.T) {
	gw := &fakeGateway{err: errors.New("upstream 503")}
	a := New("agent-3", core.AgentProfile{Role: core.RoleSynthesis}, gw, core.NoOpLogger{})

	res, err := a.Execute(context.Background(), SharedContext{Objective: "synthesize"}, nil)
	if err == nil {
		t.Fatal("Execute() error = nil, want failure")
	}
	if res.Success {
		t.Error("Execute() result.Success = true, want false on gateway error")
	}
	if a.State() != core.AgentFailed {
		t.Errorf("State() = %v, want %v", a.State(), core.AgentFailed)
	}
}

func TestAgent_Execute_RefusesReEntryAfterCompletion(t *testing.T) {
	gw := &fakeGateway{resp: &core.CompletionResponse{Content: "ok"}}
	a := New("agent-4", core.AgentProfile{Role: core.RoleResearch}, gw, core.NoOpLogger{})

	if _, err := a.Execute(context.Background(), SharedContext{Objective: "first"}, nil); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	// Agent is now in a terminal (succeeded) state, not idle, so a second
	// Execute call must be refused rather than silently re-running.
	if _, err := a.Execute(context.Background(), SharedContext{Objective: "second"}, nil); err == nil {
		t.Fatal("second Execute() error = nil, want refusal on non-idle agent")
	}
}

func TestAgent_Execute_RefusesAfterDispose(t *testing.T) {
	gw := &fakeGateway{resp: &core.CompletionResponse{Content: "ok"}}
	a := New("agent-5", core.AgentProfile{Role: core.RoleResearch}, gw, core.NoOpLogger{})

	if err := a.Dispose(context.Background(), core.DefaultDisposeOptions()); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if a.State() != core.AgentDisposed {
		t.Errorf("State() = %v, want %v", a.State(), core.AgentDisposed)
	}
	if _, err := a.Execute(context.Background(), SharedContext{Objective: "too late"}, nil); err == nil {
		t.Fatal("Execute() after Dispose() error = nil, want refusal")
	}
}

func TestAgent_Dispose_IdempotentSecondCallIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	a := New("agent-6", core.AgentProfile{Role: core.RoleReview}, gw, core.NoOpLogger{})

	if err := a.Dispose(context.Background(), core.DefaultDisposeOptions()); err != nil {
		t.Fatalf("first Dispose() error = %v", err)
	}
	if err := a.Dispose(context.Background(), core.DefaultDisposeOptions()); err != nil {
		t.Fatalf("second Dispose() error = %v, want success both times", err)
	}
}

func TestBuildSystemPrompt_UnknownRoleFallsBackToSpecialist(t *testing.T) {
	p := core.AgentProfile{Role: core.Role("made-up"), Specialization: "widgets"}
	prompt := buildSystemPrompt(p)
	if prompt == "" {
		t.Fatal("buildSystemPrompt() returned empty string")
	}
}

func TestTemperatureAndMaxTokensScaleWithDepth(t *testing.T) {
	if temperatureFor(core.DepthShallow) >= temperatureFor(core.DepthExtreme) {
		t.Error("temperatureFor(shallow) should be less than temperatureFor(extreme)")
	}
	if maxTokensFor(core.DepthShallow) >= maxTokensFor(core.DepthExtreme) {
		t.Error("maxTokensFor(shallow) should be less than maxTokensFor(extreme)")
	}
}
