// Package orchestrator implements the Orchestrator state machine (C15):
// the single entry point (SubmitTask) composing the queue, generator,
// spawner, agent pool, retry/timeout subsystems and consensus engine
// into one task lifecycle, plus GetTaskStatus/Cancel and startup
// recovery. Grounded on the teacher's orchestration/orchestrator.go
// Execute loop (classify → plan → route → synthesize, mutating a single
// Task record through named states) generalized from single-tool
// routing to a full multi-agent cohort pipeline.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexusai/orchestrator/adaptivetimeout"
	"github.com/nexusai/orchestrator/agent"
	"github.com/nexusai/orchestrator/agentpool"
	"github.com/nexusai/orchestrator/checkpoint"
	"github.com/nexusai/orchestrator/consensus"
	"github.com/nexusai/orchestrator/core"
	"github.com/nexusai/orchestrator/generator"
	"github.com/nexusai/orchestrator/jobmanager"
	"github.com/nexusai/orchestrator/retryintel"
	"github.com/nexusai/orchestrator/selector"
	"github.com/nexusai/orchestrator/spawner"
	"github.com/nexusai/orchestrator/taskqueue"
)

// taskRetention is how long a terminal task stays queryable by
// GetTaskStatus before removal (§3's Task entity note).
const taskRetention = 5 * time.Minute

// memoryCleanupDelay is the first of scheduleCleanup's two waits. No
// MemoryStore cleanup runs after it; only the in-memory task record is
// removed, once taskRetention has passed.
const memoryCleanupDelay = 10 * time.Second

// watchdogInterval is how often the watchdog re-checks a running agent
// for the AdaptiveTimeout hung signal. The watchdog does not enforce the
// queue entry's TimeoutMs.
const watchdogInterval = 2 * time.Second

// StreamSink is the subset of streamhub.Hub the orchestrator depends on,
// kept as a local interface so this package never imports streamhub
// (the spec's room keys are produced here; streamhub only relays them).
type StreamSink interface {
	StreamToTask(taskID, eventType string, data interface{})
	StreamToAgent(agentID, eventType string, data interface{})
}

type noopSink struct{}

func (noopSink) StreamToTask(string, string, interface{})  {}
func (noopSink) StreamToAgent(string, string, interface{}) {}

// SubmitOptions carries SubmitTask's caller-supplied options (§4.12).
type SubmitOptions struct {
	Timeout              time.Duration
	Complexity           core.Complexity
	Domain               string
	MaxAgents            int
	RequiredCapabilities []string
	ThreadID             string
}

// Orchestrator wires every component the state machine drives.
type Orchestrator struct {
	cfg *core.Config

	gateway  core.ModelGateway
	memory   core.MemoryStore
	queue    *taskqueue.Queue
	gen      *generator.AgentGenerator
	spawn    *spawner.Spawner
	pool     *agentpool.Pool
	sel      *selector.ModelSelector
	retryExec *retryintel.Executor
	timeoutMon *adaptivetimeout.Monitor
	consensusEngine *consensus.Engine
	checkpointSvc   *checkpoint.Service
	jobs     *jobmanager.Manager
	stream   StreamSink

	idgen  core.IDGen
	clock  core.Clock
	logger core.ComponentLogger

	mu      sync.RWMutex
	tasks   map[string]*core.Task
	cancels map[string]context.CancelFunc
}

// Deps bundles Orchestrator's collaborators (kept as a struct rather
// than a long positional constructor, since the component count here is
// large and most callers only ever build one Orchestrator at startup).
type Deps struct {
	Config          *core.Config
	Gateway         core.ModelGateway
	Memory          core.MemoryStore
	Queue           *taskqueue.Queue
	Generator       *generator.AgentGenerator
	Spawner         *spawner.Spawner
	Pool            *agentpool.Pool
	Selector        *selector.ModelSelector
	RetryExecutor   *retryintel.Executor
	TimeoutMonitor  *adaptivetimeout.Monitor
	Consensus       *consensus.Engine
	Checkpoint      *checkpoint.Service
	Jobs            *jobmanager.Manager
	Stream          StreamSink
	IDGen           core.IDGen
	Clock           core.Clock
	Logger          core.ComponentLogger
}

func New(d Deps) *Orchestrator {
	if d.Stream == nil {
		d.Stream = noopSink{}
	}
	if d.Clock == nil {
		d.Clock = core.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = core.NoOpLogger{}
	}
	return &Orchestrator{
		cfg: d.Config, gateway: d.Gateway, memory: d.Memory, queue: d.Queue,
		gen: d.Generator, spawn: d.Spawner, pool: d.Pool, sel: d.Selector,
		retryExec: d.RetryExecutor, timeoutMon: d.TimeoutMonitor,
		consensusEngine: d.Consensus, checkpointSvc: d.Checkpoint, jobs: d.Jobs,
		stream: d.Stream, idgen: d.IDGen, clock: d.Clock,
		logger:  d.Logger.WithComponent("orchestrator"),
		tasks:   make(map[string]*core.Task),
		cancels: make(map[string]context.CancelFunc),
	}
}

// SubmitTask implements §4.12's 12-step contract.
func (o *Orchestrator) SubmitTask(ctx context.Context, input string, opts SubmitOptions, tenant core.TenantContext) (string, error) {
	// Step 1: tenant arrives as a local parameter, never read back off
	// ctx, so concurrent tasks can't race on an ambient tenant.
	taskID := o.idgen.NewID("task")

	task := &core.Task{
		ID: taskID, Type: core.TaskAnalysis, Objective: input,
		Context: map[string]interface{}{}, Constraints: map[string]interface{}{},
		CreatedAt: o.clock.Now(), Status: core.StatusPending, ThreadID: opts.ThreadID,
		Tenant: tenant,
	}
	o.putTask(task)

	// Step 2: short-circuit trivial messages.
	if o.cfg != nil && len(strings.TrimSpace(input)) < o.cfg.ShortCircuitChars {
		return taskID, o.runShortCircuit(ctx, task)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()

	go o.run(taskCtx, task, opts)
	return taskID, nil
}

func (o *Orchestrator) runShortCircuit(ctx context.Context, task *core.Task) error {
	modelID, err := o.sel.SelectModel(ctx, core.AgentProfile{Role: core.RoleResearch, ReasoningDepth: core.DepthShallow})
	if err != nil {
		return o.fail(task, core.NewTaskError("orchestrator.SubmitTask", core.CodeGatewayUnavailable, err).WithTask(task.ID))
	}
	resp, err := o.gateway.Complete(ctx, core.CompletionRequest{
		ModelID: modelID, Messages: []core.ChatMessage{{Role: "user", Content: task.Objective}},
		Temperature: 0.3, MaxTokens: 256, TimeoutMs: 10000,
	})
	if err != nil {
		return o.fail(task, core.NewTaskError("orchestrator.SubmitTask", core.CodeGatewayUnavailable, err).WithTask(task.ID).WithModel(modelID))
	}
	o.complete(task, &core.ConsensusResult{
		FinalOutput: resp.Content, ConsensusStrength: 1, ConfidenceScore: 1,
		Metadata: map[string]interface{}{"bypass": true, "reason": "message_too_short"},
	})
	return nil
}

// run drives steps 3-12 of the state machine in the background.
func (o *Orchestrator) run(ctx context.Context, task *core.Task, opts SubmitOptions) {
	defer o.scheduleCleanup(task.ID)

	o.mu.RLock()
	taskCancel := o.cancels[task.ID]
	o.mu.RUnlock()

	complexity := classifyComplexity(task.Objective, opts.Complexity)

	// Step 3: admit to TaskQueue; Dequeue reserves a concurrency slot
	// that Release frees once this task's processing finishes below.
	timeout := o.resolveTimeout(opts, complexity)
	entry := &taskqueue.Entry{TaskID: task.ID, TimeoutMs: timeout.Milliseconds()}
	if err := o.queue.Enqueue(ctx, entry); err != nil {
		o.fail(task, core.NewTaskError("orchestrator.run", core.CodeResourceExhausted, err).WithTask(task.ID))
		return
	}
	if _, err := o.queue.Dequeue(ctx); err != nil {
		o.fail(task, core.NewTaskError("orchestrator.run", core.CodeCancelled, err).WithTask(task.ID))
		return
	}
	defer o.queue.Release()

	o.setStatus(task, core.StatusRunning)

	// Step 4: conversation thread + best-effort message store.
	if task.ThreadID == "" {
		task.ThreadID = o.idgen.NewID("thread")
	}
	o.bestEffort(func() error {
		return o.memory.StoreEpisode(ctx, task.Tenant, "message", task.Objective, map[string]interface{}{"threadId": task.ThreadID})
	}, "store user message")

	// Step 5: synthesize retrieval context.
	synthCtx := o.bestEffortSynthesize(ctx, task, complexity)
	if synthCtx != nil {
		task.Context["memorySummary"] = synthCtx.Summary
		task.MemoryContextRef = synthCtx.Summary
	}

	// Step 6: entity bookkeeping (best-effort) + progress.
	o.bestEffort(func() error {
		return o.memory.StoreMemory(ctx, task.Tenant, "task:"+task.ID, map[string]interface{}{"status": "started"})
	}, "create task entity")
	o.progress(task, 5)

	// Step 7: agent profile generation.
	genResult := o.gen.GenerateAgentProfiles(ctx, task.Tenant, generator.Request{
		Task: task.Objective, Complexity: complexity, Domain: opts.Domain,
		MaxAgents: opts.MaxAgents, RequiredCapabilities: opts.RequiredCapabilities,
	})
	o.progress(task, 15)

	// Step 8: spawn agents via AgentPool.
	agents := o.spawnAgents(ctx, task, genResult.Profiles)
	o.progress(task, 25)
	if len(agents) == 0 {
		o.fail(task, core.NewTaskError("orchestrator.run", core.CodeInternal, core.ErrInternal).WithTask(task.ID))
		return
	}

	// Step 9: execute each agent under RetryExecutor + AdaptiveTimeout.
	var hung atomic.Bool
	shared := agent.SharedContext{Objective: task.Objective, TaskType: task.Type, MemoryNotes: task.MemoryContextRef}
	results := o.executeAgents(ctx, task, agents, shared, complexity, &hung, taskCancel)
	o.progress(task, 70)

	// §8.6: an AdaptiveTimeout "hung" signal is a harder failure than a
	// plain cancellation, so it's checked first and reported with its
	// own errorCode even though the watchdog also cancelled ctx.
	if hung.Load() {
		o.fail(task, core.NewTaskError("orchestrator.run", core.CodeAdaptiveHung, core.ErrCancelled).WithTask(task.ID))
		return
	}
	if ctx.Err() != nil {
		o.cancelTerminal(task)
		return
	}

	// Step 10: consensus.
	consensusResult, err := o.consensusEngine.Apply(ctx, task.Objective, results, genResult.RecommendedConsensusLayers, task.Tenant)
	if err != nil {
		if ctx.Err() != nil {
			o.cancelTerminal(task)
			return
		}
		o.fail(task, core.NewTaskError("orchestrator.run", core.CodeInternal, err).WithTask(task.ID))
		return
	}
	o.progress(task, 90)

	// Step 11: sequential durability.
	if err := o.persist(ctx, task, consensusResult, len(agents)); err != nil {
		o.fail(task, err)
		return
	}
	o.progress(task, 95)

	// Step 12: terminal state.
	o.complete(task, consensusResult)
}

func (o *Orchestrator) resolveTimeout(opts SubmitOptions, complexity core.Complexity) time.Duration {
	candidates := []time.Duration{opts.Timeout, o.timeoutMon.GetEstimatedCompletionTime("", complexity)}
	if o.cfg != nil {
		candidates = append(candidates, o.cfg.TaskQueueTimeout)
	}
	best := time.Duration(0)
	for _, c := range candidates {
		if c > best {
			best = c
		}
	}
	return best
}

func (o *Orchestrator) bestEffortSynthesize(ctx context.Context, task *core.Task, complexity core.Complexity) *core.SynthesizedContext {
	limit := 10
	if complexity == core.ComplexityExtreme {
		limit = 25
	}
	sc, err := o.memory.SynthesizeContext(ctx, task.Tenant, task.Objective, core.SynthesizeOptions{
		IncludeEpisodes: true, IncludeDocuments: true, IncludeMemories: true,
		Limit: limit, MaxTokens: 4000, ChunkSize: 512,
	})
	if err != nil {
		o.logger.Warn("context synthesis failed, continuing without it", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		return nil
	}
	return sc
}

func (o *Orchestrator) spawnAgents(ctx context.Context, task *core.Task, profiles []core.AgentProfile) []agent.Agent {
	requests := make([]spawner.Request, len(profiles))
	for i, p := range profiles {
		p := p
		requests[i] = spawner.Request{ID: task.ID + "-agent-" + itoa(i), Fn: func(ctx context.Context) (interface{}, error) {
			a := agent.New(o.idgen.NewID("agent"), p, o.gateway, o.logger)
			o.pool.Add(a)
			o.stream.StreamToTask(task.ID, "agent:spawned", map[string]interface{}{"agentId": a.ID(), "role": p.Role})
			return a, nil
		}}
	}
	outcomes := o.spawn.SpawnParallel(ctx, requests, spawner.Options{MaxConcurrency: 8, Timeout: 10 * time.Second, BatchSize: 8})

	agents := make([]agent.Agent, 0, len(outcomes))
	for _, o2 := range outcomes {
		if o2.Status == spawner.Fulfilled {
			agents = append(agents, o2.Value.(agent.Agent))
		}
	}
	return agents
}

func (o *Orchestrator) executeAgents(ctx context.Context, task *core.Task, agents []agent.Agent, shared agent.SharedContext, complexity core.Complexity, hung *atomic.Bool, taskCancel context.CancelFunc) []core.ExecutionResult {
	results := make([]core.ExecutionResult, len(agents))
	var wg sync.WaitGroup
	for i, a := range agents {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.executeOne(ctx, task, a, shared, complexity, hung, taskCancel)
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) executeOne(ctx context.Context, task *core.Task, a agent.Agent, shared agent.SharedContext, complexity core.Complexity, hung *atomic.Bool, taskCancel context.CancelFunc) core.ExecutionResult {
	agentCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.timeoutMon.StartMonitoring(a.ID(), a.Profile().ModelID, complexity)
	defer o.timeoutMon.CompleteTask(a.ID())

	watchdogDone := make(chan struct{})
	go o.watchdog(agentCtx, cancel, a.ID(), watchdogDone, hung, taskCancel)
	defer close(watchdogDone)

	var execResult *core.ExecutionResult
	rc := core.RetryContext{
		TaskID: task.ID, AgentID: a.ID(), Operation: "agent.execute", Service: "model-gateway",
		Config: core.RetryConfig{MaxRetries: 3, ExponentialBackoff: true, MaxRetryDelay: 10 * time.Second},
	}
	sink := func(e retryintel.Event) {
		o.stream.StreamToAgent(a.ID(), string(e.Type), e)
	}

	_, err := o.retryExec.ExecuteWithIntelligentRetry(agentCtx, rc, func(ctx context.Context) (string, error) {
		res, execErr := a.Execute(ctx, shared, func(c core.Chunk) {
			o.timeoutMon.UpdateProgress(a.ID(), int64(len(c.Delta)), 1)
		})
		if execErr != nil {
			return "", execErr
		}
		execResult = res
		return res.Output, nil
	}, sink)

	_ = o.pool.CleanupAgent(context.Background(), a.ID())

	if err != nil {
		o.stream.StreamToAgent(a.ID(), "agent:failed", map[string]interface{}{"error": err.Error()})
		return core.ExecutionResult{AgentID: a.ID(), ModelID: a.Profile().ModelID, Role: a.Profile().Role, Success: false, Error: err}
	}
	o.stream.StreamToAgent(a.ID(), "agent:complete", execResult)
	return *execResult
}

// watchdog polls AdaptiveTimeout for the hung signal. A hung agent is
// cancelled individually (cancel) and also escalates to the whole task
// (taskCancel) per §5's cancellation semantics — a hang in one agent
// aborts the cohort rather than letting siblings run to a consensus
// join that would never reflect the hung agent's contribution.
func (o *Orchestrator) watchdog(ctx context.Context, cancel context.CancelFunc, agentID string, done chan struct{}, hung *atomic.Bool, taskCancel context.CancelFunc) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.timeoutMon.Check(agentID) == adaptivetimeout.SignalHung {
				o.logger.Warn("adaptive timeout hung, cancelling agent", map[string]interface{}{"agent_id": agentID})
				hung.Store(true)
				cancel()
				if taskCancel != nil {
					taskCancel()
				}
				return
			}
		}
	}
}

// persist implements §4.12 step 11's sequential durability substeps.
func (o *Orchestrator) persist(ctx context.Context, task *core.Task, result *core.ConsensusResult, agentCount int) *core.TaskError {
	checkpointID := o.idgen.NewID("cp")
	meta := core.CheckpointMetadata{Timestamp: o.clock.Now()}

	// (a) write-ahead pending checkpoint.
	if err := o.checkpointSvc.WriteCheckpoint(ctx, task.ID, checkpointID, result, agentCount, meta); err != nil {
		return core.NewTaskError("orchestrator.persist", core.CodeDurability, err).WithTask(task.ID)
	}

	// (b) fatal write: persist the final artifact as a document.
	docID, err := o.memory.StoreDocument(ctx, task.Tenant, result.FinalOutput, map[string]interface{}{"taskId": task.ID})
	if err != nil {
		return core.NewTaskError("orchestrator.persist", core.CodeDurability, err).WithTask(task.ID)
	}
	task.Context["documentId"] = docID

	// (c) best-effort secondary projection via the durable job queue.
	if o.jobs != nil {
		o.bestEffort(func() error {
			_, err := o.jobs.CreateTask(ctx, "memory-projection", map[string]interface{}{"taskId": task.ID, "documentId": docID}, jobmanager.CreateOptions{Tenant: task.Tenant})
			return err
		}, "enqueue memory projection")
	}

	// (d) best-effort episode pointer for timeline discovery.
	o.bestEffort(func() error {
		return o.memory.StoreEpisode(ctx, task.Tenant, "task-result", result.FinalOutput, map[string]interface{}{"taskId": task.ID, "documentId": docID})
	}, "write episode pointer")

	// (e) commit the checkpoint.
	if err := o.checkpointSvc.CommitCheckpoint(ctx, task.ID); err != nil {
		o.logger.Warn("checkpoint commit failed after durable persistence", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
	}
	return nil
}

// Cancel implements §5's cancellation semantics.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[taskID]
	task := o.tasks[taskID]
	o.mu.Unlock()
	if task == nil {
		return core.NewTaskError("orchestrator.Cancel", core.CodeNotFound, core.ErrNotFound).WithTask(taskID)
	}
	if task.Status.IsTerminal() {
		return nil // idempotent: a terminal task stays terminal.
	}
	if !ok {
		return core.NewTaskError("orchestrator.Cancel", core.CodeNotFound, core.ErrNotFound).WithTask(taskID)
	}
	cancel()
	o.cancelTerminal(task)
	return nil
}

func (o *Orchestrator) cancelTerminal(task *core.Task) {
	o.setStatus(task, core.StatusCancelled)
	o.stream.StreamToTask(task.ID, "task:cancelled", nil)
}

// GetTaskStatus implements §4.14's status query shape over the
// in-memory task table.
func (o *Orchestrator) GetTaskStatus(taskID string) (*core.Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return nil, core.NewTaskError("orchestrator.GetTaskStatus", core.CodeNotFound, core.ErrNotFound).WithTask(taskID)
	}
	return task, nil
}

// Recover replays pending checkpoints at startup (§4.11).
func (o *Orchestrator) Recover(ctx context.Context) (recovered, skipped int) {
	return o.checkpointSvc.RecoverPendingCheckpoints(ctx, func(ctx context.Context, cp core.Checkpoint) error {
		if cp.SynthesisResult == nil {
			return core.ErrInternal
		}
		_, err := o.memory.StoreDocument(ctx, core.TenantContext{}, cp.SynthesisResult.FinalOutput, map[string]interface{}{"taskId": cp.TaskID, "recovered": true})
		return err
	})
}

func (o *Orchestrator) putTask(t *core.Task) {
	o.mu.Lock()
	o.tasks[t.ID] = t
	o.mu.Unlock()
}

func (o *Orchestrator) setStatus(t *core.Task, s core.TaskStatus) {
	o.mu.Lock()
	t.Status = s
	o.mu.Unlock()
}

func (o *Orchestrator) progress(t *core.Task, pct int) {
	o.stream.StreamToTask(t.ID, "task:progress", map[string]interface{}{"progress": pct})
}

func (o *Orchestrator) complete(t *core.Task, result *core.ConsensusResult) {
	o.mu.Lock()
	t.Status = core.StatusCompleted
	t.Result = result
	o.mu.Unlock()
	o.stream.StreamToTask(t.ID, "task:completed", result)
}

func (o *Orchestrator) fail(t *core.Task, err *core.TaskError) error {
	o.mu.Lock()
	t.Status = core.StatusFailed
	t.Error = &core.TaskErrorView{Code: err.Code, Message: err.Error()}
	o.mu.Unlock()
	o.stream.StreamToTask(t.ID, "task:failed", t.Error)
	return err
}

func (o *Orchestrator) bestEffort(fn func() error, what string) {
	if err := fn(); err != nil {
		o.logger.Warn(what+" failed, continuing", map[string]interface{}{"error": err.Error()})
	}
}

// scheduleCleanup removes a terminal task's in-memory record
// taskRetention after completion, per §3's "kept 5 min after terminal"
// note, waiting memoryCleanupDelay and then the remainder. It deletes
// nothing from the MemoryStore. Only run schedules it, so the records
// of short-circuited tasks are not removed.
func (o *Orchestrator) scheduleCleanup(taskID string) {
	go func() {
		<-o.clock.After(memoryCleanupDelay)
		<-o.clock.After(taskRetention - memoryCleanupDelay)
		o.mu.Lock()
		delete(o.tasks, taskID)
		delete(o.cancels, taskID)
		o.mu.Unlock()
	}()
}

// classifyComplexity honors an explicit caller hint; otherwise infers
// from input length, a reasonable proxy absent an upstream classifier
// model in this engine's scope.
func classifyComplexity(input string, hint core.Complexity) core.Complexity {
	if hint != "" {
		return hint
	}
	n := len(input)
	switch {
	case n < 100:
		return core.ComplexitySimple
	case n < 500:
		return core.ComplexityMedium
	case n < 2000:
		return core.ComplexityComplex
	default:
		return core.ComplexityExtreme
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
