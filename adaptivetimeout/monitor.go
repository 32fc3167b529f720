// Package adaptivetimeout implements AdaptiveTimeout (C7): a per-task
// progress monitor distinct from the queue's hard deadline, emitting
// soft stall/hung signals and maintaining an EMA-based completion-time
// estimate per (model, complexity). Grounded on the teacher's
// resilience/circuit_breaker.go sliding-window accounting style
// (time-bucketed counters feeding a health decision) adapted from
// request-success tracking to byte/chunk-progress tracking.
package adaptivetimeout

import (
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// Signal is emitted by Monitor.Check when a task has gone quiet.
type Signal string

const (
	SignalNone  Signal = ""
	SignalStall Signal = "stall"
	SignalHung  Signal = "hung"
)

// defaultEstimate is the per-complexity fallback from §4.6, used until
// enough historical observations exist for a model.
var defaultEstimate = map[core.Complexity]time.Duration{
	core.ComplexitySimple:  60 * time.Second,
	core.ComplexityMedium:  120 * time.Second,
	core.ComplexityComplex: 240 * time.Second,
	core.ComplexityExtreme: 600 * time.Second,
}

// stallWindow and hangWindow scale with complexity: larger budgets get
// more patience before being flagged stalled/hung, per §4.6.
var stallWindow = map[core.Complexity]time.Duration{
	core.ComplexitySimple:  10 * time.Second,
	core.ComplexityMedium:  20 * time.Second,
	core.ComplexityComplex: 40 * time.Second,
	core.ComplexityExtreme: 90 * time.Second,
}

var hangWindow = map[core.Complexity]time.Duration{
	core.ComplexitySimple:  30 * time.Second,
	core.ComplexityMedium:  60 * time.Second,
	core.ComplexityComplex: 120 * time.Second,
	core.ComplexityExtreme: 270 * time.Second,
}

type taskState struct {
	modelID      string
	complexity   core.Complexity
	startedAt    time.Time
	lastProgress time.Time
	bytes        int64
	chunks       int64
}

// emaAlpha weights the most recent observation; 0.3 gives roughly a
// 3-sample memory, enough to adapt without being noisy on one outlier.
const emaAlpha = 0.3

// Monitor tracks every in-flight task's progress and the historical
// completion-time EMA per (model, complexity).
type Monitor struct {
	mu      sync.Mutex
	tasks   map[string]*taskState
	history map[string]time.Duration // key: modelID+"|"+complexity
	clock   core.Clock
	logger  core.ComponentLogger
}

func New(clock core.Clock, logger core.ComponentLogger) *Monitor {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Monitor{
		tasks:   make(map[string]*taskState),
		history: make(map[string]time.Duration),
		clock:   clock,
		logger:  logger.WithComponent("adaptivetimeout"),
	}
}

// StartMonitoring begins tracking taskID.
func (m *Monitor) StartMonitoring(taskID, modelID string, complexity core.Complexity) {
	now := m.clock.Now()
	m.mu.Lock()
	m.tasks[taskID] = &taskState{modelID: modelID, complexity: complexity, startedAt: now, lastProgress: now}
	m.mu.Unlock()
}

// UpdateProgress records a progress delta, resetting the stall/hung
// clock for taskID.
func (m *Monitor) UpdateProgress(taskID string, byteDelta, chunkDelta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	t.bytes += byteDelta
	t.chunks += chunkDelta
	t.lastProgress = m.clock.Now()
}

// Check reports whether taskID has stalled or hung based on elapsed
// time since its last progress update, relative to its complexity's
// windows. Returns SignalNone for an unknown or healthy task.
func (m *Monitor) Check(taskID string) Signal {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return SignalNone
	}

	silence := m.clock.Now().Sub(t.lastProgress)
	hang := hangWindow[t.complexity]
	stall := stallWindow[t.complexity]
	switch {
	case silence >= hang:
		return SignalHung
	case silence >= stall:
		return SignalStall
	default:
		return SignalNone
	}
}

// GetEstimatedCompletionTime returns the historical EMA estimate for
// (model, complexity), falling back to the per-complexity default from
// §4.6 until enough observations exist.
func (m *Monitor) GetEstimatedCompletionTime(modelID string, complexity core.Complexity) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.history[historyKey(modelID, complexity)]; ok {
		return d
	}
	if d, ok := defaultEstimate[complexity]; ok {
		return d
	}
	return 120 * time.Second
}

// CompleteTask records taskID's observed duration into the (model,
// complexity) EMA and stops tracking it.
func (m *Monitor) CompleteTask(taskID string) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	delete(m.tasks, taskID)

	observed := now.Sub(t.startedAt)
	key := historyKey(t.modelID, t.complexity)
	prev, exists := m.history[key]
	if !exists {
		m.history[key] = observed
		return
	}
	m.history[key] = time.Duration(emaAlpha*float64(observed) + (1-emaAlpha)*float64(prev))
}

// Abandon stops tracking taskID without recording a history sample,
// used when a task is cancelled rather than completed.
func (m *Monitor) Abandon(taskID string) {
	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
}

func historyKey(modelID string, complexity core.Complexity) string {
	return modelID + "|" + string(complexity)
}
