// Package jobmanager implements JobManager (C14): a durable FIFO
// adapter over core.JobStore (Redis Streams in production, §6) with a
// type-keyed processor registry and event relay to StreamHub. Grounded
// on the teacher's core/async_task.go TaskQueue/TaskStore/TaskWorker
// split, collapsed here onto the single JobStore port this engine's
// store package implements, with TaskHandler generalized from a fixed
// signature into a per-type processor registry (registerProcessor).
package jobmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// JobContext is passed to a Processor, grounded on the teacher's
// TaskHandler(ctx, task, reporter) shape generalized to carry tenant
// identity explicitly (I-no-ambient-state) instead of through ctx alone.
type JobContext struct {
	JobID  string
	Tenant core.TenantContext
	Job    *core.Job
}

// Reporter lets a Processor publish progress mid-execution, grounded on
// the teacher's ProgressReporter.
type Reporter interface {
	Report(pct int) error
}

// Processor handles one job type (§4.14's registerProcessor fn shape).
type Processor func(ctx context.Context, params map[string]interface{}, jctx JobContext, reporter Reporter) (result string, err error)

// EventSink receives task:progress / task:complete / retry:* events for
// relay to StreamHub; the orchestrator wires this to a streamhub.Hub
// without jobmanager importing it directly, avoiding a dependency cycle
// (StreamHub rooms are keyed by task, not job, and the two packages
// otherwise have no shared type).
type EventSink func(eventType, jobID string, data interface{})

// CreateOptions configures one CreateTask call (§4.14's opts).
type CreateOptions struct {
	Timeout  time.Duration
	Priority int
	Tenant   core.TenantContext
}

// Status is the shape returned by GetTaskStatus (§4.14).
type Status struct {
	JobID       string
	Type        string
	Status      core.TaskStatus
	Progress    int
	Result      string
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Manager is the JobManager implementation.
type Manager struct {
	store      core.JobStore
	logger     core.ComponentLogger
	sink       EventSink
	processors map[string]Processor
}

// New wires a Manager against store; sink may be nil to discard events.
func New(store core.JobStore, logger core.ComponentLogger, sink EventSink) *Manager {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if sink == nil {
		sink = func(string, string, interface{}) {}
	}
	return &Manager{
		store:      store,
		logger:     logger.WithComponent("jobmanager"),
		sink:       sink,
		processors: make(map[string]Processor),
	}
}

// RegisterProcessor binds fn to jobType (§4.14). The orchestrator
// registers itself as the "orchestrate" processor; other single-purpose
// task types register their own.
func (m *Manager) RegisterProcessor(jobType string, fn Processor) {
	m.processors[jobType] = fn
}

// CreateTask enqueues a new job and returns its idempotency jobId
// (§4.14).
func (m *Manager) CreateTask(ctx context.Context, jobType string, params map[string]interface{}, opts CreateOptions) (string, error) {
	jobID, err := m.store.Enqueue(ctx, jobType, params, core.EnqueueOptions{
		Timeout:  opts.Timeout,
		Priority: opts.Priority,
		Tenant:   opts.Tenant,
	})
	if err != nil {
		return "", core.NewTaskError("jobmanager.CreateTask", core.CodeDurability, err)
	}
	return jobID, nil
}

// GetTaskStatus reads the current job state (§4.14).
func (m *Manager) GetTaskStatus(ctx context.Context, jobID string) (*Status, error) {
	state, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, core.NewTaskError("jobmanager.GetTaskStatus", core.CodeNotFound, err)
	}
	return &Status{
		JobID: state.JobID, Type: state.Type, Status: state.Status,
		Progress: state.Progress, Result: state.Result, Error: state.Error,
		CreatedAt: state.CreatedAt, StartedAt: state.StartedAt, CompletedAt: state.CompletedAt,
	}, nil
}

// reporter adapts a live job execution to the Reporter interface,
// forwarding each call both to the store (durable) and the event sink
// (real-time).
type reporter struct {
	m     *Manager
	jobID string
}

func (r *reporter) Report(pct int) error {
	if err := r.m.store.Progress(context.Background(), r.jobID, pct); err != nil {
		return err
	}
	r.m.sink("task:progress", r.jobID, map[string]interface{}{"progress": pct})
	return nil
}

// Run drains the queue under worker identity workerName until ctx is
// cancelled, dispatching each reserved job to its registered Processor.
// Grounded on the teacher's TaskWorker.Start loop (reserve, dispatch,
// ack/reject), generalized from a single global handler map lookup
// keyed the same way.
func (m *Manager) Run(ctx context.Context, workerName string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.Reserve(ctx, workerName)
		if err != nil {
			m.logger.Warn("reserve failed", map[string]interface{}{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		m.process(ctx, job)
	}
}

func (m *Manager) process(ctx context.Context, job *core.Job) {
	proc, ok := m.processors[job.Type]
	if !ok {
		reason := fmt.Sprintf("no processor registered for type %q", job.Type)
		m.logger.Error("unroutable job", map[string]interface{}{"job_id": job.JobID, "type": job.Type})
		_ = m.store.Fail(ctx, job.JobID, reason)
		m.sink("retry:exhausted", job.JobID, map[string]interface{}{"reason": reason})
		return
	}

	jctx := JobContext{JobID: job.JobID, Tenant: job.Tenant, Job: job}
	result, err := proc(ctx, job.Params, jctx, &reporter{m: m, jobID: job.JobID})
	if err != nil {
		m.logger.Warn("job processor failed", map[string]interface{}{"job_id": job.JobID, "error": err.Error()})
		_ = m.store.Fail(ctx, job.JobID, err.Error())
		m.sink("retry:attempt", job.JobID, map[string]interface{}{"error": err.Error()})
		return
	}

	if err := m.store.Ack(ctx, job.JobID); err != nil {
		m.logger.Error("ack failed", map[string]interface{}{"job_id": job.JobID, "error": err.Error()})
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"result": result})
	m.sink("task:complete", job.JobID, json.RawMessage(payload))
}
