package retryintel

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nexusai/orchestrator/core"
)

// Event is one point in the retry event taxonomy from §6's event list:
// retry:attempt, retry:analysis, retry:backoff, retry:success,
// retry:exhausted.
type Event struct {
	Type     string
	TaskID   string
	AgentID  string
	Attempt  int
	DelayMs  int64
	Err      error
}

// EventSink receives retry events for StreamHub fan-out; nil is a valid
// no-op sink.
type EventSink func(Event)

// Executor runs a function under the intelligent-retry algorithm from
// §4.7: classify, consult the learned ErrorPattern, compute a backoff
// delay, and retry until success, exhaustion, or a non-retryable error.
type Executor struct {
	analyzer *Analyzer
	clock    core.Clock
	logger   core.ComponentLogger
}

func NewExecutor(analyzer *Analyzer, clock core.Clock, logger core.ComponentLogger) *Executor {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Executor{analyzer: analyzer, clock: clock, logger: logger.WithComponent("retryintel")}
}

// Fn is the operation under retry; its own context deadline is bounded
// by RetryContext.Config.Timeout per attempt.
type Fn func(ctx context.Context) (string, error)

// ExecuteWithIntelligentRetry runs fn under rc.Config, classifying
// failures against the AnalyticsStore-backed pattern store and emitting
// events through sink (may be nil).
func (ex *Executor) ExecuteWithIntelligentRetry(ctx context.Context, rc core.RetryContext, fn Fn, sink EventSink) (string, error) {
	cfg := rc.Config
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.Multiplier = 2
	expBackoff.RandomizationFactor = 0.2 // matches the 0..200ms jitter budget in §4.7 at sub-second scale

	var lastErr error
	var matchedPatternID string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		emit(sink, Event{Type: "retry:attempt", TaskID: rc.TaskID, AgentID: rc.AgentID, Attempt: attempt})

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		start := ex.clock.Now()
		out, err := fn(attemptCtx)
		execMs := ex.clock.Now().Sub(start).Milliseconds()
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if attempt > 0 && matchedPatternID != "" {
				_ = ex.analyzer.UpdateOutcome(ctx, matchedPatternID, true)
			}
			emit(sink, Event{Type: "retry:success", TaskID: rc.TaskID, AgentID: rc.AgentID, Attempt: attempt})
			return out, nil
		}
		lastErr = err

		errorType, heuristicRetryable := Classify(err)
		pattern, lookupErr := ex.analyzer.LookupPattern(ctx, errorType, serviceOf(rc), rc.Operation)
		retryable := heuristicRetryable
		if lookupErr == nil && pattern != nil {
			matchedPatternID = pattern.ID
			retryable = pattern.Retryable
		}
		_ = ex.analyzer.RecordAttempt(ctx, matchedPatternID, rc.TaskID, rc.AgentID, attempt, false, execMs, err.Error())

		emit(sink, Event{Type: "retry:analysis", TaskID: rc.TaskID, AgentID: rc.AgentID, Attempt: attempt, Err: err})

		if !retryable {
			return "", err
		}
		if attempt == cfg.MaxRetries {
			if matchedPatternID != "" {
				_ = ex.analyzer.UpdateOutcome(ctx, matchedPatternID, false)
			}
			emit(sink, Event{Type: "retry:exhausted", TaskID: rc.TaskID, AgentID: rc.AgentID, Attempt: attempt, Err: err})
			return "", core.NewTaskError(rc.Operation, core.CodeInternal, core.ErrMaxRetriesExceeded).
				WithTask(rc.TaskID).WithAgent(rc.AgentID)
		}

		delay := ex.computeDelay(cfg, attempt, expBackoff)
		emit(sink, Event{Type: "retry:backoff", TaskID: rc.TaskID, AgentID: rc.AgentID, Attempt: attempt, DelayMs: delay.Milliseconds()})

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ex.clock.After(delay):
		}
	}
	return "", lastErr
}

// computeDelay uses an explicit per-attempt schedule when the caller
// provided one, otherwise falls back to the exponential backoff curve,
// capped at cfg.MaxRetryDelay. v5's BackOff.NextBackOff returns a single
// time.Duration (no MaxElapsedTime/Stop sentinel, unlike v4); the loop's
// own MaxRetries is the authoritative stop condition, so the curve is
// only ever used for its delay value.
func (ex *Executor) computeDelay(cfg core.RetryConfig, attempt int, b *backoff.ExponentialBackOff) time.Duration {
	var delay time.Duration
	if attempt < len(cfg.BackoffMs) {
		delay = time.Duration(cfg.BackoffMs[attempt]) * time.Millisecond
	} else {
		delay = b.NextBackOff()
	}
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

func emit(sink EventSink, e Event) {
	if sink != nil {
		sink(e)
	}
}

// serviceOf defaults to the operation name when the caller left
// RetryContext.Service unset.
func serviceOf(rc core.RetryContext) string {
	if rc.Service != "" {
		return rc.Service
	}
	return rc.Operation
}
