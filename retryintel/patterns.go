// Package retryintel implements RetryExecutor + RetryAnalyzer (C8):
// error classification against a learned pattern store, backoff
// scheduling, and outcome recording. Grounded on the teacher's
// resilience/retry.go attempt-loop shape, with backoff computation
// delegated to github.com/cenkalti/backoff/v5 (the teacher's own
// indirect dependency, promoted here to direct use) instead of the
// teacher's hand-rolled jitter.
package retryintel

import (
	"context"
	"strings"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// Classify maps err to an ErrorType string and a retryable verdict,
// using the non-retryable message shapes and retryable HTTP statuses
// from spec §4.7/§7 (core.NonRetryableMessageShapes /
// core.RetryableHTTPStatuses via core.ClassifyHTTPStatus).
func Classify(err error) (errorType string, retryable bool) {
	if err == nil {
		return "", false
	}
	msg := strings.ToLower(err.Error())
	for _, shape := range core.NonRetryableMessageShapes {
		if strings.Contains(msg, shape) {
			return shape, false
		}
	}
	if classifyCode(err) == core.CodeValidation {
		return string(core.CodeValidation), false
	}
	if core.IsRetryable(err) {
		return string(classifyCode(err)), true
	}
	return "unknown", true
}

func classifyCode(err error) core.ErrorCode {
	var te *core.TaskError
	if e, ok := err.(*core.TaskError); ok {
		te = e
	}
	if te != nil {
		return te.Code
	}
	return core.CodeTransientUpstream
}

// patternCacheTTL is the "≤50ms cache" window from §4.7: lookups for
// the same (errorType, service, operation) key within this window reuse
// the cached pattern instead of round-tripping to AnalyticsStore.
const patternCacheTTL = 50 * time.Millisecond

type cacheEntry struct {
	pattern   *core.ErrorPattern
	fetchedAt time.Time
}

// Analyzer wraps an core.AnalyticsStore with a short-lived read cache
// and the write path for recording attempt outcomes.
type Analyzer struct {
	store  core.AnalyticsStore
	clock  core.Clock
	logger core.ComponentLogger

	cache map[string]cacheEntry
}

func NewAnalyzer(store core.AnalyticsStore, clock core.Clock, logger core.ComponentLogger) *Analyzer {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Analyzer{store: store, clock: clock, logger: logger.WithComponent("retryintel"), cache: make(map[string]cacheEntry)}
}

// LookupPattern returns the ErrorPattern for (errorType, service,
// operation), serving a cached copy within patternCacheTTL.
func (a *Analyzer) LookupPattern(ctx context.Context, errorType, service, operation string) (*core.ErrorPattern, error) {
	key := errorType + "|" + service + "|" + operation
	if e, ok := a.cache[key]; ok && a.clock.Now().Sub(e.fetchedAt) < patternCacheTTL {
		return e.pattern, nil
	}

	p, err := a.store.LookupPattern(ctx, errorType, service, operation)
	if err != nil {
		return nil, err
	}
	a.cache[key] = cacheEntry{pattern: p, fetchedAt: a.clock.Now()}
	return p, nil
}

// RecordAttempt persists one retry attempt.
func (a *Analyzer) RecordAttempt(ctx context.Context, patternID, taskID, agentID string, attempt int, success bool, execMs int64, errMsg string) error {
	return a.store.RecordAttempt(ctx, patternID, taskID, agentID, attempt, success, execMs, errMsg)
}

// UpdateOutcome updates the pattern's success/failure counters. The
// short-lived lookup cache is left to expire on its own TTL rather than
// being invalidated by patternID, since it isn't keyed that way.
func (a *Analyzer) UpdateOutcome(ctx context.Context, patternID string, success bool) error {
	return a.store.UpdateOutcome(ctx, patternID, success)
}
