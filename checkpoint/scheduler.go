package checkpoint

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexusai/orchestrator/core"
)

// retentionWindow matches spec §6's ">90 days" cleanup_old_attempts()
// retention policy for retry_intelligence.retry_attempts.
const retentionWindow = 90 * 24 * time.Hour

// nightlySpec runs once a day at 02:00, grounded on zkoranges-go-claw's
// cron-driven schedule style in internal/cron/scheduler.go, here using
// github.com/robfig/cron/v3's own Cron scheduler directly rather than
// only its parser, since this job is a fixed daily sweep rather than a
// store-driven dynamic schedule.
const nightlySpec = "0 2 * * *"

// RecoveryScheduler runs the nightly AnalyticsStore retention sweep.
type RecoveryScheduler struct {
	cron    *cron.Cron
	store   core.AnalyticsStore
	logger  core.ComponentLogger
	entryID cron.EntryID
}

// NewRecoveryScheduler wires a daily cleanup_old_attempts-equivalent
// sweep against store.
func NewRecoveryScheduler(store core.AnalyticsStore, logger core.ComponentLogger) *RecoveryScheduler {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RecoveryScheduler{cron: cron.New(), store: store, logger: logger.WithComponent("checkpoint.scheduler")}
}

// Start registers the nightly job and begins the scheduler's background
// goroutine. ctx is used only for the jobs it fires, not for shutdown —
// call Stop for that.
func (r *RecoveryScheduler) Start(ctx context.Context) error {
	id, err := r.cron.AddFunc(nightlySpec, func() { r.runCleanup(ctx) })
	if err != nil {
		return core.NewTaskError("checkpoint.scheduler.Start", core.CodeInternal, err)
	}
	r.entryID = id
	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (r *RecoveryScheduler) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

func (r *RecoveryScheduler) runCleanup(ctx context.Context) {
	n, err := r.store.CleanupOldAttempts(ctx, retentionWindow)
	if err != nil {
		r.logger.Error("retention sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	r.logger.Info("retention sweep complete", map[string]interface{}{"deleted": n})
}
