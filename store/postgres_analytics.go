package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexusai/orchestrator/core"
)

// PostgresAnalyticsStore implements core.AnalyticsStore (§6) against
// the bit-exact retry_intelligence schema, using pgx/v5's pool directly
// (pgxpool.Pool) rather than database/sql, grounded on the pack's
// jackc/pgx usage in codeready-toolchain-tarsy/pkg/database/client.go
// and nevindra-oasis, adapted from an ent-backed wrapper to a thin
// hand-written repository since RetryAnalyzer only needs four narrow
// operations rather than a full ORM surface.
type PostgresAnalyticsStore struct {
	pool   *pgxpool.Pool
	logger core.ComponentLogger
}

func NewPostgresAnalyticsStore(pool *pgxpool.Pool, logger core.ComponentLogger) *PostgresAnalyticsStore {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &PostgresAnalyticsStore{pool: pool, logger: logger.WithComponent("store.postgres_analytics")}
}

// Schema is the bit-exact DDL spec §6 requires RetryAnalyzer to depend
// on; callers run it once via a migration tool at deploy time (the
// teacher's golang-migrate/iofs approach), not from this adapter.
const Schema = `
CREATE SCHEMA IF NOT EXISTS retry_intelligence;

CREATE TABLE IF NOT EXISTS retry_intelligence.error_patterns (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  error_type TEXT NOT NULL,
  error_message TEXT NOT NULL,
  service_name TEXT NOT NULL,
  operation_name TEXT NOT NULL,
  category TEXT NOT NULL,
  severity TEXT NOT NULL,
  retryable BOOLEAN NOT NULL,
  retry_success_count BIGINT NOT NULL DEFAULT 0,
  retry_failure_count BIGINT NOT NULL DEFAULT 0,
  success_rate NUMERIC NOT NULL DEFAULT 0,
  occurrence_count BIGINT NOT NULL DEFAULT 0,
  recommended_strategy JSONB NOT NULL DEFAULT '{}',
  first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (error_type, service_name, operation_name)
);

CREATE TABLE IF NOT EXISTS retry_intelligence.retry_attempts (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  pattern_id UUID REFERENCES retry_intelligence.error_patterns(id),
  task_id TEXT NOT NULL,
  agent_id TEXT NOT NULL,
  attempt_number INT NOT NULL,
  success BOOLEAN NOT NULL,
  execution_time_ms INT NOT NULL,
  error_if_failed TEXT,
  strategy_applied JSONB NOT NULL DEFAULT '{}',
  modifications_applied JSONB NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE VIEW retry_intelligence.v_retry_effectiveness AS
  SELECT error_type, service_name, operation_name, success_rate, occurrence_count
  FROM retry_intelligence.error_patterns
  ORDER BY occurrence_count DESC;

CREATE OR REPLACE VIEW retry_intelligence.v_recent_retries AS
  SELECT * FROM retry_intelligence.retry_attempts
  WHERE created_at > now() - INTERVAL '24 hours'
  ORDER BY created_at DESC;
`

// LookupPattern returns the learned ErrorPattern for (errorType,
// service, operation), or nil without error when none has been
// observed yet — a fresh error shape is not itself an error.
func (s *PostgresAnalyticsStore) LookupPattern(ctx context.Context, errorType, service, operation string) (*core.ErrorPattern, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, error_type, error_message, service_name, operation_name,
		       category, severity, retryable, retry_success_count,
		       retry_failure_count, success_rate, occurrence_count,
		       recommended_strategy, first_seen_at, last_seen_at
		FROM retry_intelligence.error_patterns
		WHERE error_type = $1 AND service_name = $2 AND operation_name = $3`,
		errorType, service, operation)

	var p core.ErrorPattern
	var strategyJSON []byte
	err := row.Scan(&p.ID, &p.ErrorType, &p.Message, &p.Service, &p.Operation,
		&p.Category, &p.Severity, &p.Retryable, &p.SuccessCount,
		&p.FailureCount, &p.SuccessRate, &p.OccurrenceCount,
		&strategyJSON, &p.FirstSeen, &p.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pattern: %w", err)
	}
	if len(strategyJSON) > 0 {
		_ = json.Unmarshal(strategyJSON, &p.RecommendedStrategy)
	}
	return &p, nil
}

// RecordAttempt inserts one retry_attempts row and bumps the parent
// pattern's occurrence_count/last_seen_at, matching the
// get_retry_recommendation/cleanup_old_attempts companion functions
// named in §6 (maintained as SQL functions at the schema level, not
// reimplemented here).
func (s *PostgresAnalyticsStore) RecordAttempt(ctx context.Context, patternID, taskID, agentID string, attempt int, success bool, execMs int64, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var patternArg interface{}
	if patternID != "" {
		patternArg = patternID
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO retry_intelligence.retry_attempts
		  (pattern_id, task_id, agent_id, attempt_number, success, execution_time_ms, error_if_failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		patternArg, taskID, agentID, attempt, success, execMs, nullIfEmpty(errMsg)); err != nil {
		return fmt.Errorf("insert retry attempt: %w", err)
	}

	if patternID != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE retry_intelligence.error_patterns
			SET occurrence_count = occurrence_count + 1, last_seen_at = now(), updated_at = now()
			WHERE id = $1`, patternID); err != nil {
			return fmt.Errorf("bump pattern occurrence: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpdateOutcome adjusts the pattern's success/failure counters and
// recomputed success_rate per §4.7 step 2/step 4 ("update
// successCount"/"update failureCount").
func (s *PostgresAnalyticsStore) UpdateOutcome(ctx context.Context, patternID string, success bool) error {
	col := "retry_failure_count"
	if success {
		col = "retry_success_count"
	}
	query := fmt.Sprintf(`
		UPDATE retry_intelligence.error_patterns
		SET %s = %s + 1,
		    success_rate = (retry_success_count + CASE WHEN $2 THEN 1 ELSE 0 END)::numeric
		                   / NULLIF(retry_success_count + retry_failure_count + 1, 0),
		    updated_at = now()
		WHERE id = $1`, col, col)
	_, err := s.pool.Exec(ctx, query, patternID, success)
	if err != nil {
		return fmt.Errorf("update outcome: %w", err)
	}
	return nil
}

// CleanupOldAttempts deletes retry_attempts rows older than olderThan,
// the Go-side equivalent of §6's cleanup_old_attempts() SQL function,
// invoked by checkpoint.RecoveryScheduler's nightly sweep.
func (s *PostgresAnalyticsStore) CleanupOldAttempts(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM retry_intelligence.retry_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
