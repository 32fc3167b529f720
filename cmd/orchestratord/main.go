// Command orchestratord is the engine's executable entry point (C16):
// it wires every component from C1-C15 against production backends
// (Redis, Postgres, an OpenAI-compatible model gateway), exposes the
// public SubmitTask/GetTaskStatus/Cancel surface over HTTP, replays
// pending checkpoints on startup (§4.11), and drains gracefully on
// SIGTERM. Grounded on the teacher's cmd/ binaries and Framework.Start/
// Framework.Stop lifecycle (telemetry init, component wiring, signal-
// driven graceful shutdown).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexusai/orchestrator/adaptivetimeout"
	"github.com/nexusai/orchestrator/agent"
	"github.com/nexusai/orchestrator/agentpool"
	"github.com/nexusai/orchestrator/checkpoint"
	"github.com/nexusai/orchestrator/consensus"
	"github.com/nexusai/orchestrator/core"
	"github.com/nexusai/orchestrator/generator"
	"github.com/nexusai/orchestrator/jobmanager"
	"github.com/nexusai/orchestrator/orchestrator"
	"github.com/nexusai/orchestrator/resilience"
	"github.com/nexusai/orchestrator/retryintel"
	"github.com/nexusai/orchestrator/selector"
	"github.com/nexusai/orchestrator/spawner"
	"github.com/nexusai/orchestrator/store"
	"github.com/nexusai/orchestrator/streamhub"
	"github.com/nexusai/orchestrator/taskqueue"
	"github.com/nexusai/orchestrator/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestratord:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := core.LoadConfig(os.Getenv("NEXUS_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.ServiceName)
	clock := core.RealClock{}
	idgen := core.UUIDGen{}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	provider, err := telemetry.NewProvider(ctx, cfg.ServiceName, os.Getenv("NEXUS_OTEL_EXPORTER"))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer provider.Shutdown(context.Background())

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	jobStore := store.NewRedisJobStore(redisClient, logger)
	memoryStore := store.NewRedisMemoryStore(redisClient, logger)

	var analyticsStore core.AnalyticsStore
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		analyticsStore = store.NewPostgresAnalyticsStore(pool, logger)
	} else {
		logger.Warn("no postgres_dsn configured, retry analytics disabled", nil)
		analyticsStore = noopAnalyticsStore{}
	}

	gateway := agent.NewHTTPGateway(os.Getenv("NEXUS_MODEL_GATEWAY_URL"), "", logger)

	breakers := resilience.NewRegistry(clock)
	sel := selector.New(gateway, breakers, clock, logger,
		selector.WithAllowFreeModels(cfg.AllowFreeModels),
		selector.WithMaxCostPerTaskUSD(cfg.MaxCostPerTaskUSD))

	hub := streamhub.NewHub(idgen, clock, logger)
	go hub.Run(ctx)

	jobSink := func(eventType, jobID string, data interface{}) {
		hub.StreamToTask(jobID, eventType, data)
	}
	jobs := jobmanager.New(jobStore, logger, jobSink)

	analyzer := retryintel.NewAnalyzer(analyticsStore, clock, logger)
	retryExec := retryintel.NewExecutor(analyzer, clock, logger)

	timeoutMon := adaptivetimeout.New(clock, logger)
	pool := agentpool.New(clock, logger)
	spawn := spawner.New(clock, logger)
	gen := generator.New(gateway, memoryStore, sel, logger)
	consensusEngine := consensus.New(gateway, logger)
	checkpointSvc := checkpoint.New(jobStore, clock, logger)
	queue := taskqueue.New(cfg.MaxConcurrentTasks, uint64(cfg.MemoryWatermarkMB), clock, logger)

	orc := orchestrator.New(orchestrator.Deps{
		Config: cfg, Gateway: gateway, Memory: memoryStore, Queue: queue,
		Generator: gen, Spawner: spawn, Pool: pool, Selector: sel,
		RetryExecutor: retryExec, TimeoutMonitor: timeoutMon,
		Consensus: consensusEngine, Checkpoint: checkpointSvc, Jobs: jobs,
		Stream: hub, IDGen: idgen, Clock: clock, Logger: logger,
	})

	recovered, skipped := orc.Recover(ctx)
	logger.Info("startup checkpoint recovery complete", map[string]interface{}{"recovered": recovered, "skipped": skipped})

	scheduler := checkpoint.NewRecoveryScheduler(analyticsStore, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Warn("retention scheduler failed to start", map[string]interface{}{"error": err.Error()})
	}
	defer scheduler.Stop()

	srv := newHTTPServer(cfg, orc, hub, idgen)
	go func() {
		logger.Info("orchestratord listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	err = srv.Shutdown(shutdownCtx)
	if errs := pool.Destroy(shutdownCtx); len(errs) > 0 {
		logger.Warn("agent disposal errors on shutdown", map[string]interface{}{"count": len(errs)})
	}
	return err
}

// newHTTPServer builds the public SubmitTask/GetTaskStatus/Cancel
// surface plus a WebSocket ingress for StreamHub subscriptions, using
// gorilla/mux as the router (named an external collaborator in spec §1
// but wired here as the minimal ingress the core needs for an
// executable entry point, per SPEC_FULL.md's DOMAIN STACK table).
func newHTTPServer(cfg *core.Config, orc *orchestrator.Orchestrator, hub *streamhub.Hub, idgen core.IDGen) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/v1/tasks", submitTaskHandler(orc)).Methods(http.MethodPost)
	r.HandleFunc("/v1/tasks/{taskId}", getTaskStatusHandler(orc)).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks/{taskId}/cancel", cancelTaskHandler(orc)).Methods(http.MethodPost)
	r.HandleFunc("/v1/stream", streamHandler(hub)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)

	return &http.Server{
		Addr:         ":" + envOrDefault("NEXUS_HTTP_PORT", "8080"),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

type submitRequest struct {
	Input   string            `json:"input"`
	Options submitOptionsBody `json:"options"`
}

type submitOptionsBody struct {
	TimeoutMs            int64    `json:"timeoutMs"`
	Complexity           string   `json:"complexity"`
	Domain               string   `json:"domain"`
	MaxAgents            int      `json:"maxAgents"`
	RequiredCapabilities []string `json:"requiredCapabilities"`
	ThreadID             string   `json:"threadId"`
}

func submitTaskHandler(orc *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		tenant := tenantFromRequest(r)
		if err := tenant.Validate(); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		opts := orchestrator.SubmitOptions{
			Timeout:              time.Duration(req.Options.TimeoutMs) * time.Millisecond,
			Complexity:           core.Complexity(req.Options.Complexity),
			Domain:               req.Options.Domain,
			MaxAgents:            req.Options.MaxAgents,
			RequiredCapabilities: req.Options.RequiredCapabilities,
			ThreadID:             req.Options.ThreadID,
		}

		taskID, err := orc.SubmitTask(r.Context(), req.Input, opts, tenant)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
	}
}

func getTaskStatusHandler(orc *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := mux.Vars(r)["taskId"]
		task, err := orc.GetTaskStatus(taskID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

func cancelTaskHandler(orc *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := mux.Vars(r)["taskId"]
		if err := orc.Cancel(taskID); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// streamHandler upgrades to a WebSocket connection and registers a
// StreamHub session. ReadPump discards every frame the client sends, so
// no subscription requests are read from the connection; it only keeps
// the connection read and marks the session disconnected when it ends.
func streamHandler(hub *streamhub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := streamhub.Upgrade(w, r)
		if err != nil {
			return
		}
		session, err := hub.CreateSession(client)
		if err != nil {
			_ = client.Close()
			return
		}
		streamhub.ReadPump(client, func() { hub.Disconnect(session.ID) })
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func tenantFromRequest(r *http.Request) core.TenantContext {
	return core.TenantContext{
		CompanyID:     r.Header.Get("X-Company-Id"),
		AppID:         r.Header.Get("X-App-Id"),
		UserID:        r.Header.Get("X-User-Id"),
		CorrelationID: r.Header.Get("X-Correlation-Id"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// noopAnalyticsStore lets retryintel function without a configured
// Postgres DSN: every lookup misses, every write is discarded, matching
// the retry algorithm's "lookup miss falls back to defaults" path
// (§9's "fall back to defaults on miss").
type noopAnalyticsStore struct{}

func (noopAnalyticsStore) LookupPattern(context.Context, string, string, string) (*core.ErrorPattern, error) {
	return nil, nil
}
func (noopAnalyticsStore) RecordAttempt(context.Context, string, string, string, int, bool, int64, string) error {
	return nil
}
func (noopAnalyticsStore) UpdateOutcome(context.Context, string, bool) error { return nil }
func (noopAnalyticsStore) CleanupOldAttempts(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
