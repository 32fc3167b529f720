// Package telemetry provides the structured logger and OpenTelemetry
// wiring shared by every other package, ported from the teacher's
// telemetry.TelemetryLogger and telemetry/otel.go.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// Logger is a production structured logger: JSON in Kubernetes-shaped
// environments, text locally, rate-limited error output, and a
// component tag carried through WithComponent child loggers — the same
// shape as the teacher's TelemetryLogger/ComponentAwareLogger pair.
type Logger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	errorLimiter *RateLimiter
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// NewLogger creates a logger for serviceName. Level/format follow
// NEXUS_LOG_LEVEL / NEXUS_LOG_FORMAT, with Kubernetes auto-detection
// identical to the teacher's createTelemetryLogger.
func NewLogger(serviceName string) *Logger {
	level := os.Getenv("NEXUS_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := os.Getenv("NEXUS_DEBUG") == "true" || strings.ToUpper(level) == "DEBUG"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("NEXUS_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &Logger{
		level:        strings.ToUpper(level),
		debug:        debug,
		serviceName:  serviceName,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(time.Second),
	}
}

// WithComponent returns a child logger tagged with component, matching
// the teacher's "component" field convention ("framework/core",
// "agent/<name>", ...); here: "orchestrator", "agentpool", "consensus".
func (l *Logger) WithComponent(component string) core.ComponentLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		level: l.level, debug: l.debug, serviceName: l.serviceName,
		component: component, format: l.format, output: l.output,
		errorLimiter: l.errorLimiter,
	}
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) { l.log("INFO", msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]interface{}) { l.log("WARN", msg, fields) }

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *Logger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if rank, ok := levelRank[level]; ok {
		if cur, ok2 := levelRank[l.level]; ok2 && rank < cur {
			return
		}
	}

	ts := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(ts, level, msg, fields)
	} else {
		l.logText(ts, level, msg, fields)
	}
}

func (l *Logger) logJSON(ts, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": ts,
		"level":     level,
		"service":   l.serviceName,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if _, reserved := entry[k]; !reserved {
			entry[k] = v
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *Logger) logText(ts, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s%s\n", ts, level, l.serviceName, l.component, msg, b.String())
}

// SetOutput redirects logging output; used by tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

var _ core.ComponentLogger = (*Logger)(nil)
