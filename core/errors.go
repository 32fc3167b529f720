package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison via errors.Is, grounded on the
// teacher's core/errors.go sentinel set and extended with the §7 error
// taxonomy this spec adds on top of it.
var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentDisposed      = errors.New("agent already disposed")
	ErrUseAfterDispose    = errors.New("resource used after dispose")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
	ErrAlreadyStarted     = errors.New("already started")
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrQueueExpired       = errors.New("task expired in queue")
	ErrMemoryPressure     = errors.New("memory pressure: admission rejected")
	ErrCircuitOpen        = errors.New("circuit breaker open")

	// ErrValidation etc. are the sentinel identity behind each Kind below;
	// errors.Is(err, core.ErrValidation) is true for any *TaskError of
	// that Kind regardless of message.
	ErrValidation         = errors.New("validation error")
	ErrAuth               = errors.New("auth error")
	ErrNotFound           = errors.New("not found")
	ErrRateLimit          = errors.New("rate limited")
	ErrTransientUpstream  = errors.New("transient upstream error")
	ErrGatewayUnavailable = errors.New("model gateway unavailable")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrCancelled          = errors.New("cancelled")
	ErrInternal           = errors.New("internal error")
	ErrDurability         = errors.New("durability error")
)

// ErrorCode is the stable, machine-readable identifier carried on every
// TaskError leaving the core, per spec §7's propagation policy.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation"
	CodeAuth               ErrorCode = "auth"
	CodeNotFound           ErrorCode = "not_found"
	CodeRateLimit          ErrorCode = "rate_limited"
	CodeTransientUpstream  ErrorCode = "transient_upstream"
	CodeGatewayUnavailable ErrorCode = "gateway_unavailable"
	CodeResourceExhausted  ErrorCode = "resource_exhausted"
	CodeCancelled          ErrorCode = "cancelled"
	CodeInternal           ErrorCode = "internal"
	CodeDurability         ErrorCode = "durability"
	CodeAdaptiveHung       ErrorCode = "adaptive_hung"
)

var sentinelByCode = map[ErrorCode]error{
	CodeValidation:         ErrValidation,
	CodeAuth:               ErrAuth,
	CodeNotFound:           ErrNotFound,
	CodeRateLimit:          ErrRateLimit,
	CodeTransientUpstream:  ErrTransientUpstream,
	CodeGatewayUnavailable: ErrGatewayUnavailable,
	CodeResourceExhausted:  ErrResourceExhausted,
	CodeCancelled:          ErrCancelled,
	CodeInternal:           ErrInternal,
	CodeDurability:         ErrDurability,
	CodeAdaptiveHung:       ErrCancelled,
}

// TaskError is the structured error every public operation returns on
// failure, carrying the correlation fields spec §7 requires. Modeled on
// the teacher's FrameworkError{Op,Kind,ID,Message,Err} but with the
// task/agent/model/duration fields the orchestration domain needs.
type TaskError struct {
	Code          ErrorCode
	Op            string
	TaskID        string
	AgentID       string
	ModelID       string
	CorrelationID string
	DurationMs    int64
	Message       string
	Err           error
}

func (e *TaskError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s [code=%s task=%s corr=%s]", e.Op, msg, e.Code, e.TaskID, e.CorrelationID)
}

func (e *TaskError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if s, ok := sentinelByCode[e.Code]; ok {
		return s
	}
	return nil
}

// Is lets errors.Is(err, core.ErrValidation) match any *TaskError whose
// Code maps to that sentinel, without requiring Err to be set.
func (e *TaskError) Is(target error) bool {
	s, ok := sentinelByCode[e.Code]
	return ok && errors.Is(s, target)
}

// NewTaskError constructs a TaskError for the given operation and code.
func NewTaskError(op string, code ErrorCode, err error) *TaskError {
	return &TaskError{Op: op, Code: code, Err: err}
}

// WithTask/WithAgent/WithModel/WithCorrelation/WithDuration return a copy
// enriched with the named field, so call sites can chain:
//
//	return core.NewTaskError("orchestrator.SubmitTask", core.CodeInternal, err).
//		WithTask(taskID).WithCorrelation(tenant.CorrelationID)
func (e *TaskError) WithTask(id string) *TaskError          { c := *e; c.TaskID = id; return &c }
func (e *TaskError) WithAgent(id string) *TaskError         { c := *e; c.AgentID = id; return &c }
func (e *TaskError) WithModel(id string) *TaskError         { c := *e; c.ModelID = id; return &c }
func (e *TaskError) WithCorrelation(id string) *TaskError   { c := *e; c.CorrelationID = id; return &c }
func (e *TaskError) WithDuration(ms int64) *TaskError       { c := *e; c.DurationMs = ms; return &c }

// IsRetryable classifies whether an error should be retried per §4.7 and
// §7: transient upstream and rate-limit errors are retryable; validation,
// auth, not-found and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientUpstream) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrGatewayUnavailable)
}

// NonRetryableMessageShapes are substrings in an upstream error message
// that mark it non-retryable even if the code alone wouldn't, per §4.7's
// "Non-retryable errors (by message shape)" rule.
var NonRetryableMessageShapes = []string{"invalid", "unauthorized", "forbidden", "not found", "bad request"}

// RetryableHTTPStatuses lists the HTTP statuses §4.7 treats as retryable.
var RetryableHTTPStatuses = map[int]bool{408: true, 429: true, 500: true, 502: true, 503: true, 504: true}

// ClassifyHTTPStatus maps a ModelGateway HTTP response status into an
// ErrorCode per §6/§7.
func ClassifyHTTPStatus(status int) ErrorCode {
	switch {
	case status == 401 || status == 403:
		return CodeAuth
	case status == 404:
		return CodeNotFound
	case status == 429:
		return CodeRateLimit
	case status == 400:
		return CodeValidation
	case RetryableHTTPStatuses[status]:
		return CodeTransientUpstream
	default:
		return CodeInternal
	}
}
