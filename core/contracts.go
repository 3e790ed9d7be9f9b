package core

import (
	"context"
	"encoding/json"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// IdempotencyStore records admission markers. Claim must be an atomic
// insert-if-absent: it reports created=false when the marker already exists.
type IdempotencyStore interface {
	Claim(ctx context.Context, traceID string, at time.Time) (created bool, err error)
	Exists(ctx context.Context, traceID string) (bool, error)
}

type RunStore interface {
	// Start upserts a started run, clearing any previous outcome for the trace.
	Start(ctx context.Context, run RunRecord) error
	Finish(ctx context.Context, traceID string, outcome RunOutcome) (RunRecord, error)
	GetRun(ctx context.Context, traceID string) (RunRecord, error)
}

type DeadLetterStore interface {
	// RecordDeadLetter inserts a row unless one already exists for the same
	// (traceId, error) pair, in which case the existing row is returned.
	RecordDeadLetter(ctx context.Context, entry DeadLetter) (DeadLetter, bool, error)
	LatestDeadLetter(ctx context.Context, traceID string) (DeadLetter, error)
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]DeadLetter, error)
}

type LineageStore interface {
	// AppendLineage assigns RetryCount atomically per parent trace id.
	AppendLineage(ctx context.Context, edge LineageEdge) (LineageEdge, error)
	ListLineage(ctx context.Context, parentTraceID string) ([]LineageEdge, error)
}

type Store interface {
	IdempotencyStore
	RunStore
	DeadLetterStore
	LineageStore
}

type NackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

type Delivery interface {
	Task() Task
	Attempt() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts NackOptions) error
}

type Dequeuer interface {
	Dequeue(ctx context.Context) (Delivery, error)
}

const ResponseTypeHTTPPassthrough = "http_passthrough"

// Passthrough lets a synchronous handler own the caller-facing response.
type Passthrough struct {
	ResponseType string            `json:"responseType"`
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty"`
}

type ExecutionResult struct {
	Output      json.RawMessage `json:"output,omitempty"`
	Passthrough *Passthrough    `json:"passthrough,omitempty"`
}

// Executor runs a task through its registered handler.
type Executor interface {
	Execute(ctx context.Context, task Task) (ExecutionResult, error)
}

// ErrorEnvelope is the wire shape of a failed execution.
type ErrorEnvelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
