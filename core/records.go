package core

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrRunNotFound        = errors.New("core: run not found")
	ErrDeadLetterNotFound = errors.New("core: dead letter not found")
)

type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// RunRecord is keyed by trace id; re-admission resets it to started.
type RunRecord struct {
	TraceID     string          `json:"traceId"`
	WorkspaceID string          `json:"workspaceId"`
	Kind        TaskKind        `json:"kind"`
	RoutePath   string          `json:"routePath,omitempty"`
	ScheduleID  string          `json:"scheduleId,omitempty"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func NewStartedRun(task Task, startedAt time.Time) RunRecord {
	return RunRecord{
		TraceID:     task.TraceID,
		WorkspaceID: task.WorkspaceID,
		Kind:        task.Kind,
		RoutePath:   task.RoutePath,
		ScheduleID:  task.ScheduleID,
		Status:      RunStatusStarted,
		StartedAt:   startedAt.UTC(),
	}
}

type RunOutcome struct {
	Status     RunStatus
	Output     json.RawMessage
	Error      string
	FinishedAt time.Time
}

type DeadLetter struct {
	ID          int64     `json:"id"`
	TraceID     string    `json:"traceId"`
	WorkspaceID string    `json:"workspaceId"`
	PayloadJSON string    `json:"payloadJson"`
	Error       string    `json:"error"`
	Retryable   bool      `json:"retryable"`
	CreatedAt   time.Time `json:"createdAt"`
}

type DeadLetterFilter struct {
	TraceID     string
	WorkspaceID string
	Limit       int
	Offset      int
}

// LineageEdge links a replayed child trace back to the trace it was cut from.
type LineageEdge struct {
	ParentTraceID      string    `json:"parentTraceId"`
	ChildTraceID       string    `json:"childTraceId"`
	SourceDeadLetterID int64     `json:"sourceDeadLetterId"`
	RetryCount         int       `json:"retryCount"`
	CreatedAt          time.Time `json:"createdAt"`
}
