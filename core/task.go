package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

type TaskKind string

const (
	TaskKindHTTPRoute    TaskKind = "http_route"
	TaskKindScheduledJob TaskKind = "scheduled_job"
)

const DefaultWorkspaceID = "default"

func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindHTTPRoute, TaskKindScheduledJob:
		return true
	default:
		return false
	}
}

// Task is the unit of work carried by the execution queue.
type Task struct {
	Kind        TaskKind        `json:"kind"`
	TraceID     string          `json:"traceId"`
	WorkspaceID string          `json:"workspaceId"`
	RoutePath   string          `json:"routePath,omitempty"`
	ScheduleID  string          `json:"scheduleId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
}

// Validate enforces that exactly one of routePath/scheduleId is set and that
// it matches the task kind.
func (t Task) Validate() error {
	if strings.TrimSpace(t.TraceID) == "" {
		return fmt.Errorf("core: task trace id is required")
	}
	switch t.Kind {
	case TaskKindHTTPRoute:
		if strings.TrimSpace(t.RoutePath) == "" {
			return fmt.Errorf("core: http_route task requires routePath")
		}
		if strings.TrimSpace(t.ScheduleID) != "" {
			return fmt.Errorf("core: http_route task must not carry scheduleId")
		}
	case TaskKindScheduledJob:
		if strings.TrimSpace(t.ScheduleID) == "" {
			return fmt.Errorf("core: scheduled_job task requires scheduleId")
		}
		if strings.TrimSpace(t.RoutePath) != "" {
			return fmt.Errorf("core: scheduled_job task must not carry routePath")
		}
	default:
		return fmt.Errorf("core: invalid task kind %q", t.Kind)
	}
	return nil
}

// Target returns the route path or schedule id, whichever the kind uses.
func (t Task) Target() string {
	if t.Kind == TaskKindScheduledJob {
		return t.ScheduleID
	}
	return t.RoutePath
}

// WithTrace returns a copy of the task under a new trace id and enqueue time.
func (t Task) WithTrace(traceID string, enqueuedAt time.Time) Task {
	out := t
	out.TraceID = traceID
	out.EnqueuedAt = enqueuedAt.UTC()
	if len(t.Payload) > 0 {
		out.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	return out
}

func (t Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

func UnmarshalTask(data []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("core: decode task: %w", err)
	}
	task.Normalize("")
	if err := task.Validate(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Normalize trims identifiers and coerces the workspace into a safe slug.
func (t *Task) Normalize(defaultWorkspace string) {
	if t == nil {
		return
	}
	t.Kind = TaskKind(strings.TrimSpace(strings.ToLower(string(t.Kind))))
	t.TraceID = strings.TrimSpace(t.TraceID)
	t.RoutePath = NormalizeRoutePath(t.RoutePath)
	t.ScheduleID = strings.TrimSpace(t.ScheduleID)
	t.WorkspaceID = NormalizeWorkspace(t.WorkspaceID, defaultWorkspace)
	if !t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = t.EnqueuedAt.UTC()
	}
}

func NewTraceID() string {
	return uuid.NewString()
}

// NormalizeWorkspace returns a lowercase slug, falling back to fallback and
// then to "default".
func NormalizeWorkspace(workspace string, fallback string) string {
	if normalized := slug.Make(strings.TrimSpace(workspace)); normalized != "" {
		return normalized
	}
	if normalized := slug.Make(strings.TrimSpace(fallback)); normalized != "" {
		return normalized
	}
	return DefaultWorkspaceID
}

func NormalizeRoutePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
