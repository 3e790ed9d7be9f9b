package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type idempotencyMarkerRecord struct {
	bun.BaseModel `bun:"table:dispatch_idempotency_markers,alias:dim"`

	TraceID   string    `bun:"trace_id,pk"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type runRecord struct {
	bun.BaseModel `bun:"table:dispatch_runs,alias:dr"`

	TraceID     string     `bun:"trace_id,pk"`
	WorkspaceID string     `bun:"workspace_id,notnull"`
	Kind        string     `bun:"kind,notnull"`
	RoutePath   string     `bun:"route_path,notnull"`
	ScheduleID  string     `bun:"schedule_id,notnull"`
	Status      string     `bun:"status,notnull"`
	StartedAt   time.Time  `bun:"started_at,notnull"`
	FinishedAt  *time.Time `bun:"finished_at,nullzero"`
	Output      *string    `bun:"output"`
	Error       string     `bun:"error,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:dispatch_dead_letters,alias:ddl"`

	ID          int64     `bun:"id,pk,autoincrement"`
	TraceID     string    `bun:"trace_id,notnull"`
	WorkspaceID string    `bun:"workspace_id,notnull"`
	PayloadJSON string    `bun:"payload_json,notnull"`
	Error       string    `bun:"error,notnull"`
	ErrorHash   string    `bun:"error_hash,notnull"`
	Retryable   bool      `bun:"retryable,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type replayCounterRecord struct {
	bun.BaseModel `bun:"table:dispatch_replay_counters,alias:drc"`

	ParentTraceID  string    `bun:"parent_trace_id,pk"`
	LastRetryCount int       `bun:"last_retry_count,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type lineageRecord struct {
	bun.BaseModel `bun:"table:dispatch_replay_lineage,alias:drl"`

	ID                 string    `bun:"id,pk"`
	ParentTraceID      string    `bun:"parent_trace_id,notnull"`
	ChildTraceID       string    `bun:"child_trace_id,notnull"`
	SourceDeadLetterID int64     `bun:"source_dead_letter_id,notnull"`
	RetryCount         int       `bun:"retry_count,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
