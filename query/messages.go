package query

import (
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypeGetRun          = "dispatch.query.run.get"
	TypeListDeadLetters = "dispatch.query.dead_letters.list"
	TypeListLineage     = "dispatch.query.lineage.list"

	MaxDeadLetterLimit = 500
)

type GetRunMessage struct {
	TraceID string
}

func (GetRunMessage) Type() string { return TypeGetRun }

func (m GetRunMessage) Validate() error {
	if strings.TrimSpace(m.TraceID) == "" {
		return queryValidationError("trace_id", "trace id is required")
	}
	return nil
}

type ListDeadLettersMessage struct {
	Filter core.DeadLetterFilter
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > MaxDeadLetterLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

type ListLineageMessage struct {
	ParentTraceID string
}

func (ListLineageMessage) Type() string { return TypeListLineage }

func (m ListLineageMessage) Validate() error {
	if strings.TrimSpace(m.ParentTraceID) == "" {
		return queryValidationError("parent_trace_id", "parent trace id is required")
	}
	return nil
}
