package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

type RunReader interface {
	GetRun(ctx context.Context, traceID string) (core.RunRecord, error)
}

type DeadLetterReader interface {
	ListDeadLetters(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetter, error)
}

type LineageReader interface {
	ListLineage(ctx context.Context, parentTraceID string) ([]core.LineageEdge, error)
}

type GetRunQuery struct {
	reader RunReader
}

func NewGetRunQuery(reader RunReader) *GetRunQuery {
	return &GetRunQuery{reader: reader}
}

func (q *GetRunQuery) Query(ctx context.Context, msg GetRunMessage) (core.RunRecord, error) {
	if q == nil || q.reader == nil {
		return core.RunRecord{}, queryDependencyError("query: run reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.RunRecord{}, err
	}
	return q.reader.GetRun(ctx, strings.TrimSpace(msg.TraceID))
}

type ListDeadLettersQuery struct {
	reader DeadLetterReader
}

func NewListDeadLettersQuery(reader DeadLetterReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(ctx context.Context, msg ListDeadLettersMessage) ([]core.DeadLetter, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListDeadLetters(ctx, msg.Filter)
}

type ListLineageQuery struct {
	reader LineageReader
}

func NewListLineageQuery(reader LineageReader) *ListLineageQuery {
	return &ListLineageQuery{reader: reader}
}

func (q *ListLineageQuery) Query(ctx context.Context, msg ListLineageMessage) ([]core.LineageEdge, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: lineage reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListLineage(ctx, strings.TrimSpace(msg.ParentTraceID))
}
